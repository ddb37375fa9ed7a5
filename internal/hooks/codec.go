package hooks

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/modelgate/internal/executor"
)

// Wire format. A call is a Struct {hook, args}. A reply is a Struct holding
// either {result} or {error: {status, code, message}} for hook errors. Other
// failures travel as gRPC status errors.
const (
	serviceName  = "modelgate.hooks.v1.HookRuntime"
	invokeMethod = "Invoke"
	fullMethod   = "/" + serviceName + "/" + invokeMethod

	keyHook    = "hook"
	keyArgs    = "args"
	keyResult  = "result"
	keyError   = "error"
	keyStatus  = "status"
	keyCode    = "code"
	keyMessage = "message"
)

func encodeCall(hook string, args map[string]any) (*structpb.Struct, error) {
	a, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		keyHook: structpb.NewStringValue(hook),
		keyArgs: structpb.NewStructValue(a),
	}}, nil
}

func decodeCall(s *structpb.Struct) (string, map[string]any, error) {
	hook := s.GetFields()[keyHook].GetStringValue()
	if hook == "" {
		return "", nil, errors.New("missing hook name")
	}
	args := s.GetFields()[keyArgs].GetStructValue().AsMap()
	return hook, args, nil
}

func encodeReply(result any, err error) (*structpb.Struct, error) {
	var herr *executor.HookError
	if errors.As(err, &herr) {
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			keyError: structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				keyStatus:  structpb.NewNumberValue(float64(herr.Status)),
				keyCode:    structpb.NewStringValue(herr.Code),
				keyMessage: structpb.NewStringValue(herr.Message),
			}}),
		}}, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := structpb.NewValue(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{keyResult: v}}, nil
}

func decodeReply(s *structpb.Struct) (any, error) {
	if e := s.GetFields()[keyError].GetStructValue(); e != nil {
		f := e.GetFields()
		return nil, &executor.HookError{
			Status:  int(f[keyStatus].GetNumberValue()),
			Code:    f[keyCode].GetStringValue(),
			Message: f[keyMessage].GetStringValue(),
		}
	}
	return s.GetFields()[keyResult].AsInterface(), nil
}
