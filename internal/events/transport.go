package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// HTTPStart opens an HTTP request. The context carries the request id.
type HTTPStart struct {
	Method string
	Path   string
}

// HTTPFinish closes the request opened by HTTPStart. Route is the matched
// route pattern and is empty when no route matched.
type HTTPFinish struct {
	Method   string
	Path     string
	Route    string
	Status   int
	Duration time.Duration
}

// RPCStart is emitted before a hook runtime is called over gRPC.
// FullMethod has the form "/service/method".
type RPCStart struct {
	Runtime    string
	Hook       string
	Endpoint   string
	FullMethod string
}

// RPCFinish is emitted after the call opened by RPCStart returns.
type RPCFinish struct {
	Runtime    string
	Hook       string
	Endpoint   string
	FullMethod string
	Code       codes.Code
	Err        error
	Duration   time.Duration
}
