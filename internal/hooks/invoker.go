// Package hooks runs hook functions declared by a definition. Hooks live in
// named runtimes: an inline Registry of Go functions, or a remote process
// reached over gRPC through a Transport.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/spec"
)

// Runtime hosts hook functions by name.
type Runtime interface {
	Invoke(ctx context.Context, hook string, args map[string]any) (any, error)
}

// Invoker routes hook calls to the runtime they name. It implements
// executor.HookInvoker.
type Invoker struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
}

var _ executor.HookInvoker = (*Invoker)(nil)

func NewInvoker() *Invoker {
	return &Invoker{runtimes: make(map[string]Runtime)}
}

// Register makes rt available under name, replacing any previous runtime.
func (i *Invoker) Register(name string, rt Runtime) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.runtimes[name] = rt
}

func (i *Invoker) runtime(name string) Runtime {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.runtimes[name]
}

func (i *Invoker) Invoke(ctx context.Context, hook ir.HookCode, args map[string]any) (any, error) {
	rt := i.runtime(hook.Runtime)
	if rt == nil {
		return nil, fmt.Errorf("hook %s: runtime %q is not registered", hook, hook.Runtime)
	}
	start := time.Now()
	eventbus.Publish(ctx, events.HookStart{Runtime: hook.Runtime, Hook: hook.Name})
	out, err := rt.Invoke(ctx, hook.Name, args)
	eventbus.Publish(ctx, events.HookFinish{Runtime: hook.Runtime, Hook: hook.Name, Err: err, Duration: time.Since(start)})
	return out, err
}

// Check reports the runtimes of def that have no registered implementation.
func (i *Invoker) Check(def *ir.Definition) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var missing []string
	for _, rt := range def.Runtimes {
		if _, ok := i.runtimes[rt.Name]; !ok {
			missing = append(missing, rt.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("runtimes not registered: %v", missing)
}

// Setup registers a runtime for every runtime of def. Inline runtimes use
// inline, remote runtimes are served by transport. Either may be nil when def
// declares no runtime of that kind.
func Setup(def *ir.Definition, inline *Registry, transport *Transport) (*Invoker, error) {
	inv := NewInvoker()
	for _, rt := range def.Runtimes {
		switch rt.Kind {
		case spec.RuntimeInline:
			if inline == nil {
				return nil, fmt.Errorf("runtime %s: no inline registry", rt.Name)
			}
			inv.Register(rt.Name, inline)
		case spec.RuntimeGRPC:
			if transport == nil {
				return nil, fmt.Errorf("runtime %s: no grpc transport", rt.Name)
			}
			inv.Register(rt.Name, transport.Runtime(rt.Name))
		default:
			return nil, fmt.Errorf("runtime %s: unknown kind %q", rt.Name, rt.Kind)
		}
	}
	return inv, nil
}
