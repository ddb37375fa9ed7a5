package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is a hook implemented in Go. args holds the evaluated hook arguments by
// name. Returning an *executor.HookError answers the request with its status.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry is an inline runtime: hooks are Go functions registered by name.
// It is also what Server exposes to remote callers.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

var _ Runtime = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register adds fn under name, replacing any previous function.
func (r *Registry) Register(name string, fn Func) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
	return r
}

// Names lists the registered hooks in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Invoke(ctx context.Context, hook string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn := r.fns[hook]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("hook %s is not registered", hook)
	}
	return fn(ctx, args)
}
