package hooks

import (
	"context"
	"errors"
	"sync"
)

// ErrNoEndpoints indicates the provider returned no endpoints for a runtime.
var ErrNoEndpoints = errors.New("hooks: no endpoints available")

// EndpointProvider lists reachable endpoints (host:port) hosting a runtime.
// Implementations must be safe for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, runtime string) ([]string, error)
}

// StaticEndpoints is a provider backed by an in-memory map from runtime name
// to endpoints.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticEndpoints{data: cp}
}

// Set replaces the endpoints of runtime.
func (s *StaticEndpoints) Set(runtime string, endpoints ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[runtime] = append([]string(nil), endpoints...)
}

func (s *StaticEndpoints) Endpoints(ctx context.Context, runtime string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[runtime]
	if len(arr) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]string(nil), arr...), nil
}
