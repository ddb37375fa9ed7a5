// Package reqid carries a request id through contexts.
package reqid

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Header is the HTTP header carrying the request id.
const Header = "X-Request-Id"

// key is the context key for the request ID.
type key struct{}

// NewContext returns a copy of parent with a new ULID request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	id := ulid.Make().String()
	return WithID(parent, id), id
}

// WithID stores an existing request ID, such as one received from a client.
func WithID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
