package eventbus

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type ping struct{ N int }
type pong struct{ S string }

func TestDispatchByType(t *testing.T) {
	b := New()
	var got []string
	On(b, func(ctx context.Context, e ping) { got = append(got, "a") })
	On(b, func(ctx context.Context, e ping) { got = append(got, "b") })
	On(b, func(ctx context.Context, e pong) { got = append(got, "pong "+e.S) })

	Emit(context.Background(), b, ping{N: 1})
	Emit(context.Background(), b, pong{S: "x"})
	if diff := cmp.Diff([]string{"a", "b", "pong x"}, got); diff != "" {
		t.Errorf("Dispatch mismatch (-expected +got):\n%s", diff)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var got []string
	handler := func(name string) Handler[ping] {
		return func(ctx context.Context, e ping) { got = append(got, name) }
	}
	unA := On(b, handler("a"))
	On(b, handler("b"))
	unC := On(b, handler("c"))

	unA()
	unA()
	Emit(context.Background(), b, ping{})
	unC()
	Emit(context.Background(), b, ping{})
	if diff := cmp.Diff([]string{"b", "c", "b"}, got); diff != "" {
		t.Errorf("Dispatch mismatch (-expected +got):\n%s", diff)
	}
}

func TestGlobal(t *testing.T) {
	var n int
	Publish(context.Background(), ping{})
	Use(New())
	defer Use(nil)
	un := Subscribe(func(ctx context.Context, e ping) { n += e.N })
	Publish(context.Background(), ping{N: 2})
	un()
	Publish(context.Background(), ping{N: 3})
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}
