package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"loramint/internal/engine"
)

func TestJoinContexts(t *testing.T) {
	for _, which := range []string{"a", "b"} {
		a, cancelA := context.WithCancel(context.Background())
		b, cancelB := context.WithCancel(context.Background())
		ctx, cancel := joinContexts(a, b)
		if which == "a" {
			cancelA()
		} else {
			cancelB()
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatalf("joined context not canceled by %s", which)
		}
		cancel()
		cancelA()
		cancelB()
	}
}

func TestJoinContexts_CancelReleases(t *testing.T) {
	a, b := context.Background(), context.Background()
	ctx, cancel := joinContexts(a, b)
	cancel()
	if ctx.Err() == nil {
		t.Fatalf("cancel must end the joined context")
	}
}

func TestSetBaseContext(t *testing.T) {
	defer SetBaseContext(nil)
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	joined, done := joinContexts(serverBaseCtx, context.Background())
	defer done()
	cancel()
	select {
	case <-joined.Done():
	case <-time.After(time.Second):
		t.Fatalf("shutdown did not propagate")
	}
	SetBaseContext(nil)
	if serverBaseCtx != context.Background() {
		t.Fatalf("nil should reset to Background")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{notFound{"x"}, http.StatusNotFound},
		{formError{"bad"}, http.StatusBadRequest},
		{&engine.StatusError{Code: 422}, 422},
		{&engine.StatusError{Code: 503}, http.StatusBadGateway},
		{&url.Error{Op: "Get", URL: "http://e", Err: errors.New("refused")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("%v: got %d want %d", c.err, got, c.want)
		}
	}
}
