package auth

import (
	"context"
	"testing"
)

func TestRequesterRoundTrip(t *testing.T) {
	ctx := ContextWithRequester(context.Background(), " user-1 ")
	id, ok := RequesterFromContext(ctx)
	if !ok || id != "user-1" {
		t.Fatalf("expected user-1, got %q (%v)", id, ok)
	}
	if _, err := RequireRequester(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMissingRequester(t *testing.T) {
	if _, ok := RequesterFromContext(context.Background()); ok {
		t.Fatalf("expected no requester on a bare context")
	}
	if _, ok := RequesterFromContext(ContextWithRequester(context.Background(), "  ")); ok {
		t.Fatalf("expected blank requester to be ignored")
	}
	if _, err := RequireRequester(context.Background()); err == nil {
		t.Fatalf("expected an error when the requester is missing")
	}
}
