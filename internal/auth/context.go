package auth

import (
	"context"
	"fmt"
	"strings"
)

type contextKey string

const requesterKey contextKey = "requester"

// RequesterHeader carries the authenticated user id on HTTP requests.
const RequesterHeader = "X-User-ID"

// ContextWithRequester returns a new context that carries the authenticated user id.
func ContextWithRequester(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requesterKey, strings.TrimSpace(userID))
}

// RequesterFromContext retrieves the authenticated user id from the context, if any.
func RequesterFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(requesterKey)
	if value == nil {
		return "", false
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// RequireRequester returns the authenticated user id or an error when the
// context carries none.
func RequireRequester(ctx context.Context) (string, error) {
	id, ok := RequesterFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("requester is required")
	}
	return id, nil
}
