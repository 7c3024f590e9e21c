package testutil

import (
	"context"
	"net/http"

	"agentpass/pkg/requestcontext"
)

// WithOwner adds an owner email to the request context.
// This simulates what RequireOwner does for authenticated requests.
func WithOwner(req *http.Request, ownerEmail string) *http.Request {
	return req.WithContext(requestcontext.WithOwnerEmail(req.Context(), ownerEmail))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
