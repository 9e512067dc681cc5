package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/checkout-engine/internal/domain/auth"
)

const bearerPrefix = "bearer "

// principal authenticates the optional bearer token of r. A request without
// an Authorization header is anonymous and yields a nil principal.
func (h *Handler) principal(ctx context.Context, r *http.Request) (*auth.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, auth.ErrUnauthorized
	}
	if h.authn == nil {
		return nil, auth.ErrUnauthorized
	}
	return h.authn.Authenticate(ctx, strings.TrimSpace(header[len(bearerPrefix):]))
}
