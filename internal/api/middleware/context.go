package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/errorhub/internal/users"
)

type contextKey string

const principalKey contextKey = "principal"

// SetPrincipal stores the authenticated caller on the context.
func SetPrincipal(ctx context.Context, p *users.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the caller set by Auth.Authenticate.
func GetPrincipal(r *http.Request) (*users.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(*users.Principal)
	return p, ok && p != nil
}
