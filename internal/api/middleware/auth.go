package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/users"
)

const basicRealm = `Basic realm="errorhub", charset="UTF-8"`

// Authenticator verifies an email and password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*users.Principal, error)
}

// FailureLimiter throttles clients that keep presenting bad credentials.
type FailureLimiter interface {
	Blocked(ctx context.Context, r *http.Request) (retryAfter time.Duration, blocked bool)
	RecordFailure(ctx context.Context, r *http.Request)
}

// Auth provides authentication and admin-checking middleware.
type Auth struct {
	authn    Authenticator
	failures FailureLimiter
}

// AuthOption configures Auth.
type AuthOption func(*Auth)

// WithFailureLimiter rejects clients over their failed-login budget before
// their credentials are checked.
func WithFailureLimiter(l FailureLimiter) AuthOption {
	return func(a *Auth) { a.failures = l }
}

// NewAuth creates a new Auth middleware.
func NewAuth(a Authenticator, opts ...AuthOption) *Auth {
	auth := &Auth{authn: a}
	for _, opt := range opts {
		opt(auth)
	}
	return auth
}

// Authenticate validates HTTP Basic credentials and sets the principal in the
// request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok || email == "" {
			w.Header().Set("WWW-Authenticate", basicRealm)
			response.Error(w, http.StatusUnauthorized,
				"INVALID_CREDENTIALS", "Missing or invalid Authorization header", nil)
			return
		}

		if a.failures != nil {
			if left, blocked := a.failures.Blocked(r.Context(), r); blocked {
				tooManyRequests(w, left)
				return
			}
		}

		principal, err := a.authn.Authenticate(r.Context(), email, password)
		if errors.Is(err, users.ErrInvalidCredentials) {
			if a.failures != nil {
				a.failures.RecordFailure(r.Context(), r)
			}
			w.Header().Set("WWW-Authenticate", basicRealm)
			response.Error(w, http.StatusUnauthorized,
				"INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		if err != nil {
			slog.Error("authenticate failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate credentials", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), principal)))
	})
}

// RequireAdmin rejects callers whose email is not configured as an admin.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r)
		if !ok || !p.Admin {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
