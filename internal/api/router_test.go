package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/api"
	mw "github.com/kiranshivaraju/errorhub/internal/api/middleware"
	"github.com/kiranshivaraju/errorhub/internal/cache"
	"github.com/kiranshivaraju/errorhub/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub authenticator: "user@example.com" and "admin@example.com" with password "pw" ---

type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(_ context.Context, email, password string) (*users.Principal, error) {
	if password != "pw" {
		return nil, users.ErrInvalidCredentials
	}
	switch email {
	case "user@example.com":
		return &users.Principal{UserID: uuid.New(), Email: email}, nil
	case "admin@example.com":
		return &users.Principal{UserID: uuid.New(), Email: email, Admin: true}, nil
	}
	return nil, users.ErrInvalidCredentials
}

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ ...string) error                      { return nil }
func (c *stubCache) Ping(_ context.Context) error                                     { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func newTestRouter() http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(stubAuthenticator{}),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	return errObj["code"].(string)
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"), "health is not rate limited")
}

func TestRouter_MetricsEndpoint_Public(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestRouter_PublicEndpoints_NoAuth(t *testing.T) {
	router := newTestRouter()

	for _, path := range []string{"/api/v1/users", "/api/v1/error"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("POST", path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			// Reaches the (unset) handler rather than the auth layer.
			assert.Equal(t, http.StatusNotImplemented, w.Code)
			assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
		})
	}
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter()
	id := uuid.NewString()

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/me/projects"},
		{"POST", "/api/v1/projects"},
		{"GET", "/api/v1/projects"},
		{"GET", "/api/v1/projects/" + id},
		{"PUT", "/api/v1/projects/" + id + "/members/" + id},
		{"DELETE", "/api/v1/projects/" + id + "/members/" + id},
		{"GET", "/api/v1/projects/" + id + "/exceptions"},
		{"GET", "/api/v1/exceptions/" + id},
		{"PUT", "/api/v1/exceptions/" + id + "/assign"},
		{"DELETE", "/api/v1/exceptions/" + id + "/assign"},
		{"GET", "/api/v1/instances/" + id},
		{"GET", "/api/v1/users"},
		{"GET", "/api/v1/users/" + id},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))
		})
	}
}

func TestRouter_AdminEndpoints(t *testing.T) {
	router := newTestRouter()

	for _, path := range []string{"/api/v1/users", "/api/v1/projects", "/api/v1/exceptions", "/api/v1/instances"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			req.SetBasicAuth("user@example.com", "pw")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, "FORBIDDEN", errorCode(t, w))

			req = httptest.NewRequest("GET", path, nil)
			req.SetBasicAuth("admin@example.com", "pw")
			w = httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNotImplemented, w.Code)
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

var _ cache.Cache = (*stubCache)(nil)
var _ mw.Authenticator = stubAuthenticator{}
