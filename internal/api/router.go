package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/errorhub/internal/api/middleware"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	RegisterUser http.HandlerFunc
	ListUsers    http.HandlerFunc
	GetUser      http.HandlerFunc
	UpdateUser   http.HandlerFunc

	IngestHandler http.HandlerFunc

	MyProjects        http.HandlerFunc
	CreateProject     http.HandlerFunc
	ListProjects      http.HandlerFunc
	GetProject        http.HandlerFunc
	UpdateProject     http.HandlerFunc
	AddMember         http.HandlerFunc
	RemoveMember      http.HandlerFunc
	ProjectExceptions http.HandlerFunc

	ListExceptions  http.HandlerFunc
	GetException    http.HandlerFunc
	AssignHandler   http.HandlerFunc
	UnassignHandler http.HandlerFunc

	ListInstances http.HandlerFunc
	GetInstance   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.Tracing)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Public, limited per client IP
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/users", orNotImplemented(deps.RegisterUser))
		r.Post("/api/v1/error", orNotImplemented(deps.IngestHandler))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/users/{userID}", orNotImplemented(deps.GetUser))
		r.Put("/api/v1/users/{userID}", orNotImplemented(deps.UpdateUser))

		r.Get("/api/v1/me/projects", orNotImplemented(deps.MyProjects))

		r.Post("/api/v1/projects", orNotImplemented(deps.CreateProject))
		r.Get("/api/v1/projects/{projectID}", orNotImplemented(deps.GetProject))
		r.Put("/api/v1/projects/{projectID}", orNotImplemented(deps.UpdateProject))
		r.Put("/api/v1/projects/{projectID}/members/{userID}", orNotImplemented(deps.AddMember))
		r.Delete("/api/v1/projects/{projectID}/members/{userID}", orNotImplemented(deps.RemoveMember))
		r.Get("/api/v1/projects/{projectID}/exceptions", orNotImplemented(deps.ProjectExceptions))

		r.Get("/api/v1/exceptions/{exceptionID}", orNotImplemented(deps.GetException))
		r.Put("/api/v1/exceptions/{exceptionID}/assign", orNotImplemented(deps.AssignHandler))
		r.Delete("/api/v1/exceptions/{exceptionID}/assign", orNotImplemented(deps.UnassignHandler))

		r.Get("/api/v1/instances/{instanceID}", orNotImplemented(deps.GetInstance))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireAdmin)

			r.Get("/api/v1/users", orNotImplemented(deps.ListUsers))
			r.Get("/api/v1/projects", orNotImplemented(deps.ListProjects))
			r.Get("/api/v1/exceptions", orNotImplemented(deps.ListExceptions))
			r.Get("/api/v1/instances", orNotImplemented(deps.ListInstances))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
