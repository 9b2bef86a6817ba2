package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/internal/users"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

// UserService defines the user operations the handlers depend on.
type UserService interface {
	Register(ctx context.Context, params users.RegisterParams) (*models.User, error)
	Find(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, page store.Page) ([]*models.User, int, error)
	Update(ctx context.Context, id uuid.UUID, params users.UpdateParams) (*models.User, error)
}

// NewRegisterHandler returns an http.HandlerFunc for POST /api/v1/users.
func NewRegisterHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req users.RegisterParams
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		u, err := svc.Register(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, u)
	}
}

// NewListUsersHandler returns an http.HandlerFunc for GET /api/v1/users.
func NewListUsersHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := pageQuery(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		list, total, err := svc.List(r.Context(), page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, list, pageMeta(page, len(list), total))
	}
}

// selfOrAdmin resolves the {userID} parameter and checks the caller is that
// user or an admin.
func selfOrAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	p, ok := principal(w, r)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuidParam(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, false
	}
	if !p.Admin && p.UserID != id {
		forbidden(w)
		return uuid.Nil, false
	}
	return id, true
}

// NewGetUserHandler returns an http.HandlerFunc for GET /api/v1/users/{userID}.
func NewGetUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := selfOrAdmin(w, r)
		if !ok {
			return
		}
		u, err := svc.Find(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, u)
	}
}

// NewUpdateUserHandler returns an http.HandlerFunc for PUT /api/v1/users/{userID}.
func NewUpdateUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := selfOrAdmin(w, r)
		if !ok {
			return
		}
		var req users.UpdateParams
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		u, err := svc.Update(r.Context(), id, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, u)
	}
}
