// Package handler holds the HTTP handlers for the REST surface. Each handler
// depends on a narrow interface over the service it calls.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/errorhub/internal/api/middleware"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/internal/users"
)

const maxBodyBytes = 1 << 20

// writeError maps the apperror taxonomy onto HTTP responses. Anything else is
// logged and reported as a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *apperror.ValidationError
		notFound   *apperror.NotFoundError
		ineligible *apperror.IneligibleAssigneeError
		conflict   *apperror.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		response.RequestError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", validation.Error(), map[string]any{
			"fields": validation.Fields,
			"reason": validation.Reason,
		})
	case errors.As(err, &notFound):
		response.RequestError(w, r, http.StatusNotFound, "NOT_FOUND", notFound.Error(), map[string]any{
			"resource": notFound.Resource,
			"id":       notFound.ID,
		})
	case errors.As(err, &ineligible):
		response.RequestError(w, r, http.StatusUnprocessableEntity, "INELIGIBLE_ASSIGNEE", ineligible.Error(), map[string]any{
			"user_id":    ineligible.UserID,
			"project_id": ineligible.ProjectID,
		})
	case errors.As(err, &conflict):
		slog.Warn("write conflict not resolved",
			"request_id", chimw.GetReqID(r.Context()),
			"op", conflict.Op,
			"attempts", conflict.Attempts,
		)
		response.RequestError(w, r, http.StatusConflict, "CONFLICT",
			"The resource was modified concurrently, please retry", nil)
	default:
		slog.Error("request failed",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		response.RequestError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperror.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}

// uuidParam parses a chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperror.Validation("must be a valid UUID", name)
	}
	return id, nil
}

// uuidQuery parses an optional query parameter as a UUID. Absent yields uuid.Nil.
func uuidQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("must be a valid UUID", name)
	}
	return id, nil
}

// pageQuery reads the page and limit query parameters.
func pageQuery(r *http.Request) (store.Page, error) {
	var p store.Page
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperror.Validation("must be a positive integer", "page")
		}
		if n > store.MaxPage {
			return p, apperror.Validation(fmt.Sprintf("must be at most %d", store.MaxPage), "page")
		}
		p.Page = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperror.Validation("must be a positive integer", "limit")
		}
		p.Limit = n
	}
	return p, nil
}

func pageMeta(p store.Page, returned, total int) response.PaginationMeta {
	limit, offset := p.Normalize()
	return response.PaginationMeta{
		Page:    offset/limit + 1,
		Limit:   limit,
		Total:   total,
		HasNext: offset+returned < total,
	}
}

// principal returns the authenticated caller. Routes using it are always
// behind Auth.Authenticate.
func principal(w http.ResponseWriter, r *http.Request) (*users.Principal, bool) {
	p, ok := mw.GetPrincipal(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Authentication required", nil)
		return nil, false
	}
	return p, true
}

func forbidden(w http.ResponseWriter) {
	response.Error(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
}

// AccessChecker answers whether a user is a member of a project.
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, projectID uuid.UUID) (bool, error)
}

// memberOrAdmin reports whether the caller may see projectID. It writes the
// error response itself when it returns ok == false.
func memberOrAdmin(w http.ResponseWriter, r *http.Request, access AccessChecker, projectID uuid.UUID) (allowed, ok bool) {
	p, ok := principal(w, r)
	if !ok {
		return false, false
	}
	if p.Admin {
		return true, true
	}
	member, err := access.CanAccess(r.Context(), p.UserID, projectID)
	if err != nil {
		writeError(w, r, err)
		return false, false
	}
	return member, true
}

// authorizeProject lets admins and project members through and writes the
// error response otherwise. It must run before the project is loaded so a
// missing id and a foreign one look the same.
func authorizeProject(w http.ResponseWriter, r *http.Request, access AccessChecker, projectID uuid.UUID) bool {
	allowed, ok := memberOrAdmin(w, r, access, projectID)
	if !ok {
		return false
	}
	if !allowed {
		forbidden(w)
		return false
	}
	return true
}

// authorizeFound guards a resource already loaded by id. Callers outside its
// project get notFound, the same answer as for an id that does not exist.
func authorizeFound(w http.ResponseWriter, r *http.Request, access AccessChecker, projectID uuid.UUID, notFound error) bool {
	allowed, ok := memberOrAdmin(w, r, access, projectID)
	if !ok {
		return false
	}
	if !allowed {
		writeError(w, r, notFound)
		return false
	}
	return true
}
