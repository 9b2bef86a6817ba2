package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

// ExceptionService defines the read operations over exceptions and instances.
type ExceptionService interface {
	List(ctx context.Context, filter store.ExceptionFilter) ([]*models.Exception, int, error)
	Find(ctx context.Context, id uuid.UUID) (*models.Exception, error)
	ListInstances(ctx context.Context, filter store.InstanceFilter) ([]*models.Instance, int, error)
	FindInstance(ctx context.Context, id uuid.UUID) (*models.Instance, error)
}

// AssignmentService assigns and unassigns exceptions.
type AssignmentService interface {
	Assign(ctx context.Context, exceptionID, userID uuid.UUID) (*models.Exception, error)
	Unassign(ctx context.Context, exceptionID uuid.UUID) (*models.Exception, error)
}

type assignRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func exceptionFilter(r *http.Request) (store.ExceptionFilter, error) {
	var f store.ExceptionFilter
	page, err := pageQuery(r)
	if err != nil {
		return f, err
	}
	f.Page = page
	if f.ProjectID, err = uuidQuery(r, "project_id"); err != nil {
		return f, err
	}
	if f.AssigneeID, err = uuidQuery(r, "assignee_id"); err != nil {
		return f, err
	}
	return f, nil
}

// findAuthorizedException loads the exception named by the URL and checks the
// caller may see its project. Exceptions in other projects read as missing.
func findAuthorizedException(w http.ResponseWriter, r *http.Request, svc ExceptionService, access AccessChecker) (*models.Exception, bool) {
	id, err := uuidParam(r, "exceptionID")
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	e, err := svc.Find(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !authorizeFound(w, r, access, e.ProjectID, apperror.NotFound("exception", id)) {
		return nil, false
	}
	return e, true
}

// NewListExceptionsHandler returns an http.HandlerFunc for GET /api/v1/exceptions.
// Supports the project_id and assignee_id filters.
func NewListExceptionsHandler(svc ExceptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := exceptionFilter(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		list, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, list, pageMeta(filter.Page, len(list), total))
	}
}

// NewGetExceptionHandler returns an http.HandlerFunc for GET /api/v1/exceptions/{exceptionID}.
func NewGetExceptionHandler(svc ExceptionService, access AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := findAuthorizedException(w, r, svc, access)
		if !ok {
			return
		}
		response.JSON(w, e)
	}
}

// NewAssignHandler returns an http.HandlerFunc for PUT /api/v1/exceptions/{exceptionID}/assign.
func NewAssignHandler(svc ExceptionService, assignments AssignmentService, access AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := findAuthorizedException(w, r, svc, access)
		if !ok {
			return
		}
		var req assignRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.UserID == uuid.Nil {
			writeError(w, r, apperror.Validation("is required", "user_id"))
			return
		}
		updated, err := assignments.Assign(r.Context(), e.ID, req.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewUnassignHandler returns an http.HandlerFunc for DELETE /api/v1/exceptions/{exceptionID}/assign.
func NewUnassignHandler(svc ExceptionService, assignments AssignmentService, access AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := findAuthorizedException(w, r, svc, access)
		if !ok {
			return
		}
		updated, err := assignments.Unassign(r.Context(), e.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewListInstancesHandler returns an http.HandlerFunc for GET /api/v1/instances.
func NewListInstancesHandler(svc ExceptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := pageQuery(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter := store.InstanceFilter{Page: page}
		if filter.ExceptionID, err = uuidQuery(r, "exception_id"); err != nil {
			writeError(w, r, err)
			return
		}
		list, total, err := svc.ListInstances(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, list, pageMeta(page, len(list), total))
	}
}

// NewGetInstanceHandler returns an http.HandlerFunc for GET /api/v1/instances/{instanceID}.
// Access follows the parent exception's project.
func NewGetInstanceHandler(svc ExceptionService, access AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "instanceID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		inst, err := svc.FindInstance(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		e, err := svc.Find(r.Context(), inst.ExceptionID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !authorizeFound(w, r, access, e.ProjectID, apperror.NotFound("instance", id)) {
			return
		}
		response.JSON(w, inst)
	}
}
