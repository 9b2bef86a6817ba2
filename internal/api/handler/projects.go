package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/projects"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
)

// ProjectService defines the project operations the handlers depend on.
type ProjectService interface {
	AccessChecker
	Create(ctx context.Context, params projects.CreateParams) (*models.Project, error)
	List(ctx context.Context, page store.Page) ([]*models.Project, int, error)
	Find(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Update(ctx context.Context, id uuid.UUID, params projects.UpdateParams) (*models.Project, error)
	AddTeamMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	RemoveTeamMember(ctx context.Context, projectID, userID uuid.UUID) ([]uuid.UUID, error)
	AllAccessibleByUser(ctx context.Context, userID uuid.UUID) (*projects.AccessibleProjectsResult, error)
}

// NewCreateProjectHandler returns an http.HandlerFunc for POST /api/v1/projects.
// The caller becomes the first member of the new project.
func NewCreateProjectHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req projects.CreateParams
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.Members = append([]uuid.UUID{p.UserID}, req.Members...)

		project, err := svc.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, project)
	}
}

// NewListProjectsHandler returns an http.HandlerFunc for GET /api/v1/projects.
func NewListProjectsHandler(svc ProjectService) http.HandlerFunc {
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

// NewGetProjectHandler returns an http.HandlerFunc for GET /api/v1/projects/{projectID}.
func NewGetProjectHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "projectID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !authorizeProject(w, r, svc, id) {
			return
		}
		project, err := svc.Find(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, project)
	}
}

// NewUpdateProjectHandler returns an http.HandlerFunc for PUT /api/v1/projects/{projectID}.
func NewUpdateProjectHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "projectID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !authorizeProject(w, r, svc, id) {
			return
		}
		var req projects.UpdateParams
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		project, err := svc.Update(r.Context(), id, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, project)
	}
}

type membershipResponse struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	Added     bool      `json:"added,omitempty"`
	// ClearedAssignments lists exceptions whose assignee was cleared by the removal.
	ClearedAssignments []uuid.UUID `json:"cleared_assignments,omitempty"`
}

func memberParams(w http.ResponseWriter, r *http.Request, svc ProjectService) (projectID, userID uuid.UUID, ok bool) {
	projectID, err := uuidParam(r, "projectID")
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	userID, err = uuidParam(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	if !authorizeProject(w, r, svc, projectID) {
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, userID, true
}

// NewAddMemberHandler returns an http.HandlerFunc for
// PUT /api/v1/projects/{projectID}/members/{userID}.
func NewAddMemberHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, userID, ok := memberParams(w, r, svc)
		if !ok {
			return
		}
		added, err := svc.AddTeamMember(r.Context(), projectID, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, membershipResponse{ProjectID: projectID, UserID: userID, Added: added})
	}
}

// NewRemoveMemberHandler returns an http.HandlerFunc for
// DELETE /api/v1/projects/{projectID}/members/{userID}.
func NewRemoveMemberHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, userID, ok := memberParams(w, r, svc)
		if !ok {
			return
		}
		cleared, err := svc.RemoveTeamMember(r.Context(), projectID, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, membershipResponse{ProjectID: projectID, UserID: userID, ClearedAssignments: cleared})
	}
}

// NewMyProjectsHandler returns an http.HandlerFunc for GET /api/v1/me/projects.
func NewMyProjectsHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		result, err := svc.AllAccessibleByUser(r.Context(), p.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewProjectExceptionsHandler returns an http.HandlerFunc for
// GET /api/v1/projects/{projectID}/exceptions.
func NewProjectExceptionsHandler(projectsSvc ProjectService, exceptionsSvc ExceptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := uuidParam(r, "projectID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !authorizeProject(w, r, projectsSvc, projectID) {
			return
		}
		if _, err := projectsSvc.Find(r.Context(), projectID); err != nil {
			writeError(w, r, err)
			return
		}
		filter, err := exceptionFilter(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.ProjectID = projectID

		list, total, err := exceptionsSvc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, list, pageMeta(filter.Page, len(list), total))
	}
}
