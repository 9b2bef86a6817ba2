package exceptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Assignments sets and clears the single responsible user of an exception.
// An assignee must be a member of the exception's project at the time of the
// write.
type Assignments struct {
	store      store.Store
	metrics    *metrics.Metrics
	maxRetries int
	tracer     trace.Tracer
}

// NewAssignments creates a new Assignments manager.
func NewAssignments(st store.Store, opts ...Option) *Assignments {
	o := buildOptions(opts)
	return &Assignments{
		store:      st,
		metrics:    o.metrics,
		maxRetries: o.maxRetries,
		tracer:     o.tracerProvider.Tracer(tracerName),
	}
}

// Assign makes userID the assignee of the exception, replacing any previous
// assignee. Assigning the current assignee again is a no-op.
func (s *Assignments) Assign(ctx context.Context, exceptionID, userID uuid.UUID) (*models.Exception, error) {
	ctx, span := s.tracer.Start(ctx, "exceptions.Assign", trace.WithAttributes(
		attribute.String("exception.id", exceptionID.String()),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	exc, err := s.assign(ctx, exceptionID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assign failed")
		return nil, err
	}
	return exc, nil
}

func (s *Assignments) assign(ctx context.Context, exceptionID, userID uuid.UUID) (*models.Exception, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get assignee: %w", err)
	}

	var result *models.Exception
	err := retryOnConflict(ctx, s.maxRetries, "assign", s.metrics, func() error {
		current, err := s.store.GetException(ctx, exceptionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NotFound("exception", exceptionID)
		}
		if err != nil {
			return fmt.Errorf("get exception: %w", err)
		}

		member, err := s.store.IsProjectMember(ctx, current.ProjectID, userID)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !member {
			return &apperror.IneligibleAssigneeError{UserID: userID, ProjectID: current.ProjectID}
		}
		if current.AssigneeID != nil && *current.AssigneeID == userID {
			result = current
			return nil
		}

		// The store re-checks membership under a row lock, so a concurrent
		// revocation between the check above and this write is still caught.
		updated, err := s.store.AssignException(ctx, exceptionID, userID)
		switch {
		case errors.Is(err, store.ErrNotMember):
			return &apperror.IneligibleAssigneeError{UserID: userID, ProjectID: current.ProjectID}
		case errors.Is(err, store.ErrNotFound):
			return apperror.NotFound("exception", exceptionID)
		case err != nil:
			return err
		}
		s.metrics.AssignmentChanged("assign", 1)
		slog.Info("exception assigned",
			"exception_id", exceptionID,
			"project_id", updated.ProjectID,
			"assignee_id", userID,
		)
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Unassign clears the assignee. It is not an error to unassign an exception
// that has no assignee.
func (s *Assignments) Unassign(ctx context.Context, exceptionID uuid.UUID) (*models.Exception, error) {
	ctx, span := s.tracer.Start(ctx, "exceptions.Unassign", trace.WithAttributes(
		attribute.String("exception.id", exceptionID.String()),
	))
	defer span.End()

	var result *models.Exception
	err := retryOnConflict(ctx, s.maxRetries, "unassign", s.metrics, func() error {
		current, err := s.store.GetException(ctx, exceptionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NotFound("exception", exceptionID)
		}
		if err != nil {
			return fmt.Errorf("get exception: %w", err)
		}

		updated, err := s.store.UnassignException(ctx, exceptionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NotFound("exception", exceptionID)
		}
		if err != nil {
			return err
		}
		if current.AssigneeID != nil {
			s.metrics.AssignmentChanged("unassign", 1)
			slog.Info("exception unassigned",
				"exception_id", exceptionID,
				"previous_assignee_id", *current.AssigneeID,
			)
		}
		result = updated
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unassign failed")
		return nil, err
	}
	return result, nil
}
