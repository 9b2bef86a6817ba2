// Package exceptions rolls error occurrences up into deduplicated exceptions
// and manages who is assigned to them.
package exceptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "github.com/kiranshivaraju/errorhub/internal/exceptions"
	defaultMaxRetries = 3
)

// InstanceData is the captured context of one occurrence.
type InstanceData struct {
	ErrorType  string
	Message    string
	Location   string
	Stack      string
	OccurredAt time.Time
	Metadata   map[string]any
}

// OccurrenceResult is the outcome of RecordOccurrence.
type OccurrenceResult struct {
	Exception *models.Exception `json:"exception"`
	Instance  *models.Instance  `json:"instance"`
	Created   bool              `json:"created"`
}

// Aggregator deduplicates occurrences into one Exception per (project, signature)
// and serves read access to exceptions and their instances.
type Aggregator struct {
	store      store.Store
	metrics    *metrics.Metrics
	maxRetries int
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures an Aggregator or Assignments.
type Option func(*options)

type options struct {
	metrics        *metrics.Metrics
	maxRetries     int
	tracerProvider trace.TracerProvider
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMaxRetries bounds how many times a conflicting write is re-attempted.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return o
}

// NewAggregator creates a new Aggregator.
func NewAggregator(st store.Store, opts ...Option) *Aggregator {
	o := buildOptions(opts)
	return &Aggregator{
		store:      st,
		metrics:    o.metrics,
		maxRetries: o.maxRetries,
		tracer:     o.tracerProvider.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordOccurrence appends an instance to the project's exception with the given
// signature, creating the exception on first sight. Concurrent calls with the
// same (project, signature) never create two exceptions.
func (a *Aggregator) RecordOccurrence(ctx context.Context, projectID uuid.UUID, signature string, data InstanceData) (*OccurrenceResult, error) {
	ctx, span := a.tracer.Start(ctx, "exceptions.RecordOccurrence", trace.WithAttributes(
		attribute.String("project.id", projectID.String()),
		attribute.String("exception.signature", signature),
	))
	defer span.End()

	if signature == "" {
		return nil, apperror.Validation("is required", "signature")
	}
	if data.OccurredAt.IsZero() {
		return nil, apperror.Validation("is required", "timestamp")
	}

	var result *OccurrenceResult
	err := retryOnConflict(ctx, a.maxRetries, "record_occurrence", a.metrics, func() error {
		// Fresh ids per attempt: the upsert re-checks for an existing
		// exception, so a retry never creates blindly.
		now := a.now()
		occurredAt := data.OccurredAt.UTC()
		exc := &models.Exception{
			ID:          uuid.New(),
			ProjectID:   projectID,
			Signature:   signature,
			ErrorType:   data.ErrorType,
			Message:     data.Message,
			Location:    data.Location,
			Occurrences: 1,
			FirstSeenAt: occurredAt,
			LastSeenAt:  occurredAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		inst := &models.Instance{
			ID:         uuid.New(),
			OccurredAt: occurredAt,
			Message:    data.Message,
			Stack:      data.Stack,
			Metadata:   data.Metadata,
			CreatedAt:  now,
		}

		saved, created, err := a.store.RecordOccurrence(ctx, exc, inst)
		if err != nil {
			return err
		}
		result = &OccurrenceResult{Exception: saved, Instance: inst, Created: created}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = apperror.NotFound("project", projectID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "record occurrence failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("exception.id", result.Exception.ID.String()),
		attribute.Bool("exception.created", result.Created),
		attribute.Int("exception.occurrences", result.Exception.Occurrences),
	)
	if result.Created {
		a.metrics.ExceptionCreated()
		slog.Info("exception created",
			"exception_id", result.Exception.ID,
			"project_id", projectID,
			"error_type", result.Exception.ErrorType,
		)
	}
	return result, nil
}

// List returns exceptions matching the filter, most recently seen first.
func (a *Aggregator) List(ctx context.Context, filter store.ExceptionFilter) ([]*models.Exception, int, error) {
	exceptions, total, err := a.store.ListExceptions(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list exceptions: %w", err)
	}
	return exceptions, total, nil
}

// Find returns one exception.
func (a *Aggregator) Find(ctx context.Context, id uuid.UUID) (*models.Exception, error) {
	e, err := a.store.GetException(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("exception", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find exception: %w", err)
	}
	return e, nil
}

// ListInstances returns instances matching the filter, newest first.
func (a *Aggregator) ListInstances(ctx context.Context, filter store.InstanceFilter) ([]*models.Instance, int, error) {
	instances, total, err := a.store.ListInstances(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list instances: %w", err)
	}
	return instances, total, nil
}

// FindInstance returns one instance.
func (a *Aggregator) FindInstance(ctx context.Context, id uuid.UUID) (*models.Instance, error) {
	i, err := a.store.GetInstance(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("instance", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find instance: %w", err)
	}
	return i, nil
}
