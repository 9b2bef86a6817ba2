// Package ingest validates raw error events reported by client applications
// and hands them to the exception aggregator under a stable signature.
package ingest

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/exceptions"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kiranshivaraju/errorhub/internal/ingest"

// Event is the raw payload submitted by a reporting client.
type Event struct {
	ProjectID uuid.UUID      `json:"project_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Stack     string         `json:"stack,omitempty"`
	Location  string         `json:"location,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the event carries the fields every occurrence needs.
func (e Event) Validate() error {
	var missing []string
	if e.ProjectID == uuid.Nil {
		missing = append(missing, "project_id")
	}
	if strings.TrimSpace(e.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(e.Message) == "" {
		missing = append(missing, "message")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return apperror.Validation("is required", missing...)
	}
	return nil
}

// Recorder stores an occurrence under its signature.
type Recorder interface {
	RecordOccurrence(ctx context.Context, projectID uuid.UUID, signature string, data exceptions.InstanceData) (*exceptions.OccurrenceResult, error)
}

// Service turns events into occurrences. It does not persist anything itself.
type Service struct {
	recorder Recorder
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewService creates a new ingest Service. m may be nil.
func NewService(recorder Recorder, m *metrics.Metrics) *Service {
	return &Service{
		recorder: recorder,
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
	}
}

// Ingest validates the event, computes its signature and records it.
func (s *Service) Ingest(ctx context.Context, ev Event) (*exceptions.OccurrenceResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(
		attribute.String("project.id", ev.ProjectID.String()),
		attribute.String("error.type", ev.Type),
	))
	defer span.End()

	if err := ev.Validate(); err != nil {
		s.metrics.EventIngested("rejected")
		span.SetStatus(codes.Error, "invalid event")
		return nil, err
	}

	location := strings.TrimSpace(ev.Location)
	if location == "" {
		location = LocationFromStack(ev.Stack)
	}
	signature := Signature(ev.Type, location, "", ev.Message)

	metadata := maps.Clone(ev.Metadata)
	if ev.RequestID != "" {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["request_id"] = ev.RequestID
	}

	res, err := s.recorder.RecordOccurrence(ctx, ev.ProjectID, signature, exceptions.InstanceData{
		ErrorType:  truncateString(strings.TrimSpace(ev.Type), 255),
		Message:    truncateString(ev.Message, maxMessageBytes),
		Location:   truncateString(location, maxLocationBytes),
		Stack:      ev.Stack,
		OccurredAt: ev.Timestamp,
		Metadata:   metadata,
	})
	if err != nil {
		s.metrics.EventIngested("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "record occurrence failed")
		return nil, err
	}

	s.metrics.EventIngested("accepted")
	span.SetAttributes(attribute.String("exception.signature", signature))
	return res, nil
}
