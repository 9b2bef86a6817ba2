package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/exceptions"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	projectID uuid.UUID
	signature string
	data      exceptions.InstanceData
}

type fakeRecorder struct {
	calls []recordedCall
	err   error
}

func (f *fakeRecorder) RecordOccurrence(_ context.Context, projectID uuid.UUID, signature string, data exceptions.InstanceData) (*exceptions.OccurrenceResult, error) {
	f.calls = append(f.calls, recordedCall{projectID: projectID, signature: signature, data: data})
	if f.err != nil {
		return nil, f.err
	}
	return &exceptions.OccurrenceResult{
		Exception: &models.Exception{ID: uuid.New(), ProjectID: projectID, Signature: signature, Occurrences: 1},
		Instance:  &models.Instance{ID: uuid.New(), Message: data.Message},
		Created:   true,
	}, nil
}

func validEvent() Event {
	return Event{
		ProjectID: uuid.New(),
		Type:      "TypeError",
		Message:   "x is undefined",
		Timestamp: time.Date(2024, 2, 17, 1, 0, 0, 0, time.UTC),
		Stack:     "TypeError: x is undefined\n    at handle (/app/src/handler.js:42:17)",
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		missing []string
	}{
		{"valid", func(*Event) {}, nil},
		{"missing project", func(e *Event) { e.ProjectID = uuid.Nil }, []string{"project_id"}},
		{"missing type", func(e *Event) { e.Type = "  " }, []string{"type"}},
		{"missing message", func(e *Event) { e.Message = "" }, []string{"message"}},
		{"missing timestamp", func(e *Event) { e.Timestamp = time.Time{} }, []string{"timestamp"}},
		{"everything missing", func(e *Event) { *e = Event{} }, []string{"project_id", "type", "message", "timestamp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			err := ev.Validate()
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var ve *apperror.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.missing, ve.Fields)
		})
	}
}

func TestIngest_InvalidEventNotRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	svc := NewService(rec, nil)

	ev := validEvent()
	ev.Message = ""
	_, err := svc.Ingest(context.Background(), ev)

	assert.True(t, apperror.IsValidation(err))
	assert.Empty(t, rec.calls)
}

func TestIngest_PassesNormalizedOccurrence(t *testing.T) {
	rec := &fakeRecorder{}
	svc := NewService(rec, nil)

	ev := validEvent()
	ev.RequestID = "req-123"
	ev.Metadata = map[string]any{"release": "1.2.3"}
	res, err := svc.Ingest(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)

	call := rec.calls[0]
	assert.Equal(t, ev.ProjectID, call.projectID)
	assert.Equal(t, Signature("TypeError", "handle (/app/src/handler.js:42:17)", "", ""), call.signature)
	assert.Equal(t, "handle (/app/src/handler.js:42:17)", call.data.Location)
	assert.Equal(t, "req-123", call.data.Metadata["request_id"])
	assert.Equal(t, "1.2.3", call.data.Metadata["release"])
	assert.NotContains(t, ev.Metadata, "request_id", "caller metadata must not be mutated")
	assert.True(t, call.data.OccurredAt.Equal(ev.Timestamp))
	assert.True(t, res.Created)
}

func TestIngest_VolatileFieldsDoNotChangeSignature(t *testing.T) {
	rec := &fakeRecorder{}
	svc := NewService(rec, nil)

	first := validEvent()
	first.RequestID = "req-1"
	second := first
	second.RequestID = "req-2"
	second.Timestamp = first.Timestamp.Add(time.Hour)
	second.Message = "y is undefined"

	_, err := svc.Ingest(context.Background(), first)
	require.NoError(t, err)
	_, err = svc.Ingest(context.Background(), second)
	require.NoError(t, err)

	require.Len(t, rec.calls, 2)
	assert.Equal(t, rec.calls[0].signature, rec.calls[1].signature)
}

func TestIngest_TruncatesLongMessage(t *testing.T) {
	rec := &fakeRecorder{}
	svc := NewService(rec, nil)

	ev := validEvent()
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	ev.Message = string(long)
	_, err := svc.Ingest(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, rec.calls[0].data.Message, maxMessageBytes)
}

func TestIngest_RecorderErrorPropagates(t *testing.T) {
	rec := &fakeRecorder{err: apperror.NotFound("project", uuid.New())}
	reg := prometheus.NewRegistry()
	svc := NewService(rec, metrics.New(reg))

	_, err := svc.Ingest(context.Background(), validEvent())
	assert.True(t, apperror.IsNotFound(err))

	count, err := testutil.GatherAndCount(reg, "errorhub_events_ingested_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngest_EndToEndDedup(t *testing.T) {
	st := store.NewMemoryStore()
	p := &models.Project{ID: uuid.New(), Name: "Test Project", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, st.CreateProject(context.Background(), p))
	svc := NewService(exceptions.NewAggregator(st), nil)

	const n = 10
	var excID uuid.UUID
	for i := 0; i < n; i++ {
		ev := validEvent()
		ev.ProjectID = p.ID
		ev.RequestID = uuid.NewString()
		ev.Timestamp = ev.Timestamp.Add(time.Duration(i) * time.Second)
		res, err := svc.Ingest(context.Background(), ev)
		require.NoError(t, err)
		excID = res.Exception.ID
	}

	exc, err := st.GetException(context.Background(), excID)
	require.NoError(t, err)
	assert.Equal(t, n, exc.Occurrences)

	_, total, err := st.ListInstances(context.Background(), store.InstanceFilter{ExceptionID: excID})
	require.NoError(t, err)
	assert.Equal(t, n, total)
}
