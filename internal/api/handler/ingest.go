package handler

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/errorhub/internal/api/response"
	"github.com/kiranshivaraju/errorhub/internal/exceptions"
	"github.com/kiranshivaraju/errorhub/internal/ingest"
)

// Ingester records a single reported error.
type Ingester interface {
	Ingest(ctx context.Context, ev ingest.Event) (*exceptions.OccurrenceResult, error)
}

// NewIngestHandler returns an http.HandlerFunc for POST /api/v1/error.
// The request id is attached when the client did not send one.
func NewIngestHandler(svc Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev ingest.Event
		if err := decodeJSON(r, &ev); err != nil {
			writeError(w, r, err)
			return
		}
		if ev.RequestID == "" {
			ev.RequestID = chimw.GetReqID(r.Context())
		}

		res, err := svc.Ingest(r.Context(), ev)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, res)
	}
}
