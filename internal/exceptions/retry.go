package exceptions

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/metrics"
	"github.com/kiranshivaraju/errorhub/internal/store"
)

// retryOnConflict runs fn until it succeeds, fails with something other than
// store.ErrConflict, or the attempts are used up. fn must re-read state on
// every call.
func retryOnConflict(ctx context.Context, attempts int, op string, m *metrics.Metrics, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		lastErr = err
		m.ConflictRetried(op)
		slog.Warn("write conflict, retrying", "op", op, "attempt", attempt, "error", err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return &apperror.ConflictError{Op: op, Attempts: attempts, Err: lastErr}
}
