package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/popgate/job"
)

// Timeout returns middleware that bounds each run to d. When the deadline
// passes the context is cancelled, the producer is stopped, and the job
// answers with a server error. A non-positive d disables the bound.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
