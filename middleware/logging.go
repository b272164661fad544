package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/popgate/job"
)

// Logging returns middleware that logs the start and outcome of a run.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("job_id", j.ID()),
			slog.Duration("waited", time.Since(j.CreatedAt())),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("job_id", j.ID()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			info := j.Info()
			logger.Info("job completed",
				slog.String("job_id", j.ID()),
				slog.Duration("elapsed", elapsed),
				slog.Int("status", info.Status),
				slog.Int("result_bytes", info.ResultBytes),
			)
		}

		return err
	}
}
