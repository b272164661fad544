// Package worker runs job producers. An Executor drives one job's
// producer through the middleware chain and guarantees the job is
// answered; a Pool bounds how many producers run at once and reaps
// pending jobs whose continuation never arrived.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/middleware"
	"github.com/xraph/popgate/producer"
)

// Executor runs a single job's producer through middleware.
type Executor struct {
	producer producer.Producer
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor for p. The middleware are chained in
// order; the first is the outermost.
func NewExecutor(p producer.Producer, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		producer: p,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs the producer for the active job j with in as its input and
// delivers the result. When the chain returns without the job having been
// answered (a middleware short-circuited or recovered a panic), the job is
// answered with a server error so its response is never left open.
func (e *Executor) Execute(ctx context.Context, j *job.Job, in producer.Input) error {
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return j.Run(ctx, e.producer, in)
	})

	if j.State() == job.StateActive {
		cause := err
		if cause == nil {
			cause = errors.New("run ended without a result")
		}
		cause = fmt.Errorf("job %s: %w: %w", j.ID(), popgate.ErrProducerFault, cause)
		if dErr := j.Deliver(ctx, []byte(cause.Error()), http.StatusInternalServerError, ""); dErr != nil {
			e.logger.Warn("deliver after aborted run",
				slog.String("job_id", j.ID()),
				slog.String("error", dErr.Error()),
			)
		}
		if err == nil {
			err = cause
		}
	}

	if err != nil {
		e.logger.Debug("job run failed",
			slog.String("job_id", j.ID()),
			slog.String("error", err.Error()),
		)
	}
	return err
}
