// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a producer run. Middleware are
// composed into a chain using [Chain] and applied each time a continuation
// request starts a job's producer. They are applied right-to-left: the
// first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job id, duration, and outcome of each run
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the run context after a configured duration
//   - [Tracing]: wraps the run in an OpenTelemetry span
//   - [Metrics]: records run duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
