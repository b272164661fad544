// Package ext defines the extension system for popgate.
//
// Extensions are notified of job lifecycle events and can react to them:
// recording metrics, publishing to a message bus, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID(), elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobCreated]: a job identifier was issued
//   - [JobAttached]: the continuation request attached its response
//   - [JobCompleted]: the result was delivered
//   - [JobFailed]: the producer faulted and a server error was delivered
//   - [JobExpired]: a pending job was evicted without a continuation
//
// # Other Hooks
//
//   - [Shutdown]: the gateway is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. [Registry.Observe] wires a
// job registry's broadcast subscriptions to those emitters.
package ext
