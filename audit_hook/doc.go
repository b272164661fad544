// Package audithook is a popgate extension that turns job lifecycle events
// into audit records.
//
// Every lifecycle hook emits a structured [AuditEvent] through the
// [Recorder] interface. Severity is info for normal progress, warning for
// expired jobs, and critical for failed runs. Metadata carries the job
// state, content type, status, and elapsed time.
//
// # Logging recorder
//
//	audithook.New(audithook.NewSlogRecorder(logger))
//
// # Custom backends
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return store.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobExpired,
//	    ),
//	)
package audithook
