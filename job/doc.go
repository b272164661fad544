// Package job defines the job entity, its state machine, and the registry
// that owns every live job.
//
// # Lifecycle
//
//	pending --Attach--> active --Deliver--> completed (removed)
//	pending --Expire--> completed (removed)
//
// A job is created only through [Registry.Create] and is reachable only
// through the registry. The first POP request allocates it; the
// continuation request attaches its response with [Job.Attach] and calls
// [Job.Run], which streams the producer's output into the job and delivers
// the accumulated result. Delivery finalizes the response and removes the
// job exactly once.
//
// # Subscriptions
//
// [Registry.On] and [Registry.Once] attach a handler to every existing
// job and to every job created afterward. Handlers run synchronously on
// the goroutine that caused the transition, never under a lock.
package job
