// Package relayhook relays popgate lifecycle events to a message broker.
// When registered as an extension, it publishes a JSON document for every
// job event (popgate.job.created, popgate.job.failed, etc.) on a subject
// derived from the event type.
//
// Hooks never publish on the caller's goroutine. Events are queued and
// published in order by a background goroutine that retries failures;
// when the queue is full the event is dropped. OnShutdown drains the
// queue.
//
// Two publishers are bundled: [RedisPublisher] sends with Redis PUBLISH,
// [NATSPublisher] with a NATS subject publish.
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	hook := relayhook.New(relayhook.NewRedisPublisher(rdb, "popgate"), logger)
//	gateway.WithExtension(hook)
//
// To restrict which events are published:
//
//	hook := relayhook.New(pub, logger,
//	    relayhook.WithEvents(
//	        relayhook.EventJobCompleted,
//	        relayhook.EventJobFailed,
//	    ),
//	)
package relayhook
