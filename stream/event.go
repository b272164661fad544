// Package stream provides a real-time event broker for job lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobCreated   EventType = "job.created"
	EventJobAttached  EventType = "job.attached"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobExpired   EventType = "job.expired"

	// EventShutdown is the last event a subscriber sees before its
	// channel closes.
	EventShutdown EventType = "gateway.shutdown"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	ContentType string `json:"content_type,omitempty"`
	Status      int    `json:"status,omitempty"`
	ResultBytes int    `json:"result_bytes,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}
