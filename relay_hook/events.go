package relayhook

// Lifecycle event types. Each constant maps to one ext lifecycle hook and
// is the Type of the published Message.
const (
	EventJobCreated   = "popgate.job.created"
	EventJobAttached  = "popgate.job.attached"
	EventJobCompleted = "popgate.job.completed"
	EventJobFailed    = "popgate.job.failed"
	EventJobExpired   = "popgate.job.expired"
	EventShutdown     = "popgate.gateway.shutdown"
)

// AllEvents returns every event type the extension publishes.
func AllEvents() []string {
	return []string{
		EventJobCreated,
		EventJobAttached,
		EventJobCompleted,
		EventJobFailed,
		EventJobExpired,
		EventShutdown,
	}
}
