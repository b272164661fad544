package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated   = "job.created"
	ActionJobAttached  = "job.attached"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobExpired   = "job.expired"
	ActionShutdown     = "gateway.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob     = "popgate.job"
	CategoryGateway = "popgate.gateway"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob     = "job"
	ResourceGateway = "gateway"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobAttached,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobExpired,
		ActionShutdown,
	}
}
