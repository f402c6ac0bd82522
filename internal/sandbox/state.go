package sandbox

// detonationState tracks one detonation through its lifecycle.
// Requested -> Running -> Completed | Failed; the last two are
// terminal.
type detonationState string

const (
	stateRequested detonationState = "requested"
	stateRunning   detonationState = "running"
	stateCompleted detonationState = "completed"
	stateFailed    detonationState = "failed"
)
