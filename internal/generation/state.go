package generation

// State is the position of the orchestrator's single request slot.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether a request occupies the slot.
func (s State) Busy() bool {
	return s == StateRequested || s == StateRunning
}
