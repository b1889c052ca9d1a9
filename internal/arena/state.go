package arena

// State is the arena lifecycle. Transitions only move forward:
// Starting -> Running -> Draining -> Stopped.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Admitting reports whether joins and inputs are accepted in this state.
func (s State) Admitting() bool {
	return s == StateRunning
}
