package elif

// State is the lifecycle state of an App.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// StateHook observes one state transition.
type StateHook func(from, to State)

// canTransition lists the lifecycle edges an App may take.
func canTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateInitializing || to == StateFailed
	case StateInitializing:
		return to == StateRunning || to == StateStopping || to == StateFailed
	case StateRunning:
		return to == StateStopping || to == StateFailed
	case StateStopping:
		return to == StateStopped || to == StateFailed
	default:
		return false
	}
}
