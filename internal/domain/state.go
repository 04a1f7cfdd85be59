package domain

// SimulationState is the lifecycle state of a Simulator.
type SimulationState int32

const (
	StateInitializing SimulationState = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateError
)

func (s SimulationState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
