package lifecycle

// State is the simulation-wide state of a Controller.
type State int32

const (
	Uninitialized State = iota
	SimulationStarted
	SimulationEnded
	// SimulationFailed is entered when EndSimulationAction fails; nothing is
	// accepted afterwards.
	SimulationFailed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case SimulationStarted:
		return "simulation_started"
	case SimulationEnded:
		return "simulation_ended"
	case SimulationFailed:
		return "simulation_failed"
	default:
		return "unknown"
	}
}

// WorkerState is the state of one worker within a started simulation.
type WorkerState int32

const (
	// WorkerIdle is between runs: registered, no run active
	WorkerIdle WorkerState = iota
	RunActive
	EventActive
	WorkerFinished
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case RunActive:
		return "run_active"
	case EventActive:
		return "event_active"
	case WorkerFinished:
		return "worker_finished"
	default:
		return "unknown"
	}
}
