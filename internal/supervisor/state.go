package supervisor

// State is the engine process lifecycle as seen by the Supervisor.
type State string

const (
	StateNotStarted      State = "not_started"
	StateAdoptedExternal State = "adopted_external"
	StateStarting        State = "starting"
	StateRunning         State = "running"
	StateStoppedByUs     State = "stopped_by_us"
	StateFailed          State = "failed"
)

var allStates = []State{StateNotStarted, StateAdoptedExternal, StateStarting, StateRunning, StateStoppedByUs, StateFailed}

// transitions lists the legal edges. Failed→Starting is only taken by Restart.
var transitions = map[State][]State{
	StateNotStarted: {StateAdoptedExternal, StateStarting, StateFailed},
	StateStarting:   {StateRunning, StateFailed},
	StateRunning:    {StateStoppedByUs, StateFailed},
	StateFailed:     {StateStarting, StateAdoptedExternal},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reachable reports whether the engine is expected to answer requests.
func (s State) Reachable() bool {
	return s == StateRunning || s == StateAdoptedExternal
}
