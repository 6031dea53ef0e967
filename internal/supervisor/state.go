package supervisor

// State is where a supervised command is in its attempt cycle.
type State int

const (
	StateCreated State = iota // no attempt yet
	StateRunning              // an attempt is in flight
	StateBackoff              // waiting before the next attempt
	StateStopped              // no more attempts will be made
)

var stateNames = [...]string{
	StateCreated: "created",
	StateRunning: "running",
	StateBackoff: "backoff",
	StateStopped: "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsActive reports whether an attempt is running or due.
func (s State) IsActive() bool {
	return s == StateRunning || s == StateBackoff
}

// IsTerminal reports whether the supervisor has finished.
func (s State) IsTerminal() bool {
	return s == StateStopped
}
