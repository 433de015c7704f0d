package fetchloop

import "fmt"

// State is the loop's position in its state machine.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateContinuing
	StatePaused
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateContinuing:
		return "continuing"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether a session in s has ended.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateFailed
}
