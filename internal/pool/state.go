package pool

import "fmt"

// State is the runtime state of one work item.
//
//	PENDING -> RUNNING -> COMPLETED | FAILED
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// IsTerminal reports whether the state is final.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// States holds one State per work item, by position.
type States []State

// NewStates returns n PENDING states.
func NewStates(n int) States {
	s := make(States, n)
	for i := range s {
		s[i] = StatePending
	}
	return s
}

// Transition moves item i from one state to another.
//
// The caller supplies the expected prior state so races become visible. The
// slice is mutated only if the transition is valid.
func Transition(states States, i int, from, to State) error {
	if i < 0 || i >= len(states) {
		return fmt.Errorf("unknown work item %d", i)
	}
	if cur := states[i]; cur != from {
		return fmt.Errorf("invalid transition for item %d: expected %s, got %s", i, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for item %d: %s -> %s", i, from, to)
	}
	states[i] = to
	return nil
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// Count returns how many items are in state s.
func (ss States) Count(s State) int {
	n := 0
	for _, x := range ss {
		if x == s {
			n++
		}
	}
	return n
}
