package forge

import (
	"encoding/json"
	"fmt"
)

// QueryPhase is the state of one query's lifecycle in the retry loop.
type QueryPhase uint8

const (
	PhaseRetrieving QueryPhase = iota + 1
	PhaseGenerating
	PhaseAttempting
	PhaseRegenerating
	PhaseSucceeded
	PhaseExhausted
	PhaseFatalError
)

func (p QueryPhase) String() string {
	switch p {
	case PhaseRetrieving:
		return "retrieving"
	case PhaseGenerating:
		return "generating"
	case PhaseAttempting:
		return "attempting"
	case PhaseRegenerating:
		return "regenerating"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseExhausted:
		return "exhausted"
	case PhaseFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

func (p QueryPhase) IsValid() bool {
	switch p {
	case PhaseRetrieving, PhaseGenerating, PhaseAttempting, PhaseRegenerating,
		PhaseSucceeded, PhaseExhausted, PhaseFatalError:
		return true
	default:
		return false
	}
}

func (p QueryPhase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseExhausted || p == PhaseFatalError
}

// Transition returns the next phase, or an error wrapping
// ErrInvalidTransition when the move is not allowed.
func (p QueryPhase) Transition(to QueryPhase) (QueryPhase, error) {
	ok := false
	switch p {
	case PhaseRetrieving:
		ok = to == PhaseGenerating || to == PhaseFatalError
	case PhaseGenerating:
		ok = to == PhaseAttempting || to == PhaseFatalError
	case PhaseAttempting:
		ok = to == PhaseSucceeded || to == PhaseRegenerating || to == PhaseExhausted || to == PhaseFatalError
	case PhaseRegenerating:
		ok = to == PhaseAttempting || to == PhaseFatalError
	case PhaseSucceeded, PhaseExhausted, PhaseFatalError:
		ok = false
	}
	if !ok {
		return p, fmt.Errorf("%w: query %s -> %s", ErrInvalidTransition, p, to)
	}
	return to, nil
}

func (p QueryPhase) MarshalJSON() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid query phase: %d", p)
	}
	return json.Marshal(p.String())
}
