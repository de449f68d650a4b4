package forge

import (
	"errors"
	"testing"
)

func TestQueryPhaseTransitions(t *testing.T) {
	allowed := map[QueryPhase][]QueryPhase{
		PhaseRetrieving:   {PhaseGenerating, PhaseFatalError},
		PhaseGenerating:   {PhaseAttempting, PhaseFatalError},
		PhaseAttempting:   {PhaseSucceeded, PhaseRegenerating, PhaseExhausted, PhaseFatalError},
		PhaseRegenerating: {PhaseAttempting, PhaseFatalError},
	}
	all := []QueryPhase{
		PhaseRetrieving, PhaseGenerating, PhaseAttempting, PhaseRegenerating,
		PhaseSucceeded, PhaseExhausted, PhaseFatalError,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			got, err := from.Transition(to)
			if want {
				if err != nil || got != to {
					t.Errorf("%s -> %s: got (%s, %v), want allowed", from, to, got, err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) || got != from {
				t.Errorf("%s -> %s: got (%s, %v), want rejected", from, to, got, err)
			}
		}
	}
}

func TestQueryPhaseTerminal(t *testing.T) {
	for _, p := range []QueryPhase{PhaseSucceeded, PhaseExhausted, PhaseFatalError} {
		if !p.IsTerminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
	for _, p := range []QueryPhase{PhaseRetrieving, PhaseGenerating, PhaseAttempting, PhaseRegenerating} {
		if p.IsTerminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}

func TestDeploymentStatusTransitions(t *testing.T) {
	s, err := DeploymentStarting.Transition(DeploymentRunning)
	if err != nil || s != DeploymentRunning {
		t.Fatalf("starting -> running: (%s, %v)", s, err)
	}
	if _, err := DeploymentStopped.Transition(DeploymentRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("stopped -> running error = %v, want ErrInvalidTransition", err)
	}
}
