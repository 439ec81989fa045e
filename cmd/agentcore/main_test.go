package main

import (
	"testing"

	"github.com/loopworks/agentcore/internal/types"
)

func TestExitCodeForDoneIsSuccess(t *testing.T) {
	state := &types.AgentState{Phase: types.PhaseDone}
	if got := exitCodeFor(state); got != exitSuccess {
		t.Errorf("exitCodeFor(done) = %d, want %d", got, exitSuccess)
	}
}

func TestExitCodeForHaltReasons(t *testing.T) {
	cases := []struct {
		reason string
		want   int
	}{
		{"connection refused while reaching the embedding server", exitUnreachableServer},
		{"request rejected during intent classification", exitSafetyViolation},
		{"tool rejection limit reached", exitSafetyViolation},
		{"planning failed and cycle limit reached: no plan", exitPlanRejected},
		{"stagnation detected: identical plan repeated", exitPlanRejected},
		{"repeated failures exceeded retry budget", exitExecutionFailure},
	}
	for _, c := range cases {
		state := &types.AgentState{Phase: types.PhaseHalted, HaltReason: c.reason}
		if got := exitCodeFor(state); got != c.want {
			t.Errorf("exitCodeFor(%q) = %d, want %d", c.reason, got, c.want)
		}
	}
}
