package planner

import (
	"fmt"
	"strings"

	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/types"
)

// Failed is the typed PlanningFailed error (§4.7, §7): the Orchestrator
// branches on it explicitly via errors.As rather than a generic error
// string, replacing exception-as-control-flow.
type Failed struct {
	Reason string
}

func (e *Failed) Error() string {
	return fmt.Sprintf("planner: plan rejected: %s", e.Reason)
}

const (
	defaultMinConfidence      = 50
	emptyRepoMinConfidence    = 70
)

// ValidatorConfig carries the inputs PlanValidator needs beyond the Plan
// itself.
type ValidatorConfig struct {
	Gate            *safety.Gate
	RetrievedFiles  []string
	UserPrompt      string
	Intent          types.Intent
	RepoEmpty       bool
	MinConfidence   int
}

// Validate rejects plan unless every rule in §4.7 holds, returning the
// (possibly adjusted) plan and nil on success, or a *Failed on rejection.
// The one case the validator repairs rather than rejects is a missing
// BOOTSTRAP_REPO on an empty repo, per §4.7's explicit "inserts it and
// raises confidence to ≥70".
func Validate(plan types.Plan, cfg ValidatorConfig) (types.Plan, error) {
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}
	if cfg.RepoEmpty && minConfidence < emptyRepoMinConfidence {
		minConfidence = emptyRepoMinConfidence
	}

	if cfg.RepoEmpty {
		plan = ensureBootstrapFirst(plan)
	}

	if plan.Confidence < minConfidence {
		return plan, &Failed{Reason: fmt.Sprintf("confidence %d below required %d", plan.Confidence, minConfidence)}
	}

	if err := validateStepIDs(plan); err != nil {
		return plan, err
	}
	if err := validateReadBeforeWrite(plan); err != nil {
		return plan, err
	}
	if err := validateNoWriteCreateConflict(plan); err != nil {
		return plan, err
	}
	if err := validateExecRun(plan, cfg.Gate); err != nil {
		return plan, err
	}
	if err := validateRetrievalConstraint(plan, cfg); err != nil {
		return plan, err
	}

	return plan, nil
}

func ensureBootstrapFirst(plan types.Plan) types.Plan {
	if len(plan.Steps) > 0 && plan.Steps[0].Action == types.ActionBootstrapRepo {
		return plan
	}
	bootstrap := types.Step{
		StepID: 0,
		Action: types.ActionBootstrapRepo,
		Reason: "repository is empty; initialize before any other step",
	}
	plan.Steps = append([]types.Step{bootstrap}, plan.Steps...)
	if plan.Confidence < emptyRepoMinConfidence {
		plan.Confidence = emptyRepoMinConfidence
	}
	return plan
}

// validateStepIDs checks unique ascending step_id starting at 1 (or 0 for
// BOOTSTRAP_REPO).
func validateStepIDs(plan types.Plan) error {
	expected := 1
	seen := make(map[int]bool)
	for i, s := range plan.Steps {
		if s.Action == types.ActionBootstrapRepo && i == 0 {
			if s.StepID != 0 {
				return &Failed{Reason: "BOOTSTRAP_REPO must have step_id 0"}
			}
			seen[0] = true
			continue
		}
		if seen[s.StepID] {
			return &Failed{Reason: fmt.Sprintf("duplicate step_id %d", s.StepID)}
		}
		if s.StepID != expected {
			return &Failed{Reason: fmt.Sprintf("step_id %d is not ascending from 1 (expected %d)", s.StepID, expected)}
		}
		seen[s.StepID] = true
		expected++
	}
	return nil
}

// validateReadBeforeWrite requires every fs.write step to transitively
// depend on an fs.read of the same path.
func validateReadBeforeWrite(plan types.Plan) error {
	byID := make(map[int]types.Step, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.StepID] = s
	}

	for _, s := range plan.Steps {
		if s.Action != types.ActionFSWrite {
			continue
		}
		if !hasTransitiveRead(s, byID, s.Path, make(map[int]bool)) {
			return &Failed{Reason: fmt.Sprintf("fs.write step %d (%s) has no transitive fs.read dependency on the same path", s.StepID, s.Path)}
		}
	}
	return nil
}

func hasTransitiveRead(step types.Step, byID map[int]types.Step, path string, visited map[int]bool) bool {
	for _, depID := range step.DependsOn {
		if visited[depID] {
			continue
		}
		visited[depID] = true
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		if dep.Action == types.ActionFSRead && dep.Path == path {
			return true
		}
		if hasTransitiveRead(dep, byID, path, visited) {
			return true
		}
	}
	return false
}

// validateNoWriteCreateConflict rejects a plan where the same path is both
// fs.write-targeted and fs.create-targeted.
func validateNoWriteCreateConflict(plan types.Plan) error {
	created := make(map[string]bool)
	written := make(map[string]bool)
	for _, s := range plan.Steps {
		switch s.Action {
		case types.ActionFSCreate:
			created[s.Path] = true
		case types.ActionFSWrite:
			written[s.Path] = true
		}
	}
	for path := range created {
		if written[path] {
			return &Failed{Reason: fmt.Sprintf("path %s is targeted by both fs.create and fs.write", path)}
		}
	}
	return nil
}

// validateExecRun requires a non-empty command or program+args, and that
// program is on the Safety allowlist.
func validateExecRun(plan types.Plan, gate *safety.Gate) error {
	for _, s := range plan.Steps {
		if s.Action != types.ActionExecRun {
			continue
		}
		program := s.Program
		if program == "" && s.Command != "" {
			fields := strings.Fields(s.Command)
			if len(fields) > 0 {
				program = fields[0]
			}
		}
		if program == "" {
			return &Failed{Reason: fmt.Sprintf("exec.run step %d has no command or program", s.StepID)}
		}
		if gate != nil && !gate.ProgramAllowed(program) {
			return &Failed{Reason: fmt.Sprintf("exec.run step %d: program %q is not on the Safety allowlist", s.StepID, program)}
		}
	}
	return nil
}

// validateRetrievalConstraint rejects plans that, under a mandatory
// retrieval intent, reference a path not in retrieved_files and not named
// verbatim in the user's prompt.
func validateRetrievalConstraint(plan types.Plan, cfg ValidatorConfig) error {
	if !cfg.Intent.MandatoryRetrieval() {
		return nil
	}
	retrieved := make(map[string]bool, len(cfg.RetrievedFiles))
	for _, f := range cfg.RetrievedFiles {
		retrieved[f] = true
	}
	for _, s := range plan.Steps {
		if s.Path == "" {
			continue
		}
		if retrieved[s.Path] {
			continue
		}
		if strings.Contains(cfg.UserPrompt, s.Path) {
			continue
		}
		return &Failed{Reason: fmt.Sprintf("path %s referenced by step %d is not in retrieved_files and not named literally in the prompt", s.Path, s.StepID)}
	}
	return nil
}
