// Package executor implements the Executor (§4.8): it runs one validated
// Plan sequentially against the ToolBus, translating fs.write steps that
// carry no explicit diff into a read → DiffGenerator → fs.write_diff
// sequence, and aborts the plan on the first step failure.
package executor

import (
	"fmt"
	"strings"

	"github.com/loopworks/agentcore/internal/diffgen"
	"github.com/loopworks/agentcore/internal/tools"
	"github.com/loopworks/agentcore/internal/types"
)

// Failed is the typed ExecutionFailure (§7): the step that aborted the
// plan, and why.
type Failed struct {
	StepID int
	Reason string
}

func (e *Failed) Error() string {
	return fmt.Sprintf("executor: step %d failed: %s", e.StepID, e.Reason)
}

// Executor runs a Plan's steps against a ToolBus, generating diffs for
// writes that didn't carry one.
type Executor struct {
	bus     *tools.ToolBus
	diffgen *diffgen.Generator
}

// New builds an Executor bound to a ToolBus and DiffGenerator.
func New(bus *tools.ToolBus, gen *diffgen.Generator) *Executor {
	return &Executor{bus: bus, diffgen: gen}
}

// Run executes every step of plan in order against state, stopping at the
// first failure. It always returns the step results gathered so far, even
// on failure, so the Orchestrator can inspect partial progress.
func (x *Executor) Run(state *types.AgentState, plan types.Plan) (map[int]types.StepResult, error) {
	results := make(map[int]types.StepResult, len(plan.Steps))
	seenCalls := make(map[string]bool)

	for _, step := range plan.Steps {
		sig := callSignature(step)
		if seenCalls[sig] {
			reason := "duplicate call blocked: identical step already executed in this plan"
			results[step.StepID] = types.StepResult{Success: false, Error: reason}
			state.Observations = append(state.Observations, types.Observation{
				StepID: step.StepID, Summary: reason, Success: false,
			})
			return results, &Failed{StepID: step.StepID, Reason: reason}
		}
		seenCalls[sig] = true

		result, err := x.runStep(state, step)
		results[step.StepID] = result
		state.Observations = append(state.Observations, types.Observation{
			StepID:  step.StepID,
			Summary: observationSummary(step, result),
			Success: result.Success,
		})
		state.CurrentStep = step.StepID

		if err != nil {
			return results, &Failed{StepID: step.StepID, Reason: result.Error}
		}
	}

	return results, nil
}

func (x *Executor) runStep(state *types.AgentState, step types.Step) (types.StepResult, error) {
	switch step.Action {
	case types.ActionBootstrapRepo:
		return x.invokeStep(state, step, "BOOTSTRAP_REPO", map[string]any{})

	case types.ActionFSRead:
		return x.invokeStep(state, step, "fs.read", map[string]any{"path": step.Path})

	case types.ActionFSCreate:
		return x.invokeStep(state, step, "fs.create", map[string]any{
			"path":    step.Path,
			"content": step.Content,
		})

	case types.ActionFSDelete:
		return x.invokeStep(state, step, "fs.delete", map[string]any{"path": step.Path})

	case types.ActionExecRun:
		program, programArgs := step.Program, step.Args
		if program == "" {
			// A command-only step is split on whitespace, never run through a shell.
			if fields := strings.Fields(step.Command); len(fields) > 0 {
				program, programArgs = fields[0], fields[1:]
			}
		}
		args := map[string]any{
			"program":           program,
			"args":              programArgs,
			"command":           step.Command,
			"accepted_exit_codes": step.AcceptedExitCodes,
			"allow_failure":     step.AllowFailure,
		}
		return x.invokeStep(state, step, "exec.run", args)

	case types.ActionFSWrite:
		return x.runWrite(state, step)

	default:
		msg := fmt.Sprintf("unknown action %q", step.Action)
		return types.StepResult{Success: false, Error: msg}, fmt.Errorf("%s", msg)
	}
}

// runWrite resolves an fs.write step: if the step carries an explicit diff,
// apply it directly; otherwise read the current content, ask the
// DiffGenerator for a diff, then apply it.
func (x *Executor) runWrite(state *types.AgentState, step types.Step) (types.StepResult, error) {
	diff := step.Diff
	if diff == "" {
		readResult, err := x.bus.Invoke(state, types.PhaseExecution, "fs.read", map[string]any{"path": step.Path})
		if err != nil {
			msg := fmt.Sprintf("read original for diff generation: %v", err)
			return types.StepResult{Success: false, Error: msg}, fmt.Errorf("%s", msg)
		}
		original := ""
		if rr, ok := readResult.(tools.ReadResult); ok {
			original = rr.Content
		}

		generated, err := x.diffgen.Generate(diffgen.Request{
			Path:       step.Path,
			Original:   original,
			Goal:       state.Goal,
			Reason:     step.Reason,
			FileExists: true,
		})
		if err != nil {
			msg := fmt.Sprintf("generate diff: %v", err)
			return types.StepResult{Success: false, Error: msg}, fmt.Errorf("%s", msg)
		}
		diff = generated
	}

	return x.invokeStep(state, step, "fs.write_diff", map[string]any{
		"path": step.Path,
		"diff": diff,
	})
}

func (x *Executor) invokeStep(state *types.AgentState, step types.Step, toolName string, args map[string]any) (types.StepResult, error) {
	artifact, err := x.bus.Invoke(state, types.PhaseExecution, toolName, args)
	if err != nil {
		return types.StepResult{Success: false, Error: err.Error()}, err
	}
	if res, ok := artifact.(tools.ExecResult); ok && !res.Success {
		msg := fmt.Sprintf("exec.run exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		return types.StepResult{Success: false, Error: msg, Artifact: artifact}, fmt.Errorf("%s", msg)
	}
	return types.StepResult{Success: true, Artifact: artifact}, nil
}

func callSignature(step types.Step) string {
	switch step.Action {
	case types.ActionFSRead, types.ActionFSDelete:
		return fmt.Sprintf("%s:%s", step.Action, step.Path)
	case types.ActionFSCreate:
		return fmt.Sprintf("%s:%s:%s", step.Action, step.Path, step.Content)
	case types.ActionFSWrite:
		return fmt.Sprintf("%s:%s:%s", step.Action, step.Path, step.Diff)
	case types.ActionExecRun:
		return fmt.Sprintf("%s:%s:%s:%v", step.Action, step.Program, step.Command, step.Args)
	default:
		return string(step.Action)
	}
}

func observationSummary(step types.Step, result types.StepResult) string {
	if result.Success {
		return fmt.Sprintf("step %d (%s %s) succeeded", step.StepID, step.Action, step.Path)
	}
	return fmt.Sprintf("step %d (%s %s) failed: %s", step.StepID, step.Action, step.Path, result.Error)
}
