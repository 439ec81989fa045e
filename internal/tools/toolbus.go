package tools

import (
	"fmt"

	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/types"
)

// Rejected is the typed ToolRejected error (§7): schema/safety violation.
// Callers can recognize it with errors.As; the ToolBus also counts every
// rejection in AgentState.ToolRejections, which the Orchestrator checks.
type Rejected struct {
	Tool   string
	Reason string
}

func (e *Rejected) Error() string {
	return fmt.Sprintf("tools: rejected %s: %s", e.Tool, e.Reason)
}

// Publisher is the subset of bus.Bus the ToolBus needs, kept as an
// interface so tests can substitute a recording fake.
type Publisher interface {
	Publish(t types.EventType, payload any)
}

// ToolBus is the only executor for tool invocations (§4.5). It is
// constructed once per Context and reused across goals; per-goal files_read
// lives on the AgentState passed to Invoke, while the changes_made flag is
// a ToolBus field cleared by Reset.
type ToolBus struct {
	registry *Registry
	gate     *safety.Gate
	repoRoot string
	bus      Publisher

	changesMade bool
	dryRun      bool
}

// New builds a ToolBus bound to a Registry, Safety gate, repo root, and
// event publisher.
func New(registry *Registry, gate *safety.Gate, repoRoot string, bus Publisher) *ToolBus {
	return &ToolBus{registry: registry, gate: gate, repoRoot: repoRoot, bus: bus}
}

// SetDryRun toggles dry-run mode (auto.dry_run / --dry-run, §6): when set,
// write- and exec-class tool calls skip their handler body entirely and are
// reported as intended actions rather than applied.
func (b *ToolBus) SetDryRun(dryRun bool) {
	b.dryRun = dryRun
}

// RepoRoot returns the bound repository root, used by handlers needing an
// absolute path.
func (b *ToolBus) RepoRoot() string {
	return b.repoRoot
}

// Gate returns the bound Safety gate.
func (b *ToolBus) Gate() *safety.Gate {
	return b.gate
}

// Invoke validates and dispatches one tool call, exactly following §4.5's
// validation order: tool exists → visible in phase → args match schema →
// Safety check for any path arg → program allowlist for exec.run.
func (b *ToolBus) Invoke(state *types.AgentState, phase types.Phase, toolName string, args map[string]any) (any, error) {
	def, ok := b.registry.Lookup(toolName)
	if !ok {
		return nil, b.reject(state, toolName, "tool does not exist")
	}
	if !def.Tool.PhaseVisibility[phase] {
		return nil, b.reject(state, toolName, fmt.Sprintf("tool not visible in phase %q", phase))
	}
	if err := def.Schema.Validate(args); err != nil {
		return nil, b.reject(state, toolName, err.Error())
	}
	if path, ok := args["path"].(string); ok {
		if !b.gate.PathAllowed(path) {
			return nil, b.reject(state, toolName, fmt.Sprintf("path not allowed: %s", path))
		}
	}
	if toolName == "fs.write_diff" {
		path, _ := args["path"].(string)
		if !b.HasReadBeforeWrite(state, path) {
			return nil, b.reject(state, toolName, fmt.Sprintf("read-before-write invariant: %s was never fs.read in this goal", path))
		}
	}
	if toolName == "exec.run" {
		program, _ := args["program"].(string)
		if !b.gate.ProgramAllowed(program) {
			return nil, b.reject(state, toolName, fmt.Sprintf("program not allowed: %s", program))
		}
	}

	if b.dryRun && (def.Tool.SideEffects == types.SideEffectWrite || def.Tool.SideEffects == types.SideEffectExec) {
		return b.invokeDryRun(state, toolName, args, def), nil
	}

	result, err := def.Handler(b, args)
	if err != nil {
		return nil, fmt.Errorf("tools: %s handler: %w", toolName, err)
	}

	b.recordSuccess(state, toolName, args)
	if def.Tool.SideEffects == types.SideEffectWrite {
		b.changesMade = true
	}
	if b.bus != nil {
		path, _ := args["path"].(string)
		program, _ := args["program"].(string)
		b.bus.Publish(types.EventToolInvoked, types.ToolInvokedPayload{
			ToolName: toolName,
			Path:     path,
			Program:  program,
		})
	}
	return result, nil
}

// invokeDryRun reports toolName's intended action without running its
// handler: state is still updated as if the call had succeeded (so plan
// success criteria and reporting see what WOULD have happened), but no
// file is touched, no process is spawned, and changesMade never flips. The
// Orchestrator's snapshot and finalize commits do not consult changesMade,
// so they still happen for a dry-run goal whose plan has destructive steps.
func (b *ToolBus) invokeDryRun(state *types.AgentState, toolName string, args map[string]any, def Def) any {
	path, _ := args["path"].(string)
	program, _ := args["program"].(string)

	b.recordSuccess(state, toolName, args)
	if b.bus != nil {
		b.bus.Publish(types.EventToolInvoked, types.ToolInvokedPayload{
			ToolName: toolName,
			Path:     path,
			Program:  program,
			DryRun:   true,
		})
	}

	if toolName == "exec.run" {
		return ExecResult{Success: true, Stdout: fmt.Sprintf("(dry-run) would run %s", program)}
	}
	return nil
}

func (b *ToolBus) reject(state *types.AgentState, toolName, reason string) error {
	state.ToolRejections++
	if b.bus != nil {
		b.bus.Publish(types.EventToolRejected, types.ToolRejectedPayload{ToolName: toolName, Reason: reason})
	}
	return &Rejected{Tool: toolName, Reason: reason}
}

func (b *ToolBus) recordSuccess(state *types.AgentState, toolName string, args map[string]any) {
	path, _ := args["path"].(string)
	switch toolName {
	case "fs.read":
		if path != "" {
			state.Artifacts.FilesRead[path] = true
		}
	case "fs.create", "fs.write_diff":
		if path != "" {
			state.Artifacts.FilesWritten[path] = true
		}
		state.Artifacts.PatchesApplied++
	case "fs.delete":
		if path != "" {
			state.Artifacts.FilesWritten[path] = true
		}
	case "exec.run":
		if cmd, ok := args["command"].(string); ok && cmd != "" {
			state.Artifacts.CommandsRun = append(state.Artifacts.CommandsRun, cmd)
		} else if program, ok := args["program"].(string); ok {
			state.Artifacts.CommandsRun = append(state.Artifacts.CommandsRun, program)
		}
	case "BOOTSTRAP_REPO":
		state.Artifacts.FilesWritten["README.md"] = true
		state.Artifacts.PatchesApplied++
	}
}

// HasReadBeforeWrite implements the read-before-write invariant check that
// Invoke applies before dispatching fs.write_diff: path must have been
// fs.read in this goal before it may be fs.write_diff'd.
func (b *ToolBus) HasReadBeforeWrite(state *types.AgentState, path string) bool {
	return state.Artifacts.FilesRead[path]
}

// ChangesMade reports whether any write-class tool has succeeded since the
// last Reset.
func (b *ToolBus) ChangesMade() bool {
	return b.changesMade
}

// Reset clears the changes_made flag (§4.5 reset!); the Orchestrator calls
// it before each execution phase.
func (b *ToolBus) Reset() {
	b.changesMade = false
}
