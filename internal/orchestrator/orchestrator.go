// Package orchestrator implements the Orchestrator (§4.9): the AgentState
// machine driving one goal from intent classification through plan/execute
// cycles to a terminal done/halted phase, with hard-stop guards, stagnation
// detection, and VCS snapshot/rollback.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/loopworks/agentcore/internal/executor"
	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/planner"
	"github.com/loopworks/agentcore/internal/retrieval"
	"github.com/loopworks/agentcore/internal/tools"
	"github.com/loopworks/agentcore/internal/tracer"
	"github.com/loopworks/agentcore/internal/types"
)

// Publisher is the subset of bus.Bus the Orchestrator needs.
type Publisher interface {
	Publish(t types.EventType, payload any)
}

// RepoProber reports whether the working tree currently has no trackable
// content, gating BOOTSTRAP_REPO (shared with internal/retrieval's skip
// policy).
type RepoProber interface {
	IsRepoEmpty() bool
}

// Config holds the hard-stop thresholds and planning defaults (§4.9, §7).
type Config struct {
	MaxCycles       int
	MaxRejections   int
	MaxRepeatErrors int
	MinConfidence   int
	RetrievalLimit  int
}

func (c Config) withDefaults() Config {
	if c.MaxCycles <= 0 {
		c.MaxCycles = 6
	}
	if c.MaxRejections <= 0 {
		c.MaxRejections = 5
	}
	if c.MaxRepeatErrors <= 0 {
		c.MaxRepeatErrors = 3
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 8
	}
	return c
}

// Orchestrator wires every other component into one phase loop.
type Orchestrator struct {
	classifier *Classifier
	planner    *planner.Planner
	executor   *executor.Executor
	toolBus    *tools.ToolBus
	retrieval  *retrieval.Controller
	prober     RepoProber
	vcs        *VCS
	bus        Publisher
	answerLLM  llm.Adapter
	tracer     *tracer.Tracer
	cfg        Config
}

// New builds an Orchestrator from its collaborators. tracer may be nil —
// tracing is opt-in per §4.10 and every Tracer method is nil-safe.
func New(
	classifier *Classifier,
	plan *planner.Planner,
	exec *executor.Executor,
	toolBus *tools.ToolBus,
	retrievalController *retrieval.Controller,
	prober RepoProber,
	vcs *VCS,
	bus Publisher,
	answerLLM llm.Adapter,
	trc *tracer.Tracer,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		planner:    plan,
		executor:   exec,
		toolBus:    toolBus,
		retrieval:  retrievalController,
		prober:     prober,
		vcs:        vcs,
		bus:        bus,
		answerLLM:  answerLLM,
		tracer:     trc,
		cfg:        cfg.withDefaults(),
	}
}

// Run drives goal through the phase machine to a terminal phase and
// returns the final AgentState. It never returns a non-nil error itself —
// every failure mode is recorded as a halted AgentState with HaltReason
// set, treating AgentState as the single owned value driven by transition
// functions.
func (o *Orchestrator) Run(goal string) *types.AgentState {
	state := types.NewAgentState(goal)
	detector := &stagnationDetector{}
	snapshotTaken := false
	var snapshotHash string

	goalID := uuid.NewString()
	o.tracer.Begin(goalID, goal)
	defer func() { o.tracer.End(goalID, string(state.Phase)) }()

	for state.Phase != types.PhaseDone && state.Phase != types.PhaseHalted {
		if o.checkHardStops(state) {
			break
		}

		switch state.Phase {
		case types.PhaseIntent:
			o.doIntent(state)
		case types.PhasePlanning:
			o.doPlanning(state, detector)
		case types.PhaseExecution:
			o.doExecution(state, &snapshotTaken, &snapshotHash)
		case types.PhaseObservation:
			o.doObservation(state)
		case types.PhaseReduction:
			o.doReduction(state)
		case types.PhaseDecision:
			o.doDecision(state)
		default:
			o.halt(state, fmt.Sprintf("unknown phase %q", state.Phase))
		}
	}

	if state.Phase == types.PhaseHalted && snapshotTaken {
		if err := o.vcs.Rollback(snapshotHash); err == nil {
			o.bus.Publish(types.EventRollback, snapshotHash)
		}
	}
	if state.Phase == types.PhaseDone && snapshotTaken {
		if err := o.vcs.Finalize(finalizeMessage(state)); err == nil {
			o.bus.Publish(types.EventFinalized, state.Goal)
		}
	}

	return state
}

// checkHardStops implements §4.9 hard stops 2 and 3 (tool rejections,
// repeat errors), checked on every loop iteration so a rejection or
// repeat-error spike anywhere in the cycle halts promptly rather than
// waiting for the next decision phase. Hard stop 1 (cycle limit) is
// enforced inside doPlanning, before cycle is incremented; hard stops 4
// and 5 (stagnation, clarification loop) are enforced in doPlanning as
// well.
func (o *Orchestrator) checkHardStops(state *types.AgentState) bool {
	if state.ToolRejections >= o.cfg.MaxRejections {
		o.halt(state, "tool rejection limit reached")
		return true
	}
	if state.RepeatErrorCount >= o.cfg.MaxRepeatErrors {
		o.halt(state, "repeat error limit reached")
		return true
	}
	return false
}

func (o *Orchestrator) transition(state *types.AgentState, to types.Phase, reason string) {
	from := state.Phase
	state.Phase = to
	o.bus.Publish(types.EventPhaseTransition, types.PhaseTransitionPayload{
		Goal: state.Goal, From: from, To: to, Reason: reason,
	})
}

func (o *Orchestrator) halt(state *types.AgentState, reason string) {
	state.HaltReason = reason
	o.bus.Publish(types.EventHardStop, types.HardStopPayload{
		Goal: state.Goal, Reason: reason, Cycle: state.Cycle,
		LastErrorSignature: state.LastErrorSignature,
		TracePointer:       o.tracer.CurrentTracePointer(),
	})
	o.transition(state, types.PhaseHalted, reason)
}

func (o *Orchestrator) doIntent(state *types.AgentState) {
	intent, confidence, err := o.classifier.Classify(state.Goal)
	if err != nil {
		o.halt(state, "intent classification failed: "+err.Error())
		return
	}
	state.Intent = intent
	state.IntentConfidence = float64(confidence)

	if intent == types.IntentReject {
		o.halt(state, "request rejected during intent classification")
		return
	}

	if intent == types.IntentQNA {
		answer, err := o.answerInline(state.Goal)
		if err != nil {
			o.halt(state, "inline answer failed: "+err.Error())
			return
		}
		state.FinalAnswer = answer
		o.transition(state, types.PhaseDone, "QNA answered inline")
		return
	}

	o.transition(state, types.PhasePlanning, "intent classified")
}

func (o *Orchestrator) answerInline(goal string) (string, error) {
	if o.answerLLM == nil {
		return "", fmt.Errorf("no answer adapter configured")
	}
	prompt := "Answer the user's question directly and concisely. No markdown fences.\n\nQuestion: " + goal
	raw, _, err := o.answerLLM.Query(prompt, llm.Params{Temperature: 0.2}, llm.ResponseFormatText)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(llm.StripFences(raw)), nil
}

func (o *Orchestrator) doPlanning(state *types.AgentState, detector *stagnationDetector) {
	if state.Cycle >= o.cfg.MaxCycles {
		o.halt(state, "cycle limit reached")
		return
	}
	state.Cycle++

	repoEmpty := o.prober != nil && o.prober.IsRepoEmpty()

	retrievalResult, err := o.retrieval.RetrieveForGoal(state.Goal, state.Intent, o.cfg.RetrievalLimit)
	if err != nil {
		o.halt(state, "retrieval failed: "+err.Error())
		return
	}
	state.RetrievedFiles = retrievalResult.Files
	state.RetrievalCached = retrievalResult.Cached
	if retrieval.MandatoryIntentSkipped(state.Intent, retrievalResult) {
		o.bus.Publish(types.EventRetrievalSkipped, retrievalResult)
	}

	plan, err := o.planner.Plan(planner.Input{
		Goal:           state.Goal,
		Intent:         state.Intent,
		RetrievedFiles: state.RetrievedFiles,
		RepoEmpty:      repoEmpty,
		MinConfidence:  o.cfg.MinConfidence,
	})
	if err != nil {
		var failed *planner.Failed
		reason := err.Error()
		if errors.As(err, &failed) {
			reason = failed.Reason
		}
		state.Errors = append(state.Errors, types.ErrorSignature{Signature: "planning_failed", Message: reason})
		o.bus.Publish(types.EventPlanRejected, reason)

		if strings.Contains(reason, "confidence") {
			if state.ClarificationAsked {
				o.halt(state, "clarification loop: user prompt unchanged after low-confidence plan was already flagged")
				return
			}
			state.ClarificationAsked = true
		}

		if state.Cycle >= o.cfg.MaxCycles {
			o.halt(state, "planning failed and cycle limit reached: "+reason)
		}
		// Otherwise remain in PhasePlanning: the next loop iteration retries
		// planning with an incremented cycle, until the limit above fires.
		return
	}

	if len(plan.Steps) == 0 {
		state.Plan = &plan
		state.FinalAnswer = "no action is needed for this goal"
		o.transition(state, types.PhaseDone, "plan has no actions")
		return
	}

	if detector.Observe(plan) {
		o.bus.Publish(types.EventStagnationDetected, plan.PlanID)
		o.halt(state, "stagnation detected: identical plan or diffs repeated")
		return
	}

	state.Plan = &plan
	o.bus.Publish(types.EventPlanAccepted, plan)
	o.transition(state, types.PhaseExecution, "valid plan")
}

func (o *Orchestrator) doExecution(state *types.AgentState, snapshotTaken *bool, snapshotHash *string) {
	if !*snapshotTaken && o.vcs != nil && planHasDestructiveStep(*state.Plan) {
		hash, err := o.vcs.Snapshot(fmt.Sprintf("agentcore: snapshot before %q", state.Goal))
		if err == nil {
			*snapshotTaken = true
			*snapshotHash = hash
			o.bus.Publish(types.EventSnapshotTaken, hash)
		}
	}

	o.toolBus.Reset()
	results, err := o.executor.Run(state, *state.Plan)
	state.StepResults = results

	if err != nil {
		var failed *executor.Failed
		reason := err.Error()
		if errors.As(err, &failed) {
			reason = failed.Reason
		}
		recordRepeatError(state, reason)
	}

	o.transition(state, types.PhaseObservation, "steps executed")
}

func (o *Orchestrator) doObservation(state *types.AgentState) {
	o.transition(state, types.PhaseReduction, "observations recorded")
}

func (o *Orchestrator) doReduction(state *types.AgentState) {
	var b strings.Builder
	for _, obs := range state.Observations {
		b.WriteString(obs.Summary)
		b.WriteString("\n")
	}
	state.FinalAnswer = strings.TrimSpace(b.String())
	o.transition(state, types.PhaseDecision, "observations reduced")
}

func (o *Orchestrator) doDecision(state *types.AgentState) {
	allSucceeded := true
	for _, r := range state.StepResults {
		if !r.Success {
			allSucceeded = false
			break
		}
	}

	switch {
	case allSucceeded:
		state.LastDecision = types.DecisionDone
		o.bus.Publish(types.EventDecision, state.LastDecision)
		o.transition(state, types.PhaseDone, "all steps succeeded")
	case state.RepeatErrorCount >= o.cfg.MaxRepeatErrors || state.ToolRejections >= o.cfg.MaxRejections:
		state.LastDecision = types.DecisionHalt
		o.bus.Publish(types.EventDecision, state.LastDecision)
		o.halt(state, "repeated failures exceeded retry budget")
	default:
		state.LastDecision = types.DecisionReplan
		o.bus.Publish(types.EventDecision, state.LastDecision)
		o.transition(state, types.PhasePlanning, "replanning after step failure")
	}
}

func recordRepeatError(state *types.AgentState, reason string) {
	sig := errorSignature(reason)
	if sig == state.LastErrorSignature {
		state.RepeatErrorCount++
	} else {
		state.RepeatErrorCount = 1
		state.LastErrorSignature = sig
	}
	state.Errors = append(state.Errors, types.ErrorSignature{Signature: sig, Message: reason})
}

// errorSignature coarsens an error message into a stable signature by
// keeping only its first four whitespace-separated words, so messages that
// differ only after that prefix (e.g. in a trailing path or count) repeat
// under one signature. A path or number within the first four words is kept.
func errorSignature(reason string) string {
	fields := strings.Fields(reason)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func planHasDestructiveStep(plan types.Plan) bool {
	for _, s := range plan.Steps {
		switch s.Action {
		case types.ActionFSWrite, types.ActionFSCreate, types.ActionFSDelete, types.ActionBootstrapRepo, types.ActionExecRun:
			return true
		}
	}
	return false
}

func finalizeMessage(state *types.AgentState) string {
	return fmt.Sprintf("agentcore: %s", state.Goal)
}
