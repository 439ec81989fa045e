// Package types holds the data model shared across the agent: AgentState,
// Plan/Step, Tool descriptors, index entries, and the event payloads carried
// on the bus. Nothing in this package depends on any other internal package.
package types

import "time"

// Phase is a node in the Orchestrator's state graph.
type Phase string

const (
	PhaseIntent      Phase = "intent"
	PhasePlanning    Phase = "planning"
	PhaseExecution   Phase = "execution"
	PhaseObservation Phase = "observation"
	PhaseReduction   Phase = "reduction"
	PhaseDecision    Phase = "decision"
	PhaseDone        Phase = "done"
	PhaseHalted      Phase = "halted"
)

// Intent is the coarse classification of a user goal.
type Intent string

const (
	IntentExplain   Intent = "EXPLAIN"
	IntentCodeEdit  Intent = "CODE_EDIT"
	IntentDebug     Intent = "DEBUG"
	IntentReview    Intent = "CODE_REVIEW"
	IntentQNA       Intent = "QNA"
	IntentReject    Intent = "REJECT"
	IntentUnknown   Intent = ""
)

// MandatoryRetrieval reports whether intent requires non-empty retrieval
// before planning (spec §4.3).
func (i Intent) MandatoryRetrieval() bool {
	switch i {
	case IntentCodeEdit, IntentDebug, IntentReview:
		return true
	default:
		return false
	}
}

// Decision is the Orchestrator's post-reduction branch (§4.9).
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionReplan   Decision = "replan"
	DecisionDone     Decision = "done"
	DecisionHalt     Decision = "halt"
)

// Action identifies a Step's ToolBus verb.
type Action string

const (
	ActionFSRead       Action = "fs.read"
	ActionFSCreate     Action = "fs.create"
	ActionFSWrite      Action = "fs.write"
	ActionFSDelete     Action = "fs.delete"
	ActionExecRun      Action = "exec.run"
	ActionBootstrapRepo Action = "BOOTSTRAP_REPO"
)

// SideEffect classifies a Tool's effect on the world.
type SideEffect string

const (
	SideEffectRead  SideEffect = "read"
	SideEffectWrite SideEffect = "write"
	SideEffectExec  SideEffect = "exec"
	SideEffectNone  SideEffect = "none"
)

// Step is the smallest executable unit of a Plan; maps 1:1 to a ToolBus call.
type Step struct {
	StepID             int      `json:"step_id"`
	Action             Action   `json:"action"`
	Path               string   `json:"path,omitempty"`
	Content            string   `json:"content,omitempty"`
	Diff               string   `json:"diff,omitempty"`
	Command            string   `json:"command,omitempty"`
	Program            string   `json:"program,omitempty"`
	Args               []string `json:"args,omitempty"`
	Reason             string   `json:"reason"`
	DependsOn          []int    `json:"depends_on"`
	AcceptedExitCodes  []int    `json:"accepted_exit_codes,omitempty"`
	AllowFailure       bool     `json:"allow_failure,omitempty"`
}

// Plan is the immutable value produced by the Planner (§3).
type Plan struct {
	PlanID           string   `json:"plan_id"`
	Goal             string   `json:"goal"`
	Confidence       int      `json:"confidence"`
	Steps            []Step   `json:"steps"`
	Blockers         []string `json:"blockers,omitempty"`
	Assumptions      []string `json:"assumptions,omitempty"`
	SuccessCriteria  []string `json:"success_criteria,omitempty"`
	RollbackStrategy string   `json:"rollback_strategy,omitempty"`
	RetrievedFiles   []string `json:"retrieved_files,omitempty"`
}

// Fingerprint returns a value stable across structurally identical plans,
// used by the Orchestrator's stagnation detector. Computed by the
// orchestrator package (needs hashing); this type only carries the string
// once computed.
type Fingerprint string

// Tool is a named, schema-validated capability with a safety classification.
type Tool struct {
	Name            string
	Description     string
	PhaseVisibility map[Phase]bool
	HandlerID       string
	SideEffects     SideEffect
}

// IndexEntry is one retrievable chunk in the VectorStore (§3).
type IndexEntry struct {
	Key      string    `json:"key"`
	Vector   []float64 `json:"vector"`
	Metadata ChunkMeta `json:"metadata"`
}

// ChunkMeta describes the provenance of one chunk.
type ChunkMeta struct {
	Path       string `json:"path"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	MTime      int64  `json:"mtime"`
}

// RetrievedChunk is one ranked retrieval hit (§4.2).
type RetrievedChunk struct {
	Path       string  `json:"path"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// SkipReason explains why retrieval produced an empty result set (§4.3).
type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipRepoEmpty            SkipReason = "repo_empty"
	SkipIntentNoRetrieval    SkipReason = "intent_does_not_need_retrieval"
	SkipIndexUnavailable     SkipReason = "index_unavailable"
)

// RetrievalResult is the RetrievalController's per-goal output (§4.3).
type RetrievalResult struct {
	Files      []string   `json:"files"`
	Cached     bool       `json:"cached"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
}

// StepResult records the outcome of one executed Step.
type StepResult struct {
	Success  bool   `json:"success"`
	Artifact any    `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Artifacts tracks the cumulative effects of one goal's execution.
type Artifacts struct {
	FilesRead      map[string]bool `json:"files_read"`
	FilesWritten   map[string]bool `json:"files_written"`
	PatchesApplied int             `json:"patches_applied"`
	CommandsRun    []string        `json:"commands_run"`
}

// NewArtifacts returns an Artifacts value with initialized sets.
func NewArtifacts() Artifacts {
	return Artifacts{
		FilesRead:    make(map[string]bool),
		FilesWritten: make(map[string]bool),
	}
}

// Observation is one entry in AgentState's ordered observation log (§3).
type Observation struct {
	StepID    int       `json:"step_id"`
	Summary   string    `json:"summary"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorSignature is a coarse-grained classification of a failure, used to
// detect repeated identical errors (§3, §4.9 hard stop 3).
type ErrorSignature struct {
	Signature string `json:"signature"`
	Message   string `json:"message"`
}

// AgentState is exclusively owned by one run; lifetime = one goal (§3).
type AgentState struct {
	Goal             string
	Phase            Phase
	Intent           Intent
	IntentConfidence float64

	Plan         *Plan
	CurrentStep  int
	StepResults  map[int]StepResult

	Artifacts Artifacts

	Observations []Observation
	Errors       []ErrorSignature

	Cycle            int
	ToolRejections   int
	PlanFingerprints map[Fingerprint]bool
	ClarificationAsked bool

	LastErrorSignature string
	RepeatErrorCount   int

	RetrievedFiles []string
	RetrievalCached bool

	LastDecision           Decision
	LastDecisionConfidence float64

	HaltReason string

	// FinalAnswer carries the conversational text produced for EXPLAIN/QNA
	// goals and for reduction's plain-language summary on success.
	FinalAnswer string
}

// NewAgentState creates a fresh AgentState for a new goal.
func NewAgentState(goal string) *AgentState {
	return &AgentState{
		Goal:             goal,
		Phase:            PhaseIntent,
		StepResults:      make(map[int]StepResult),
		Artifacts:        NewArtifacts(),
		PlanFingerprints: make(map[Fingerprint]bool),
	}
}

// EventType names a bus event; the Tracer persists payloads keyed by these.
type EventType string

const (
	EventPhaseTransition       EventType = "phase_transition"
	EventToolRejected          EventType = "tool_rejected"
	EventToolInvoked           EventType = "tool_invoked"
	EventRetrievalSkipped      EventType = "retrieval_required_but_skipped"
	EventPlanRejected          EventType = "plan_rejected"
	EventPlanAccepted          EventType = "plan_accepted"
	EventStagnationDetected    EventType = "stagnation_detected"
	EventHardStop              EventType = "hard_stop"
	EventSnapshotTaken         EventType = "snapshot_taken"
	EventRollback              EventType = "rollback"
	EventFinalized             EventType = "finalized"
	EventIndexRebuilt          EventType = "index_rebuilt"
	EventDecision              EventType = "decision"
)

// PhaseTransitionPayload is published whenever AgentState.Phase changes.
type PhaseTransitionPayload struct {
	Goal string `json:"goal"`
	From Phase  `json:"from"`
	To   Phase  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ToolRejectedPayload is published on any ToolBus rejection (§4.5).
type ToolRejectedPayload struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// ToolInvokedPayload is published on every successful ToolBus call.
type ToolInvokedPayload struct {
	ToolName string `json:"tool_name"`
	Path     string `json:"path,omitempty"`
	Program  string `json:"program,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// HardStopPayload is published when the Orchestrator enters PhaseHalted.
type HardStopPayload struct {
	Goal               string `json:"goal"`
	Reason             string `json:"reason"`
	Cycle              int    `json:"cycle"`
	LastErrorSignature string `json:"last_error_signature"`
	TracePointer       string `json:"trace_pointer"`
}
