package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/loopworks/agentcore/internal/diffgen"
	"github.com/loopworks/agentcore/internal/executor"
	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/planner"
	"github.com/loopworks/agentcore/internal/retrieval"
	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/tools"
	"github.com/loopworks/agentcore/internal/types"
)

type fakeAdapter struct {
	response string
}

func (f *fakeAdapter) Query(prompt string, params llm.Params, format llm.ResponseFormat) (string, llm.Usage, error) {
	return f.response, llm.Usage{}, nil
}

func (f *fakeAdapter) Stream(prompt string, params llm.Params, format llm.ResponseFormat, onToken llm.OnToken) (string, llm.Usage, error) {
	return "", llm.Usage{}, nil
}

func (f *fakeAdapter) Embed(texts []string, model string) ([][]float64, error) {
	return nil, nil
}

type fakeProber struct{ empty bool }

func (f fakeProber) IsRepoEmpty() bool { return f.empty }

func gitInit(t *testing.T, dir string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), vcsTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "init")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v (%s)", err, out)
	}
	for _, args := range [][]string{
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}
}

func newTestOrchestrator(t *testing.T, dir string, classifierResp, plannerResp, answerResp string) *Orchestrator {
	t.Helper()
	gate := safety.New(safety.Config{
		RepoRoot:         dir,
		Allow:            []string{"**"},
		ProgramAllowlist: []string{"true", "false"},
	})

	classifier := NewClassifier(&fakeAdapter{response: classifierResp})
	p := planner.New(&fakeAdapter{response: plannerResp}, gate)
	toolBus := tools.New(tools.NewRegistry(), gate, dir, noopPublisher{})
	gen := diffgen.New(nil, 40, 1)
	exec := executor.New(toolBus, gen)
	retrievalCtl := retrieval.New(retrieval.Config{}, nil, fakeProber{}, nil)
	vcs := NewVCS(dir)

	var answerAdapter llm.Adapter
	if answerResp != "" {
		answerAdapter = &fakeAdapter{response: answerResp}
	}

	return New(classifier, p, exec, toolBus, retrievalCtl, fakeProber{}, vcs, noopPublisher{}, answerAdapter, nil, Config{MaxRejections: 1})
}

type noopPublisher struct{}

func (noopPublisher) Publish(t types.EventType, payload any) {}

func TestRunHaltsOnRejectPhrase(t *testing.T) {
	dir := t.TempDir()
	gitInit(t, dir)
	o := newTestOrchestrator(t, dir, "", "", "")

	state := o.Run("please rm -rf / to clean up")
	if state.Phase != types.PhaseHalted {
		t.Fatalf("expected halted phase, got %s", state.Phase)
	}
	if state.Intent != types.IntentReject {
		t.Errorf("expected REJECT intent, got %s", state.Intent)
	}
}

func TestRunAnswersQNAInline(t *testing.T) {
	dir := t.TempDir()
	gitInit(t, dir)
	classifierResp := `{"intent":"QNA","confidence":90,"reason":"general question"}`
	o := newTestOrchestrator(t, dir, classifierResp, "", "Go is a statically typed language.")

	state := o.Run("what is Go?")
	if state.Phase != types.PhaseDone {
		t.Fatalf("expected done phase, got %s (halt reason: %s)", state.Phase, state.HaltReason)
	}
	if state.FinalAnswer == "" {
		t.Error("expected a non-empty inline answer")
	}
}

func TestRunExecutesPlanToCompletion(t *testing.T) {
	dir := t.TempDir()
	gitInit(t, dir)
	classifierResp := `{"intent":"CODE_EDIT","confidence":90,"reason":"wants a new file"}`
	plannerResp := `{"plan_id":"p1","confidence":90,"steps":[` +
		`{"step_id":1,"action":"fs.create","path":"newfile.txt","content":"hello\n","reason":"create the file the user named"}` +
		`]}`
	o := newTestOrchestrator(t, dir, classifierResp, plannerResp, "")

	state := o.Run("create newfile.txt")
	if state.Phase != types.PhaseDone {
		t.Fatalf("expected done phase, got %s (halt reason: %s)", state.Phase, state.HaltReason)
	}
	if _, err := os.Stat(filepath.Join(dir, "newfile.txt")); err != nil {
		t.Errorf("expected newfile.txt to be created: %v", err)
	}
}

func TestRunHaltsAfterToolRejectionLimit(t *testing.T) {
	dir := t.TempDir()
	gitInit(t, dir)
	classifierResp := `{"intent":"EXPLAIN","confidence":90,"reason":"explain config"}`
	plannerResp := `{"plan_id":"p1","confidence":90,"steps":[` +
		`{"step_id":1,"action":"fs.read","path":".env","reason":"inspect config"}` +
		`]}`
	o := newTestOrchestrator(t, dir, classifierResp, plannerResp, "")

	state := o.Run("explain the .env configuration")
	if state.Phase != types.PhaseHalted {
		t.Fatalf("expected halted phase, got %s", state.Phase)
	}
	if state.ToolRejections < 1 {
		t.Errorf("expected at least one tool rejection, got %d", state.ToolRejections)
	}
}

func TestFingerprintStableAcrossIdenticalPlans(t *testing.T) {
	plan := types.Plan{Steps: []types.Step{{StepID: 1, Action: types.ActionFSRead, Path: "a"}}}
	if Fingerprint(plan) != Fingerprint(plan) {
		t.Error("expected identical plans to fingerprint identically")
	}
}

func TestStagnationDetectorFlagsSecondIdenticalPlan(t *testing.T) {
	plan := types.Plan{Steps: []types.Step{{StepID: 1, Action: types.ActionFSRead, Path: "a"}}}
	d := &stagnationDetector{}
	if d.Observe(plan) {
		t.Error("first observation should not be flagged as stagnant")
	}
	if !d.Observe(plan) {
		t.Error("second identical observation should be flagged as stagnant")
	}
}
