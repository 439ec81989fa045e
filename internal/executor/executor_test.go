package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loopworks/agentcore/internal/diffgen"
	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/tools"
	"github.com/loopworks/agentcore/internal/types"
)

type noopPublisher struct{}

func (noopPublisher) Publish(t types.EventType, payload any) {}

func newTestExecutor(t *testing.T, dir string, adapter llm.Adapter) *Executor {
	t.Helper()
	gate := safety.New(safety.Config{
		RepoRoot:         dir,
		Allow:            []string{"**"},
		ProgramAllowlist: []string{"true", "false"},
	})
	bus := tools.New(tools.NewRegistry(), gate, dir, noopPublisher{})
	gen := diffgen.New(adapter, 40, 1)
	return New(bus, gen)
}

func TestRunExecutesCreateStep(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir, nil)
	state := types.NewAgentState("create a file")

	plan := types.Plan{Steps: []types.Step{
		{StepID: 1, Action: types.ActionFSCreate, Path: "a.txt", Content: "hi\n"},
	}}

	results, err := x.Run(state, plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[1].Success {
		t.Errorf("expected step 1 to succeed, got %+v", results[1])
	}
	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("read created file: %v", err)
	}
	if string(content) != "hi\n" {
		t.Errorf("content = %q, want %q", content, "hi\n")
	}
}

func TestRunAbortsOnStepFailure(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir, nil)
	state := types.NewAgentState("read a missing file")

	plan := types.Plan{Steps: []types.Step{
		{StepID: 1, Action: types.ActionFSRead, Path: "missing.txt"},
		{StepID: 2, Action: types.ActionFSCreate, Path: "never.txt", Content: "x"},
	}}

	results, err := x.Run(state, plan)
	if err == nil {
		t.Fatal("expected Failed error on missing file read")
	}
	if _, ok := err.(*Failed); !ok {
		t.Errorf("expected *Failed, got %T", err)
	}
	if results[1].Success {
		t.Error("expected step 1 to fail")
	}
	if _, ok := results[2]; ok {
		t.Error("expected step 2 to never run after step 1 failed")
	}
	if _, err := os.Stat(filepath.Join(dir, "never.txt")); err == nil {
		t.Error("step 2 should not have executed")
	}
}

type fakeDiffAdapter struct {
	diff string
}

func (f *fakeDiffAdapter) Query(prompt string, params llm.Params, format llm.ResponseFormat) (string, llm.Usage, error) {
	return f.diff, llm.Usage{}, nil
}

func (f *fakeDiffAdapter) Stream(prompt string, params llm.Params, format llm.ResponseFormat, onToken llm.OnToken) (string, llm.Usage, error) {
	return "", llm.Usage{}, nil
}

func (f *fakeDiffAdapter) Embed(texts []string, model string) ([][]float64, error) {
	return nil, nil
}

func TestRunGeneratesDiffForWriteWithoutExplicitDiff(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("line1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	adapter := &fakeDiffAdapter{diff: "--- a/a.txt\n+++ b/a.txt\n@@ -1 +1 @@\n-line1\n+line2\n"}
	x := newTestExecutor(t, dir, adapter)
	state := types.NewAgentState("edit a.txt")

	plan := types.Plan{Steps: []types.Step{
		{StepID: 1, Action: types.ActionFSRead, Path: "a.txt"},
		{StepID: 2, Action: types.ActionFSWrite, Path: "a.txt", DependsOn: []int{1}},
	}}

	results, err := x.Run(state, plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[2].Success {
		t.Errorf("expected step 2 to succeed, got %+v", results[2])
	}
	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "line2\n" {
		t.Errorf("content = %q, want %q", content, "line2\n")
	}
}

func TestRunAbortsOnFailingExecRun(t *testing.T) {
	dir := t.TempDir()
	x := newTestExecutor(t, dir, nil)
	state := types.NewAgentState("run a failing command")

	plan := types.Plan{Steps: []types.Step{
		{StepID: 1, Action: types.ActionExecRun, Program: "false"},
	}}

	results, err := x.Run(state, plan)
	if err == nil {
		t.Fatal("expected Failed error on non-zero exit with no accepted_exit_codes/allow_failure")
	}
	if _, ok := err.(*Failed); !ok {
		t.Errorf("expected *Failed, got %T", err)
	}
	if results[1].Success {
		t.Errorf("expected step 1 to be recorded as failed, got %+v", results[1])
	}
}

func TestRunBlocksDuplicateIdenticalStepCall(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	x := newTestExecutor(t, dir, nil)
	state := types.NewAgentState("read twice")

	plan := types.Plan{Steps: []types.Step{
		{StepID: 1, Action: types.ActionFSRead, Path: "a.txt"},
		{StepID: 2, Action: types.ActionFSRead, Path: "a.txt"},
	}}

	_, err := x.Run(state, plan)
	if err == nil {
		t.Fatal("expected duplicate-call rejection on identical consecutive fs.read")
	}
}
