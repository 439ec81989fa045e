package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/types"
)

type recordingPublisher struct {
	events []types.EventType
}

func (p *recordingPublisher) Publish(t types.EventType, payload any) {
	p.events = append(p.events, t)
}

func newTestBus(t *testing.T, repoRoot string) (*ToolBus, *recordingPublisher) {
	t.Helper()
	gate := safety.New(safety.Config{
		RepoRoot:         repoRoot,
		Allow:            []string{"**"},
		ProgramAllowlist: []string{"true", "false", "echo"},
	})
	pub := &recordingPublisher{}
	return New(NewRegistry(), gate, repoRoot, pub), pub
}

func TestFSCreateThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	bus, _ := newTestBus(t, dir)
	state := types.NewAgentState("create a file")

	_, err := bus.Invoke(state, types.PhaseExecution, "fs.create", map[string]any{
		"path":    "hello.txt",
		"content": "hello world\n",
	})
	if err != nil {
		t.Fatalf("fs.create: %v", err)
	}

	result, err := bus.Invoke(state, types.PhaseExecution, "fs.read", map[string]any{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("fs.read: %v", err)
	}
	rr := result.(ReadResult)
	if rr.Content != "hello world\n" {
		t.Errorf("content = %q, want %q", rr.Content, "hello world\n")
	}
	if !state.Artifacts.FilesWritten["hello.txt"] {
		t.Error("expected hello.txt to be recorded in FilesWritten")
	}
}

func TestFSCreateFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "exists.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	bus, _ := newTestBus(t, dir)
	state := types.NewAgentState("g")

	_, err := bus.Invoke(state, types.PhaseExecution, "fs.create", map[string]any{
		"path":    "exists.txt",
		"content": "y",
	})
	if err == nil {
		t.Fatal("expected error creating an already-existing file")
	}
}

func TestWriteDiffRejectedWithoutPriorRead(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("line1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bus, pub := newTestBus(t, dir)
	state := types.NewAgentState("edit a.txt")

	_, err := bus.Invoke(state, types.PhaseExecution, "fs.write_diff", map[string]any{
		"path": "a.txt",
		"diff": "--- a/a.txt\n+++ b/a.txt\n@@ -1 +1 @@\n-line1\n+line2\n",
	})
	if err == nil {
		t.Fatal("expected read-before-write rejection")
	}
	if state.ToolRejections != 1 {
		t.Errorf("ToolRejections = %d, want 1", state.ToolRejections)
	}
	found := false
	for _, e := range pub.events {
		if e == types.EventToolRejected {
			found = true
		}
	}
	if !found {
		t.Error("expected tool_rejected event to be published")
	}
}

func TestPathRejectedBySafety(t *testing.T) {
	dir := t.TempDir()
	bus, _ := newTestBus(t, dir)
	state := types.NewAgentState("read env")

	_, err := bus.Invoke(state, types.PhaseExecution, "fs.read", map[string]any{"path": ".env"})
	if err == nil {
		t.Fatal("expected .env read to be rejected")
	}
	if len(state.Artifacts.FilesRead) != 0 {
		t.Error("expected no files recorded as read")
	}
}

func TestExecRunAcceptedExitCode(t *testing.T) {
	dir := t.TempDir()
	bus, _ := newTestBus(t, dir)
	state := types.NewAgentState("run false but accept 1")

	result, err := bus.Invoke(state, types.PhaseExecution, "exec.run", map[string]any{
		"program":             "false",
		"accepted_exit_codes": []int{1},
	})
	if err != nil {
		t.Fatalf("exec.run: %v", err)
	}
	er := result.(ExecResult)
	if !er.Success {
		t.Errorf("expected success=true for accepted exit code, got %+v", er)
	}
}

func TestExecRunProgramNotAllowlisted(t *testing.T) {
	dir := t.TempDir()
	bus, _ := newTestBus(t, dir)
	state := types.NewAgentState("rm everything")

	_, err := bus.Invoke(state, types.PhaseExecution, "exec.run", map[string]any{"program": "rm"})
	if err == nil {
		t.Fatal("expected rm to be rejected, not in allowlist")
	}
}

func TestDryRunSkipsFSCreateSideEffect(t *testing.T) {
	dir := t.TempDir()
	bus, pub := newTestBus(t, dir)
	bus.SetDryRun(true)
	state := types.NewAgentState("create a file")

	_, err := bus.Invoke(state, types.PhaseExecution, "fs.create", map[string]any{
		"path":    "hello.txt",
		"content": "hello world\n",
	})
	if err != nil {
		t.Fatalf("fs.create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "hello.txt")); err == nil {
		t.Error("dry-run fs.create should not have written hello.txt")
	}
	if bus.ChangesMade() {
		t.Error("dry-run fs.create should not flip changesMade")
	}

	found := false
	for _, e := range pub.events {
		if e == types.EventToolInvoked {
			found = true
		}
	}
	if !found {
		t.Error("expected a tool_invoked event for the dry-run call")
	}
}

func TestDryRunSkipsExecRunSideEffect(t *testing.T) {
	dir := t.TempDir()
	bus, _ := newTestBus(t, dir)
	bus.SetDryRun(true)
	state := types.NewAgentState("delete everything via echo")

	result, err := bus.Invoke(state, types.PhaseExecution, "exec.run", map[string]any{
		"program": "echo",
		"args":    []string{"should not actually run"},
	})
	if err != nil {
		t.Fatalf("exec.run: %v", err)
	}
	er, ok := result.(ExecResult)
	if !ok {
		t.Fatalf("expected ExecResult, got %T", result)
	}
	if !er.Success {
		t.Errorf("expected dry-run exec.run to report success, got %+v", er)
	}
}

func TestDryRunStillRunsReads(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("real content\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bus, _ := newTestBus(t, dir)
	bus.SetDryRun(true)
	state := types.NewAgentState("read a.txt")

	result, err := bus.Invoke(state, types.PhaseExecution, "fs.read", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("fs.read: %v", err)
	}
	rr := result.(ReadResult)
	if rr.Content != "real content\n" {
		t.Errorf("dry-run should still perform reads, got %q", rr.Content)
	}
}

func TestAddFileDiffShape(t *testing.T) {
	diff := AddFileDiff("pkg/foo.go", "package foo\n")
	for _, want := range []string{"--- /dev/null", "+++ b/pkg/foo.go", "@@ -0,0 +1,1 @@", "+package foo"} {
		if !strings.Contains(diff, want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
}
