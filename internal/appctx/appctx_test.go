package appctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loopworks/agentcore/internal/config"
)

func TestNewWiresEveryCollaboratorAndCreatesStateDir(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := config.Defaults()

	ctx, err := New(cfg, repoRoot)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctx.Close()

	if ctx.StateDir != filepath.Join(repoRoot, ".agent") {
		t.Errorf("StateDir = %q", ctx.StateDir)
	}
	for name, v := range map[string]any{
		"Bus": ctx.Bus, "Safety": ctx.Safety, "VectorStore": ctx.VectorStore,
		"Index": ctx.Index, "Retrieval": ctx.Retrieval, "Tools": ctx.Tools,
		"ToolBus": ctx.ToolBus, "DiffGen": ctx.DiffGen, "Planner": ctx.Planner,
		"Executor": ctx.Executor, "Classifier": ctx.Classifier, "VCS": ctx.VCS,
		"Orchestrator": ctx.Orchestrator, "Tracer": ctx.Tracer,
		"SessionMem": ctx.SessionMem, "AnswerLLM": ctx.AnswerLLM,
	} {
		if v == nil {
			t.Errorf("%s is nil", name)
		}
	}
}

func TestRepoFileExisterChecksRealFilesystem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "hello")

	e := repoFileExister{repoRoot: dir}
	if !e.Exists("README.md") {
		t.Error("expected README.md to exist")
	}
	if e.Exists("missing.txt") {
		t.Error("expected missing.txt to not exist")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
