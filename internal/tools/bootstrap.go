package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loopworks/agentcore/internal/types"
)

// BootstrapResult reports what the BOOTSTRAP_REPO step did.
type BootstrapResult struct {
	Initialized bool
	Created     []string
}

// bootstrapDef registers BOOTSTRAP_REPO: the step the PlanValidator forces
// first whenever the repository is empty. It initializes VCS tracking and
// seeds a minimal README so the next step's fs.read/fs.write invariants
// have something to operate against.
func bootstrapDef() Def {
	return Def{
		Tool: types.Tool{
			Name:            "BOOTSTRAP_REPO",
			Description:     "Initializes an empty repository: git init plus a seed README.",
			PhaseVisibility: map[types.Phase]bool{types.PhaseExecution: true},
			HandlerID:       "bootstrap_repo",
			SideEffects:     types.SideEffectWrite,
		},
		Schema:  Schema{},
		Handler: handleBootstrap,
	}
}

func handleBootstrap(b *ToolBus, args map[string]any) (any, error) {
	root := b.RepoRoot()
	result := BootstrapResult{}

	if _, err := os.Stat(filepath.Join(root, ".git")); os.IsNotExist(err) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "git", "init")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("tools: git init: %w (%s)", err, string(out))
		}
		result.Initialized = true
	}

	readmePath := filepath.Join(root, "README.md")
	if _, err := os.Stat(readmePath); os.IsNotExist(err) {
		if err := os.WriteFile(readmePath, []byte("# Project\n"), 0o644); err != nil {
			return nil, fmt.Errorf("tools: seed README.md: %w", err)
		}
		result.Created = append(result.Created, "README.md")
	}

	return result, nil
}
