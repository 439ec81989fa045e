package tools

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loopworks/agentcore/internal/types"
)

// ReadResult is the fs.read return value.
type ReadResult struct {
	Content string
	MTime   int64
}

func readDef() Def {
	return Def{
		Tool: types.Tool{
			Name:            "fs.read",
			Description:     "read a file's contents and mtime",
			PhaseVisibility: allPhases(),
			HandlerID:       "fs_read",
			SideEffects:     types.SideEffectRead,
		},
		Schema:  Schema{Required: []string{"path"}},
		Handler: handleRead,
	}
}

func handleRead(b *ToolBus, args map[string]any) (any, error) {
	path := args["path"].(string)
	abs := filepath.Join(b.RepoRoot(), path)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ReadResult{Content: string(content), MTime: info.ModTime().Unix()}, nil
}

func createDef() Def {
	return Def{
		Tool: types.Tool{
			Name:            "fs.create",
			Description:     "create a new file via a deterministic add-file diff",
			PhaseVisibility: map[types.Phase]bool{types.PhaseExecution: true},
			HandlerID:       "fs_create",
			SideEffects:     types.SideEffectWrite,
		},
		Schema:  Schema{Required: []string{"path", "content"}},
		Handler: handleCreate,
	}
}

func handleCreate(b *ToolBus, args map[string]any) (any, error) {
	path := args["path"].(string)
	content, _ := args["content"].(string)
	abs := filepath.Join(b.RepoRoot(), path)

	if _, err := os.Stat(abs); err == nil {
		return nil, fmt.Errorf("fs.create: %s already exists", path)
	}

	diff := AddFileDiff(path, content)
	if err := ApplyDiff(b.RepoRoot(), diff); err != nil {
		return nil, fmt.Errorf("fs.create: apply add-file diff for %s: %w", path, err)
	}
	return nil, nil
}

func writeDiffDef() Def {
	return Def{
		Tool: types.Tool{
			Name:            "fs.write_diff",
			Description:     "apply a unified diff to an existing file",
			PhaseVisibility: map[types.Phase]bool{types.PhaseExecution: true},
			HandlerID:       "fs_write_diff",
			SideEffects:     types.SideEffectWrite,
		},
		Schema:  Schema{Required: []string{"path", "diff"}},
		Handler: handleWriteDiff,
	}
}

func handleWriteDiff(b *ToolBus, args map[string]any) (any, error) {
	path := args["path"].(string)
	diff, _ := args["diff"].(string)
	abs := filepath.Join(b.RepoRoot(), path)

	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("fs.write_diff: %s does not exist: %w", path, err)
	}

	if err := ApplyDiff(b.RepoRoot(), diff); err != nil {
		return nil, fmt.Errorf("fs.write_diff: apply diff for %s: %w", path, err)
	}
	return nil, nil
}

func deleteDef() Def {
	return Def{
		Tool: types.Tool{
			Name:            "fs.delete",
			Description:     "remove a file",
			PhaseVisibility: map[types.Phase]bool{types.PhaseExecution: true},
			HandlerID:       "fs_delete",
			SideEffects:     types.SideEffectWrite,
		},
		Schema:  Schema{Required: []string{"path"}},
		Handler: handleDelete,
	}
}

func handleDelete(b *ToolBus, args map[string]any) (any, error) {
	path := args["path"].(string)
	abs := filepath.Join(b.RepoRoot(), path)
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("fs.delete: %s: %w", path, err)
	}
	return nil, nil
}
