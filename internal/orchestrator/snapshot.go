package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const vcsTimeout = 30 * time.Second

// VCS wraps the git operations the Orchestrator needs for snapshot/rollback
// (§4.9): a commit-all "allow-empty" snapshot before the first destructive
// action, a hard reset back to it on fatal halt, and a single finalize
// commit on success. Always invoked via structured exec.CommandContext
// args — never a shell string — matching the ToolBus's ApplyDiff style.
type VCS struct {
	repoRoot string
}

// NewVCS builds a VCS bound to repoRoot.
func NewVCS(repoRoot string) *VCS {
	return &VCS{repoRoot: repoRoot}
}

func (v *VCS) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), vcsTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = v.repoRoot
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, errBuf.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// Snapshot stages everything and creates an allow-empty commit, returning
// its hash so Rollback can return to it.
func (v *VCS) Snapshot(message string) (string, error) {
	if _, err := v.run("add", "-A"); err != nil {
		return "", err
	}
	if _, err := v.run("commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return v.run("rev-parse", "HEAD")
}

// Rollback hard-resets the working tree to hash.
func (v *VCS) Rollback(hash string) error {
	_, err := v.run("reset", "--hard", hash)
	return err
}

// Finalize stages everything and commits once, used on a successful goal.
func (v *VCS) Finalize(message string) error {
	if _, err := v.run("add", "-A"); err != nil {
		return err
	}
	_, err := v.run("commit", "--allow-empty", "-m", message)
	return err
}

// IsRepoEmpty reports whether repoRoot has no commits yet, satisfying the
// RepoProber interface both the Orchestrator and the RetrievalController
// depend on for their repo_empty skip conditions — one VCS instance serves
// both rather than probing the filesystem twice.
func (v *VCS) IsRepoEmpty() bool {
	_, err := v.run("rev-parse", "HEAD")
	return err != nil
}
