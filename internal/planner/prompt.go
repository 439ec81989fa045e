package planner

import (
	"fmt"
	"strings"

	"github.com/loopworks/agentcore/internal/types"
)

const systemPrompt = `You are the Planner. Decompose a user's goal into the minimum necessary Step objects against the ToolBus.

Available actions: fs.read, fs.create, fs.write, fs.delete, exec.run, BOOTSTRAP_REPO.

Rules:
- step_id starts at 1 and increases by 1 per step (BOOTSTRAP_REPO, when present, is step 0).
- Every fs.write step MUST depend (via depends_on) on a prior fs.read step of the SAME path.
- Never target the same path with both fs.write and fs.create in one plan.
- exec.run steps MUST carry a program (and args) that exists on the Safety allowlist; never construct a shell command string.
- Only reference paths from the retrieval list below, or paths the user named literally in their prompt.
- confidence is an integer 0-100 reflecting how sure you are this plan satisfies the goal.

Output ONLY this JSON object, no markdown fences, no prose:
{
  "plan_id": "<uuid>",
  "confidence": <0-100>,
  "steps": [{"step_id": 1, "action": "fs.read", "path": "...", "reason": "..."}],
  "blockers": [],
  "assumptions": [],
  "success_criteria": ["<falsifiable assertion>"],
  "rollback_strategy": "<short description>"
}`

// BuildPrompt assembles the deterministic prompt §4.7 describes: system
// prompt, retrieval constraint, workspace hint, JSON-schema instructions,
// and the task.
func BuildPrompt(goal string, intent types.Intent, retrievedFiles []string, repoEmpty bool) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Intent: %s\n", intent)

	if repoEmpty {
		b.WriteString("The repository is currently empty. Your FIRST step MUST be BOOTSTRAP_REPO (step_id 0).\n")
	}

	if len(retrievedFiles) > 0 {
		b.WriteString("Retrieved files you may reference:\n")
		for _, f := range retrievedFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	} else {
		b.WriteString("No files were retrieved for this goal. You may only reference paths the user names literally below.\n")
	}

	fmt.Fprintf(&b, "\nGoal: %s\n", goal)
	return b.String()
}
