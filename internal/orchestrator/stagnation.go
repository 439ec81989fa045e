package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/loopworks/agentcore/internal/types"
)

// Fingerprint computes a stable hash over a plan's steps, ignoring plan_id
// and confidence so two structurally identical re-plans collapse to the
// same fingerprint (§3, §4.9 hard stop 4).
func Fingerprint(plan types.Plan) types.Fingerprint {
	var b strings.Builder
	for _, s := range plan.Steps {
		fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%v|%s|%s|%q\n", s.StepID, s.Action, s.Path, s.Content, s.Diff, s.DependsOn, s.Program, s.Command, s.Args)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return types.Fingerprint(hex.EncodeToString(sum[:]))
}

// diffFingerprint hashes the paths, explicit diffs and contents of a plan's
// fs.write/fs.create steps, used to detect the Planner repeating the
// identical edit across cycles even when the rest of the plan differs.
func diffFingerprint(plan types.Plan) string {
	var b strings.Builder
	for _, s := range plan.Steps {
		if s.Action == types.ActionFSWrite || s.Action == types.ActionFSCreate {
			b.WriteString(s.Path)
			b.WriteString("\x00")
			b.WriteString(s.Diff)
			b.WriteString(s.Content)
			b.WriteString("\n")
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// stagnationDetector tracks the previous cycle's plan and diff
// fingerprints to flag two consecutive cycles producing the identical
// plan or the identical set of diffs.
type stagnationDetector struct {
	lastPlanFingerprint types.Fingerprint
	lastDiffFingerprint string
	hasPrev             bool
}

// Observe records plan's fingerprints and reports whether either matches the
// immediately preceding cycle's. The diff fingerprint only counts when the
// plan carries at least one explicit diff or content to write.
func (d *stagnationDetector) Observe(plan types.Plan) bool {
	pf := Fingerprint(plan)
	df := diffFingerprint(plan)
	hasDiffs := false
	for _, s := range plan.Steps {
		if (s.Action == types.ActionFSWrite || s.Action == types.ActionFSCreate) && (s.Diff != "" || s.Content != "") {
			hasDiffs = true
			break
		}
	}

	stagnant := d.hasPrev && (pf == d.lastPlanFingerprint || (hasDiffs && df == d.lastDiffFingerprint))

	d.lastPlanFingerprint = pf
	d.lastDiffFingerprint = df
	d.hasPrev = true

	return stagnant
}
