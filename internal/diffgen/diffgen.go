// Package diffgen implements the DiffGenerator (§4.6): the only LLM-touching
// path for producing diffs. The ToolBus never applies a patch it invents
// itself — every edit's diff either comes from here deterministically (new
// files) or via a validated LLM call (existing files).
package diffgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/tools"
)

// Request is the input to Generate.
type Request struct {
	Path       string
	Original   string // current file content; empty/unused when !FileExists
	NewContent string // intended content; only consulted when !FileExists
	Goal       string
	Reason     string
	FileExists bool
}

// Failed is the typed error returned when no diff could be produced after
// all retries, or validation never passed.
type Failed struct {
	Path   string
	Reason string
}

func (e *Failed) Error() string {
	return fmt.Sprintf("diffgen: failed to produce a diff for %s: %s", e.Path, e.Reason)
}

// Generator produces unified diffs, deterministically for new files and via
// a validated LLM call for edits.
type Generator struct {
	adapter    llm.Adapter
	lineCap    int
	maxRetries int
}

// New builds a Generator. lineCap bounds the number of changed lines an
// LLM-produced diff may contain; maxRetries is the number of corrective
// re-prompts attempted before surfacing Failed.
func New(adapter llm.Adapter, lineCap, maxRetries int) *Generator {
	if lineCap <= 0 {
		lineCap = 40
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Generator{adapter: adapter, lineCap: lineCap, maxRetries: maxRetries}
}

// Generate returns a minimal unified diff for req.
func (g *Generator) Generate(req Request) (string, error) {
	if !req.FileExists {
		return tools.AddFileDiff(req.Path, req.NewContent), nil
	}
	return g.generateEdit(req)
}

func (g *Generator) generateEdit(req Request) (string, error) {
	prompt := buildPrompt(req, "")
	var lastReason string

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		raw, _, err := g.adapter.Query(prompt, llm.Params{Temperature: 0}, llm.ResponseFormatText)
		if err != nil {
			return "", fmt.Errorf("diffgen: query developer role: %w", err)
		}
		candidate := llm.StripFences(raw)

		if ok, reason := Validate(candidate, g.lineCap); ok {
			return candidate, nil
		} else {
			lastReason = reason
			prompt = buildPrompt(req, reason)
		}
	}

	return "", &Failed{Path: req.Path, Reason: lastReason}
}

// Validate implements the same predicate §4.6 describes for the model
// benchmark: the candidate must contain a "diff --git" or "---" header, at
// least one "@@" hunk marker, and no more than lineCap changed lines.
func Validate(diff string, lineCap int) (bool, string) {
	trimmed := strings.TrimSpace(diff)
	if trimmed == "" {
		return false, "empty diff"
	}
	if !strings.Contains(trimmed, "diff --git") && !strings.Contains(trimmed, "---") {
		return false, "missing diff --git or --- header"
	}
	if !strings.Contains(trimmed, "@@") {
		return false, "missing @@ hunk marker"
	}
	changed := countChangedLines(trimmed)
	if changed > lineCap {
		return false, fmt.Sprintf("diff changes %d lines, exceeds cap of %d", changed, lineCap)
	}
	return true, ""
}

func countChangedLines(diff string) int {
	count := 0
	for _, line := range strings.Split(diff, "\n") {
		if (strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++")) ||
			(strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---")) {
			count++
		}
	}
	return count
}

func buildPrompt(req Request, correction string) string {
	var b strings.Builder
	b.WriteString("Return ONLY a unified diff. No prose, no markdown fences.\n")
	b.WriteString("The diff must apply cleanly with `git apply` against the file shown below.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Reason for this edit: %s\n", req.Reason)
	fmt.Fprintf(&b, "File: %s\n\n", req.Path)
	b.WriteString("--- current content ---\n")
	b.WriteString(req.Original)
	b.WriteString("\n--- end current content ---\n")
	if correction != "" {
		fmt.Fprintf(&b, "\nYour previous attempt was rejected: %s. Produce a corrected, minimal diff (at most %d changed lines).\n", correction, lineCapHint(correction))
	}
	return b.String()
}

func lineCapHint(reason string) int {
	if strings.Contains(reason, "cap of") {
		parts := strings.Split(reason, "cap of")
		if len(parts) == 2 {
			if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				return n
			}
		}
	}
	return 40
}
