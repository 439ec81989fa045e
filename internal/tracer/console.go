package tracer

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/loopworks/agentcore/internal/bus"
	"github.com/loopworks/agentcore/internal/types"
)

// eventColor assigns one severity color per event type.
var eventColor = map[types.EventType]*color.Color{
	types.EventPhaseTransition:    color.New(color.FgCyan),
	types.EventToolInvoked:        color.New(color.FgBlue),
	types.EventToolRejected:       color.New(color.FgRed),
	types.EventRetrievalSkipped:   color.New(color.FgYellow),
	types.EventPlanRejected:       color.New(color.FgRed),
	types.EventPlanAccepted:       color.New(color.FgGreen),
	types.EventStagnationDetected: color.New(color.FgMagenta),
	types.EventHardStop:           color.New(color.FgRed, color.Bold),
	types.EventSnapshotTaken:      color.New(color.FgCyan, color.Faint),
	types.EventRollback:           color.New(color.FgYellow, color.Bold),
	types.EventFinalized:          color.New(color.FgGreen, color.Bold),
	types.EventIndexRebuilt:       color.New(color.FgCyan, color.Faint),
	types.EventDecision:           color.New(color.FgMagenta),
}

// ConsoleSubscriber prints one human-readable line per bus event. Opt-in,
// per §4.10 — the caller must explicitly Attach it.
type ConsoleSubscriber struct {
	w       io.Writer
	noColor bool
}

// NewConsoleSubscriber writes one line per event to w. Colors are
// disabled automatically when w is not a terminal; the caller decides
// that upstream (cmd/agentcore checks go-isatty) and passes noColor.
func NewConsoleSubscriber(w io.Writer, noColor bool) *ConsoleSubscriber {
	return &ConsoleSubscriber{w: w, noColor: noColor}
}

// Attach registers the subscriber as a bus tap.
func (c *ConsoleSubscriber) Attach(b *bus.Bus) {
	if c == nil || b == nil {
		return
	}
	b.Tap(c.handle)
}

func (c *ConsoleSubscriber) handle(eventType types.EventType, payload any) {
	line := describe(eventType, payload)
	if line == "" {
		return
	}
	if c.noColor {
		fmt.Fprintln(c.w, line)
		return
	}
	col, ok := eventColor[eventType]
	if !ok {
		fmt.Fprintln(c.w, line)
		return
	}
	col.Fprintln(c.w, line)
}

func describe(eventType types.EventType, payload any) string {
	switch p := payload.(type) {
	case types.PhaseTransitionPayload:
		return fmt.Sprintf("[%s] %s -> %s%s", clip(p.Goal, 40), p.From, p.To, reasonSuffix(p.Reason))
	case types.ToolRejectedPayload:
		return fmt.Sprintf("[tool rejected] %s: %s", p.ToolName, p.Reason)
	case types.ToolInvokedPayload:
		tag := "[tool]"
		if p.DryRun {
			tag = "[tool dry-run]"
		}
		if p.Path != "" {
			return fmt.Sprintf("%s %s %s", tag, p.ToolName, clip(p.Path, 60))
		}
		return fmt.Sprintf("%s %s %s", tag, p.ToolName, p.Program)
	case types.HardStopPayload:
		return fmt.Sprintf("[halt] %s (cycle %d): %s", clip(p.Goal, 40), p.Cycle, p.Reason)
	case types.RetrievalResult:
		return fmt.Sprintf("[retrieval skipped] %s", p.SkipReason)
	case types.Plan:
		return fmt.Sprintf("[plan %s] confidence=%d steps=%d", p.PlanID, p.Confidence, len(p.Steps))
	case types.Decision:
		return fmt.Sprintf("[decision] %s", p)
	case string:
		return fmt.Sprintf("[%s] %s", eventType, clip(p, 60))
	default:
		return fmt.Sprintf("[%s]", eventType)
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

// clip truncates s to at most n display columns, accounting for wide
// runes, since paths and commit messages the agent handles may contain
// wide glyphs a plain rune count would undercount.
func clip(s string, n int) string {
	if runewidth.StringWidth(s) <= n {
		return s
	}
	return runewidth.Truncate(s, n, "…")
}
