// Package tracer implements the Tracer (§4.10): an EventBus subscriber
// that durably records every published event, plus a per-goal JSONL
// sidecar that answers the "pointer to the trace file" §7 asks for on
// halt. Both are opt-in — a nil *Tracer is safe to call and simply drops
// everything.
package tracer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loopworks/agentcore/internal/bus"
	"github.com/loopworks/agentcore/internal/types"
)

// Record is one line of traces.jsonl or a per-goal sidecar file.
type Record struct {
	Type      types.EventType `json:"type"`
	Payload   any             `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Tracer appends every bus event to a global JSONL file and, while a goal
// is active, mirrors it into that goal's own sidecar file under
// .agent/tasks/. Only one goal is ever active at a time (§5: "single-
// threaded cooperative within one goal"), so a single active-file field
// is enough — no per-goal map is needed, unlike a registry built for
// concurrent subtasks.
type Tracer struct {
	mu        sync.Mutex
	global    *os.File
	tasksDir  string
	activeID  string
	activeF   *os.File
}

// New opens (or creates) the global trace file at path and prepares
// tasksDir for per-goal sidecars. tasksDir is created lazily on the first
// Begin, matching tasklog.Registry.Open's lazy MkdirAll.
func New(path, tasksDir string) (*Tracer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tracer: create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracer: open %s: %w", path, err)
	}
	return &Tracer{global: f, tasksDir: tasksDir}, nil
}

// Attach registers the Tracer as a tap on b, so it observes every event
// regardless of type.
func (t *Tracer) Attach(b *bus.Bus) {
	if t == nil || b == nil {
		return
	}
	b.Tap(t.handle)
}

func (t *Tracer) handle(eventType types.EventType, payload any) {
	if t == nil {
		return
	}
	rec := Record{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.global != nil {
		_, _ = t.global.Write(data)
	}
	if t.activeF != nil {
		_, _ = t.activeF.Write(data)
	}
}

// Begin opens the per-goal sidecar .agent/tasks/<goalID>.jsonl and marks
// goalID as the active goal for mirroring. Safe on a nil Tracer.
func (t *Tracer) Begin(goalID, goal string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.tasksDir, 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(t.tasksDir, goalID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	t.activeID = goalID
	t.activeF = f
	t.writeLocked(Record{
		Type:      types.EventPhaseTransition,
		Payload:   types.PhaseTransitionPayload{Goal: goal, To: types.PhaseIntent, Reason: "goal started"},
		Timestamp: time.Now().UTC(),
	})
}

// End closes goalID's sidecar file, if it is the active one, and clears
// the active goal so subsequent events only reach the global file.
func (t *Tracer) End(goalID, status string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeID != goalID || t.activeF == nil {
		return
	}
	t.writeLocked(Record{
		Type:      types.EventPhaseTransition,
		Payload:   map[string]string{"goal_id": goalID, "status": status},
		Timestamp: time.Now().UTC(),
	})
	_ = t.activeF.Close()
	t.activeF = nil
	t.activeID = ""
}

// writeLocked appends rec to whichever files are open. Caller holds t.mu.
func (t *Tracer) writeLocked(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if t.global != nil {
		_, _ = t.global.Write(data)
	}
	if t.activeF != nil {
		_, _ = t.activeF.Write(data)
	}
}

// CurrentTracePointer returns the path of the currently active goal's
// sidecar file, or "" if no goal is active — the value a halted run's
// HardStopPayload should point the user at (§7).
func (t *Tracer) CurrentTracePointer() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeID == "" {
		return ""
	}
	return filepath.Join(t.tasksDir, t.activeID+".jsonl")
}

// Close releases the global file handle and any still-open per-goal file.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	if t.activeF != nil {
		firstErr = t.activeF.Close()
		t.activeF = nil
	}
	if t.global != nil {
		if err := t.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.global = nil
	}
	return firstErr
}
