package tracer

import (
	"path/filepath"
	"testing"
)

func TestSessionMemoryAppendAndLast(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "session.jsonl"), filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sm.Close()

	turns := []Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}
	for _, turn := range turns {
		if err := sm.Append(turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	last, err := sm.Last(2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(last))
	}
	if last[0].Content != "two" || last[1].Content != "three" {
		t.Errorf("unexpected order: %+v", last)
	}
}

func TestSessionMemoryLastExceedingCountReturnsAll(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "session.jsonl"), filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sm.Close()

	if err := sm.Append(Turn{Role: "user", Content: "only one"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	last, err := sm.Last(10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(last) != 1 || last[0].Content != "only one" {
		t.Errorf("unexpected turns: %+v", last)
	}
}

func TestSessionMemoryReopenRebuildsIndexFromJSONL(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "session.jsonl")
	dbPath := filepath.Join(dir, "session.db")

	sm, err := Open(jsonlPath, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sm.Append(Turn{Role: "user", Content: "persisted"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh LevelDB index directory, same durable JSONL — Open must
	// rebuild the tailing index from the file rather than reporting empty.
	sm2, err := Open(jsonlPath, filepath.Join(dir, "session-rebuilt.db"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer sm2.Close()

	last, err := sm2.Last(5)
	if err != nil {
		t.Fatalf("Last after reopen: %v", err)
	}
	if len(last) != 1 || last[0].Content != "persisted" {
		t.Errorf("expected rebuilt index to recover the turn, got %+v", last)
	}

	if err := sm2.Append(Turn{Role: "assistant", Content: "new after reopen"}); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	last, err = sm2.Last(5)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("expected 2 turns after reopen append, got %d", len(last))
	}
}

func TestSessionMemoryLastZeroOrNegativeReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	sm, err := Open(filepath.Join(dir, "session.jsonl"), filepath.Join(dir, "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sm.Close()

	last, err := sm.Last(0)
	if err != nil {
		t.Fatalf("Last(0): %v", err)
	}
	if len(last) != 0 {
		t.Errorf("expected empty slice, got %+v", last)
	}
}
