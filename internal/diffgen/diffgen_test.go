package diffgen

import (
	"testing"

	"github.com/loopworks/agentcore/internal/llm"
)

func TestGenerateNewFileIsDeterministic(t *testing.T) {
	g := New(nil, 40, 2)
	diff, err := g.Generate(Request{
		Path:       "pkg/new.go",
		NewContent: "package pkg\n",
		FileExists: false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, reason := Validate(diff, 40); !ok {
		t.Errorf("generated add-file diff failed validation: %s", reason)
	}
}

func TestValidateRejectsMissingHunk(t *testing.T) {
	if ok, _ := Validate("--- a/x\n+++ b/x\n", 40); ok {
		t.Error("expected validation to fail without an @@ hunk")
	}
}

func TestValidateRejectsTooManyChangedLines(t *testing.T) {
	diff := "--- a/x\n+++ b/x\n@@ -1,1 +1,3 @@\n-old\n+new1\n+new2\n+new3\n"
	if ok, _ := Validate(diff, 1); ok {
		t.Error("expected validation to fail when exceeding line cap")
	}
}

func TestValidateAcceptsWellFormedDiff(t *testing.T) {
	diff := "--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	if ok, reason := Validate(diff, 10); !ok {
		t.Errorf("expected valid diff to pass, got reason: %s", reason)
	}
}

type fakeAdapter struct {
	responses []string
	calls     int
}

func (f *fakeAdapter) Query(prompt string, params llm.Params, format llm.ResponseFormat) (string, llm.Usage, error) {
	resp := f.responses[f.calls]
	f.calls++
	return resp, llm.Usage{}, nil
}

func (f *fakeAdapter) Stream(prompt string, params llm.Params, format llm.ResponseFormat, onToken llm.OnToken) (string, llm.Usage, error) {
	return "", llm.Usage{}, nil
}

func (f *fakeAdapter) Embed(texts []string, model string) ([][]float64, error) {
	return nil, nil
}

func TestGenerateEditRetriesOnInvalidDiff(t *testing.T) {
	adapter := &fakeAdapter{responses: []string{
		"not a diff at all",
		"--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-old\n+new\n",
	}}
	g := New(adapter, 10, 2)
	diff, err := g.Generate(Request{
		Path:       "x",
		Original:   "old\n",
		Goal:       "fix x",
		Reason:     "correct typo",
		FileExists: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, reason := Validate(diff, 10); !ok {
		t.Errorf("expected final diff to validate: %s", reason)
	}
	if adapter.calls != 2 {
		t.Errorf("expected 2 calls (1 retry), got %d", adapter.calls)
	}
}

func TestGenerateEditFailsAfterExhaustingRetries(t *testing.T) {
	adapter := &fakeAdapter{responses: []string{"bad", "still bad", "still bad"}}
	g := New(adapter, 10, 2)
	_, err := g.Generate(Request{
		Path:       "x",
		Original:   "old\n",
		FileExists: true,
	})
	if err == nil {
		t.Fatal("expected Failed error after exhausting retries")
	}
}
