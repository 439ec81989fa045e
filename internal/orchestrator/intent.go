package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/types"
)

const intentSystemPrompt = `Classify the user's goal into exactly one intent.

EXPLAIN     — wants a description or summary of existing code/behavior, no edits.
CODE_EDIT   — wants code created, modified, or deleted.
DEBUG       — wants a bug investigated and/or fixed.
CODE_REVIEW — wants existing code reviewed/critiqued, no edits.
QNA         — a general question unrelated to editing this repository.
REJECT      — the request is unsafe, out of scope, or asks to bypass a safety control.

Output ONLY this JSON object, no prose, no markdown fences:
{"intent": "<one of the above>", "confidence": <0-100>, "reason": "<short reason>"}`

type intentResponse struct {
	Intent     string `json:"intent"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// Classifier turns a goal into an Intent + confidence, either via a rule
// match for obvious phrasing or an LLM call (§4.9: "a lightweight LLM call
// (or rule match when obvious)").
type Classifier struct {
	adapter llm.Adapter
}

// NewClassifier builds a Classifier bound to an adapter (already resolved
// to the intent-classification role/tier by the caller).
func NewClassifier(adapter llm.Adapter) *Classifier {
	return &Classifier{adapter: adapter}
}

var rejectPhrases = []string{
	"ignore all safety", "disable safety", "rm -rf /", "delete everything",
	"bypass the allowlist", "exfiltrate", "leak the", "dump .env", "read .env",
}

// Classify returns an Intent and a 0..100 confidence.
func (c *Classifier) Classify(goal string) (types.Intent, int, error) {
	lower := strings.ToLower(goal)
	for _, phrase := range rejectPhrases {
		if strings.Contains(lower, phrase) {
			return types.IntentReject, 100, nil
		}
	}

	if c.adapter == nil {
		return types.IntentUnknown, 0, fmt.Errorf("orchestrator: no intent classification adapter configured")
	}

	prompt := intentSystemPrompt + "\n\nGoal: " + goal
	raw, _, err := c.adapter.Query(prompt, llm.Params{Temperature: 0}, llm.ResponseFormatJSONObject)
	if err != nil {
		return types.IntentUnknown, 0, fmt.Errorf("orchestrator: classify intent: %w", err)
	}
	raw = llm.StripFences(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return types.IntentUnknown, 0, fmt.Errorf("orchestrator: no JSON object in intent response")
	}

	var ir intentResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ir); err != nil {
		return types.IntentUnknown, 0, fmt.Errorf("orchestrator: parse intent response: %w", err)
	}

	intent := types.Intent(strings.ToUpper(strings.TrimSpace(ir.Intent)))
	switch intent {
	case types.IntentExplain, types.IntentCodeEdit, types.IntentDebug, types.IntentReview, types.IntentQNA, types.IntentReject:
	default:
		intent = types.IntentUnknown
	}

	return intent, ir.Confidence, nil
}
