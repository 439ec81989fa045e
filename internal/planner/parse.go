package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/types"
)

// rawStep accepts both a step-object and a bare string, tolerating looser
// LLM output shapes.
type rawStep struct {
	StepID            *int     `json:"step_id"`
	Action            string   `json:"action"`
	Path              string   `json:"path"`
	Content           string   `json:"content"`
	Diff              string   `json:"diff"`
	Command           string   `json:"command"`
	Program           string   `json:"program"`
	Args              []string `json:"args"`
	Reason            string   `json:"reason"`
	DependsOn         []int    `json:"depends_on"`
	AcceptedExitCodes []int    `json:"accepted_exit_codes"`
	AllowFailure      bool     `json:"allow_failure"`
}

// UnmarshalJSON lets a step be either an object or a bare string, per
// §4.7: "accept both step-objects and bare strings (bare strings become
// {step_id, action=string, reason=string, depends_on=[]})".
func (r *rawStep) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Action = s
		r.Reason = s
		return nil
	}
	type alias rawStep
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = rawStep(a)
	return nil
}

type rawPlan struct {
	PlanID           string    `json:"plan_id"`
	Confidence       any       `json:"confidence"`
	Steps            []rawStep `json:"steps"`
	Blockers         []string  `json:"blockers"`
	Assumptions      []string  `json:"assumptions"`
	SuccessCriteria  []string  `json:"success_criteria"`
	RollbackStrategy string    `json:"rollback_strategy"`
}

// extractJSONObject extracts the outermost {...} span from s, tolerating
// leading/trailing prose the LLM may have emitted despite instructions.
func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("planner: no JSON object found in response")
	}
	return s[start : end+1], nil
}

// normalizeConfidence accepts both a 0..1 float and a 0..100 number,
// scaling the former to the 0..100 integer range §4.7 requires.
func normalizeConfidence(raw any) int {
	switch v := raw.(type) {
	case float64:
		if v > 0 && v <= 1 {
			return int(v * 100)
		}
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// ParsePlan strips fences, extracts the outermost JSON object, parses it,
// and normalizes confidence — the pipeline §4.7 specifies.
func ParsePlan(raw string, goal string) (types.Plan, error) {
	stripped := llm.StripFences(raw)
	obj, err := extractJSONObject(stripped)
	if err != nil {
		return types.Plan{}, fmt.Errorf("planner: %w", err)
	}

	var rp rawPlan
	if err := json.Unmarshal([]byte(obj), &rp); err != nil {
		return types.Plan{}, fmt.Errorf("planner: parse plan JSON: %w", err)
	}

	steps := make([]types.Step, 0, len(rp.Steps))
	for i, rs := range rp.Steps {
		stepID := i + 1
		if rs.StepID != nil {
			stepID = *rs.StepID
		}
		steps = append(steps, types.Step{
			StepID:            stepID,
			Action:            types.Action(rs.Action),
			Path:              rs.Path,
			Content:           rs.Content,
			Diff:              rs.Diff,
			Command:           rs.Command,
			Program:           rs.Program,
			Args:              rs.Args,
			Reason:            rs.Reason,
			DependsOn:         rs.DependsOn,
			AcceptedExitCodes: rs.AcceptedExitCodes,
			AllowFailure:      rs.AllowFailure,
		})
	}

	return types.Plan{
		PlanID:           rp.PlanID,
		Goal:             goal,
		Confidence:       normalizeConfidence(rp.Confidence),
		Steps:            steps,
		Blockers:         rp.Blockers,
		Assumptions:      rp.Assumptions,
		SuccessCriteria:  rp.SuccessCriteria,
		RollbackStrategy: rp.RollbackStrategy,
	}, nil
}
