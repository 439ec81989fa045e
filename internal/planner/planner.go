// Package planner implements the Planner and PlanValidator (§4.7): turning
// a goal plus retrieval context into a validated types.Plan, or a typed
// Failed when the model's proposal cannot be trusted.
package planner

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/loopworks/agentcore/internal/llm"
	"github.com/loopworks/agentcore/internal/safety"
	"github.com/loopworks/agentcore/internal/types"
)

// Planner drives the adapter to produce a plan and hands it to Validate.
type Planner struct {
	adapter llm.Adapter
	gate    *safety.Gate
}

// New builds a Planner bound to the given adapter (already resolved to the
// planner role/tier by the caller) and Safety gate.
func New(adapter llm.Adapter, gate *safety.Gate) *Planner {
	return &Planner{adapter: adapter, gate: gate}
}

// Input bundles everything PlanValidator needs about the current goal.
type Input struct {
	Goal           string
	Intent         types.Intent
	RetrievedFiles []string
	RepoEmpty      bool
	MinConfidence  int
}

// Plan queries the adapter, parses its response, and validates the result.
// On rejection it returns a *Failed describing the first rule that failed.
func (p *Planner) Plan(in Input) (types.Plan, error) {
	prompt := BuildPrompt(in.Goal, in.Intent, in.RetrievedFiles, in.RepoEmpty)

	raw, _, err := p.adapter.Query(prompt, llm.Params{Temperature: 0}, llm.ResponseFormatJSONObject)
	if err != nil {
		return types.Plan{}, fmt.Errorf("planner: query planning role: %w", err)
	}

	plan, err := ParsePlan(raw, in.Goal)
	if err != nil {
		return types.Plan{}, &Failed{Reason: err.Error()}
	}
	if plan.PlanID == "" {
		plan.PlanID = uuid.NewString()
	}

	plan.RetrievedFiles = in.RetrievedFiles

	return Validate(plan, ValidatorConfig{
		Gate:           p.gate,
		RetrievedFiles: in.RetrievedFiles,
		UserPrompt:     in.Goal,
		Intent:         in.Intent,
		RepoEmpty:      in.RepoEmpty,
		MinConfidence:  in.MinConfidence,
	})
}
