// Package tools implements the ToolRegistry and ToolBus (§4.5): the only
// execution surface for filesystem and process operations.
package tools

import (
	"fmt"

	"github.com/loopworks/agentcore/internal/types"
)

// Schema describes the required string-keyed fields a tool's
// args must carry. This is a deliberately small stand-in for a JSON-schema
// validator: required-field presence checking is the stdlib-only choice
// here (see DESIGN.md).
type Schema struct {
	Required []string
}

// Validate returns an error naming the first missing required field, or nil
// if args satisfy the schema.
func (s Schema) Validate(args map[string]any) error {
	for _, key := range s.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("tools: missing required field %q", key)
		}
	}
	return nil
}

// Def is a registered tool's static description plus its schema and handler
// binding. HandlerID maps to a function at registry-construction time — no
// reflection, replacing dynamic `send` dispatch.
type Def struct {
	Tool    types.Tool
	Schema  Schema
	Handler func(bus *ToolBus, args map[string]any) (any, error)
}

// Registry is the total, fixed set of tools the ToolBus may dispatch to.
type Registry struct {
	defs map[string]Def
}

// NewRegistry builds the registry with the five tools §4.5 names plus
// BOOTSTRAP_REPO.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Def)}
	r.register(readDef())
	r.register(createDef())
	r.register(writeDiffDef())
	r.register(deleteDef())
	r.register(execRunDef())
	r.register(bootstrapDef())
	return r
}

func (r *Registry) register(d Def) {
	r.defs[d.Tool.Name] = d
}

// Lookup returns the Def for name, or ok=false if no such tool is registered.
func (r *Registry) Lookup(name string) (Def, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Visible reports whether name is registered and visible in phase.
func (r *Registry) Visible(name string, phase types.Phase) bool {
	d, ok := r.defs[name]
	if !ok {
		return false
	}
	return d.Tool.PhaseVisibility[phase]
}

func allPhases() map[types.Phase]bool {
	return map[types.Phase]bool{
		types.PhasePlanning:  true,
		types.PhaseExecution: true,
	}
}
