package service

import (
	"strings"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// engineOwnedFields are set by the engine on acceptance and rejected
// when present in a submission.
var engineOwnedFields = []string{"id", "webhookId", "createdAt", "updatedAt", "active"}

// defaultPosition is assigned to nodes whose position the schema
// normalizer finds missing.
var defaultPosition = [2]int{100, 100}

// Healer applies deterministic, idempotent repair transformations to a
// rejected workflow definition. Pure: no I/O, input never mutated.
type Healer struct{}

// NewHealer creates a healer.
func NewHealer() *Healer {
	return &Healer{}
}

// Heal returns a repaired copy of the definition for the given
// classification. Healing the result again with the same classification
// is a no-op. Unhealable classifications return the definition
// unchanged. An invalid-connection repair that would orphan a
// previously-connected node returns an unrepairable DesignError instead
// of a silently broken graph.
func (h *Healer) Heal(def *core.WorkflowDefinition, c core.Classification) (*core.WorkflowDefinition, error) {
	switch c {
	case core.ClassReadOnlyField:
		return h.stripEngineOwnedFields(def), nil
	case core.ClassSchemaViolation:
		return h.normalizeShapes(def), nil
	case core.ClassInvalidConnection:
		return h.dropDanglingConnections(def)
	default:
		return def, nil
	}
}

// stripEngineOwnedFields removes fields the engine owns from node
// parameters and definition metadata.
func (h *Healer) stripEngineOwnedFields(def *core.WorkflowDefinition) *core.WorkflowDefinition {
	out := def.Clone()
	for i := range out.Nodes {
		for _, f := range engineOwnedFields {
			delete(out.Nodes[i].Parameters, f)
		}
	}
	for _, f := range engineOwnedFields {
		delete(out.Metadata, f)
	}
	return out
}

// normalizeShapes coerces nodes and connections to the minimal required
// schema: nil parameter maps become empty, zero positions get defaults,
// node types are canonicalized to lower case.
func (h *Healer) normalizeShapes(def *core.WorkflowDefinition) *core.WorkflowDefinition {
	out := def.Clone()
	for i := range out.Nodes {
		n := &out.Nodes[i]
		if n.Parameters == nil {
			n.Parameters = map[string]interface{}{}
		}
		if n.Position == [2]int{} {
			n.Position = defaultPosition
		}
		n.Type = strings.ToLower(strings.TrimSpace(n.Type))
		if n.Name == "" {
			n.Name = n.ID
		}
	}
	return out
}

// dropDanglingConnections removes edges referencing non-existent node
// ids. If the drop would orphan a node that previously had an edge, the
// definition is marked unrepairable.
func (h *Healer) dropDanglingConnections(def *core.WorkflowDefinition) (*core.WorkflowDefinition, error) {
	out := def.Clone()

	kept := out.Connections[:0]
	dropped := false
	for _, c := range out.Connections {
		if out.Node(c.From) != nil && out.Node(c.To) != nil {
			kept = append(kept, c)
		} else {
			dropped = true
		}
	}
	out.Connections = kept
	if !dropped {
		return out, nil
	}

	for _, n := range out.Nodes {
		if def.Connected(n.ID) && !out.Connected(n.ID) {
			out.Unrepairable = true
			return out, &core.DesignError{
				Message: "removing invalid connections would orphan node " + n.ID,
			}
		}
	}
	return out, nil
}
