package core

import (
	"fmt"
	"strings"
)

// Node is a typed step in a workflow definition. The ID is stable within
// the definition; Type is the engine's node type tag.
type Node struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	Position   [2]int                 `json:"position"`
}

// Connection is a directed edge between two node ids.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// WorkflowDefinition is the structured graph submitted to the workflow
// engine. The Name always begins with the owning tenant's slot tag; the
// engine has no native tenant concept, so that prefix is the sole
// isolation signal. The definition is immutable once accepted; only the
// healer mutates it (via copy) while an attempt chain is pending.
type WorkflowDefinition struct {
	Name         string            `json:"name"`
	Nodes        []Node            `json:"nodes"`
	Connections  []Connection      `json:"connections"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Unrepairable bool              `json:"-"`
}

// Validate checks structural invariants: a tenant-tagged name, unique
// node ids, and connections whose endpoints exist.
func (d *WorkflowDefinition) Validate(slotTag string) error {
	if slotTag == "" || !strings.HasPrefix(d.Name, slotTag) {
		return ErrValidation(CodeInvalidState,
			fmt.Sprintf("workflow name %q does not carry tenant tag %q", d.Name, slotTag))
	}
	if len(d.Nodes) == 0 {
		return ErrValidation(CodeInvalidState, "definition has no nodes")
	}
	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return ErrValidation(CodeInvalidState, "node with empty id")
		}
		if seen[n.ID] {
			return ErrValidation(CodeInvalidState, "duplicate node id "+n.ID)
		}
		seen[n.ID] = true
	}
	for _, c := range d.Connections {
		if !seen[c.From] || !seen[c.To] {
			return ErrValidation(CodeInvalidState,
				fmt.Sprintf("connection %s->%s references unknown node", c.From, c.To))
		}
	}
	return nil
}

// Node returns the node with the given id, or nil.
func (d *WorkflowDefinition) Node(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Connected reports whether the node participates in any connection.
func (d *WorkflowDefinition) Connected(nodeID string) bool {
	for _, c := range d.Connections {
		if c.From == nodeID || c.To == nodeID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The healer works on clones so a submitted
// definition is never mutated in place.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	out := &WorkflowDefinition{
		Name:         d.Name,
		Unrepairable: d.Unrepairable,
	}
	out.Nodes = make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		out.Nodes[i] = n
		if n.Parameters != nil {
			params := make(map[string]interface{}, len(n.Parameters))
			for k, v := range n.Parameters {
				params[k] = v
			}
			out.Nodes[i].Parameters = params
		}
	}
	out.Connections = append([]Connection(nil), d.Connections...)
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// EngineWorkflow is the engine's record of an accepted definition.
type EngineWorkflow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	Endpoint string `json:"endpoint,omitempty"`
}
