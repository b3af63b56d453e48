package service

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

//go:embed templates.yaml
var templatesYAML []byte

// nodeTemplate is one entry in the capability table.
type nodeTemplate struct {
	Type       string            `yaml:"type"`
	Requires   []string          `yaml:"requires"`
	Parameters map[string]string `yaml:"parameters"`
}

// capabilityTable maps requirement capabilities to engine node shapes.
type capabilityTable struct {
	Triggers map[string]nodeTemplate `yaml:"triggers"`
	Actions  map[string]nodeTemplate `yaml:"actions"`
}

// Designer converts accumulated requirements into a workflow definition
// conforming to the engine's schema. It performs no network I/O and is
// deterministic: unrecognized capabilities fail design with the
// capability named, never silently dropped.
type Designer struct {
	table capabilityTable
}

// NewDesigner creates a designer from the embedded capability table.
func NewDesigner() (*Designer, error) {
	var table capabilityTable
	if err := yaml.Unmarshal(templatesYAML, &table); err != nil {
		return nil, fmt.Errorf("parsing capability table: %w", err)
	}
	if len(table.Triggers) == 0 || len(table.Actions) == 0 {
		return nil, fmt.Errorf("capability table is incomplete")
	}
	return &Designer{table: table}, nil
}

// SupportedTriggers returns the trigger capabilities in sorted order.
func (d *Designer) SupportedTriggers() []string {
	return sortedKeys(d.table.Triggers)
}

// SupportedActions returns the action capabilities in sorted order.
func (d *Designer) SupportedActions() []string {
	return sortedKeys(d.table.Actions)
}

// Supports reports whether a capability is known, as trigger or action.
func (d *Designer) Supports(capability string) bool {
	if _, ok := d.table.Triggers[capability]; ok {
		return true
	}
	_, ok := d.table.Actions[capability]
	return ok
}

// Design shapes the requirements into a definition. The workflow name is
// prefixed with the slot tag so the engine-side listing stays tenant
// scoped. Malformed or missing required fields fail deterministically
// rather than producing a partially-formed definition.
func (d *Designer) Design(slot *core.TenantSlot, req *core.Requirements) (*core.WorkflowDefinition, error) {
	if slot == nil || slot.Free() {
		return nil, &core.DesignError{Message: "no tenant slot assigned"}
	}
	if !req.Complete() {
		return nil, &core.DesignError{
			Message: "requirements incomplete: missing " + strings.Join(req.MissingFields(), ", "),
		}
	}

	trigger, ok := d.table.Triggers[req.TriggerType]
	if !ok {
		return nil, &core.DesignError{
			Unsupported:  req.TriggerType,
			Alternatives: d.SupportedTriggers(),
		}
	}

	def := &core.WorkflowDefinition{
		Name: slot.Tag() + "-" + slugify(req.Name),
		Metadata: map[string]string{
			"tenant": slot.TenantID,
			"slot":   slot.Key(),
		},
	}

	triggerNode, err := buildNode("trigger", req.TriggerType, trigger, triggerFacts(req))
	if err != nil {
		return nil, err
	}
	triggerNode.Position = [2]int{0, 0}
	def.Nodes = append(def.Nodes, *triggerNode)

	prev := triggerNode.ID
	for i, action := range req.Actions {
		tmpl, ok := d.table.Actions[action.Capability]
		if !ok {
			return nil, &core.DesignError{
				Unsupported:  action.Capability,
				Alternatives: d.SupportedActions(),
			}
		}
		id := fmt.Sprintf("step-%d", i+1)
		node, err := buildNode(id, action.Capability, tmpl, action.Params)
		if err != nil {
			return nil, err
		}
		node.Position = [2]int{(i + 1) * 200, 0}
		def.Nodes = append(def.Nodes, *node)
		def.Connections = append(def.Connections, core.Connection{From: prev, To: id})
		prev = id
	}

	if err := def.Validate(slot.Tag()); err != nil {
		return nil, &core.DesignError{Message: "definition failed validation", Cause: err}
	}
	return def, nil
}

// buildNode instantiates a template, overlaying requester-supplied
// params and enforcing the template's required fields.
func buildNode(id, capability string, tmpl nodeTemplate, facts map[string]string) (*core.Node, error) {
	params := make(map[string]interface{}, len(tmpl.Parameters))
	for k, v := range tmpl.Parameters {
		params[k] = v
	}
	for k, v := range facts {
		params[k] = v
	}
	for _, required := range tmpl.Requires {
		v, ok := params[required].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return nil, &core.DesignError{
				Message: fmt.Sprintf("capability %s requires field %q", capability, required),
			}
		}
	}
	return &core.Node{
		ID:         id,
		Name:       strings.ReplaceAll(capability, "_", " "),
		Type:       tmpl.Type,
		Parameters: params,
	}, nil
}

// triggerFacts pulls trigger-scoped facts out of the requirements.
func triggerFacts(req *core.Requirements) map[string]string {
	facts := make(map[string]string)
	if req.Schedule != "" {
		facts["cron"] = req.Schedule
		facts["schedule"] = req.Schedule
	}
	return facts
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify normalizes a workflow display name into a name token.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func sortedKeys(m map[string]nodeTemplate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
