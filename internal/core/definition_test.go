package core

import "testing"

func sampleDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name: "t0s0-alpice-daily-report",
		Nodes: []Node{
			{ID: "trigger", Name: "Schedule", Type: "schedule", Parameters: map[string]interface{}{"cron": "0 9 * * *"}},
			{ID: "step-1", Name: "Fetch", Type: "http_request", Parameters: map[string]interface{}{"url": "https://example.com"}},
		},
		Connections: []Connection{{From: "trigger", To: "step-1"}},
		Metadata:    map[string]string{"tenant": "alpice"},
	}
}

func TestDefinition_Validate(t *testing.T) {
	def := sampleDefinition()
	if err := def.Validate("t0s0-alpice"); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	if err := def.Validate("t1s1-bob"); err == nil {
		t.Fatalf("expected rejection for wrong tenant tag")
	}

	dup := sampleDefinition()
	dup.Nodes = append(dup.Nodes, Node{ID: "trigger", Type: "manual"})
	if err := dup.Validate("t0s0-alpice"); err == nil {
		t.Fatalf("expected rejection for duplicate node id")
	}

	dangling := sampleDefinition()
	dangling.Connections = append(dangling.Connections, Connection{From: "step-1", To: "ghost"})
	if err := dangling.Validate("t0s0-alpice"); err == nil {
		t.Fatalf("expected rejection for dangling connection")
	}

	empty := &WorkflowDefinition{Name: "t0s0-alpice-x"}
	if err := empty.Validate("t0s0-alpice"); err == nil {
		t.Fatalf("expected rejection for empty definition")
	}
}

func TestDefinition_Clone(t *testing.T) {
	def := sampleDefinition()
	clone := def.Clone()

	clone.Nodes[0].Parameters["cron"] = "changed"
	clone.Connections[0].To = "changed"
	clone.Metadata["tenant"] = "changed"

	if def.Nodes[0].Parameters["cron"] != "0 9 * * *" {
		t.Fatalf("clone shares node parameters with original")
	}
	if def.Connections[0].To != "step-1" {
		t.Fatalf("clone shares connections with original")
	}
	if def.Metadata["tenant"] != "alpice" {
		t.Fatalf("clone shares metadata with original")
	}
}

func TestDefinition_Connected(t *testing.T) {
	def := sampleDefinition()
	if !def.Connected("trigger") || !def.Connected("step-1") {
		t.Fatalf("expected both nodes to be connected")
	}
	if def.Connected("ghost") {
		t.Fatalf("unknown node reported connected")
	}
}

func TestSlot_Tag(t *testing.T) {
	slot := &TenantSlot{ProjectIndex: 2, SlotIndex: 7, TenantID: "0123456789abcdef"}
	if got := slot.Tag(); got != "t2s7-01234567" {
		t.Fatalf("Tag() = %q", got)
	}
	free := &TenantSlot{ProjectIndex: 0, SlotIndex: 1}
	if !free.Free() {
		t.Fatalf("expected unassigned slot to be free")
	}
}
