package service

import (
	"reflect"
	"testing"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

func TestHeal_StripsEngineOwnedFields(t *testing.T) {
	healer := NewHealer()
	def := &core.WorkflowDefinition{
		Name: "t0s0-alpice-x",
		Nodes: []core.Node{
			{ID: "trigger", Type: "webhook", Parameters: map[string]interface{}{
				"id":   "engine-assigned",
				"path": "/hook",
			}},
		},
		Metadata: map[string]string{"createdAt": "2026-01-01", "tenant": "alpice"},
	}

	healed, err := healer.Heal(def, core.ClassReadOnlyField)
	if err != nil {
		t.Fatalf("heal error: %v", err)
	}
	if _, ok := healed.Nodes[0].Parameters["id"]; ok {
		t.Fatalf("read-only field not stripped")
	}
	if healed.Nodes[0].Parameters["path"] != "/hook" {
		t.Fatalf("legitimate parameter lost")
	}
	if _, ok := healed.Metadata["createdAt"]; ok {
		t.Fatalf("read-only metadata not stripped")
	}
	if healed.Metadata["tenant"] != "alpice" {
		t.Fatalf("legitimate metadata lost")
	}

	// Original untouched.
	if _, ok := def.Nodes[0].Parameters["id"]; !ok {
		t.Fatalf("heal mutated its input")
	}
}

func TestHeal_NormalizesShapes(t *testing.T) {
	healer := NewHealer()
	def := &core.WorkflowDefinition{
		Name: "t0s0-alpice-x",
		Nodes: []core.Node{
			{ID: "trigger", Type: " Webhook "},
		},
	}

	healed, err := healer.Heal(def, core.ClassSchemaViolation)
	if err != nil {
		t.Fatalf("heal error: %v", err)
	}
	n := healed.Nodes[0]
	if n.Parameters == nil {
		t.Fatalf("nil parameters not coerced")
	}
	if n.Position == [2]int{} {
		t.Fatalf("zero position not defaulted")
	}
	if n.Type != "webhook" {
		t.Fatalf("type not canonicalized: %q", n.Type)
	}
	if n.Name != "trigger" {
		t.Fatalf("empty name not defaulted to id")
	}
}

func TestHeal_DropsDanglingConnections(t *testing.T) {
	healer := NewHealer()
	def := &core.WorkflowDefinition{
		Name: "t0s0-alpice-x",
		Nodes: []core.Node{
			{ID: "a", Type: "webhook"},
			{ID: "b", Type: "code"},
		},
		Connections: []core.Connection{
			{From: "a", To: "b"},
			{From: "b", To: "ghost"},
		},
	}

	healed, err := healer.Heal(def, core.ClassInvalidConnection)
	if err != nil {
		t.Fatalf("heal error: %v", err)
	}
	if len(healed.Connections) != 1 || healed.Connections[0].To != "b" {
		t.Fatalf("dangling connection not dropped: %v", healed.Connections)
	}
}

func TestHeal_RefusesToOrphan(t *testing.T) {
	healer := NewHealer()
	// Node b's only edge references a missing node: dropping it orphans b.
	def := &core.WorkflowDefinition{
		Name: "t0s0-alpice-x",
		Nodes: []core.Node{
			{ID: "a", Type: "webhook"},
			{ID: "b", Type: "code"},
		},
		Connections: []core.Connection{
			{From: "b", To: "ghost"},
		},
	}

	healed, err := healer.Heal(def, core.ClassInvalidConnection)
	if err == nil {
		t.Fatalf("expected unrepairable error")
	}
	if !healed.Unrepairable {
		t.Fatalf("definition not marked unrepairable")
	}
	var de *core.DesignError
	if !asDesignError(err, &de) {
		t.Fatalf("expected DesignError, got %T", err)
	}
}

func TestHeal_Idempotent(t *testing.T) {
	healer := NewHealer()
	def := &core.WorkflowDefinition{
		Name: "t0s0-alpice-x",
		Nodes: []core.Node{
			{ID: "trigger", Type: " Webhook ", Parameters: map[string]interface{}{
				"id":   "engine-assigned",
				"path": "/hook",
			}},
			{ID: "step-1", Type: "code"},
		},
		Connections: []core.Connection{
			{From: "trigger", To: "step-1"},
			{From: "step-1", To: "ghost"},
		},
	}

	classes := []core.Classification{
		core.ClassReadOnlyField,
		core.ClassSchemaViolation,
		core.ClassInvalidConnection,
		core.ClassTimeout,
		core.ClassRateLimited,
		core.ClassAuthFailure,
		core.ClassUnknown,
	}
	for _, c := range classes {
		once, err1 := healer.Heal(def, c)
		if err1 != nil {
			t.Fatalf("heal(%s) error: %v", c, err1)
		}
		twice, err2 := healer.Heal(once, c)
		if err2 != nil {
			t.Fatalf("second heal(%s) error: %v", c, err2)
		}
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("heal(%s) is not idempotent:\nonce:  %+v\ntwice: %+v", c, once, twice)
		}
	}
}

func TestHeal_UnhealableClassesAreNoOps(t *testing.T) {
	healer := NewHealer()
	def := testDefinition(testSlot("alpice"))

	for _, c := range []core.Classification{core.ClassTimeout, core.ClassRateLimited, core.ClassAuthFailure, core.ClassUnknown} {
		healed, err := healer.Heal(def, c)
		if err != nil {
			t.Fatalf("heal(%s) error: %v", c, err)
		}
		if !reflect.DeepEqual(def, healed) {
			t.Fatalf("heal(%s) modified the definition", c)
		}
	}
}

func asDesignError(err error, target **core.DesignError) bool {
	de, ok := err.(*core.DesignError)
	if ok {
		*target = de
	}
	return ok
}
