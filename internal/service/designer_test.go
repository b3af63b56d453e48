package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

func newTestDesigner(t *testing.T) *Designer {
	t.Helper()
	d, err := NewDesigner()
	if err != nil {
		t.Fatalf("NewDesigner: %v", err)
	}
	return d
}

func TestDesign_BuildsChain(t *testing.T) {
	designer := newTestDesigner(t)
	slot := testSlot("alpice")
	req := &core.Requirements{
		Name:        "Daily Report",
		TriggerType: "webhook",
		Actions: []core.ActionSpec{
			{Capability: "http_request", Params: map[string]string{"url": "https://example.com/data"}},
			{Capability: "send_email", Params: map[string]string{"to": "ops@example.com"}},
		},
	}

	def, err := designer.Design(slot, req)
	if err != nil {
		t.Fatalf("design error: %v", err)
	}

	if !strings.HasPrefix(def.Name, slot.Tag()) {
		t.Fatalf("name %q missing tenant tag %q", def.Name, slot.Tag())
	}
	if def.Name != slot.Tag()+"-daily-report" {
		t.Fatalf("unexpected name %q", def.Name)
	}
	if len(def.Nodes) != 3 {
		t.Fatalf("expected trigger + 2 actions, got %d nodes", len(def.Nodes))
	}
	if def.Nodes[0].Type != "webhook" {
		t.Fatalf("trigger type = %q", def.Nodes[0].Type)
	}
	if len(def.Connections) != 2 {
		t.Fatalf("expected chain of 2 connections, got %d", len(def.Connections))
	}
	if def.Connections[0].From != "trigger" || def.Connections[1].To != "step-2" {
		t.Fatalf("chain misordered: %v", def.Connections)
	}
	if def.Nodes[1].Parameters["url"] != "https://example.com/data" {
		t.Fatalf("requester params not applied")
	}
}

func TestDesign_Deterministic(t *testing.T) {
	designer := newTestDesigner(t)
	slot := testSlot("alpice")
	req := &core.Requirements{
		Name:        "sync",
		TriggerType: "manual",
		Actions:     []core.ActionSpec{{Capability: "transform"}},
	}

	first, err := designer.Design(slot, req)
	if err != nil {
		t.Fatalf("design error: %v", err)
	}
	second, err := designer.Design(slot, req)
	if err != nil {
		t.Fatalf("design error: %v", err)
	}
	if first.Name != second.Name || len(first.Nodes) != len(second.Nodes) {
		t.Fatalf("design is not deterministic")
	}
}

func TestDesign_UnsupportedTriggerNamed(t *testing.T) {
	designer := newTestDesigner(t)
	req := &core.Requirements{
		Name:        "x",
		TriggerType: "fax_received",
		Actions:     []core.ActionSpec{{Capability: "transform"}},
	}

	_, err := designer.Design(testSlot("alpice"), req)
	var de *core.DesignError
	if !errors.As(err, &de) {
		t.Fatalf("expected DesignError, got %v", err)
	}
	if de.Unsupported != "fax_received" {
		t.Fatalf("unsupported capability not named: %+v", de)
	}
	if len(de.Alternatives) == 0 {
		t.Fatalf("expected supported alternatives to be listed")
	}
}

func TestDesign_UnsupportedActionNamed(t *testing.T) {
	designer := newTestDesigner(t)
	req := &core.Requirements{
		Name:        "x",
		TriggerType: "manual",
		Actions:     []core.ActionSpec{{Capability: "teleport"}},
	}

	_, err := designer.Design(testSlot("alpice"), req)
	var de *core.DesignError
	if !errors.As(err, &de) || de.Unsupported != "teleport" {
		t.Fatalf("unsupported action not named: %v", err)
	}
}

func TestDesign_MissingRequiredField(t *testing.T) {
	designer := newTestDesigner(t)
	// schedule trigger requires a schedule expression
	req := &core.Requirements{
		Name:        "nightly",
		TriggerType: "schedule",
		Actions:     []core.ActionSpec{{Capability: "transform"}},
	}

	_, err := designer.Design(testSlot("alpice"), req)
	var de *core.DesignError
	if !errors.As(err, &de) {
		t.Fatalf("expected DesignError for missing schedule, got %v", err)
	}
	if de.Unsupported != "" {
		t.Fatalf("missing field misreported as unsupported capability")
	}

	req.Schedule = "0 2 * * *"
	def, err := designer.Design(testSlot("alpice"), req)
	if err != nil {
		t.Fatalf("design error with schedule present: %v", err)
	}
	if def.Nodes[0].Parameters["cron"] != "0 2 * * *" {
		t.Fatalf("schedule not applied to trigger")
	}
}

func TestDesign_IncompleteRequirements(t *testing.T) {
	designer := newTestDesigner(t)
	_, err := designer.Design(testSlot("alpice"), &core.Requirements{Name: "x"})
	var de *core.DesignError
	if !errors.As(err, &de) {
		t.Fatalf("expected DesignError for incomplete requirements")
	}
}

func TestDesign_RequiresSlot(t *testing.T) {
	designer := newTestDesigner(t)
	req := &core.Requirements{
		Name:        "x",
		TriggerType: "manual",
		Actions:     []core.ActionSpec{{Capability: "transform"}},
	}
	if _, err := designer.Design(nil, req); err == nil {
		t.Fatalf("expected error for nil slot")
	}
	if _, err := designer.Design(&core.TenantSlot{}, req); err == nil {
		t.Fatalf("expected error for unassigned slot")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Daily Report":      "daily-report",
		"  spaced  out  ":   "spaced-out",
		"Ops: alert! (v2)":  "ops-alert-v2",
		"already-slugified": "already-slugified",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
