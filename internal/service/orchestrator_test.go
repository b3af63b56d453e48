package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

type orchestratorHarness struct {
	orch      *Orchestrator
	engine    *fakeEngine
	slots     *memSlots
	sessions  *memSessions
	completer *fakeCompleter
}

func newOrchestratorHarness(t *testing.T) *orchestratorHarness {
	t.Helper()
	sessions := newMemSessions()
	slots := newMemSlots()
	if err := slots.SeedSlots(context.Background(), 1, 2); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	engine := &fakeEngine{created: &core.EngineWorkflow{ID: "wf-9", Endpoint: "/webhook/xyz"}}
	completer := &fakeCompleter{err: errors.New("completer offline")}

	designer := newTestDesigner(t)
	coord := NewCoordinator(engine, newMemAttempts(), NewHealer(), fastPolicy(3), nil)
	orch := NewOrchestrator(sessions, completer, designer, coord, NewAllocator(slots, nil),
		DefaultOrchestratorConfig(), nil)

	return &orchestratorHarness{
		orch:      orch,
		engine:    engine,
		slots:     slots,
		sessions:  sessions,
		completer: completer,
	}
}

// extractionJSON shapes a completer reply the way the extraction prompt
// asks for.
func extractionJSON(name, trigger, action, paramKey, paramVal string) string {
	return fmt.Sprintf(
		`{"name": %q, "trigger_type": %q, "actions": [{"capability": %q, "params": {%q: %q}}]}`,
		name, trigger, action, paramKey, paramVal)
}

func (h *orchestratorHarness) send(t *testing.T, id core.SessionID, msg string) *TurnReply {
	t.Helper()
	reply, err := h.orch.HandleMessage(context.Background(), id, msg)
	if err != nil {
		t.Fatalf("HandleMessage(%q): %v", msg, err)
	}
	return reply
}

func TestHandleMessage_FullFlowDeploys(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.completer.err = nil
	h.completer.reply = extractionJSON("daily report", "webhook", "http_request", "url", "https://example.com")

	session, err := h.orch.CreateSession(context.Background(), "alpice", "reporting")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var phases []core.Phase
	msgs := []string{
		"I want a workflow",
		"that should be everything",
		"go ahead",
		"design it",
		"deploy it",
	}
	var last *TurnReply
	for _, msg := range msgs {
		last = h.send(t, session.ID, msg)
		phases = append(phases, last.Phase)
	}

	want := []core.Phase{
		core.PhaseScoping,
		core.PhaseValidating,
		core.PhaseDesigning,
		core.PhaseDeploying,
		core.PhaseCompleted,
	}
	for i, p := range want {
		if phases[i] != p {
			t.Fatalf("phase after message %d = %s, want %s (all: %v)", i+1, phases[i], p, phases)
		}
	}

	if last.Result == nil || !last.Result.Succeeded() {
		t.Fatalf("expected deployment result on final turn, got %+v", last.Result)
	}
	if last.Result.EngineID != "wf-9" {
		t.Fatalf("engine id = %q", last.Result.EngineID)
	}

	stored, _ := h.sessions.GetSession(context.Background(), session.ID)
	if stored.Definition == nil {
		t.Fatalf("definition not persisted")
	}
	slot, _ := h.slots.SlotFor(context.Background(), "alpice")
	if slot == nil {
		t.Fatalf("tenant slot was never claimed")
	}
	if !strings.HasPrefix(stored.Definition.Name, slot.Tag()) {
		t.Fatalf("deployed workflow %q missing slot tag %q", stored.Definition.Name, slot.Tag())
	}
	if len(stored.History) != 2*len(msgs) {
		t.Fatalf("history length = %d, want %d", len(stored.History), 2*len(msgs))
	}
}

func TestHandleMessage_PhasesNeverMoveBackwardWithoutCause(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.completer.err = nil
	h.completer.reply = extractionJSON("sync", "manual", "transform", "source", "return items")

	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")

	prev := core.PhaseOrder(core.PhaseGathering)
	for i := 0; i < 6; i++ {
		reply := h.send(t, session.ID, "continue")
		order := core.PhaseOrder(reply.Phase)
		if order < prev {
			t.Fatalf("phase regressed to %s after message %d", reply.Phase, i+1)
		}
		prev = order
	}
}

func TestHandleMessage_AsksClarifyingQuestions(t *testing.T) {
	h := newOrchestratorHarness(t) // completer offline, keyword fallback

	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")

	h.send(t, session.ID, "post to slack for me")
	reply := h.send(t, session.ID, "hmm")

	if reply.Phase != core.PhaseScoping {
		t.Fatalf("phase = %s, want scoping while facts are missing", reply.Phase)
	}
	// Name is the first missing field in the fixed ordering.
	if !strings.Contains(reply.Reply, "called") {
		t.Fatalf("expected a name question, got %q", reply.Reply)
	}

	reply = h.send(t, session.ID, `call it "slack pinger", use a webhook trigger`)
	if reply.Phase != core.PhaseValidating {
		t.Fatalf("phase = %s after facts complete, want validating", reply.Phase)
	}
}

func TestHandleMessage_UnsupportedCapabilityReturnsToScoping(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.completer.err = nil
	h.completer.reply = extractionJSON("pager", "webhook", "teleport", "dest", "mars")

	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")

	h.send(t, session.ID, "set it up")
	h.send(t, session.ID, "that's all")
	reply := h.send(t, session.ID, "check it")

	if reply.Phase != core.PhaseScoping {
		t.Fatalf("phase = %s, want scoping after unsupported capability", reply.Phase)
	}
	if !strings.Contains(reply.Reply, "teleport") {
		t.Fatalf("reply does not name the capability: %q", reply.Reply)
	}
	if !strings.Contains(reply.Reply, "http_request") {
		t.Fatalf("reply does not list supported alternatives: %q", reply.Reply)
	}

	stored, _ := h.sessions.GetSession(context.Background(), session.ID)
	for _, a := range stored.Requirements.Actions {
		if a.Capability == "teleport" {
			t.Fatalf("rejected capability still in the draft")
		}
	}

	// The requester picks a supported action; the flow proceeds to the end.
	h.completer.reply = extractionJSON("pager", "webhook", "slack_post", "channel", "#ops")
	phases := []core.Phase{
		h.send(t, session.ID, "use slack instead").Phase, // scoping -> validating
		h.send(t, session.ID, "ok").Phase,                // validating -> designing
		h.send(t, session.ID, "ok").Phase,                // designing -> deploying
		h.send(t, session.ID, "ok").Phase,                // deploying -> completed
	}
	want := []core.Phase{core.PhaseValidating, core.PhaseDesigning, core.PhaseDeploying, core.PhaseCompleted}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("recovery phase %d = %s, want %s", i+1, phases[i], want[i])
		}
	}
}

func TestHandleMessage_ResetClearsDraft(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.completer.err = nil
	h.completer.reply = extractionJSON("x", "webhook", "transform", "source", "return items")

	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")
	h.send(t, session.ID, "build it")
	h.send(t, session.ID, "done")

	reply := h.send(t, session.ID, "/reset")
	if reply.Phase != core.PhaseGathering {
		t.Fatalf("phase after reset = %s", reply.Phase)
	}

	stored, _ := h.sessions.GetSession(context.Background(), session.ID)
	if stored.Requirements.Complete() {
		t.Fatalf("requirements survived reset: %+v", stored.Requirements)
	}
	if stored.Definition != nil {
		t.Fatalf("definition survived reset")
	}
}

func TestHandleMessage_ResetEscapesFailedSession(t *testing.T) {
	h := newOrchestratorHarness(t)
	// Empty pool forces a terminal failure at the design step.
	h.slots.slots = map[string]*core.TenantSlot{}
	h.completer.err = nil
	h.completer.reply = extractionJSON("x", "webhook", "transform", "source", "s")

	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")
	h.send(t, session.ID, "build it")
	h.send(t, session.ID, "done")
	h.send(t, session.ID, "ok")
	reply := h.send(t, session.ID, "design") // slot claim fails

	if reply.Phase != core.PhaseFailed {
		t.Fatalf("phase = %s, want failed on slot exhaustion", reply.Phase)
	}

	reply = h.send(t, session.ID, "/reset")
	if reply.Phase != core.PhaseGathering {
		t.Fatalf("reset did not escape failed state, phase = %s", reply.Phase)
	}
}

func TestHandleMessage_ValidatesInput(t *testing.T) {
	h := newOrchestratorHarness(t)
	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")

	_, err := h.orch.HandleMessage(context.Background(), session.ID, "   ")
	var de *core.DomainError
	if !errors.As(err, &de) || de.Code != core.CodeEmptyMessage {
		t.Fatalf("expected empty-message error, got %v", err)
	}

	_, err = h.orch.HandleMessage(context.Background(), session.ID, strings.Repeat("a", core.MaxMessageLength+1))
	if !errors.As(err, &de) || de.Code != core.CodeMessageTooLong {
		t.Fatalf("expected too-long error, got %v", err)
	}
}

func TestHandleMessage_ArchivedSessionRefused(t *testing.T) {
	h := newOrchestratorHarness(t)
	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")

	if err := h.orch.AbandonSession(context.Background(), session.ID); err != nil {
		t.Fatalf("AbandonSession: %v", err)
	}
	if _, err := h.orch.HandleMessage(context.Background(), session.ID, "hello"); err == nil {
		t.Fatalf("expected archived session to refuse messages")
	}
}

func TestHandleMessage_SerializedPerSession(t *testing.T) {
	h := newOrchestratorHarness(t)
	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.HandleMessage(context.Background(), session.ID, fmt.Sprintf("message %d", i))
			if err != nil {
				t.Errorf("concurrent HandleMessage: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := h.sessions.GetSession(context.Background(), session.ID)
	if len(stored.History) != 2*n {
		t.Fatalf("history length = %d, want %d (one user and one assistant turn per message)",
			len(stored.History), 2*n)
	}
}

func TestHandleMessage_CompletedSessionIsTerminal(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.completer.err = nil
	h.completer.reply = extractionJSON("x", "webhook", "transform", "source", "s")

	session, _ := h.orch.CreateSession(context.Background(), "alpice", "")
	for i := 0; i < 5; i++ {
		h.send(t, session.ID, "go")
	}

	reply := h.send(t, session.ID, "one more")
	if reply.Phase != core.PhaseCompleted {
		t.Fatalf("completed session moved to %s", reply.Phase)
	}
	if h.engine.callCount() != 1 {
		t.Fatalf("completed session resubmitted the workflow (calls=%d)", h.engine.callCount())
	}
}

func TestKeywordExtract(t *testing.T) {
	facts := keywordExtract(`Call it "ops digest". Every morning, send an email to the team.`)
	if facts.Name != "ops digest" {
		t.Errorf("name = %q", facts.Name)
	}
	if facts.TriggerType != "schedule" {
		t.Errorf("trigger = %q", facts.TriggerType)
	}
	found := false
	for _, a := range facts.Actions {
		if a.Capability == "send_email" {
			found = true
		}
	}
	if !found {
		t.Errorf("send_email not extracted: %+v", facts.Actions)
	}
}

// ctxSessions rejects reads and writes once the context is done, the
// way a real database driver does.
type ctxSessions struct {
	*memSessions
}

func (c *ctxSessions) GetSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memSessions.GetSession(ctx, id)
}

func (c *ctxSessions) PutSession(ctx context.Context, s *core.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memSessions.PutSession(ctx, s)
}

// stallEngine never answers before the caller gives up.
type stallEngine struct{}

func (stallEngine) CreateWorkflow(ctx context.Context, def *core.WorkflowDefinition) (*core.EngineWorkflow, error) {
	<-ctx.Done()
	return nil, core.ErrTimeout("engine unresponsive").WithCause(ctx.Err())
}

func (stallEngine) GetWorkflow(ctx context.Context, id string) (*core.EngineWorkflow, error) {
	return nil, core.ErrTimeout("engine unresponsive")
}

func (stallEngine) DeleteWorkflow(ctx context.Context, id string) error { return nil }

func TestHandleMessage_SessionDeadlineDuringDeployEndsInFailed(t *testing.T) {
	sessions := &ctxSessions{newMemSessions()}
	slots := newMemSlots()
	if err := slots.SeedSlots(context.Background(), 1, 1); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	allocator := NewAllocator(slots, nil)
	slot, err := allocator.ClaimSlot(context.Background(), "alpice")
	if err != nil {
		t.Fatalf("claiming slot: %v", err)
	}

	coord := NewCoordinator(stallEngine{}, newMemAttempts(), NewHealer(), fastPolicy(3), nil)
	orch := NewOrchestrator(sessions, nil, newTestDesigner(t), coord, allocator,
		OrchestratorConfig{Deadline: 100 * time.Millisecond}, nil)

	session := core.NewSession("sess-deadline", "alpice", "reporting")
	session.Phase = core.PhaseDeploying
	session.Definition = testDefinition(slot)
	if err := sessions.PutSession(context.Background(), session); err != nil {
		t.Fatalf("storing session: %v", err)
	}

	reply, err := orch.HandleMessage(context.Background(), session.ID, "deploy it")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Phase != core.PhaseFailed {
		t.Fatalf("reply phase = %s, want %s", reply.Phase, core.PhaseFailed)
	}
	if reply.Result == nil || reply.Result.Classification != core.ClassTimeout {
		t.Fatalf("result = %+v, want timeout classification", reply.Result)
	}

	// The terminal transition survives the expired per-call deadline.
	stored, err := sessions.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Phase != core.PhaseFailed {
		t.Fatalf("stored phase = %s, want %s", stored.Phase, core.PhaseFailed)
	}
}

func TestNewOrchestrator_PartialConfigKeepsSetFields(t *testing.T) {
	orch := NewOrchestrator(newMemSessions(), nil, newTestDesigner(t), nil, nil,
		OrchestratorConfig{Deadline: 42 * time.Second}, nil)

	def := DefaultOrchestratorConfig()
	if orch.cfg.Deadline != 42*time.Second {
		t.Errorf("deadline = %s, want the configured 42s", orch.cfg.Deadline)
	}
	if orch.cfg.MaxHistory != def.MaxHistory {
		t.Errorf("max history = %d, want default %d", orch.cfg.MaxHistory, def.MaxHistory)
	}
	if orch.cfg.ExtractTimeout != def.ExtractTimeout {
		t.Errorf("extract timeout = %s, want default %s", orch.cfg.ExtractTimeout, def.ExtractTimeout)
	}
}

func TestSessionLocks_PrunedWhenIdle(t *testing.T) {
	h := newOrchestratorHarness(t)

	var ids []core.SessionID
	for i := 0; i < 3; i++ {
		session, err := h.orch.CreateSession(context.Background(), "alpice", "pruning")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, session.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id core.SessionID) {
				defer wg.Done()
				h.send(t, id, "tell me about webhooks")
			}(id)
		}
	}
	wg.Wait()

	h.orch.mu.Lock()
	n := len(h.orch.locks)
	h.orch.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock table holds %d entries with no calls in flight", n)
	}
}
