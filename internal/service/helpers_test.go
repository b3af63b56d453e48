package service

import (
	"context"
	"sort"
	"sync"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// fakeEngine returns scripted results per submission.
type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	defs    []*core.WorkflowDefinition
	script  []error // error per call; nil means accept
	created *core.EngineWorkflow
}

func (f *fakeEngine) CreateWorkflow(ctx context.Context, def *core.WorkflowDefinition) (*core.EngineWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, core.ErrTimeout("context done").WithCause(err)
	}
	idx := f.calls
	f.calls++
	f.defs = append(f.defs, def.Clone())
	if idx < len(f.script) && f.script[idx] != nil {
		return nil, f.script[idx]
	}
	wf := f.created
	if wf == nil {
		wf = &core.EngineWorkflow{ID: "wf-123", Name: def.Name, Active: true, Endpoint: "https://engine.local/hooks/wf-123"}
	}
	return wf, nil
}

func (f *fakeEngine) GetWorkflow(ctx context.Context, id string) (*core.EngineWorkflow, error) {
	return &core.EngineWorkflow{ID: id}, nil
}

func (f *fakeEngine) DeleteWorkflow(ctx context.Context, id string) error {
	return nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memAttempts records attempts in memory.
type memAttempts struct {
	mu      sync.Mutex
	records map[string]*core.DeploymentAttempt
	order   []string
}

func newMemAttempts() *memAttempts {
	return &memAttempts{records: make(map[string]*core.DeploymentAttempt)}
}

func (m *memAttempts) RecordAttempt(ctx context.Context, a *core.DeploymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.ID]; !ok {
		m.order = append(m.order, a.ID)
	}
	clone := *a
	m.records[a.ID] = &clone
	return nil
}

func (m *memAttempts) ListAttempts(ctx context.Context, workflowName string) ([]*core.DeploymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.DeploymentAttempt
	for _, id := range m.order {
		if m.records[id].WorkflowName == workflowName {
			out = append(out, m.records[id])
		}
	}
	return out, nil
}

// memSlots is an in-memory SlotStore with an honest conditional claim.
type memSlots struct {
	mu    sync.Mutex
	slots map[string]*core.TenantSlot
}

func newMemSlots() *memSlots {
	return &memSlots{slots: make(map[string]*core.TenantSlot)}
}

func (m *memSlots) SeedSlots(ctx context.Context, projects, slotsPerProject int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := 0; p < projects; p++ {
		for s := 0; s < slotsPerProject; s++ {
			slot := &core.TenantSlot{ProjectIndex: p, SlotIndex: s}
			if _, ok := m.slots[slot.Key()]; !ok {
				m.slots[slot.Key()] = slot
			}
		}
	}
	return nil
}

func (m *memSlots) ListSlots(ctx context.Context) ([]*core.TenantSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.TenantSlot, 0, len(m.slots))
	for _, s := range m.slots {
		clone := *s
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectIndex != out[j].ProjectIndex {
			return out[i].ProjectIndex < out[j].ProjectIndex
		}
		return out[i].SlotIndex < out[j].SlotIndex
	})
	return out, nil
}

func (m *memSlots) SlotFor(ctx context.Context, tenantID string) (*core.TenantSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.TenantID == tenantID && tenantID != "" {
			clone := *s
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memSlots) ClaimSlot(ctx context.Context, projectIndex, slotIndex int, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := (&core.TenantSlot{ProjectIndex: projectIndex, SlotIndex: slotIndex}).Key()
	slot, ok := m.slots[key]
	if !ok || slot.TenantID != "" {
		return false, nil
	}
	slot.TenantID = tenantID
	return true, nil
}

func (m *memSlots) ReleaseSlot(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.TenantID == tenantID {
			s.TenantID = ""
			s.AssignedAt = nil
		}
	}
	return nil
}

// memSessions stores sessions in memory.
type memSessions struct {
	mu       sync.Mutex
	sessions map[core.SessionID]*core.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[core.SessionID]*core.Session)}
}

func (m *memSessions) GetSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFound("session", string(id))
	}
	clone := *s
	return &clone, nil
}

func (m *memSessions) PutSession(ctx context.Context, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *memSessions) DeleteSession(ctx context.Context, id core.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) ListSessions(ctx context.Context, tenantID string) ([]*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Session
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

// fakeCompleter returns a fixed reply or error.
type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.Completion{Text: f.reply, TokensUsed: 42}, nil
}

// testSlot returns a claimed slot for deployment tests.
func testSlot(tenantID string) *core.TenantSlot {
	return &core.TenantSlot{ProjectIndex: 0, SlotIndex: 0, TenantID: tenantID}
}

// testDefinition returns a valid single-chain definition for the slot.
func testDefinition(slot *core.TenantSlot) *core.WorkflowDefinition {
	return &core.WorkflowDefinition{
		Name: slot.Tag() + "-report",
		Nodes: []core.Node{
			{ID: "trigger", Name: "Webhook", Type: "webhook", Parameters: map[string]interface{}{"path": "/report"}},
			{ID: "step-1", Name: "Fetch", Type: "http_request", Parameters: map[string]interface{}{"url": "https://example.com"}},
		},
		Connections: []core.Connection{{From: "trigger", To: "step-1"}},
	}
}
