package core

import (
	"context"
	"time"
)

// SessionStore persists conversation sessions with read-after-write
// consistency.
type SessionStore interface {
	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id SessionID) (*Session, error)

	// PutSession inserts or replaces a session.
	PutSession(ctx context.Context, s *Session) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, id SessionID) error

	// ListSessions returns the sessions belonging to a tenant.
	ListSessions(ctx context.Context, tenantID string) ([]*Session, error)
}

// SlotStore owns the fixed tenant slot pool. Claim is the only write
// path for a slot's TenantID anywhere in the system.
type SlotStore interface {
	// SeedSlots pre-populates the pool with unassigned slots. Idempotent.
	SeedSlots(ctx context.Context, projects, slotsPerProject int) error

	// ListSlots returns the entire pool ordered by (projectIndex, slotIndex).
	ListSlots(ctx context.Context) ([]*TenantSlot, error)

	// SlotFor returns the slot held by a tenant, or nil if none.
	SlotFor(ctx context.Context, tenantID string) (*TenantSlot, error)

	// ClaimSlot atomically assigns the slot to the tenant if and only if
	// it is currently unassigned. Returns false when the conditional
	// update affected no rows (slot already taken).
	ClaimSlot(ctx context.Context, projectIndex, slotIndex int, tenantID string) (bool, error)

	// ReleaseSlot frees the slot held by a tenant.
	ReleaseSlot(ctx context.Context, tenantID string) error
}

// AttemptStore persists deployment attempt records.
type AttemptStore interface {
	// RecordAttempt inserts or updates an attempt record.
	RecordAttempt(ctx context.Context, a *DeploymentAttempt) error

	// ListAttempts returns the attempt chain for a workflow name in
	// submission order.
	ListAttempts(ctx context.Context, workflowName string) ([]*DeploymentAttempt, error)
}

// Store bundles the persistence ports behind one closable handle.
type Store interface {
	SessionStore
	SlotStore
	AttemptStore

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// EngineClient is the boundary to the external workflow engine. Errors
// come back as *DomainError with the Classification already assigned.
type EngineClient interface {
	// CreateWorkflow submits a definition. On acceptance the returned
	// record carries the engine-assigned id and invocation endpoint.
	CreateWorkflow(ctx context.Context, def *WorkflowDefinition) (*EngineWorkflow, error)

	// GetWorkflow fetches an accepted workflow's status.
	GetWorkflow(ctx context.Context, id string) (*EngineWorkflow, error)

	// DeleteWorkflow removes a workflow (cleanup and test teardown).
	DeleteWorkflow(ctx context.Context, id string) error
}

// CompletionMessage is one turn handed to the text-completion collaborator.
type CompletionMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest configures a single text completion.
type CompletionRequest struct {
	System      string
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Completion is the collaborator's response.
type Completion struct {
	Text       string
	TokensUsed int
}

// Completer is the text-completion collaborator. Implementations apply
// their own wrapping timeout independent of the provider's.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
