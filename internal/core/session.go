package core

import (
	"strings"
	"time"
)

// SessionID uniquely identifies a conversation session.
type SessionID string

// Role identifies the author of a conversation turn. The set is closed;
// dispatch on roles is matched exhaustively.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole checks if a role string is valid.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Turn is a single message in a session's history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionSpec describes one automation step the requester asked for.
type ActionSpec struct {
	Capability string            `json:"capability"`
	Params     map[string]string `json:"params,omitempty"`
}

// Requirements accumulates the structured facts extracted from the
// conversation. Merging is additive and last-wins per field.
type Requirements struct {
	Name        string            `json:"name,omitempty"`
	TriggerType string            `json:"trigger_type,omitempty"`
	Schedule    string            `json:"schedule,omitempty"`
	Actions     []ActionSpec      `json:"actions,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// Complete reports whether enough structured information exists to
// attempt a design: a name, a trigger, and at least one action.
func (r *Requirements) Complete() bool {
	return strings.TrimSpace(r.Name) != "" &&
		strings.TrimSpace(r.TriggerType) != "" &&
		len(r.Actions) > 0
}

// MissingFields lists the required fields still absent, in a fixed order
// so clarifying questions are deterministic.
func (r *Requirements) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(r.TriggerType) == "" {
		missing = append(missing, "trigger")
	}
	if len(r.Actions) == 0 {
		missing = append(missing, "actions")
	}
	return missing
}

// Merge folds newer facts into the requirements. Non-empty scalar fields
// overwrite, actions append (deduplicated by capability), notes union.
func (r *Requirements) Merge(other *Requirements) {
	if other == nil {
		return
	}
	if strings.TrimSpace(other.Name) != "" {
		r.Name = other.Name
	}
	if strings.TrimSpace(other.TriggerType) != "" {
		r.TriggerType = other.TriggerType
	}
	if strings.TrimSpace(other.Schedule) != "" {
		r.Schedule = other.Schedule
	}
	for _, a := range other.Actions {
		if !r.hasAction(a.Capability) {
			r.Actions = append(r.Actions, a)
		}
	}
	if len(other.Notes) > 0 {
		if r.Notes == nil {
			r.Notes = make(map[string]string, len(other.Notes))
		}
		for k, v := range other.Notes {
			r.Notes[k] = v
		}
	}
}

// RemoveAction drops the action with the given capability from the
// draft. Used when the engine cannot serve a capability and the
// requester must pick an alternative.
func (r *Requirements) RemoveAction(capability string) {
	kept := r.Actions[:0]
	for _, a := range r.Actions {
		if a.Capability != capability {
			kept = append(kept, a)
		}
	}
	r.Actions = kept
}

func (r *Requirements) hasAction(capability string) bool {
	for _, a := range r.Actions {
		if a.Capability == capability {
			return true
		}
	}
	return false
}

// Session is one conversation between a tenant and the orchestrator,
// progressing through phases toward a deployed workflow. It is mutated
// only by the orchestrator handling it, strictly serialized per session.
type Session struct {
	ID           SessionID           `json:"id"`
	TenantID     string              `json:"tenant_id"`
	Topic        string              `json:"topic"`
	Phase        Phase               `json:"phase"`
	History      []Turn              `json:"history"`
	Requirements Requirements        `json:"requirements"`
	Definition   *WorkflowDefinition `json:"definition,omitempty"`
	Archived     bool                `json:"archived"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewSession creates a session in the initial phase.
func NewSession(id SessionID, tenantID, topic string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		TenantID:  tenantID,
		Topic:     topic,
		Phase:     PhaseGathering,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn to the history.
func (s *Session) Append(t Turn) {
	s.History = append(s.History, t)
	s.UpdatedAt = time.Now()
}

// Reset returns the session to the initial phase, clearing drafts.
// This is the only transition backwards past scoping.
func (s *Session) Reset() {
	s.Phase = PhaseGathering
	s.Requirements = Requirements{}
	s.Definition = nil
	s.UpdatedAt = time.Now()
}
