package core

import (
	"fmt"
	"time"
)

// TenantSlot is a pre-provisioned isolation namespace (project+folder
// pair) assignable to exactly one tenant. The pool is seeded up front
// with empty TenantID; assignment happens only through the store's
// atomic conditional claim.
type TenantSlot struct {
	ProjectIndex int        `json:"project_index"`
	SlotIndex    int        `json:"slot_index"`
	TenantID     string     `json:"tenant_id,omitempty"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
}

// Free reports whether the slot is unassigned.
func (s *TenantSlot) Free() bool {
	return s.TenantID == ""
}

// Key returns the slot's unique pool key.
func (s *TenantSlot) Key() string {
	return fmt.Sprintf("%d/%d", s.ProjectIndex, s.SlotIndex)
}

// Tag returns the tenant-identifying prefix stamped onto every workflow
// name deployed from this slot. The engine enforces no tenant concept,
// so this tag is the only isolation signal other components rely on.
func (s *TenantSlot) Tag() string {
	tenant := s.TenantID
	if len(tenant) > 8 {
		tenant = tenant[:8]
	}
	return fmt.Sprintf("t%ds%d-%s", s.ProjectIndex, s.SlotIndex, tenant)
}
