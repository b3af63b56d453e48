package service

import (
	"context"
	"fmt"

	"github.com/flowsmith-ai/flowsmith/internal/core"
	"github.com/flowsmith-ai/flowsmith/internal/logging"
)

// Allocator assigns isolation slots to tenants from the fixed pool.
// All assignment goes through the store's atomic conditional claim, so
// concurrent signups can never double-book a slot; losing a claim race
// just moves the scan to the next candidate.
type Allocator struct {
	slots  core.SlotStore
	logger *logging.Logger
}

// NewAllocator creates a slot allocator.
func NewAllocator(slots core.SlotStore, logger *logging.Logger) *Allocator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Allocator{slots: slots, logger: logger}
}

// ClaimSlot returns the tenant's slot, claiming one from the pool if the
// tenant holds none. Idempotent per tenant: a tenant that already holds
// a slot gets the same slot back. A fully assigned pool returns the
// slot-exhaustion error; callers surface it as a capacity problem, not
// a retryable fault.
func (a *Allocator) ClaimSlot(ctx context.Context, tenantID string) (*core.TenantSlot, error) {
	if tenantID == "" {
		return nil, core.ErrValidation(core.CodeInvalidState, "tenant id is empty")
	}

	if existing, err := a.slots.SlotFor(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("looking up slot for %s: %w", tenantID, err)
	} else if existing != nil {
		return existing, nil
	}

	pool, err := a.slots.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing slot pool: %w", err)
	}

	for _, candidate := range pool {
		if !candidate.Free() {
			continue
		}
		claimed, err := a.slots.ClaimSlot(ctx, candidate.ProjectIndex, candidate.SlotIndex, tenantID)
		if err != nil {
			return nil, fmt.Errorf("claiming slot %s: %w", candidate.Key(), err)
		}
		if !claimed {
			// Lost the race for this slot. Another signup may also have
			// claimed on behalf of this same tenant; re-check before
			// trying the next candidate.
			if existing, err := a.slots.SlotFor(ctx, tenantID); err == nil && existing != nil {
				return existing, nil
			}
			continue
		}
		a.logger.WithTenant(tenantID).Info("slot claimed", "slot", candidate.Key())
		return a.slots.SlotFor(ctx, tenantID)
	}

	a.logger.WithTenant(tenantID).Warn("slot pool exhausted", "pool_size", len(pool))
	return nil, core.ErrSlotsExhausted(len(pool))
}

// SlotFor returns the slot held by a tenant, or nil if none.
func (a *Allocator) SlotFor(ctx context.Context, tenantID string) (*core.TenantSlot, error) {
	return a.slots.SlotFor(ctx, tenantID)
}

// Release frees the tenant's slot. Used for teardown; active tenants
// keep their slot for life.
func (a *Allocator) Release(ctx context.Context, tenantID string) error {
	return a.slots.ReleaseSlot(ctx, tenantID)
}
