package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// Snapshot is an operator-facing dump of the slot pool and recent
// deployment activity. The engine side has no tenant concept, so this
// file is the authoritative record of which tenant owns which slot tag.
type Snapshot struct {
	ExportedAt time.Time          `json:"exported_at"`
	Slots      []*core.TenantSlot `json:"slots"`
}

// ExportSnapshot writes the current slot pool to path atomically. A
// half-written snapshot never becomes visible to readers.
func ExportSnapshot(ctx context.Context, store core.Store, path string) (*Snapshot, error) {
	slots, err := store.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading slot pool: %w", err)
	}

	snapshot := &Snapshot{
		ExportedAt: time.Now(),
		Slots:      slots,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	return snapshot, nil
}
