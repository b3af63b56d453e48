package state

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/flowsmith-ai/flowsmith/internal/config"
	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// New creates a store for the configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (core.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(".flowsmith", "flowsmith.db")
		}
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteStore(path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: sqlite, postgres)", cfg.Backend)
	}
}
