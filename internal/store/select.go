// ABOUTME: Once-per-process choice of the authoritative target store
// ABOUTME: Uses the relational store only when its migration marker is readable

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SelectConfig describes both candidate backends.
type SelectConfig struct {
	ConfigDir       string
	Driver          string
	DSN             string
	BackupRetention int
}

// Selection records which backend was chosen and why. It is an immutable
// value; callers that need a new decision call Select again.
type Selection struct {
	Backend   Backend
	Reason    string
	DecidedAt time.Time
}

// Select opens the authoritative store. The relational store wins only when
// it is reachable and carries the migration marker. Any failure on that path
// is logged and the flat-file store is returned instead; only a failure to
// open the flat-file store itself is an error.
func Select(ctx context.Context, cfg SelectConfig) (Store, Selection, error) {
	logger := slog.Default().With("component", "store")

	files, err := NewFileStore(cfg.ConfigDir, WithBackupRetention(cfg.BackupRetention))
	if err != nil {
		return nil, Selection{}, fmt.Errorf("opening file store: %w", err)
	}
	fallback := func(reason string) (Store, Selection, error) {
		return files, Selection{Backend: BackendFile, Reason: reason, DecidedAt: time.Now()}, nil
	}

	if cfg.DSN == "" {
		return fallback("no database configured")
	}

	db, err := NewSQLStore(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		logger.Warn("database unavailable, using flat files", "error", err)
		return fallback(fmt.Sprintf("database unavailable: %v", err))
	}

	marker, err := db.GetMetadata(ctx, MigrationMarkerKey)
	if err != nil {
		db.Close()
		if errors.Is(err, ErrNotFound) {
			logger.Info("database not migrated, using flat files")
			return fallback("migration not completed")
		}
		logger.Warn("reading migration marker failed, using flat files", "error", err)
		return fallback(fmt.Sprintf("reading migration marker: %v", err))
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		logger.Warn("database schema upgrade failed, using flat files", "error", err)
		return fallback(fmt.Sprintf("schema upgrade: %v", err))
	}

	logger.Info("using database store", "driver", db.Driver(), "migrated_at", marker)
	return db, Selection{Backend: BackendSQL, Reason: "migration completed " + marker, DecidedAt: time.Now()}, nil
}
