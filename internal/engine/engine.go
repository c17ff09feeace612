// Package engine owns the robot store for the lifetime of a process: it
// opens the configured backend once, hands out the Store, moves export
// documents to and from disk, and releases everything on Close.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"robots-backend/config"
	"robots-backend/internal/db"
	"robots-backend/internal/errs"
	"robots-backend/internal/store"
	"robots-backend/internal/transfer"
	"robots-backend/internal/validation"
)

// Engine is an opened robot store.
type Engine struct {
	cfg    *config.Config
	log    zerolog.Logger
	db     *gorm.DB
	robots store.Store
	now    func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Open selects and opens the configured backend. A relational backend is
// migrated before Open returns; if migration fails no Engine is returned.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, log: log, now: time.Now}
	v := validation.Default()

	var s store.Store
	switch cfg.Storage.Backend {
	case "snapshot":
		s = store.OpenSnapshot(ctx, store.FileBlob{Path: cfg.Storage.SnapshotPath}, v, log)
	case "sqlite", "postgres":
		gormDB, err := db.Open(ctx, &cfg.Storage, log)
		if err != nil {
			return nil, err
		}
		e.db = gormDB
		s = store.NewGormStore(gormDB, v, log)
	default:
		return nil, errs.Storage("open", fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend))
	}

	if cfg.Cache.Enabled {
		s = store.NewCachedStore(s, cache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval))
	}
	e.robots = s

	log.Info().Str("backend", cfg.Storage.Backend).Bool("cache", cfg.Cache.Enabled).Msg("robot engine opened")
	return e, nil
}

// Robots returns the robot repository.
func (e *Engine) Robots() store.Store {
	return e.robots
}

// SchemaVersion reports the relational schema version, or 0 for the
// snapshot backend.
func (e *Engine) SchemaVersion(ctx context.Context) (int, error) {
	if e.db == nil {
		return 0, nil
	}
	return db.SchemaVersion(ctx, e.db)
}

// ExportToFile writes the full collection to a new file in the transfer
// directory and returns its path.
func (e *Engine) ExportToFile(ctx context.Context) (string, error) {
	doc, err := e.robots.ExportAll(ctx)
	if err != nil {
		return "", err
	}

	format, err := transfer.ParseFormat(e.cfg.Transfer.Format)
	if err != nil {
		return "", errs.Storage("export", err)
	}
	name := fmt.Sprintf("robots-export-%d.%s", e.now().UnixMilli(), format.Ext())
	path := filepath.Join(e.cfg.Transfer.Dir, name)

	if err := transfer.WriteFile(path, doc); err != nil {
		return "", errs.Storage("export", err)
	}

	e.log.Info().Str("path", path).Int("robots", len(doc.Robots)).Msg("robots exported")
	return path, nil
}

// ImportFromFile decodes the document at path and imports it in one unit.
func (e *Engine) ImportFromFile(ctx context.Context, path string) (int, error) {
	doc, err := transfer.ReadFile(path)
	if err != nil {
		return 0, errs.Storage("import", err)
	}

	count, err := e.robots.ImportAll(ctx, doc)
	if err != nil {
		return 0, err
	}

	e.log.Info().Str("path", path).Int("imported", count).Msg("robots imported")
	return count, nil
}

// Close releases the database connection. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.db != nil {
			e.closeErr = db.Close(e.db)
		}
		e.log.Info().Msg("robot engine closed")
	})
	return e.closeErr
}
