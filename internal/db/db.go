package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"robots-backend/config"
	"robots-backend/internal/errs"
	"robots-backend/internal/model"
)

// Open connects to the configured relational backend and migrates it to the
// latest schema. On any failure the connection is closed and nil is returned.
func Open(ctx context.Context, cfg *config.StorageConfig, log zerolog.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log, cfg.LogSQL),
		TranslateError: true,
		NowFunc:        model.Now,
	})
	if err != nil {
		return nil, errs.Storage("connect", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Storage("connect", fmt.Errorf("failed to get sql.DB: %w", err))
	}

	if cfg.Backend == "sqlite" {
		// One connection keeps :memory: databases alive and serialises writers.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Info().Str("backend", cfg.Backend).Msg("running database migrations")
	if err := Migrate(log.WithContext(ctx), db, DefaultMigrations()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	version, err := SchemaVersion(ctx, db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info().Int("schema_version", version).Msg("database initialization complete")
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errs.Storage("close", err)
	}
	return errs.Storage("close", sqlDB.Close())
}

func dialectorFor(cfg *config.StorageConfig) (gorm.Dialector, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, errs.Storage("connect", fmt.Errorf("backend %q is not relational", cfg.Backend))
	}
}

// gormWriter forwards gorm's log lines to zerolog at a fixed level.
type gormWriter struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.WithLevel(w.level).Msgf(format, args...)
}

func newGormLogger(log zerolog.Logger, logSQL bool) gormlogger.Interface {
	level := gormlogger.Warn
	eventLevel := zerolog.WarnLevel
	if logSQL {
		level = gormlogger.Info
		eventLevel = zerolog.InfoLevel
	}
	return gormlogger.New(
		gormWriter{log: log.With().Str("component", "gorm").Logger(), level: eventLevel},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
