package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"robots-backend/internal/errs"
)

const versionTable = "schema_version"

// ErrSchemaTooNew is returned when the database was migrated by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this build")

// Migration is one forward-only schema step. Up must be idempotent.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *gorm.DB) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create robots table",
		Up: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE TABLE IF NOT EXISTS robots (
				id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(30) NOT NULL,
				label TEXT NOT NULL,
				year INTEGER NOT NULL,
				type VARCHAR(16) NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`).Error
		},
	},
	{
		Version:     2,
		Description: "index robot names and years",
		Up: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_robots_name ON robots (LOWER(name))`,
				`CREATE INDEX IF NOT EXISTS idx_robots_year ON robots (year)`,
			}
			for _, stmt := range statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "add robots archived flag",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn("robots", "archived") {
				return nil
			}
			return tx.Exec(`ALTER TABLE robots ADD COLUMN archived BOOLEAN NOT NULL DEFAULT FALSE`).Error
		},
	},
	{
		Version:     4,
		Description: "restrict name uniqueness to active robots",
		Up: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_robots_name`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_robots_active_name ON robots (LOWER(name)) WHERE archived = FALSE`,
			}
			for _, stmt := range statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// DefaultMigrations returns a copy of the robot schema steps.
func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

// LatestVersion is the schema version this build migrates to.
func LatestVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

// Migrate applies every step newer than the stored version, in ascending
// order. Each step and its version bump share one transaction, so a failing
// step leaves the version where it was.
func Migrate(ctx context.Context, db *gorm.DB, migrations []Migration) error {
	log := zerolog.Ctx(ctx)

	if err := ensureVersionTable(ctx, db); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readVersion(db.WithContext(ctx))
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return errs.Storage("migrate", fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion))
	}

	for _, m := range ordered {
		if m.Version <= current {
			continue
		}

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return fmt.Errorf("migration v%d (%s): %w", m.Version, m.Description, err)
			}
			if err := tx.Exec(`UPDATE schema_version SET version = ?`, m.Version).Error; err != nil {
				return fmt.Errorf("record schema version v%d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			log.Error().Err(err).Int("version", m.Version).Msg("migration failed")
			return errs.Storage("migrate", err)
		}
		log.Info().Int("version", m.Version).Str("description", m.Description).Msg("migration applied")
	}
	return nil
}

// SchemaVersion reports the stored schema version, 0 for an empty database.
func SchemaVersion(ctx context.Context, db *gorm.DB) (int, error) {
	tx := db.WithContext(ctx)
	if !tx.Migrator().HasTable(versionTable) {
		return 0, nil
	}
	return readVersion(tx)
}

func ensureVersionTable(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`).Error; err != nil {
			return err
		}
		var rows int64
		if err := tx.Table(versionTable).Count(&rows).Error; err != nil {
			return err
		}
		if rows > 0 {
			return nil
		}
		return tx.Exec(`INSERT INTO schema_version (version) VALUES (0)`).Error
	})
	return errs.Storage("ensure schema_version", err)
}

func readVersion(tx *gorm.DB) (int, error) {
	var version int
	if err := tx.Raw(`SELECT version FROM schema_version`).Scan(&version).Error; err != nil {
		return 0, errs.Storage("read schema version", err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, m := range migrations {
		if m.Version > max {
			max = m.Version
		}
	}
	return max
}
