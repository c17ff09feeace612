package store

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"robots-backend/internal/errs"
	"robots-backend/internal/model"
	"robots-backend/internal/transfer"
	"robots-backend/internal/validation"
)

// Store defines the robot repository contract shared by every backend.
type Store interface {
	Create(ctx context.Context, in model.RobotInput) (model.Robot, error)
	Update(ctx context.Context, id string, in model.RobotInput) (model.Robot, error)
	// Remove hard-deletes a robot. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error
	// GetByID returns nil, nil when no robot has the given id.
	GetByID(ctx context.Context, id string) (*model.Robot, error)
	List(ctx context.Context, q model.Query) ([]model.Robot, error)
	SetArchived(ctx context.Context, id string, archived bool) (model.Robot, error)
	ExportAll(ctx context.Context) (transfer.Document, error)
	// ImportAll upserts every entry by name and returns created + updated.
	ImportAll(ctx context.Context, doc transfer.Document) (int, error)
	ClearAll(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db       *gorm.DB
	validate *validation.Validator
	log      zerolog.Logger
}

// NewGormStore creates a new GORM-backed store. db must already be migrated.
func NewGormStore(db *gorm.DB, v *validation.Validator, log zerolog.Logger) Store {
	return &gormStore{db: db, validate: v, log: log.With().Str("store", "gorm").Logger()}
}

func (s *gormStore) Create(ctx context.Context, in model.RobotInput) (model.Robot, error) {
	in = in.Normalized()
	if err := s.validate.Robot(in); err != nil {
		return model.Robot{}, err
	}

	var created model.Robot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNameAvailable(tx, in.Name, ""); err != nil {
			return err
		}
		now := model.Now()
		created = model.Robot{
			ID:        model.NewID(),
			Name:      in.Name,
			Label:     in.Label,
			Year:      in.Year,
			Type:      in.Type,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return model.Robot{}, translate("create", in.Name, err)
	}

	s.log.Debug().Str("robot_id", created.ID).Msg("robot created")
	return created, nil
}

func (s *gormStore) Update(ctx context.Context, id string, in model.RobotInput) (model.Robot, error) {
	in = in.Normalized()
	if err := s.validate.Robot(in); err != nil {
		return model.Robot{}, err
	}

	var updated model.Robot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := takeByID(tx, id)
		if err != nil {
			return err
		}
		if !existing.Archived {
			if err := ensureNameAvailable(tx, in.Name, id); err != nil {
				return err
			}
		}
		existing.Name = in.Name
		existing.Label = in.Label
		existing.Year = in.Year
		existing.Type = in.Type
		existing.UpdatedAt = model.Now()
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		updated = existing
		return nil
	})
	if err != nil {
		return model.Robot{}, translate("update", in.Name, err)
	}
	return updated, nil
}

func (s *gormStore) Remove(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Robot{}).Error
	return translate("remove", "", err)
}

func (s *gormStore) GetByID(ctx context.Context, id string) (*model.Robot, error) {
	var robot model.Robot
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&robot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("get", "", err)
	}
	return &robot, nil
}

func (s *gormStore) List(ctx context.Context, q model.Query) ([]model.Robot, error) {
	tx := s.db.WithContext(ctx).Model(&model.Robot{})

	if !q.IncludeArchived {
		tx = tx.Where("archived = ?", false)
	}
	if text := strings.TrimSpace(q.Q); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		tx = tx.Where(`(LOWER(name) LIKE LOWER(?) ESCAPE '\' OR LOWER(label) LIKE LOWER(?) ESCAPE '\')`, pattern, pattern)
	}

	if q.SortOrDefault() == model.SortByYear {
		tx = tx.Order("year ASC")
	}
	tx = tx.Order("LOWER(name) ASC").Order("id ASC")

	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			// OFFSET needs a LIMIT on sqlite.
			tx = tx.Limit(math.MaxInt32)
		}
		tx = tx.Offset(q.Offset)
	}

	robots := []model.Robot{}
	if err := tx.Find(&robots).Error; err != nil {
		return nil, translate("list", "", err)
	}
	return robots, nil
}

func (s *gormStore) SetArchived(ctx context.Context, id string, archived bool) (model.Robot, error) {
	var result model.Robot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := takeByID(tx, id)
		if err != nil {
			return err
		}
		if existing.Archived == archived {
			result = existing
			return nil
		}
		if !archived {
			if err := ensureNameAvailable(tx, existing.Name, id); err != nil {
				return err
			}
		}
		existing.Archived = archived
		existing.UpdatedAt = model.Now()
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return model.Robot{}, translate("set archived", result.Name, err)
	}

	s.log.Debug().Str("robot_id", id).Bool("archived", archived).Msg("robot archive flag changed")
	return result, nil
}

func (s *gormStore) ExportAll(ctx context.Context) (transfer.Document, error) {
	var robots []model.Robot
	err := s.db.WithContext(ctx).Order("LOWER(name) ASC").Order("id ASC").Find(&robots).Error
	if err != nil {
		return transfer.Document{}, translate("export", "", err)
	}
	return transfer.NewDocument(robots), nil
}

func (s *gormStore) ImportAll(ctx context.Context, doc transfer.Document) (int, error) {
	entries, err := prepareImport(s.validate, doc)
	if err != nil {
		return 0, err
	}

	s.log.Info().Int("entries", len(entries)).Msg("batch importing robots")

	count := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count = 0
		for _, e := range entries {
			var matches []model.Robot
			if err := tx.Where("LOWER(name) = LOWER(?)", e.input.Name).Find(&matches).Error; err != nil {
				return err
			}

			now := model.Now()
			if i := pickMatch(matches, e); i >= 0 {
				existing := matches[i]
				existing.Label = e.input.Label
				existing.Year = e.input.Year
				existing.Type = e.input.Type
				existing.UpdatedAt = now
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
			} else {
				created := model.Robot{
					ID:        model.NewID(),
					Name:      e.input.Name,
					Label:     e.input.Label,
					Year:      e.input.Year,
					Type:      e.input.Type,
					CreatedAt: now,
					UpdatedAt: now,
					Archived:  e.archived,
				}
				if err := tx.Create(&created).Error; err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("import rolled back")
		return 0, translate("import", "", err)
	}

	s.log.Info().Int("imported", count).Msg("import complete")
	return count, nil
}

func (s *gormStore) ClearAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Robot{}).Error
	return translate("clear", "", err)
}

func takeByID(tx *gorm.DB, id string) (model.Robot, error) {
	var robot model.Robot
	err := tx.Where("id = ?", id).Take(&robot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Robot{}, &errs.NotFoundError{ID: id}
	}
	return robot, err
}

// ensureNameAvailable fails with a ConflictError when another active robot
// already uses name. excludeID skips the robot being updated.
func ensureNameAvailable(tx *gorm.DB, name, excludeID string) error {
	query := tx.Model(&model.Robot{}).Where("LOWER(name) = LOWER(?) AND archived = ?", name, false)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var taken int64
	if err := query.Count(&taken).Error; err != nil {
		return err
	}
	if taken > 0 {
		return &errs.ConflictError{Name: name}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
