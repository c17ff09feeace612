package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"robots-backend/internal/errs"
	"robots-backend/internal/model"
	"robots-backend/internal/transfer"
	"robots-backend/internal/validation"
)

const snapshotVersion = 1

// Blob persists the whole snapshot as one value.
type Blob interface {
	// Load returns nil, nil when nothing has been saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored value atomically.
	Save(ctx context.Context, data []byte) error
}

// FileBlob stores the snapshot in a single file.
type FileBlob struct {
	Path string
}

func (b FileBlob) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Save writes to a temp file next to Path, syncs it and renames it over Path.
func (b FileBlob) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, b.Path)
}

type snapshotEnvelope struct {
	Version int           `json:"version"`
	State   snapshotState `json:"state"`
}

type snapshotState struct {
	Robots []model.Robot `json:"robots"`
}

// snapshotStore keeps the collection in memory and rewrites the whole blob
// on every mutation.
type snapshotStore struct {
	mu       sync.Mutex
	blob     Blob
	validate *validation.Validator
	log      zerolog.Logger
	robots   []model.Robot
}

// OpenSnapshot restores the collection saved in blob. A missing, unreadable
// or corrupt snapshot starts an empty collection.
func OpenSnapshot(ctx context.Context, blob Blob, v *validation.Validator, log zerolog.Logger) Store {
	s := &snapshotStore{
		blob:     blob,
		validate: v,
		log:      log.With().Str("store", "snapshot").Logger(),
		robots:   []model.Robot{},
	}

	data, err := blob.Load(ctx)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Msg("snapshot unreadable, starting empty")
	case len(data) == 0:
		s.log.Info().Msg("no snapshot found, starting empty")
	default:
		var env snapshotEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn().Err(err).Msg("snapshot corrupt, starting empty")
			break
		}
		if env.Version != snapshotVersion {
			s.log.Warn().Int("version", env.Version).Msg("unknown snapshot version, starting empty")
			break
		}
		if env.State.Robots != nil {
			s.robots = env.State.Robots
		}
		s.log.Info().Int("robots", len(s.robots)).Msg("snapshot restored")
	}
	return s
}

// mutate applies fn to a copy of the collection, persists the result and
// only then makes it current.
func (s *snapshotStore) mutate(ctx context.Context, fn func(robots []model.Robot) ([]model.Robot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := make([]model.Robot, len(s.robots))
	copy(working, s.robots)

	next, err := fn(working)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshotEnvelope{Version: snapshotVersion, State: snapshotState{Robots: next}})
	if err != nil {
		return errs.Storage("snapshot encode", err)
	}
	if err := s.blob.Save(ctx, data); err != nil {
		return errs.Storage("snapshot save", err)
	}
	s.robots = next
	return nil
}

func (s *snapshotStore) Create(ctx context.Context, in model.RobotInput) (model.Robot, error) {
	in = in.Normalized()
	if err := s.validate.Robot(in); err != nil {
		return model.Robot{}, err
	}

	var created model.Robot
	err := s.mutate(ctx, func(robots []model.Robot) ([]model.Robot, error) {
		if activeNameTaken(robots, in.Name, "") {
			return nil, &errs.ConflictError{Name: in.Name}
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
		return append(robots, created), nil
	})
	if err != nil {
		return model.Robot{}, err
	}
	return created, nil
}

func (s *snapshotStore) Update(ctx context.Context, id string, in model.RobotInput) (model.Robot, error) {
	in = in.Normalized()
	if err := s.validate.Robot(in); err != nil {
		return model.Robot{}, err
	}

	var updated model.Robot
	err := s.mutate(ctx, func(robots []model.Robot) ([]model.Robot, error) {
		i := indexOf(robots, id)
		if i < 0 {
			return nil, &errs.NotFoundError{ID: id}
		}
		if !robots[i].Archived && activeNameTaken(robots, in.Name, id) {
			return nil, &errs.ConflictError{Name: in.Name}
		}
		robots[i].Name = in.Name
		robots[i].Label = in.Label
		robots[i].Year = in.Year
		robots[i].Type = in.Type
		robots[i].UpdatedAt = model.Now()
		updated = robots[i]
		return robots, nil
	})
	if err != nil {
		return model.Robot{}, err
	}
	return updated, nil
}

func (s *snapshotStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	absent := indexOf(s.robots, id) < 0
	s.mu.Unlock()
	if absent {
		return nil
	}

	return s.mutate(ctx, func(robots []model.Robot) ([]model.Robot, error) {
		out := robots[:0]
		for _, r := range robots {
			if r.ID != id {
				out = append(out, r)
			}
		}
		return out, nil
	})
}

func (s *snapshotStore) GetByID(_ context.Context, id string) (*model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.robots, id)
	if i < 0 {
		return nil, nil
	}
	robot := s.robots[i]
	return &robot, nil
}

func (s *snapshotStore) List(_ context.Context, q model.Query) ([]model.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return q.Apply(s.robots), nil
}

func (s *snapshotStore) SetArchived(context.Context, string, bool) (model.Robot, error) {
	return model.Robot{}, fmt.Errorf("snapshot store: set archived: %w", errs.ErrUnsupported)
}

func (s *snapshotStore) ExportAll(_ context.Context) (transfer.Document, error) {
	s.mu.Lock()
	robots := make([]model.Robot, len(s.robots))
	copy(robots, s.robots)
	s.mu.Unlock()

	sort.SliceStable(robots, func(i, j int) bool { return model.Less(robots[i], robots[j], model.SortByName) })
	return transfer.NewDocument(robots), nil
}

// ImportAll always creates active robots: the snapshot store cannot restore
// archived ones.
func (s *snapshotStore) ImportAll(ctx context.Context, doc transfer.Document) (int, error) {
	entries, err := prepareImport(s.validate, doc)
	if err != nil {
		return 0, err
	}

	count := 0
	err = s.mutate(ctx, func(robots []model.Robot) ([]model.Robot, error) {
		for _, e := range entries {
			now := model.Now()
			if i := importMatch(robots, e); i >= 0 {
				robots[i].Label = e.input.Label
				robots[i].Year = e.input.Year
				robots[i].Type = e.input.Type
				robots[i].UpdatedAt = now
			} else {
				robots = append(robots, model.Robot{
					ID:        model.NewID(),
					Name:      e.input.Name,
					Label:     e.input.Label,
					Year:      e.input.Year,
					Type:      e.input.Type,
					CreatedAt: now,
					UpdatedAt: now,
				})
			}
			count++
		}
		return robots, nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().Int("imported", count).Msg("import complete")
	return count, nil
}

func (s *snapshotStore) ClearAll(ctx context.Context) error {
	return s.mutate(ctx, func([]model.Robot) ([]model.Robot, error) {
		return []model.Robot{}, nil
	})
}

func indexOf(robots []model.Robot, id string) int {
	for i := range robots {
		if robots[i].ID == id {
			return i
		}
	}
	return -1
}

func activeNameTaken(robots []model.Robot, name, excludeID string) bool {
	key := model.NameKey(name)
	for _, r := range robots {
		if !r.Archived && r.ID != excludeID && model.NameKey(r.Name) == key {
			return true
		}
	}
	return false
}

// importMatch returns the index in robots of the robot e updates, or -1.
func importMatch(robots []model.Robot, e importEntry) int {
	key := model.NameKey(e.input.Name)
	var candidates []model.Robot
	var positions []int
	for i, r := range robots {
		if model.NameKey(r.Name) == key {
			candidates = append(candidates, r)
			positions = append(positions, i)
		}
	}
	if i := pickMatch(candidates, e); i >= 0 {
		return positions[i]
	}
	return -1
}
