package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/patrickmn/go-cache"

	"robots-backend/internal/model"
	"robots-backend/internal/transfer"
)

// cachedStore memoises List and GetByID results of an inner Store and
// flushes everything after any mutation.
type cachedStore struct {
	inner Store
	cache *cache.Cache
}

type cachedRobot struct {
	robot *model.Robot
}

// NewCachedStore wraps inner with a read cache. Entries expire after the
// cache's default expiration.
func NewCachedStore(inner Store, c *cache.Cache) Store {
	return &cachedStore{inner: inner, cache: c}
}

func listKey(q model.Query) string {
	return fmt.Sprintf("list:%q|%s|%d|%d|%t", strings.TrimSpace(q.Q), q.SortOrDefault(), q.Limit, q.Offset, q.IncludeArchived)
}

func robotKey(id string) string {
	return "robot:" + id
}

func (s *cachedStore) List(ctx context.Context, q model.Query) ([]model.Robot, error) {
	key := listKey(q)
	if hit, found := s.cache.Get(key); found {
		return cloneRobots(hit.([]model.Robot)), nil
	}

	robots, err := s.inner.List(ctx, q)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, cloneRobots(robots), cache.DefaultExpiration)
	return robots, nil
}

func (s *cachedStore) GetByID(ctx context.Context, id string) (*model.Robot, error) {
	key := robotKey(id)
	if hit, found := s.cache.Get(key); found {
		return cloneRobot(hit.(cachedRobot).robot), nil
	}

	robot, err := s.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, cachedRobot{robot: cloneRobot(robot)}, cache.DefaultExpiration)
	return robot, nil
}

func (s *cachedStore) Create(ctx context.Context, in model.RobotInput) (model.Robot, error) {
	defer s.cache.Flush()
	return s.inner.Create(ctx, in)
}

func (s *cachedStore) Update(ctx context.Context, id string, in model.RobotInput) (model.Robot, error) {
	defer s.cache.Flush()
	return s.inner.Update(ctx, id, in)
}

func (s *cachedStore) Remove(ctx context.Context, id string) error {
	defer s.cache.Flush()
	return s.inner.Remove(ctx, id)
}

func (s *cachedStore) SetArchived(ctx context.Context, id string, archived bool) (model.Robot, error) {
	defer s.cache.Flush()
	return s.inner.SetArchived(ctx, id, archived)
}

func (s *cachedStore) ImportAll(ctx context.Context, doc transfer.Document) (int, error) {
	defer s.cache.Flush()
	return s.inner.ImportAll(ctx, doc)
}

func (s *cachedStore) ClearAll(ctx context.Context) error {
	defer s.cache.Flush()
	return s.inner.ClearAll(ctx)
}

func (s *cachedStore) ExportAll(ctx context.Context) (transfer.Document, error) {
	return s.inner.ExportAll(ctx)
}

func cloneRobots(robots []model.Robot) []model.Robot {
	out := make([]model.Robot, len(robots))
	copy(out, robots)
	return out
}

func cloneRobot(r *model.Robot) *model.Robot {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
