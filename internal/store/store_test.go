package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"robots-backend/config"
	"robots-backend/internal/db"
	"robots-backend/internal/errs"
	"robots-backend/internal/model"
	"robots-backend/internal/transfer"
	"robots-backend/internal/validation"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	gormDB, err := db.Open(context.Background(), &config.StorageConfig{Backend: "sqlite", DSN: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })
	return NewGormStore(gormDB, validation.Default(), zerolog.Nop())
}

// memBlob is an in-memory Blob whose Save can be made to fail.
type memBlob struct {
	mu    sync.Mutex
	data  []byte
	saves int
	fail  error
}

func (b *memBlob) Load(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data, nil
}

func (b *memBlob) Save(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.data = append([]byte(nil), data...)
	b.saves++
	return nil
}

func newSnapshotStore(t *testing.T) Store {
	t.Helper()
	return OpenSnapshot(context.Background(), &memBlob{}, validation.Default(), zerolog.Nop())
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	factories := map[string]func(t *testing.T) Store{
		"gorm":     newSQLiteStore,
		"snapshot": newSnapshotStore,
		"cached": func(t *testing.T) Store {
			return NewCachedStore(newSQLiteStore(t), newTestCache())
		},
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func r2d2() model.RobotInput {
	return model.RobotInput{Name: "R2D2", Label: "Astromech", Year: 1977, Type: model.TypeService}
}

func mustCreate(t *testing.T, s Store, in model.RobotInput) model.Robot {
	t.Helper()
	r, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	return r
}

func names(robots []model.Robot) []string {
	out := make([]string, len(robots))
	for i, r := range robots {
		out[i] = r.Name
	}
	return out
}

func TestStore_ExampleScenario(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first := mustCreate(t, s, r2d2())
		assert.NotEmpty(t, first.ID)

		_, err := s.Create(ctx, model.RobotInput{Name: "r2d2", Label: "dup", Year: 2000, Type: model.TypeOther})
		assert.ErrorIs(t, err, errs.ErrConflict)

		found, err := s.List(ctx, model.Query{Q: "astro"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, first.ID, found[0].ID)
	})
}

func TestStore_CreateThenGetByID(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		created := mustCreate(t, s, model.RobotInput{Name: "  Wall-E ", Label: " Trash compactor  ", Year: 2008, Type: model.TypeIndustrial})

		got, err := s.GetByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Wall-E", got.Name)
		assert.Equal(t, "Trash compactor", got.Label)
		assert.Equal(t, 2008, got.Year)
		assert.Equal(t, model.TypeIndustrial, got.Type)
		assert.False(t, got.Archived)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

		missing, err := s.GetByID(ctx, "no-such-id")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestStore_CreateConflictIgnoresCaseAndWhitespace(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		mustCreate(t, s, r2d2())

		in := r2d2()
		in.Name = "  r2D2 "
		_, err := s.Create(context.Background(), in)

		var conflict *errs.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "r2D2", conflict.Name)
	})
}

func TestStore_CreateValidation(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		current := time.Now().Year()

		for _, year := range []int{1950, current} {
			in := r2d2()
			in.Name = "Robot " + strconv.Itoa(year)
			in.Year = year
			_, err := s.Create(ctx, in)
			assert.NoError(t, err, "year %d", year)
		}

		for _, year := range []int{1949, current + 1} {
			in := r2d2()
			in.Name = "Robot " + strconv.Itoa(year)
			in.Year = year
			_, err := s.Create(ctx, in)
			assert.ErrorIs(t, err, errs.ErrValidation, "year %d", year)
		}

		_, err := s.Create(ctx, model.RobotInput{Name: " x ", Label: "ab", Year: 1977, Type: "toaster"})
		var verr *errs.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Violations, 3)

		all, err := s.List(ctx, model.Query{IncludeArchived: true})
		require.NoError(t, err)
		assert.Len(t, all, 2, "rejected inputs are never written")
	})
}

func TestStore_Update(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first := mustCreate(t, s, r2d2())
		second := mustCreate(t, s, model.RobotInput{Name: "C3PO", Label: "Protocol droid", Year: 1977, Type: model.TypeService})

		in := second.Input()
		in.Name = "R2d2"
		_, err := s.Update(ctx, second.ID, in)
		assert.ErrorIs(t, err, errs.ErrConflict)

		same := first.Input()
		same.Label = "Astromech droid"
		updated, err := s.Update(ctx, first.ID, same)
		require.NoError(t, err)
		assert.Equal(t, first.ID, updated.ID)
		assert.Equal(t, "Astromech droid", updated.Label)
		assert.True(t, first.CreatedAt.Equal(updated.CreatedAt))
		assert.False(t, updated.UpdatedAt.Before(first.UpdatedAt))

		got, err := s.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Astromech droid", got.Label)

		_, err = s.Update(ctx, "no-such-id", r2d2())
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		r := mustCreate(t, s, r2d2())

		require.NoError(t, s.Remove(ctx, r.ID))
		require.NoError(t, s.Remove(ctx, r.ID))
		require.NoError(t, s.Remove(ctx, "never-existed"))

		got, err := s.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		// The name is free again.
		mustCreate(t, s, r2d2())
	})
}

func TestStore_ListOrdering(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, model.RobotInput{Name: "bender", Label: "Bending unit", Year: 1999, Type: model.TypeIndustrial})
		mustCreate(t, s, model.RobotInput{Name: "Astro", Label: "Space dog", Year: 2003, Type: model.TypeOther})
		mustCreate(t, s, model.RobotInput{Name: "Marvin", Label: "Paranoid android", Year: 1978, Type: model.TypeOther})
		mustCreate(t, s, model.RobotInput{Name: "Ash", Label: "Science officer", Year: 1979, Type: model.TypeMedical})
		mustCreate(t, s, model.RobotInput{Name: "Data", Label: "Android officer", Year: 1987, Type: model.TypeEducational})
		mustCreate(t, s, model.RobotInput{Name: "ava", Label: "Ex machina", Year: 1999, Type: model.TypeOther})

		byName, err := s.List(ctx, model.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Ash", "Astro", "ava", "bender", "Data", "Marvin"}, names(byName))

		byYear, err := s.List(ctx, model.Query{Sort: model.SortByYear})
		require.NoError(t, err)
		assert.Equal(t, []string{"Marvin", "Ash", "Data", "ava", "bender", "Astro"}, names(byYear))

		page, err := s.List(ctx, model.Query{Sort: model.SortByYear, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"Data", "ava"}, names(page))

		tail, err := s.List(ctx, model.Query{Offset: 4})
		require.NoError(t, err)
		assert.Equal(t, []string{"Data", "Marvin"}, names(tail))

		officers, err := s.List(ctx, model.Query{Q: "OFFICER"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Ash", "Data"}, names(officers))
	})
}

func TestStore_ListEscapesWildcards(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, model.RobotInput{Name: "Unit_7", Label: "100% steel", Year: 2001, Type: model.TypeIndustrial})
		mustCreate(t, s, model.RobotInput{Name: "Unit77", Label: "Aluminium", Year: 2001, Type: model.TypeIndustrial})

		got, err := s.List(ctx, model.Query{Q: "_"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Unit_7"}, names(got))

		got, err = s.List(ctx, model.Query{Q: "0%"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Unit_7"}, names(got))
	})
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, r2d2())
		mustCreate(t, s, model.RobotInput{Name: "c3po", Label: "Protocol droid", Year: 1977, Type: model.TypeService})

		before, err := s.List(ctx, model.Query{})
		require.NoError(t, err)

		doc, err := s.ExportAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c3po", "R2D2"}, []string{doc.Robots[0].Name, doc.Robots[1].Name})

		count, err := s.ImportAll(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		after, err := s.List(ctx, model.Query{})
		require.NoError(t, err)
		require.Len(t, after, len(before))
		for i := range before {
			assert.Equal(t, before[i].ID, after[i].ID)
			assert.Equal(t, before[i].Input(), after[i].Input())
		}
	})
}

func TestStore_ImportCreatesAndUpdates(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		existing := mustCreate(t, s, r2d2())

		count, err := s.ImportAll(ctx, transfer.Document{Robots: []transfer.Entry{
			{Name: "r2d2", Label: "Repaired astromech", Year: 1983, Type: model.TypeIndustrial},
			{Name: "BB-8", Label: "Rolling droid", Year: 2015, Type: model.TypeService},
			{Name: "   ", Label: "nameless", Year: 2000},
		}})
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		all, err := s.List(ctx, model.Query{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, []string{"BB-8", "R2D2"}, names(all))

		updated, err := s.GetByID(ctx, existing.ID)
		require.NoError(t, err)
		assert.Equal(t, "R2D2", updated.Name)
		assert.Equal(t, "Repaired astromech", updated.Label)
		assert.Equal(t, 1983, updated.Year)
		assert.Equal(t, model.TypeIndustrial, updated.Type)
		assert.NotEqual(t, existing.ID, all[0].ID)
	})
}

func TestStore_ImportDefaults(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		count, err := s.ImportAll(ctx, transfer.Document{Robots: []transfer.Entry{
			{Name: "Johnny 5", Label: "Number five"},
		}})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		all, err := s.List(ctx, model.Query{})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, time.Now().Year(), all[0].Year)
		assert.Equal(t, model.TypeOther, all[0].Type)
	})
}

func TestStore_ImportAbortsOnInvalidEntry(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, r2d2())

		_, err := s.ImportAll(ctx, transfer.Document{Robots: []transfer.Entry{
			{Name: "BB-8", Label: "Rolling droid", Year: 2015, Type: model.TypeService},
			{Name: "K-2SO", Label: "Security droid", Year: 2016.5, Type: model.TypeService},
		}})
		require.ErrorIs(t, err, errs.ErrValidation)
		assert.Contains(t, err.Error(), "robots[1].year: must be an integer")

		_, err = s.ImportAll(ctx, transfer.Document{Robots: []transfer.Entry{
			{Name: "BB-8", Label: "Rolling droid", Year: 2015, Type: model.TypeService},
			{Name: "Old", Label: "Too old", Year: 1900, Type: model.TypeService},
		}})
		require.ErrorIs(t, err, errs.ErrValidation)
		assert.Contains(t, err.Error(), "robots[1].year: must be between 1950")

		all, err := s.List(ctx, model.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"R2D2"}, names(all))
	})
}

func TestStore_ClearAll(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustCreate(t, s, r2d2())

		require.NoError(t, s.ClearAll(ctx))

		all, err := s.List(ctx, model.Query{IncludeArchived: true})
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestGormStore_ArchiveLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	original := mustCreate(t, s, r2d2())

	archived, err := s.SetArchived(ctx, original.ID, true)
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	active, err := s.List(ctx, model.Query{})
	require.NoError(t, err)
	assert.Empty(t, active)

	everything, err := s.List(ctx, model.Query{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, everything, 1)
	assert.Equal(t, original.ID, everything[0].ID)

	got, err := s.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	// An archived name may be reused by an active robot.
	replacement := mustCreate(t, s, model.RobotInput{Name: "r2d2", Label: "Replacement", Year: 2020, Type: model.TypeService})

	_, err = s.SetArchived(ctx, original.ID, false)
	assert.ErrorIs(t, err, errs.ErrConflict)

	require.NoError(t, s.Remove(ctx, replacement.ID))
	restored, err := s.SetArchived(ctx, original.ID, false)
	require.NoError(t, err)
	assert.False(t, restored.Archived)

	_, err = s.SetArchived(ctx, "no-such-id", true)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGormStore_RoundTripKeepsArchivedRowsApart(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	old := mustCreate(t, s, r2d2())
	_, err := s.SetArchived(ctx, old.ID, true)
	require.NoError(t, err)
	current := mustCreate(t, s, model.RobotInput{Name: "R2D2", Label: "Current unit", Year: 2020, Type: model.TypeService})

	doc, err := s.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Robots, 2)

	count, err := s.ImportAll(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := s.GetByID(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, "Current unit", got.Label)

	got, err = s.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "Astromech", got.Label)
	assert.True(t, got.Archived)
}

func TestGormStore_ImportCreatesArchivedEntries(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	count, err := s.ImportAll(ctx, transfer.Document{Robots: []transfer.Entry{
		{Name: "Robby", Label: "Forbidden planet", Year: 1956, Type: model.TypeOther, Archived: true},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := s.List(ctx, model.Query{})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.List(ctx, model.Query{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Robby"}, names(all))
}

func TestGormStore_TranslatesDriverErrors(t *testing.T) {
	testCases := []struct {
		name      string
		insertErr error
		expected  error
	}{
		{
			name:      "unique violation becomes conflict",
			insertErr: &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"},
			expected:  errs.ErrConflict,
		},
		{
			name:      "other driver errors become storage errors",
			insertErr: errors.New("connection reset by peer"),
			expected:  errs.ErrStorage,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB, validation.Default(), zerolog.Nop())

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "robots"`)).
				WithArgs("R2D2", false).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "robots"`)).
				WithArgs(Any{}, "R2D2", "Astromech", 1977, "service", Any{}, Any{}, false).
				WillReturnError(tc.insertErr)
			mock.ExpectRollback()

			_, err := store.Create(context.Background(), r2d2())

			assert.ErrorIs(t, err, tc.expected)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_ImportStorageFailureRollsBack(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB, validation.Default(), zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "robots" WHERE LOWER(name) = LOWER($1)`)).
		WithArgs("R2D2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "robots"`)).
		WithArgs(Any{}, "R2D2", "Astromech", 1977, "service", Any{}, Any{}, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "robots" WHERE LOWER(name) = LOWER($1)`)).
		WithArgs("C3PO").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "robots"`)).
		WithArgs(Any{}, "C3PO", "Protocol droid", 1977, "service", Any{}, Any{}, false).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	count, err := store.ImportAll(context.Background(), transfer.Document{Robots: []transfer.Entry{
		{Name: "R2D2", Label: "Astromech", Year: 1977, Type: model.TypeService},
		{Name: "C3PO", Label: "Protocol droid", Year: 1977, Type: model.TypeService},
	}})

	assert.Zero(t, count)
	var serr *errs.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "import", serr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// sqlite's LOWER folds ASCII only, so names differing in non-ASCII case are
// distinct to the relational store. The snapshot store folds Unicode.
func TestStore_NonASCIICaseFolding(t *testing.T) {
	ctx := context.Background()
	emile := model.RobotInput{Name: "Émile", Label: "Butler droid", Year: 1990, Type: model.TypeService}
	lower := emile
	lower.Name = "émile"

	t.Run("gorm", func(t *testing.T) {
		s := newSQLiteStore(t)
		mustCreate(t, s, emile)
		mustCreate(t, s, lower)

		_, err := s.Create(ctx, model.RobotInput{Name: "éMILE", Label: "Butler droid", Year: 1990, Type: model.TypeService})
		assert.ErrorIs(t, err, errs.ErrConflict, "ASCII letters still fold")
	})

	t.Run("snapshot", func(t *testing.T) {
		s := newSnapshotStore(t)
		mustCreate(t, s, emile)

		_, err := s.Create(ctx, lower)
		assert.ErrorIs(t, err, errs.ErrConflict)
	})
}

func TestGormStore_ListFailureIsStorageError(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB, validation.Default(), zerolog.Nop())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "robots"`)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := store.List(context.Background(), model.Query{})

	var serr *errs.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "list", serr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
