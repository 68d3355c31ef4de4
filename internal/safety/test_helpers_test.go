package safety

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// testClockTime pins tests to mid-day so half the hourly slots are elapsed.
var testClockTime = time.Date(2025, 9, 1, 12, 30, 0, 0, time.UTC)

func testClock() time.Time {
	return testClockTime
}

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&DailyCount{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestRepository(t *testing.T, ids ...string) *Repository {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"count-1", "count-2", "count-3", "count-4"}
	}
	repo, err := NewRepository(RepositoryConfig{
		Clock:      testClock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	return repo
}

type sleepRecorder struct {
	durations []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.durations = append(r.durations, d)
}

func newTestService(t *testing.T, dbName string) (*Service, *gorm.DB, *sleepRecorder) {
	t.Helper()
	db := newTestDB(t, dbName)
	repo := newTestRepository(t)
	recorder := &sleepRecorder{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Store:    repo,
		Clock:    testClock,
		Sleep:    recorder.sleep,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db, recorder
}

// conflictingStore fails the first N upserts with a write conflict, then
// delegates to the real store.
type conflictingStore struct {
	CountStore
	remainingConflicts int
}

func (s *conflictingStore) UpsertCount(ctx context.Context, db *gorm.DB, userID string, increment, decrement int, date string) (*DailyCount, error) {
	if s.remainingConflicts > 0 {
		s.remainingConflicts--
		return nil, fmt.Errorf("%w: simulated race", ErrWriteConflict)
	}
	return s.CountStore.UpsertCount(ctx, db, userID, increment, decrement, date)
}
