package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestUpdateCountAppliesCumulativeTotals(t *testing.T) {
	service, db, _ := newTestService(t, "svc-apply")

	result, err := service.UpdateCount(context.Background(), "user-1", 5, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
	if result.CurrentTotal != 3 {
		t.Fatalf("expected current total 3, got %d", result.CurrentTotal)
	}
	if result.UserStats.NetCount != 3 {
		t.Fatalf("expected net count 3, got %d", result.UserStats.NetCount)
	}

	var stored DailyCount
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load stored row: %v", err)
	}
	if stored.Date != "2025-09-01" {
		t.Fatalf("expected row scoped to the clock's UTC date, got %s", stored.Date)
	}
}

func TestUpdateCountAllowsNegativeNet(t *testing.T) {
	service, _, _ := newTestService(t, "svc-negative")

	result, err := service.UpdateCount(context.Background(), "user-1", 2, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserStats.NetCount != -3 {
		t.Fatalf("expected user net count -3, got %d", result.UserStats.NetCount)
	}
	if result.CurrentTotal != 0 {
		t.Fatalf("expected aggregate clamped to 0, got %d", result.CurrentTotal)
	}
}

func TestUpdateCountRejectsOutOfRangeTotals(t *testing.T) {
	service, db, _ := newTestService(t, "svc-validate")

	tests := []struct {
		name      string
		increment int
		decrement int
	}{
		{"increment-too-large", 1001, 0},
		{"decrement-too-large", 0, 1001},
		{"negative-increment", -1, 0},
		{"negative-decrement", 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.UpdateCount(context.Background(), "user-1", tt.increment, tt.decrement)
			if !errors.Is(err, ErrInvalidCount) {
				t.Fatalf("expected ErrInvalidCount, got %v", err)
			}
		})
	}

	var count int64
	if err := db.Model(&DailyCount{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("validation failures must not touch the datastore, found %d rows", count)
	}
}

func TestUpdateCountAcceptsZeroTotals(t *testing.T) {
	service, _, _ := newTestService(t, "svc-zero")

	result, err := service.UpdateCount(context.Background(), "user-1", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserStats.Increment != 0 || result.UserStats.Decrement != 0 {
		t.Fatalf("unexpected user stats %+v", result.UserStats)
	}
}

func TestUpdateCountIsIdempotent(t *testing.T) {
	service, db, _ := newTestService(t, "svc-idempotent")

	if _, err := service.UpdateCount(context.Background(), "user-1", 6, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := service.UpdateCount(context.Background(), "user-1", 6, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserStats.Increment != 6 || result.UserStats.Decrement != 4 {
		t.Fatalf("unexpected user stats %+v", result.UserStats)
	}

	var stored DailyCount
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load stored row: %v", err)
	}
	if stored.Increment != 6 || stored.Decrement != 4 {
		t.Fatalf("totals should be unchanged, got %d/%d", stored.Increment, stored.Decrement)
	}
	if stored.Version != 2 {
		t.Fatalf("version should bump on every write, got %d", stored.Version)
	}
}

func TestUpdateCountRetriesOnceOnConflict(t *testing.T) {
	db := newTestDB(t, "svc-retry")
	recorder := &sleepRecorder{}
	store := &conflictingStore{CountStore: newTestRepository(t), remainingConflicts: 1}
	service, err := NewService(ServiceConfig{
		Database: db,
		Store:    store,
		Clock:    testClock,
		Sleep:    recorder.sleep,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	result, err := service.UpdateCount(context.Background(), "user-1", 5, 2)
	if err != nil {
		t.Fatalf("expected success after one retry, got %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success flag")
	}
	if len(recorder.durations) != 1 {
		t.Fatalf("expected one backoff sleep, got %d", len(recorder.durations))
	}
	if d := recorder.durations[0]; d < 50*time.Millisecond || d >= 150*time.Millisecond {
		t.Fatalf("backoff %v outside the 50-150ms jitter window", d)
	}
}

func TestUpdateCountSurfacesConflictAfterThreeAttempts(t *testing.T) {
	db := newTestDB(t, "svc-exhaust")
	recorder := &sleepRecorder{}
	store := &conflictingStore{CountStore: newTestRepository(t), remainingConflicts: 3}
	service, err := NewService(ServiceConfig{
		Database: db,
		Store:    store,
		Clock:    testClock,
		Sleep:    recorder.sleep,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	_, err = service.UpdateCount(context.Background(), "user-1", 5, 2)
	if !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict after exhausting retries, got %v", err)
	}
	if store.remainingConflicts != 0 {
		t.Fatalf("expected exactly three attempts, %d conflicts unconsumed", store.remainingConflicts)
	}
	if len(recorder.durations) != 2 {
		t.Fatalf("expected two backoff sleeps for three attempts, got %d", len(recorder.durations))
	}
}

type failingStore struct {
	CountStore
	err error
}

func (s *failingStore) UpsertCount(ctx context.Context, db *gorm.DB, userID string, increment, decrement int, date string) (*DailyCount, error) {
	return nil, s.err
}

func (s *failingStore) HasRecentActivity(ctx context.Context, db *gorm.DB, window time.Duration) (bool, error) {
	return false, s.err
}

func TestUpdateCountDoesNotRetryUnclassifiedErrors(t *testing.T) {
	db := newTestDB(t, "svc-fatal")
	recorder := &sleepRecorder{}
	cause := errors.New("disk I/O error")
	service, err := NewService(ServiceConfig{
		Database: db,
		Store:    &failingStore{CountStore: newTestRepository(t), err: cause},
		Clock:    testClock,
		Sleep:    recorder.sleep,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	_, err = service.UpdateCount(context.Background(), "user-1", 5, 2)
	if !errors.Is(err, cause) {
		t.Fatalf("expected the underlying cause to propagate, got %v", err)
	}
	if errors.Is(err, ErrWriteConflict) {
		t.Fatalf("unclassified errors must not be reported as conflicts")
	}
	if len(recorder.durations) != 0 {
		t.Fatalf("unclassified errors must not be retried, got %d sleeps", len(recorder.durations))
	}
}

func TestGetStatsRejectsMalformedDate(t *testing.T) {
	service, _, _ := newTestService(t, "svc-stats-bad-date")

	for _, date := range []string{"2025-02-30", "09-01-2025", "yesterday"} {
		_, err := service.GetStats(context.Background(), "user-1", date)
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("expected ErrInvalidDate for %q, got %v", date, err)
		}
	}
}

func TestGetStatsReturnsSnapshot(t *testing.T) {
	service, _, _ := newTestService(t, "svc-stats")

	if _, err := service.UpdateCount(context.Background(), "user-1", 48, 24); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := service.GetStats(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Date != "2025-09-01" {
		t.Fatalf("expected the clock's date, got %s", stats.Date)
	}
	if stats.CurrentTotal != 24 {
		t.Fatalf("expected current total 24, got %d", stats.CurrentTotal)
	}
	if stats.TodayStats.TotalIncrement != 48 || stats.TodayStats.TotalDecrement != 24 {
		t.Fatalf("unexpected today stats %+v", stats.TodayStats)
	}
	if stats.UserStats.NetCount != 24 {
		t.Fatalf("unexpected user stats %+v", stats.UserStats)
	}
	if len(stats.HourlyStats) != 24 {
		t.Fatalf("expected 24 hourly slots, got %d", len(stats.HourlyStats))
	}
}

func TestGetStatsForOtherUser(t *testing.T) {
	service, _, _ := newTestService(t, "svc-stats-other")

	if _, err := service.UpdateCount(context.Background(), "user-1", 10, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := service.GetStats(context.Background(), "user-2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.UserStats != (UserStats{}) {
		t.Fatalf("expected zero user stats for a user without a row, got %+v", stats.UserStats)
	}
	if stats.CurrentTotal != 5 {
		t.Fatalf("aggregate should include all users, got %d", stats.CurrentTotal)
	}
}

func TestGetHistoryValidatesRange(t *testing.T) {
	service, _, _ := newTestService(t, "svc-history-validate")

	if _, err := service.GetHistory(context.Background(), "2025-09-xx", "2025-09-02", ""); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if _, err := service.GetHistory(context.Background(), "2025-09-02", "2025-09-01", ""); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for inverted range, got %v", err)
	}
	if _, err := service.GetHistory(context.Background(), "2025-01-01", "2025-05-01", ""); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for a range over 90 days, got %v", err)
	}
}

func TestGetHistoryAcceptsNinetyDayRange(t *testing.T) {
	service, _, _ := newTestService(t, "svc-history-90")

	result, err := service.GetHistory(context.Background(), "2025-01-01", "2025-04-01", "")
	if err != nil {
		t.Fatalf("expected a 90 day range to pass validation, got %v", err)
	}
	if result.Period.TotalDays != 91 {
		t.Fatalf("expected 91 total days inclusive, got %d", result.Period.TotalDays)
	}
}

func TestGetHistoryEmptyRange(t *testing.T) {
	service, _, _ := newTestService(t, "svc-history-empty")

	result, err := service.GetHistory(context.Background(), "2025-01-01", "2025-01-03", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.History) != 0 {
		t.Fatalf("expected empty history, got %d items", len(result.History))
	}
	if result.Summary.PeakCount != 0 || result.Summary.PeakDay != "2025-01-01" {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	if result.Period.TotalDays != 3 {
		t.Fatalf("expected 3 total days, got %d", result.Period.TotalDays)
	}
}

func TestGetHistoryReturnsDataAndSummary(t *testing.T) {
	service, db, _ := newTestService(t, "svc-history")
	repo := newTestRepository(t, "h1", "h2")

	if _, err := repo.UpsertCount(context.Background(), db, "user-1", 10, 2, "2025-08-30"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.UpsertCount(context.Background(), db, "user-1", 4, 1, "2025-08-31"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := service.GetHistory(context.Background(), "2025-08-30", "2025-08-31", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.History) != 2 {
		t.Fatalf("expected 2 history items, got %d", len(result.History))
	}
	if result.Summary.PeakDay != "2025-08-30" || result.Summary.PeakCount != 8 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	// (14-3)/2 = 5.5 rounds to 6.
	if result.Summary.AverageDaily != 6 {
		t.Fatalf("unexpected average %d", result.Summary.AverageDaily)
	}
}

func TestHealthStatusHealthy(t *testing.T) {
	service, _, _ := newTestService(t, "svc-health")

	status := service.HealthStatus(context.Background())
	if status.Status != "healthy" {
		t.Fatalf("expected healthy status, got %s", status.Status)
	}
	if status.CurrentDate != "2025-09-01" {
		t.Fatalf("unexpected current date %s", status.CurrentDate)
	}
}

func TestHealthStatusDegradesInsteadOfFailing(t *testing.T) {
	db := newTestDB(t, "svc-health-degraded")
	service, err := NewService(ServiceConfig{
		Database: db,
		Store:    &failingStore{CountStore: newTestRepository(t), err: errors.New("connection reset")},
		Clock:    testClock,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	status := service.HealthStatus(context.Background())
	if status.Status != "unhealthy" {
		t.Fatalf("expected unhealthy status, got %s", status.Status)
	}
	if status.RecentActivity || status.TotalToday != 0 {
		t.Fatalf("degraded response should zero its fields, got %+v", status)
	}
}

func TestResetUserData(t *testing.T) {
	service, db, _ := newTestService(t, "svc-reset-user")

	if _, err := service.UpdateCount(context.Background(), "user-1", 5, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := service.ResetUserData(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}

	var count int64
	if err := db.Model(&DailyCount{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected user rows removed, got %d", count)
	}
}

func TestResetDateDataValidatesDate(t *testing.T) {
	service, _, _ := newTestService(t, "svc-reset-date")

	if _, err := service.ResetDateData(context.Background(), "not-a-date"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}

	if _, err := service.UpdateCount(context.Background(), "user-1", 5, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := service.ResetDateData(context.Background(), "2025-09-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success")
	}
}
