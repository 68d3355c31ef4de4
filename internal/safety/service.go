package safety

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sparcs-kamf/backend/internal/dates"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxUpdateAttempts  = 3
	maxHistoryRangeDay = 90
	recentWindow       = 5 * time.Minute
	backoffFloor       = 50 * time.Millisecond
	backoffJitter      = 100 * time.Millisecond
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingStore    = errors.New("count store is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "safety.service.new"
	opUpdateCount = "safety.update_count"
	opGetStats    = "safety.get_stats"
	opGetHistory  = "safety.get_history"
	opResetUser   = "safety.reset_user"
	opResetDate   = "safety.reset_date"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CountStore is the persistence contract the service drives. Every method
// takes the database handle explicitly; UpsertCount must be handed the
// transaction so the version check and the write commit atomically.
type CountStore interface {
	FindByUserAndDate(ctx context.Context, db *gorm.DB, userID, date string) (*DailyCount, error)
	UpsertCount(ctx context.Context, db *gorm.DB, userID string, increment, decrement int, date string) (*DailyCount, error)
	DailyTotals(ctx context.Context, db *gorm.DB, date string) (DailyTotals, error)
	HourlyStats(ctx context.Context, db *gorm.DB, date string) ([]HourlySlot, error)
	HistoryByDateRange(ctx context.Context, db *gorm.DB, startDate, endDate, userID string) ([]HistoryItem, error)
	SummaryStats(ctx context.Context, db *gorm.DB, startDate, endDate string) (SummaryStats, error)
	HasRecentActivity(ctx context.Context, db *gorm.DB, window time.Duration) (bool, error)
	DeleteByUserID(ctx context.Context, db *gorm.DB, userID string) error
	DeleteByDate(ctx context.Context, db *gorm.DB, date string) error
}

// ServiceConfig describes the dependencies of the safety service.
type ServiceConfig struct {
	Database *gorm.DB
	Store    CountStore
	Clock    func() time.Time
	Sleep    func(time.Duration)
	Logger   *zap.Logger
}

// Service validates count submissions, drives the transactional upsert with
// bounded retry, and produces the read-side statistics.
type Service struct {
	db    *gorm.DB
	store CountStore
	clock func() time.Time
	sleep func(time.Duration)
	log   *zap.Logger
}

// NewService constructs the safety service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:    cfg.Database,
		store: cfg.Store,
		clock: clock,
		sleep: sleep,
		log:   logger,
	}, nil
}

// UpdateCount records a user's cumulative daily totals and returns the fresh
// aggregate alongside the user's own stats. Two concurrent submissions for the
// same user+day race on the row's version; the loser is retried on a jittered
// backoff up to three total attempts before the conflict reaches the caller.
func (s *Service) UpdateCount(ctx context.Context, userID string, increment, decrement int) (CountResult, error) {
	if userID == "" {
		return CountResult{}, newServiceError(opUpdateCount, "missing_user_id", errMissingUserID)
	}
	if increment < 0 || decrement < 0 || increment > MaxDailyCount || decrement > MaxDailyCount {
		return CountResult{}, newServiceError(opUpdateCount, "invalid_count",
			fmt.Errorf("%w: increment=%d decrement=%d limit=%d", ErrInvalidCount, increment, decrement, MaxDailyCount))
	}

	today := dates.Format(s.clock())

	for attempt := 1; ; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.store.UpsertCount(ctx, tx, userID, increment, decrement, today)
			return err
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrWriteConflict) {
			s.logError(opUpdateCount, "upsert_failed", err, zap.String("user_id", userID))
			return CountResult{}, newServiceError(opUpdateCount, "upsert_failed", err)
		}

		s.log.Warn("optimistic lock conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxUpdateAttempts))
		if attempt >= maxUpdateAttempts {
			return CountResult{}, newServiceError(opUpdateCount, "conflict_retries_exhausted", err)
		}
		s.sleep(backoffFloor + time.Duration(rand.Int63n(int64(backoffJitter))))
	}

	totals, err := s.store.DailyTotals(ctx, s.db, today)
	if err != nil {
		s.logError(opUpdateCount, "totals_query_failed", err, zap.String("user_id", userID))
		return CountResult{}, newServiceError(opUpdateCount, "totals_query_failed", err)
	}
	userStats, err := s.userStats(ctx, userID, today)
	if err != nil {
		s.logError(opUpdateCount, "user_stats_query_failed", err, zap.String("user_id", userID))
		return CountResult{}, newServiceError(opUpdateCount, "user_stats_query_failed", err)
	}

	s.log.Info("daily totals updated",
		zap.String("user_id", userID),
		zap.Int("increment", increment),
		zap.Int("decrement", decrement),
		zap.Int("current_inside", totals.CurrentInside))

	return CountResult{
		Success:      true,
		CurrentTotal: totals.CurrentInside,
		UserStats:    userStats,
	}, nil
}

// GetStats returns the combined occupancy snapshot for a date (today when
// empty): aggregate totals, the caller's own stats and the hourly breakdown.
func (s *Service) GetStats(ctx context.Context, userID, date string) (StatsResult, error) {
	targetDate := date
	if targetDate == "" {
		targetDate = dates.Format(s.clock())
	}
	if !dates.IsValid(targetDate) {
		return StatsResult{}, newServiceError(opGetStats, "invalid_date",
			fmt.Errorf("%w: %q", ErrInvalidDate, targetDate))
	}

	totals, err := s.store.DailyTotals(ctx, s.db, targetDate)
	if err != nil {
		s.logError(opGetStats, "totals_query_failed", err, zap.String("date", targetDate))
		return StatsResult{}, newServiceError(opGetStats, "totals_query_failed", err)
	}
	userStats, err := s.userStats(ctx, userID, targetDate)
	if err != nil {
		s.logError(opGetStats, "user_stats_query_failed", err, zap.String("date", targetDate))
		return StatsResult{}, newServiceError(opGetStats, "user_stats_query_failed", err)
	}
	hourly, err := s.store.HourlyStats(ctx, s.db, targetDate)
	if err != nil {
		s.logError(opGetStats, "hourly_query_failed", err, zap.String("date", targetDate))
		return StatsResult{}, newServiceError(opGetStats, "hourly_query_failed", err)
	}

	return StatsResult{
		Date:         targetDate,
		CurrentTotal: totals.CurrentInside,
		TodayStats:   totals,
		UserStats:    userStats,
		HourlyStats:  hourly,
	}, nil
}

// GetHistory returns per-day aggregates over an inclusive range of at most 90
// days, optionally filtered to one user, plus summary statistics.
func (s *Service) GetHistory(ctx context.Context, startDate, endDate, userID string) (HistoryResult, error) {
	if !dates.IsValid(startDate) || !dates.IsValid(endDate) {
		return HistoryResult{}, newServiceError(opGetHistory, "invalid_date",
			fmt.Errorf("%w: %q..%q", ErrInvalidDate, startDate, endDate))
	}
	daysDiff, err := dates.DaysBetween(startDate, endDate)
	if err != nil {
		return HistoryResult{}, newServiceError(opGetHistory, "invalid_date", err)
	}
	if daysDiff < 0 {
		return HistoryResult{}, newServiceError(opGetHistory, "inverted_range",
			fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, startDate, endDate))
	}
	if daysDiff > maxHistoryRangeDay {
		return HistoryResult{}, newServiceError(opGetHistory, "range_too_long",
			fmt.Errorf("%w: %d days exceeds the %d day limit", ErrInvalidRange, daysDiff, maxHistoryRangeDay))
	}

	history, err := s.store.HistoryByDateRange(ctx, s.db, startDate, endDate, userID)
	if err != nil {
		s.logError(opGetHistory, "history_query_failed", err,
			zap.String("start_date", startDate), zap.String("end_date", endDate))
		return HistoryResult{}, newServiceError(opGetHistory, "history_query_failed", err)
	}
	summary, err := s.store.SummaryStats(ctx, s.db, startDate, endDate)
	if err != nil {
		s.logError(opGetHistory, "summary_query_failed", err,
			zap.String("start_date", startDate), zap.String("end_date", endDate))
		return HistoryResult{}, newServiceError(opGetHistory, "summary_query_failed", err)
	}

	return HistoryResult{
		History: history,
		Period: Period{
			StartDate: startDate,
			EndDate:   endDate,
			TotalDays: daysDiff + 1,
		},
		Summary: summary,
	}, nil
}

// HealthStatus reports datastore liveness. It never fails: any internal error
// degrades the response to an unhealthy status instead.
func (s *Service) HealthStatus(ctx context.Context) HealthStatus {
	currentDate := dates.Format(s.clock())

	recent, err := s.store.HasRecentActivity(ctx, s.db, recentWindow)
	if err != nil {
		s.log.Error("health check failed", zap.Error(err))
		return HealthStatus{Status: "unhealthy", CurrentDate: currentDate}
	}
	totals, err := s.store.DailyTotals(ctx, s.db, currentDate)
	if err != nil {
		s.log.Error("health check failed", zap.Error(err))
		return HealthStatus{Status: "unhealthy", CurrentDate: currentDate}
	}

	return HealthStatus{
		Status:         "healthy",
		RecentActivity: recent,
		CurrentDate:    currentDate,
		TotalToday:     totals.CurrentInside,
	}
}

// ResetUserData removes all count rows for one user. Administrative only.
func (s *Service) ResetUserData(ctx context.Context, userID string) (ResetResult, error) {
	if userID == "" {
		return ResetResult{}, newServiceError(opResetUser, "missing_user_id", errMissingUserID)
	}
	if err := s.store.DeleteByUserID(ctx, s.db, userID); err != nil {
		s.logError(opResetUser, "delete_failed", err, zap.String("user_id", userID))
		return ResetResult{}, newServiceError(opResetUser, "delete_failed", err)
	}
	s.log.Warn("admin reset user data", zap.String("user_id", userID))
	return ResetResult{
		Success: true,
		Message: fmt.Sprintf("all safety count data for user %s has been deleted", userID),
	}, nil
}

// ResetDateData removes all count rows for one date. Administrative only.
func (s *Service) ResetDateData(ctx context.Context, date string) (ResetResult, error) {
	if !dates.IsValid(date) {
		return ResetResult{}, newServiceError(opResetDate, "invalid_date",
			fmt.Errorf("%w: %q", ErrInvalidDate, date))
	}
	if err := s.store.DeleteByDate(ctx, s.db, date); err != nil {
		s.logError(opResetDate, "delete_failed", err, zap.String("date", date))
		return ResetResult{}, newServiceError(opResetDate, "delete_failed", err)
	}
	s.log.Warn("admin reset date data", zap.String("date", date))
	return ResetResult{
		Success: true,
		Message: fmt.Sprintf("all safety count data for %s has been deleted", date),
	}, nil
}

func (s *Service) userStats(ctx context.Context, userID, date string) (UserStats, error) {
	row, err := s.store.FindByUserAndDate(ctx, s.db, userID, date)
	if err != nil {
		return UserStats{}, err
	}
	if row == nil {
		return UserStats{}, nil
	}
	return UserStats{
		Increment: row.Increment,
		Decrement: row.Decrement,
		NetCount:  row.NetCount(),
	}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.log.Error("safety service error", attrs...)
}
