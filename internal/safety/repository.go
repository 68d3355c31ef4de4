package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sparcs-kamf/backend/internal/dates"
	"gorm.io/gorm"
)

var (
	errMissingRepoIDProvider = errors.New("safety: id provider is required")
)

// RepositoryConfig describes the collaborators of the count store.
type RepositoryConfig struct {
	Clock      func() time.Time
	IDProvider IDProvider
}

// Repository is the persistence layer for daily count rows. It holds no
// database handle of its own: every method receives one explicitly so the
// upsert can run on the caller's transaction while reads use the ambient
// connection.
type Repository struct {
	clock func() time.Time
	ids   IDProvider
}

// NewRepository constructs the count store.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.IDProvider == nil {
		return nil, errMissingRepoIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Repository{clock: clock, ids: cfg.IDProvider}, nil
}

// FindByUserAndDate loads one user's row for a date. Returns nil when absent.
func (r *Repository) FindByUserAndDate(ctx context.Context, db *gorm.DB, userID, date string) (*DailyCount, error) {
	var row DailyCount
	err := db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertCount overwrites one user's cumulative totals for a date, creating the
// row on first write. Both failure modes of a write-write race surface as
// ErrWriteConflict: a stale version on update, and a duplicate-key violation
// when two first writes race on the uniqueness constraint.
func (r *Repository) UpsertCount(ctx context.Context, db *gorm.DB, userID string, increment, decrement int, date string) (*DailyCount, error) {
	existing, err := r.FindByUserAndDate(ctx, db, userID, date)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		id, err := r.ids.NewID()
		if err != nil {
			return nil, err
		}
		created := DailyCount{
			ID:        id,
			UserID:    userID,
			Date:      date,
			Increment: increment,
			Decrement: decrement,
			Version:   1,
		}
		if err := db.WithContext(ctx).Create(&created).Error; err != nil {
			if isDuplicateKey(err) {
				return nil, fmt.Errorf("%w: first insert raced for user %s on %s", ErrWriteConflict, userID, date)
			}
			return nil, err
		}
		return &created, nil
	}

	result := db.WithContext(ctx).Model(&DailyCount{}).
		Where("id = ? AND version = ?", existing.ID, existing.Version).
		Updates(map[string]any{
			"increment": increment,
			"decrement": decrement,
			"version":   existing.Version + 1,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: version %d is stale for user %s on %s", ErrWriteConflict, existing.Version, userID, date)
	}

	updated := *existing
	updated.Increment = increment
	updated.Decrement = decrement
	updated.Version = existing.Version + 1
	return &updated, nil
}

// DailyTotals sums all users' totals for one date. CurrentInside clamps the
// aggregate net at zero; individual rows are never clamped.
func (r *Repository) DailyTotals(ctx context.Context, db *gorm.DB, date string) (DailyTotals, error) {
	var row struct {
		TotalIncrement int
		TotalDecrement int
	}
	err := db.WithContext(ctx).Model(&DailyCount{}).
		Select("COALESCE(SUM(increment), 0) AS total_increment, COALESCE(SUM(decrement), 0) AS total_decrement").
		Where("date = ?", date).
		Scan(&row).Error
	if err != nil {
		return DailyTotals{}, err
	}

	inside := row.TotalIncrement - row.TotalDecrement
	if inside < 0 {
		inside = 0
	}
	return DailyTotals{
		TotalIncrement: row.TotalIncrement,
		TotalDecrement: row.TotalDecrement,
		CurrentInside:  inside,
	}, nil
}

// HourlyStats spreads the daily totals uniformly across the elapsed hours of
// the day: floor(total/24) per hour up to the current UTC hour, zero beyond it,
// with the running total clamped at zero. This is a placeholder distribution,
// kept until per-event timestamps become part of the data model.
func (r *Repository) HourlyStats(ctx context.Context, db *gorm.DB, date string) ([]HourlySlot, error) {
	totals, err := r.DailyTotals(ctx, db, date)
	if err != nil {
		return nil, err
	}

	currentHour := dates.HourOf(r.clock())
	hourlyIncrement := totals.TotalIncrement / 24
	hourlyDecrement := totals.TotalDecrement / 24

	slots := make([]HourlySlot, 0, 24)
	runningTotal := 0
	for _, hour := range dates.HourlySlots() {
		increment := 0
		decrement := 0
		if hour <= currentHour {
			increment = hourlyIncrement
			decrement = hourlyDecrement
		}
		runningTotal += increment - decrement
		if runningTotal < 0 {
			runningTotal = 0
		}
		slots = append(slots, HourlySlot{
			Hour:      hour,
			Increment: increment,
			Decrement: decrement,
			Total:     runningTotal,
		})
	}
	return slots, nil
}

// HistoryByDateRange groups totals by date over an inclusive range, ascending.
// An empty userID aggregates across all users.
func (r *Repository) HistoryByDateRange(ctx context.Context, db *gorm.DB, startDate, endDate, userID string) ([]HistoryItem, error) {
	query := db.WithContext(ctx).Model(&DailyCount{}).
		Select("date, " +
			"COALESCE(SUM(increment), 0) AS total_increment, " +
			"COALESCE(SUM(decrement), 0) AS total_decrement, " +
			"COALESCE(SUM(increment) - SUM(decrement), 0) AS net_count").
		Where("date BETWEEN ? AND ?", startDate, endDate).
		Group("date").
		Order("date ASC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	items := make([]HistoryItem, 0)
	if err := query.Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// SummaryStats condenses a range into overall totals, the rounded average
// daily net, and the peak day. An empty range yields zeros with the range
// start as the peak day.
func (r *Repository) SummaryStats(ctx context.Context, db *gorm.DB, startDate, endDate string) (SummaryStats, error) {
	rows, err := r.HistoryByDateRange(ctx, db, startDate, endDate, "")
	if err != nil {
		return SummaryStats{}, err
	}
	if len(rows) == 0 {
		return SummaryStats{PeakDay: startDate}, nil
	}

	totalIncrement := 0
	totalDecrement := 0
	peak := rows[0]
	for _, row := range rows {
		totalIncrement += row.TotalIncrement
		totalDecrement += row.TotalDecrement
		if row.NetCount > peak.NetCount {
			peak = row
		}
	}

	daysDiff, err := dates.DaysBetween(startDate, endDate)
	if err != nil {
		return SummaryStats{}, err
	}
	daysInRange := daysDiff + 1

	return SummaryStats{
		TotalIncrement: totalIncrement,
		TotalDecrement: totalDecrement,
		AverageDaily:   roundToNearest(totalIncrement-totalDecrement, daysInRange),
		PeakDay:        peak.Date,
		PeakCount:      peak.NetCount,
	}, nil
}

// HasRecentActivity reports whether any row was written within the window.
func (r *Repository) HasRecentActivity(ctx context.Context, db *gorm.DB, window time.Duration) (bool, error) {
	cutoff := r.clock().UTC().Add(-window)
	var count int64
	err := db.WithContext(ctx).Model(&DailyCount{}).
		Where("updated_at >= ?", cutoff).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteByUserID removes every row belonging to one user. Administrative only.
func (r *Repository) DeleteByUserID(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&DailyCount{}).Error
}

// DeleteByDate removes every row for one date. Administrative only.
func (r *Repository) DeleteByDate(ctx context.Context, db *gorm.DB, date string) error {
	return db.WithContext(ctx).
		Where("date = ?", date).
		Delete(&DailyCount{}).Error
}

// roundToNearest divides and rounds half away from zero.
func roundToNearest(total, days int) int {
	if days == 0 {
		return 0
	}
	if total >= 0 {
		return (total + days/2) / days
	}
	return -((-total + days/2) / days)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
