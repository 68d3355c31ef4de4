package safety

import (
	"errors"
	"time"
)

// MaxDailyCount caps a single submitted cumulative total per direction per day.
const MaxDailyCount = 1000

var (
	// ErrInvalidCount indicates a submitted total is negative or above MaxDailyCount.
	ErrInvalidCount = errors.New("safety: count out of range")
	// ErrInvalidDate indicates a date string is not a valid YYYY-MM-DD calendar date.
	ErrInvalidDate = errors.New("safety: invalid date")
	// ErrInvalidRange indicates a history range is inverted or exceeds the query limit.
	ErrInvalidRange = errors.New("safety: invalid date range")
	// ErrWriteConflict indicates concurrent writers raced on the same user+day row.
	ErrWriteConflict = errors.New("safety: concurrent update conflict")
)

// DailyCount stores one staff member's cumulative entry/exit totals for a single
// UTC calendar day. Totals are full-state values resubmitted on every update,
// not deltas; Version backs the optimistic-concurrency check on the write path.
type DailyCount struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	UserID    string    `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_safety_counts_user_date,priority:1;index:idx_safety_counts_user"`
	Date      string    `gorm:"column:date;size:10;not null;uniqueIndex:idx_safety_counts_user_date,priority:2;index:idx_safety_counts_date"`
	Increment int       `gorm:"column:increment;not null;default:0"`
	Decrement int       `gorm:"column:decrement;not null;default:0"`
	Version   int64     `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (DailyCount) TableName() string {
	return "safety_counts"
}

// NetCount returns the row's net occupancy contribution. May be negative.
func (c DailyCount) NetCount() int {
	return c.Increment - c.Decrement
}

// DailyTotals aggregates all users' totals for one date. CurrentInside is the
// estimated live occupancy, clamped to zero when the aggregate net is negative.
type DailyTotals struct {
	TotalIncrement int `json:"totalIncrement"`
	TotalDecrement int `json:"totalDecrement"`
	CurrentInside  int `json:"currentInside"`
}

// UserStats reports one user's own contribution for a date.
type UserStats struct {
	Increment int `json:"increment"`
	Decrement int `json:"decrement"`
	NetCount  int `json:"netCount"`
}

// HourlySlot is one hour's share of the daily totals plus the running occupancy.
type HourlySlot struct {
	Hour      int `json:"hour"`
	Increment int `json:"increment"`
	Decrement int `json:"decrement"`
	Total     int `json:"total"`
}

// HistoryItem is one day's aggregate in a date-range query.
type HistoryItem struct {
	Date           string `json:"date"`
	TotalIncrement int    `json:"totalIncrement"`
	TotalDecrement int    `json:"totalDecrement"`
	NetCount       int    `json:"netCount"`
}

// SummaryStats condenses a date range into headline figures.
type SummaryStats struct {
	TotalIncrement int    `json:"totalIncrement"`
	TotalDecrement int    `json:"totalDecrement"`
	AverageDaily   int    `json:"averageDaily"`
	PeakDay        string `json:"peakDay"`
	PeakCount      int    `json:"peakCount"`
}

// CountResult is returned to the caller after a successful count update.
type CountResult struct {
	Success      bool      `json:"success"`
	CurrentTotal int       `json:"currentTotal"`
	UserStats    UserStats `json:"userStats"`
}

// StatsResult is the combined snapshot served by the stats endpoint.
type StatsResult struct {
	Date         string       `json:"date"`
	CurrentTotal int          `json:"currentTotal"`
	TodayStats   DailyTotals  `json:"todayStats"`
	UserStats    UserStats    `json:"userStats"`
	HourlyStats  []HourlySlot `json:"hourlyStats"`
}

// Period describes the inclusive bounds of a history query.
type Period struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	TotalDays int    `json:"totalDays"`
}

// HistoryResult is the full history payload: per-day rows plus summary.
type HistoryResult struct {
	History []HistoryItem `json:"history"`
	Period  Period        `json:"period"`
	Summary SummaryStats  `json:"summary"`
}

// HealthStatus reports datastore liveness for the health endpoint.
type HealthStatus struct {
	Status         string `json:"status"`
	RecentActivity bool   `json:"recentActivity"`
	CurrentDate    string `json:"currentDate"`
	TotalToday     int    `json:"totalToday"`
}

// ResetResult acknowledges an administrative reset.
type ResetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
