package dates

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Layout is the calendar-date wire format used throughout the API.
const Layout = "2006-01-02"

// ErrInvalidDate indicates a date string is not a valid YYYY-MM-DD calendar date.
var ErrInvalidDate = errors.New("dates: invalid date")

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Format renders the UTC calendar date for the given instant.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// HourOf returns the UTC hour (0-23) for the given instant.
func HourOf(t time.Time) int {
	return t.UTC().Hour()
}

// IsValid reports whether value is a well formed and calendar-valid YYYY-MM-DD
// date. The parsed date is compared against its own formatting so that inputs
// the parser tolerates (padding, offsets) never slip through.
func IsValid(value string) bool {
	if !datePattern.MatchString(value) {
		return false
	}
	parsed, err := time.Parse(Layout, value)
	if err != nil {
		return false
	}
	return parsed.Format(Layout) == value
}

// Parse converts a YYYY-MM-DD string into its UTC midnight instant.
func Parse(value string) (time.Time, error) {
	if !IsValid(value) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return time.Parse(Layout, value)
}

// DaysBetween returns the whole-day difference end minus start.
// The result is negative when end precedes start.
func DaysBetween(start, end string) (int, error) {
	startTime, err := Parse(start)
	if err != nil {
		return 0, err
	}
	endTime, err := Parse(end)
	if err != nil {
		return 0, err
	}
	return int(endTime.Sub(startTime).Hours() / 24), nil
}

// HourlySlots enumerates the 24 hour slots of a day in ascending order.
func HourlySlots() []int {
	slots := make([]int, 24)
	for hour := range slots {
		slots[hour] = hour
	}
	return slots
}
