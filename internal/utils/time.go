package utils

import (
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/constants"
)

// ParseDate parses a YYYY-MM-DD date at UTC midnight. All day arithmetic in
// habitsync happens on these values so DST never shifts a day count.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(constants.DateFormat, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", date, err)
	}
	return t, nil
}

// FormatDate formats the calendar date of t, ignoring its location.
func FormatDate(t time.Time) string {
	return t.Format(constants.DateFormat)
}

// DateOf drops the clock and location of t, keeping its calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	a, b = DateOf(a), DateOf(b)
	return int(b.Sub(a).Hours() / 24)
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, n)), nil
}

// LoadLocation loads a timezone location from an IANA timezone name.
// If the timezone is "Local" or empty, it returns the system's local timezone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}

// Today returns the current date (YYYY-MM-DD) in the given timezone.
func Today(timezone string) (string, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return FormatDate(time.Now().In(loc)), nil
}

// ValidDate reports whether date is a real YYYY-MM-DD calendar date.
func ValidDate(date string) bool {
	_, err := ParseDate(date)
	return err == nil
}
