package utils

import (
	"slices"
	"time"

	"github.com/julianstephens/habitsync/internal/models"
)

// ShouldSchedule reports whether a frequency rule makes a habit due on date.
// anchor is the reference date of interval rules; an unparsable or missing
// anchor falls back to fallbackAnchor (normally the epoch start). This logic
// is shared by the schedule resolver and validation.
func ShouldSchedule(freq models.Frequency, anchor, fallbackAnchor string, date time.Time) bool {
	switch freq.Type {
	case models.FrequencyDaily:
		return true
	case models.FrequencyDaysOfWeek:
		return slices.Contains(freq.Days, date.Weekday())
	case models.FrequencyInterval:
		interval := freq.IntervalDays()
		if interval < 1 {
			return false
		}
		ref, err := ParseDate(anchor)
		if err != nil {
			ref, err = ParseDate(fallbackAnchor)
			if err != nil {
				return false
			}
		}
		days := DaysBetween(ref, date)
		return ((days%interval)+interval)%interval == 0
	default:
		return false
	}
}
