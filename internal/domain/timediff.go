package domain

import (
	"fmt"
	"time"
)

// TimeDiff describes the gap between two consecutive episodes.
type TimeDiff struct {
	Days  int    `json:"days"`
	Label string `json:"label"`
}

// DiffTime labels the calendar gap from a to b. Days are counted as whole
// 24-hour periods; negative gaps are treated as their absolute value.
func DiffTime(a, b time.Time) TimeDiff {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	return TimeDiff{Days: days, Label: diffLabel(days)}
}

func diffLabel(days int) string {
	switch {
	case days == 0:
		return "Same day"
	case days == 1:
		return "1 day later"
	case days < 7:
		return fmt.Sprintf("%d days later", days)
	case days < 30:
		return plural(days/7, "week")
	default:
		return plural(days/30, "month")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s later", unit)
	}
	return fmt.Sprintf("%d %ss later", n, unit)
}
