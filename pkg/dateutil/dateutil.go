// Package dateutil parses the date phrases students type and maps schedule day names.
package dateutil

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical calendar date format used across the API.
const Layout = "2006-01-02"

var layouts = []string{
	Layout,
	time.RFC3339,
	"02-01-2006",
	"01/02/2006",
	"02/01/2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"Jan 02, 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Midnight returns the start of t's calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Parse resolves raw into a calendar day at midnight in loc, relative to now.
// Empty input means today.
func Parse(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	today := Midnight(now, loc)
	value := strings.ToLower(strings.TrimSpace(raw))

	switch value {
	case "", "today", "now":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	if fields := strings.Fields(value); len(fields) == 2 && (fields[0] == "last" || fields[0] == "next") {
		day, ok := ParseWeekday(fields[1])
		if !ok {
			return time.Time{}, fmt.Errorf("unknown weekday %q", fields[1])
		}
		return relativeWeekday(today, day, fields[0] == "next"), nil
	}

	trimmed := strings.TrimSpace(raw)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return Midnight(t, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func relativeWeekday(today time.Time, day time.Weekday, forward bool) time.Time {
	diff := int(day) - int(today.Weekday())
	if forward {
		if diff <= 0 {
			diff += 7
		}
		return today.AddDate(0, 0, diff)
	}
	if diff >= 0 {
		diff -= 7
	}
	return today.AddDate(0, 0, diff)
}

// ParseWeekday accepts full or three-letter day names in any case.
func ParseWeekday(raw string) (time.Weekday, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if day, ok := weekdays[value]; ok {
		return day, true
	}
	if len(value) >= 3 {
		for name, day := range weekdays {
			if strings.HasPrefix(name, value) {
				return day, true
			}
		}
	}
	return 0, false
}

// CanonicalDay maps a schedule day label to its full English weekday name.
func CanonicalDay(raw string) (string, bool) {
	day, ok := ParseWeekday(raw)
	if !ok {
		return "", false
	}
	return day.String(), true
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}
