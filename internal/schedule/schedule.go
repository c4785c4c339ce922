// Package schedule validates and normalizes a family's call-day preferences
// into a weekly call schedule, and answers what time a given day's call
// should happen. All functions are pure.
package schedule

import (
	"fmt"
	"strings"
)

var (
	ErrEmptySchedule   = fmt.Errorf("no call days selected")
	ErrInvalidWeekday  = fmt.Errorf("invalid weekday")
	ErrInvalidTimeSlot = fmt.Errorf("invalid time slot")
	ErrDayNotScheduled = fmt.Errorf("day is not a scheduled call day")
)

// weekdayOrder fixes the canonical Monday-first ordering used everywhere a
// schedule is displayed or iterated.
var weekdayOrder = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// CallSchedule is a normalized weekly call schedule. SelectedDays is never
// empty and DayOverrides only carries keys present in SelectedDays.
type CallSchedule struct {
	SelectedDays []string
	DefaultTime  string
	DayOverrides map[string]string
}

// Summary is the coarse reporting view of a schedule. TimeOfDay is derived
// from the default time only, even when most days use overrides.
type Summary struct {
	FrequencyLabel string
	TimeOfDay      string
}

// Normalize turns raw scheduling input into a CallSchedule. Selected days are
// deduplicated and put in canonical weekday order. Override keys for days
// that are not selected are dropped, not rejected: an override refines an
// active call day, it never adds one.
func Normalize(days []string, defaultTime string, overrides map[string]string) (*CallSchedule, error) {
	selected := make([]string, 0, len(days))
	seen := make(map[string]bool, len(days))

	for _, d := range days {
		day := strings.ToLower(strings.TrimSpace(d))
		if !isWeekday(day) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, d)
		}
		if !seen[day] {
			seen[day] = true
			selected = append(selected, day)
		}
	}

	if len(selected) == 0 {
		return nil, ErrEmptySchedule
	}

	if !IsValidSlot(defaultTime) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeSlot, defaultTime)
	}

	kept := make(map[string]string)
	for d, t := range overrides {
		day := strings.ToLower(strings.TrimSpace(d))
		if !seen[day] {
			continue
		}
		if !IsValidSlot(t) {
			return nil, fmt.Errorf("%w: %q for %s", ErrInvalidTimeSlot, t, day)
		}
		kept[day] = t
	}

	return &CallSchedule{
		SelectedDays: sortWeekdays(selected),
		DefaultTime:  defaultTime,
		DayOverrides: kept,
	}, nil
}

// ResolveTimeForDay returns the call time for day: the per-day override when
// present, the default time otherwise. Asking for a day that is not selected
// is a caller error.
func ResolveTimeForDay(s *CallSchedule, day string) (string, error) {
	day = strings.ToLower(strings.TrimSpace(day))

	found := false
	for _, d := range s.SelectedDays {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrDayNotScheduled, day)
	}

	if t, ok := s.DayOverrides[day]; ok {
		return t, nil
	}
	return s.DefaultTime, nil
}

// Summarize produces the human-readable frequency label and time-of-day
// category shown on the family dashboard.
func Summarize(s *CallSchedule) Summary {
	n := len(s.SelectedDays)

	var label string
	switch n {
	case 1:
		label = "1 call per week"
	case 7:
		label = "Daily calls"
	default:
		label = fmt.Sprintf("%d calls per week", n)
	}

	return Summary{
		FrequencyLabel: label,
		TimeOfDay:      TimeOfDay(s.DefaultTime),
	}
}

// TimeOfDay classifies an "HH:MM" slot as morning, afternoon or evening.
func TimeOfDay(slot string) string {
	h, _, ok := parseSlot(slot)
	if !ok {
		return ""
	}
	switch {
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// IsValidSlot reports whether slot is a supported half-hour slot between
// 08:00 and 20:00 inclusive.
func IsValidSlot(slot string) bool {
	h, m, ok := parseSlot(slot)
	if !ok {
		return false
	}
	if m != 0 && m != 30 {
		return false
	}
	if h < 8 || h > 20 {
		return false
	}
	if h == 20 && m != 0 {
		return false
	}
	return true
}

func parseSlot(slot string) (hour, minute int, ok bool) {
	if len(slot) != 5 || slot[2] != ':' {
		return 0, 0, false
	}
	// Both fields must be exactly two digits; Sscanf-style parsing would let
	// trailing garbage like "08:0a" through as a truncated number.
	for _, i := range []int{0, 1, 3, 4} {
		if slot[i] < '0' || slot[i] > '9' {
			return 0, 0, false
		}
	}
	h := int(slot[0]-'0')*10 + int(slot[1]-'0')
	m := int(slot[3]-'0')*10 + int(slot[4]-'0')
	if h > 23 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func isWeekday(day string) bool {
	for _, d := range weekdayOrder {
		if d == day {
			return true
		}
	}
	return false
}

func sortWeekdays(days []string) []string {
	out := make([]string, 0, len(days))
	for _, d := range weekdayOrder {
		for _, have := range days {
			if have == d {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
