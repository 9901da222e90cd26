package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is a bit set of days of the week.
type WeekdaySet uint8

// Everyday contains all seven weekdays.
const Everyday WeekdaySet = 1<<7 - 1

// ErrNoWeekdays is returned when a preference string names no days.
var ErrNoWeekdays = errors.New("no delivery days given")

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Weekdays builds a set from individual days.
func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Len returns the number of days in the set.
func (s WeekdaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// String lists the days Monday first, e.g. "Monday, Tuesday".
func (s WeekdaySet) String() string {
	if s == Everyday {
		return "Everyday"
	}
	var names []string
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if s.Has(d) {
			names = append(names, d.String())
		}
	}
	return strings.Join(names, ", ")
}

// ParseWeekdays reads delivery preferences such as "Monday - Friday", "Mon-Sat",
// "Everyday" or "Monday, Wednesday, Friday".
func ParseWeekdays(raw string) (WeekdaySet, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return 0, ErrNoWeekdays
	}
	switch text {
	case "everyday", "every day", "daily", "all days", "7 days":
		return Everyday, nil
	case "weekdays":
		return Weekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday), nil
	case "weekends", "weekend":
		return Weekdays(time.Saturday, time.Sunday), nil
	}

	var set WeekdaySet
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|'
	})
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := splitRange(part); ok {
			start, err := lookupWeekday(from)
			if err != nil {
				return 0, err
			}
			end, err := lookupWeekday(to)
			if err != nil {
				return 0, err
			}
			for d := start; ; d = (d + 1) % 7 {
				set |= Weekdays(d)
				if d == end {
					break
				}
			}
			continue
		}
		for _, word := range strings.Fields(strings.ReplaceAll(part, "&", " ")) {
			if word == "and" {
				continue
			}
			d, err := lookupWeekday(word)
			if err != nil {
				return 0, err
			}
			set |= Weekdays(d)
		}
	}
	if set == 0 {
		return 0, ErrNoWeekdays
	}
	return set, nil
}

func splitRange(part string) (string, string, bool) {
	for _, sep := range []string{" to ", "-", "–"} {
		if i := strings.Index(part, sep); i > 0 {
			return strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+len(sep):]), true
		}
	}
	return "", "", false
}

func lookupWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.Trim(strings.TrimSpace(name), ".")]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return d, nil
}
