package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// DateSet is an ordered set of unique dates. The zero value is an empty set.
type DateSet struct {
	dates []Date
}

// NewDateSet builds a set from the supplied dates, dropping duplicates and zero values.
func NewDateSet(dates ...Date) DateSet {
	var s DateSet
	for _, d := range dates {
		s = s.Add(d)
	}
	return s
}

// ParseDateSet parses YYYY-MM-DD strings into a set.
func ParseDateSet(values []string) (DateSet, error) {
	var s DateSet
	for _, v := range values {
		d, err := Parse(v)
		if err != nil {
			return DateSet{}, err
		}
		s = s.Add(d)
	}
	return s, nil
}

func (s DateSet) index(d Date) (int, bool) {
	i := sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(d) })
	return i, i < len(s.dates) && s.dates[i] == d
}

// Add returns a set that also contains d.
func (s DateSet) Add(d Date) DateSet {
	if d.IsZero() {
		return s
	}
	i, found := s.index(d)
	if found {
		return s
	}
	out := make([]Date, 0, len(s.dates)+1)
	out = append(out, s.dates[:i]...)
	out = append(out, d)
	out = append(out, s.dates[i:]...)
	return DateSet{dates: out}
}

// Remove returns a set without d.
func (s DateSet) Remove(d Date) DateSet {
	i, found := s.index(d)
	if !found {
		return s
	}
	out := make([]Date, 0, len(s.dates)-1)
	out = append(out, s.dates[:i]...)
	out = append(out, s.dates[i+1:]...)
	return DateSet{dates: out}
}

// Union returns the dates present in either set.
func (s DateSet) Union(o DateSet) DateSet {
	out := s
	for _, d := range o.dates {
		out = out.Add(d)
	}
	return out
}

// Difference returns the dates of s not present in o.
func (s DateSet) Difference(o DateSet) DateSet {
	var out DateSet
	for _, d := range s.dates {
		if !o.Contains(d) {
			out.dates = append(out.dates, d)
		}
	}
	return out
}

// Contains reports membership of d.
func (s DateSet) Contains(d Date) bool {
	_, found := s.index(d)
	return found
}

// Len returns the number of dates.
func (s DateSet) Len() int { return len(s.dates) }

// Empty reports whether the set has no dates.
func (s DateSet) Empty() bool { return len(s.dates) == 0 }

// Dates returns a sorted copy of the members.
func (s DateSet) Dates() []Date {
	return append([]Date(nil), s.dates...)
}

// Strings returns the members formatted as YYYY-MM-DD.
func (s DateSet) Strings() []string {
	out := make([]string, len(s.dates))
	for i, d := range s.dates {
		out[i] = d.String()
	}
	return out
}

// Min returns the earliest date; ok is false when the set is empty.
func (s DateSet) Min() (Date, bool) {
	if len(s.dates) == 0 {
		return Date{}, false
	}
	return s.dates[0], true
}

// Max returns the latest date; ok is false when the set is empty.
func (s DateSet) Max() (Date, bool) {
	if len(s.dates) == 0 {
		return Date{}, false
	}
	return s.dates[len(s.dates)-1], true
}

// Before returns the members strictly before d.
func (s DateSet) Before(d Date) DateSet {
	i, _ := s.index(d)
	return DateSet{dates: append([]Date(nil), s.dates[:i]...)}
}

// OnOrAfter returns the members on or after d.
func (s DateSet) OnOrAfter(d Date) DateSet {
	i, _ := s.index(d)
	return DateSet{dates: append([]Date(nil), s.dates[i:]...)}
}

// MarshalJSON encodes the set as a JSON array of date strings.
func (s DateSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a JSON array of date strings.
func (s *DateSet) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = DateSet{}
		return nil
	}
	var values []string
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	parsed, err := ParseDateSet(values)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the set as a JSON array.
func (s DateSet) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON array written by Value.
func (s *DateSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = DateSet{}
		return nil
	case string:
		if v == "" {
			*s = DateSet{}
			return nil
		}
		return s.UnmarshalJSON([]byte(v))
	case []byte:
		if len(v) == 0 {
			*s = DateSet{}
			return nil
		}
		return s.UnmarshalJSON(v)
	default:
		return fmt.Errorf("calendar: cannot scan %T into DateSet", src)
	}
}
