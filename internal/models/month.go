package models

import (
	"fmt"
	"time"
)

// MonthKey is a calendar month in "YYYY-MM" form. The string encoding sorts
// chronologically, so plain comparison works for ordering.
type MonthKey string

const monthLayout = "2006-01"

// MonthOf returns the MonthKey for the calendar month containing t (UTC).
func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.UTC().Format(monthLayout))
}

// CurrentMonth returns the MonthKey for the current calendar month.
func CurrentMonth() MonthKey {
	return MonthOf(time.Now())
}

// ParseMonthKey validates s as a "YYYY-MM" month key.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid month key %q: expected YYYY-MM", s)
	}
	return MonthOf(t), nil
}

// Time returns midnight UTC on the first day of the month. Zero time for an
// invalid key.
func (m MonthKey) Time() time.Time {
	t, err := time.Parse(monthLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Next returns the immediately following calendar month.
func (m MonthKey) Next() MonthKey {
	return MonthOf(m.Time().AddDate(0, 1, 0))
}

// Before reports whether m precedes o.
func (m MonthKey) Before(o MonthKey) bool {
	return string(m) < string(o)
}
