// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// DateLayout is the wire and key format of a logical date.
const DateLayout = "2006-01-02"

// Date is a civil calendar day with no time-of-day or zone.
// The zero value is "no date".
type Date struct {
	t time.Time
}

// NewDate builds a Date from its parts. Out-of-range values are normalised
// the way time.Date normalises them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// Yesterday returns the logical processing date for an invocation at now:
// the day before now, as observed in loc.
func Yesterday(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc)).AddDays(-1)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

// WeekKey returns the ISO week period key, e.g. weekly#2024-W05.
// The year is the ISO year, which differs from the calendar year around
// the new year.
func (d Date) WeekKey() string {
	y, w := d.t.ISOWeek()
	return fmt.Sprintf("%s#%04d-W%02d", Weekly, y, w)
}

// MonthKey returns the calendar month period key, e.g. monthly#2024-02.
func (d Date) MonthKey() string {
	return fmt.Sprintf("%s#%s", Monthly, d.MonthTag())
}

// YearKey returns the calendar year period key, e.g. yearly#2024.
func (d Date) YearKey() string {
	return fmt.Sprintf("%s#%04d", Yearly, d.t.Year())
}

// MonthTag is the YYYY-MM label tracked by yearly buckets.
func (d Date) MonthTag() string {
	return d.t.Format("2006-01")
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
