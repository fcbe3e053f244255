package ledger

import (
	"encoding/json"
	"time"
)

// DayFormat is the wire format for calendar dates.
const DayFormat = "2006-01-02"

// Day is a calendar date with no time component. The zero value is no day.
// Internally it is pinned to midnight UTC so Days compare and hash cleanly
// regardless of the location they were bucketed in.
type Day struct {
	t time.Time
}

// NewDay constructs a Day from calendar components.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf buckets an instant into its calendar date in loc.
func DayOf(ts time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := ts.In(loc).Date()
	return NewDay(y, m, d)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return Day{}, err
	}
	return Day{t: t}, nil
}

func (d Day) String() string { return d.t.Format(DayFormat) }
func (d Day) IsZero() bool   { return d.t.IsZero() }

// Time returns the midnight-UTC marker used by stores as the key value.
func (d Day) Time() time.Time { return d.t }

func (d Day) Prev() Day { return Day{t: d.t.AddDate(0, 0, -1)} }
func (d Day) Next() Day { return Day{t: d.t.AddDate(0, 0, 1)} }

func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }

// Bounds returns the half-open instant range [start, end) covering the day in loc.
func (d Day) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, dd := d.t.Date()
	start := time.Date(y, m, dd, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Contains reports whether the instant falls on this day in loc.
func (d Day) Contains(ts time.Time, loc *time.Location) bool {
	start, end := d.Bounds(loc)
	return !ts.Before(start) && ts.Before(end)
}

func (d Day) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	p, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}
