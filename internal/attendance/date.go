package attendance

import (
	"fmt"
	"time"
)

const DefaultCutoffHour = 5

const dateLayout = "2006-01-02"

// Date is a calendar date with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return dateOf(time.Date(year, month, day, 12, 0, 0, 0, time.UTC))
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q: %v", ErrInvalidInput, s, err)
	}
	return dateOf(t), nil
}

func dateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// AddDays does civil arithmetic at noon UTC so DST never shifts the result.
func (d Date) AddDays(n int) Date {
	return dateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool { return d.compare(o) < 0 }

func (d Date) After(o Date) bool { return d.compare(o) > 0 }

func (d Date) compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return d.Year - o.Year
	case d.Month != o.Month:
		return int(d.Month) - int(o.Month)
	default:
		return d.Day - o.Day
	}
}

// In returns local midnight of d, normalized by time.Date where midnight
// does not exist.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// DayBoundary decides which raid day an instant belongs to. Events earlier
// than CutoffHour local time belong to the previous calendar day.
type DayBoundary struct {
	Location   *time.Location
	CutoffHour int
}

func NewDayBoundary(loc *time.Location, cutoffHour int) (DayBoundary, error) {
	b := DayBoundary{Location: loc, CutoffHour: cutoffHour}
	if err := b.validate(); err != nil {
		return DayBoundary{}, err
	}
	return b, nil
}

func (b DayBoundary) validate() error {
	if b.Location == nil {
		return fmt.Errorf("%w: nil location", ErrInvalidInput)
	}
	if b.CutoffHour < 0 || b.CutoffHour > 23 {
		return fmt.Errorf("%w: cutoff hour %d out of range", ErrInvalidInput, b.CutoffHour)
	}
	return nil
}

func (b DayBoundary) DateKey(t time.Time) Date {
	local := t.In(b.Location)
	d := dateOf(local)
	if local.Hour() < b.CutoffHour {
		return d.AddDays(-1)
	}
	return d
}
