package attendance

import (
	"errors"
	"time"
)

var ErrInvalidInput = errors.New("invalid attendance input")

type PresenceCode int

const (
	Absent  PresenceCode = 0
	Present PresenceCode = 1
	Benched PresenceCode = 2
)

// Attended reports whether the code counts toward reportsAttended.
// Codes outside 0..2 are kept as observed non-attendance.
func (c PresenceCode) Attended() bool {
	return c == Present || c == Benched
}

func (c PresenceCode) rank() int {
	switch c {
	case Present:
		return 3
	case Benched:
		return 2
	case Absent:
		return 1
	default:
		return 0
	}
}

// Better reports whether c should replace other when both are recorded for
// the same participant on the same raid day or in the same record.
func (c PresenceCode) Better(other PresenceCode) bool {
	if c.rank() != other.rank() {
		return c.rank() > other.rank()
	}
	return c < other
}

type Presence[ID comparable] struct {
	Participant ID
	Code        PresenceCode
}

type RaidEventRecord[ID comparable] struct {
	ID        string
	StartTime time.Time
	Zone      string
	Tags      []string
	Presences []Presence[ID]
}

type RaidDay[ID comparable] struct {
	Date      Date
	Start     time.Time // earliest contributing record
	Zones     []string
	Tags      []string
	RecordIDs []string
	Presences []Presence[ID]
}

// Code returns the merged presence of id on this day.
func (d RaidDay[ID]) Code(id ID) (PresenceCode, bool) {
	for _, p := range d.Presences {
		if p.Participant == id {
			return p.Code, true
		}
	}
	return Absent, false
}

type Stats[ID comparable] struct {
	Participant     ID
	Name            string
	FirstAttendance time.Time
	TotalReports    int
	ReportsAttended int
	Percentage      float64
}

// Percentage returns attended/total*100 rounded half-up to two decimals.
// A zero total yields zero.
func Percentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	hundredths := (int64(attended)*20000 + int64(total)) / (2 * int64(total))
	return float64(hundredths) / 100
}
