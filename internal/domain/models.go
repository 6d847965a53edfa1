package domain

import (
	"time"
)

type Member struct {
	ID        int64
	Name      string
	RankID    int64
	RankName  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Rank struct {
	ID                 int64
	Name               string
	CountsToAttendance bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Tag struct {
	ID                 int64
	Name               string
	CountsToAttendance bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Report is a raid log pulled from the external log provider. Attendees are
// keyed by character name.
type Report struct {
	Code      string
	Title     string
	Zone      string
	StartedAt time.Time
	EndedAt   time.Time
	Tags      []string
	Attendees []ReportAttendee
	Source    string // "logs-api"
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ReportAttendee struct {
	ID         string // nanoid
	ReportCode string
	Name       string
	Presence   int // 0 absent, 1 present, 2 benched
}

// Raid is an officer-recorded raid kept in the local roster. Entries are
// keyed by member id.
type Raid struct {
	ID        string // nanoid
	StartedAt time.Time
	Zone      string
	Tags      []string
	Entries   []RaidEntry
	Source    string // "roster"
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RaidEntry struct {
	RaidID   string
	MemberID int64
	Presence int
}
