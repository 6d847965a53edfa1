package server

type QueryParams struct {
	Since   string   `json:"since,omitempty"`
	Before  string   `json:"before,omitempty"`
	Zones   []string `json:"zones,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Ranks   []string `json:"ranks,omitempty"`
	Refresh bool     `json:"refresh,omitempty"`
}

type AttendanceRequest struct {
	QueryParams
}

type MemberAttendance struct {
	MemberID        int64   `json:"memberId"`
	Name            string  `json:"name"`
	FirstAttendance string  `json:"firstAttendance"`
	TotalReports    int     `json:"totalReports"`
	ReportsAttended int     `json:"reportsAttended"`
	Percentage      float64 `json:"percentage"`
}

type AttendanceResponse struct {
	Members []MemberAttendance `json:"members"`
}

type MemberAttendanceRequest struct {
	MemberID int64 `json:"memberId"`
	QueryParams
}

// Member is nil when the member has no counted raid day in range.
type MemberAttendanceResponse struct {
	Member *MemberAttendance `json:"member"`
}

type MatrixRequest struct {
	QueryParams
}

type MatrixColumn struct {
	Date  string   `json:"date"`
	Zones []string `json:"zones"`
	Tags  []string `json:"tags"`
}

type MatrixRow struct {
	MemberID   int64    `json:"memberId"`
	Name       string   `json:"name"`
	Rank       string   `json:"rank"`
	Attended   int      `json:"attended"`
	Total      int      `json:"total"`
	Percentage float64  `json:"percentage"`
	Cells      []string `json:"cells"`
}

type MatrixResponse struct {
	Columns []MatrixColumn `json:"columns"`
	Rows    []MatrixRow    `json:"rows"`
}

type RaidAttendee struct {
	Name     string `json:"name"`
	Presence int    `json:"presence"`
}

type RecordRaidRequest struct {
	ID        string         `json:"id,omitempty"`
	StartedAt string         `json:"startedAt"`
	Zone      string         `json:"zone"`
	Tags      []string       `json:"tags,omitempty"`
	Attendees []RaidAttendee `json:"attendees"`
}

type RecordRaidResponse struct {
	RaidID  string `json:"raidId"`
	Entries int    `json:"entries"`
}

type UpsertMemberRequest struct {
	Name   string `json:"name"`
	Rank   string `json:"rank"`
	Active *bool  `json:"active,omitempty"`
}

type UpsertMemberResponse struct {
	MemberID int64  `json:"memberId"`
	Name     string `json:"name"`
	Rank     string `json:"rank"`
	Active   bool   `json:"active"`
}

type DeleteRaidRequest struct {
	RaidID string `json:"raidId"`
}

type DeleteRaidResponse struct {
	RaidID string `json:"raidId"`
}
