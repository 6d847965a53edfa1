package service

import (
	"raid-attendance/internal/attendance"
	"raid-attendance/internal/domain"
	"strings"
)

// roster is a per-request snapshot of the eligibility collaborator.
type roster struct {
	// order follows the repository listing
	order     []int64
	members   map[int64]domain.Member
	byName    map[string]int64
	rankCount map[string]bool
	tagCount  map[string]bool
}

func newRoster(members []domain.Member, ranks []domain.Rank, tags []domain.Tag) roster {
	r := roster{
		order:     make([]int64, 0, len(members)),
		members:   make(map[int64]domain.Member, len(members)),
		byName:    make(map[string]int64, len(members)),
		rankCount: make(map[string]bool, len(ranks)),
		tagCount:  make(map[string]bool, len(tags)),
	}
	for _, m := range members {
		if _, dup := r.members[m.ID]; !dup {
			r.order = append(r.order, m.ID)
		}
		r.members[m.ID] = m
		r.byName[normalize(m.Name)] = m.ID
	}
	for _, rk := range ranks {
		r.rankCount[normalize(rk.Name)] = rk.CountsToAttendance
	}
	for _, t := range tags {
		r.tagCount[normalize(t.Name)] = t.CountsToAttendance
	}
	return r
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// tagCounts treats tags missing from the roster as counting.
func (r roster) tagCounts(tag string) bool {
	counts, ok := r.tagCount[normalize(tag)]
	return !ok || counts
}

// memberCounts is false for unknown or inactive members and for members whose
// rank is flagged as not counting. Unranked members count.
func (r roster) memberCounts(id int64) bool {
	m, ok := r.members[id]
	if !ok || !m.Active {
		return false
	}
	if m.RankName == "" {
		return true
	}
	counts, ok := r.rankCount[normalize(m.RankName)]
	return !ok || counts
}

func (r roster) name(id int64) string {
	return r.members[id].Name
}

func (r roster) attendanceMembers() []attendance.Member[int64] {
	out := make([]attendance.Member[int64], 0, len(r.order))
	for _, id := range r.order {
		if !r.memberCounts(id) {
			continue
		}
		m := r.members[id]
		out = append(out, attendance.Member[int64]{ID: id, Name: m.Name, Rank: m.RankName})
	}
	return out
}

// reportRecords translates name-keyed reports into member-id keyed records.
// Attendees with no roster match are dropped and counted.
func reportRecords(reports []domain.Report, r roster) ([]attendance.RaidEventRecord[int64], int) {
	unmatched := 0
	out := make([]attendance.RaidEventRecord[int64], 0, len(reports))
	for _, rep := range reports {
		rec := attendance.RaidEventRecord[int64]{
			ID:        "report:" + rep.Code,
			StartTime: rep.StartedAt,
			Zone:      rep.Zone,
			Tags:      rep.Tags,
			Presences: make([]attendance.Presence[int64], 0, len(rep.Attendees)),
		}
		for _, a := range rep.Attendees {
			id, ok := r.byName[normalize(a.Name)]
			if !ok {
				unmatched++
				continue
			}
			rec.Presences = append(rec.Presences, attendance.Presence[int64]{Participant: id, Code: attendance.PresenceCode(a.Presence)})
		}
		out = append(out, rec)
	}
	return out, unmatched
}

func raidRecords(raids []domain.Raid) []attendance.RaidEventRecord[int64] {
	out := make([]attendance.RaidEventRecord[int64], 0, len(raids))
	for _, raid := range raids {
		rec := attendance.RaidEventRecord[int64]{
			ID:        "raid:" + raid.ID,
			StartTime: raid.StartedAt,
			Zone:      raid.Zone,
			Tags:      raid.Tags,
			Presences: make([]attendance.Presence[int64], 0, len(raid.Entries)),
		}
		for _, e := range raid.Entries {
			rec.Presences = append(rec.Presences, attendance.Presence[int64]{Participant: e.MemberID, Code: attendance.PresenceCode(e.Presence)})
		}
		out = append(out, rec)
	}
	return out
}
