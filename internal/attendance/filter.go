package attendance

import "strings"

// RecordInfo is what record filters see: the raid-day date key of the record
// plus its descriptive labels.
type RecordInfo struct {
	Date Date
	Zone string
	Tags []string
}

type RecordFilter func(RecordInfo) bool

type Member[ID comparable] struct {
	ID   ID
	Name string
	Rank string
}

type MemberFilter[ID comparable] func(Member[ID]) bool

// DateRange keeps records whose date key is in [since, before). A zero bound
// is open.
func DateRange(since, before Date) RecordFilter {
	return func(r RecordInfo) bool {
		if !since.IsZero() && r.Date.Before(since) {
			return false
		}
		if !before.IsZero() && !r.Date.Before(before) {
			return false
		}
		return true
	}
}

// ZoneAllowList matches zones case-insensitively. An empty list keeps all.
func ZoneAllowList(zones ...string) RecordFilter {
	allowed := foldSet(zones)
	return func(r RecordInfo) bool {
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[strings.ToLower(strings.TrimSpace(r.Zone))]
		return ok
	}
}

// TagScope drops a record as soon as one of its tags does not count toward
// attendance.
func TagScope(counts func(tag string) bool) RecordFilter {
	return func(r RecordInfo) bool {
		if counts == nil {
			return true
		}
		for _, tag := range r.Tags {
			if !counts(tag) {
				return false
			}
		}
		return true
	}
}

// TagAllowList keeps records carrying at least one listed tag. An empty list
// keeps all.
func TagAllowList(tags ...string) RecordFilter {
	allowed := foldSet(tags)
	return func(r RecordInfo) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, tag := range r.Tags {
			if _, ok := allowed[strings.ToLower(strings.TrimSpace(tag))]; ok {
				return true
			}
		}
		return false
	}
}

func AllRecords(filters ...RecordFilter) RecordFilter {
	return func(r RecordInfo) bool {
		for _, f := range filters {
			if f != nil && !f(r) {
				return false
			}
		}
		return true
	}
}

// RankScope keeps members whose rank is listed. An empty list keeps all.
func RankScope[ID comparable](ranks ...string) MemberFilter[ID] {
	allowed := foldSet(ranks)
	return func(m Member[ID]) bool {
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[strings.ToLower(strings.TrimSpace(m.Rank))]
		return ok
	}
}

func AllMembers[ID comparable](filters ...MemberFilter[ID]) MemberFilter[ID] {
	return func(m Member[ID]) bool {
		for _, f := range filters {
			if f != nil && !f(m) {
				return false
			}
		}
		return true
	}
}

// FilterRecords applies keep to every record using its raid-day date key.
func FilterRecords[ID comparable](records []RaidEventRecord[ID], boundary DayBoundary, keep RecordFilter) ([]RaidEventRecord[ID], error) {
	if err := boundary.validate(); err != nil {
		return nil, err
	}
	out := make([]RaidEventRecord[ID], 0, len(records))
	for _, r := range records {
		if keep != nil && !keep(RecordInfo{Date: boundary.DateKey(r.StartTime), Zone: r.Zone, Tags: r.Tags}) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
