package attendance

import (
	"fmt"
	"sort"
	"strings"
)

// GroupDays collapses records into one RaidDay per date key, ascending.
// Records may arrive in any order; the result depends only on their content.
func GroupDays[ID comparable](records []RaidEventRecord[ID], boundary DayBoundary) ([]RaidDay[ID], error) {
	if err := boundary.validate(); err != nil {
		return nil, err
	}

	sorted := make([]RaidEventRecord[ID], 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: record without id", ErrInvalidInput)
		}
		if r.StartTime.IsZero() {
			return nil, fmt.Errorf("%w: record %s has no start time", ErrInvalidInput, r.ID)
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var days []*dayAccumulator[ID]
	byDate := make(map[Date]*dayAccumulator[ID])
	for _, r := range sorted {
		key := boundary.DateKey(r.StartTime)
		acc, ok := byDate[key]
		if !ok {
			acc = newDayAccumulator[ID](key, r)
			byDate[key] = acc
			days = append(days, acc)
		}
		acc.add(r)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].day.Date.Before(days[j].day.Date) })

	out := make([]RaidDay[ID], len(days))
	for i, acc := range days {
		out[i] = acc.day
	}
	return out, nil
}

type dayAccumulator[ID comparable] struct {
	day   RaidDay[ID]
	index map[ID]int
	zones map[string]struct{}
	tags  map[string]struct{}
}

func newDayAccumulator[ID comparable](date Date, first RaidEventRecord[ID]) *dayAccumulator[ID] {
	return &dayAccumulator[ID]{
		day:   RaidDay[ID]{Date: date, Start: first.StartTime},
		index: make(map[ID]int),
		zones: make(map[string]struct{}),
		tags:  make(map[string]struct{}),
	}
}

func (a *dayAccumulator[ID]) add(r RaidEventRecord[ID]) {
	a.day.RecordIDs = append(a.day.RecordIDs, r.ID)

	if zone := strings.TrimSpace(r.Zone); zone != "" {
		if _, seen := a.zones[zone]; !seen {
			a.zones[zone] = struct{}{}
			a.day.Zones = append(a.day.Zones, zone)
		}
	}
	for _, tag := range r.Tags {
		if _, seen := a.tags[tag]; !seen {
			a.tags[tag] = struct{}{}
			a.day.Tags = append(a.day.Tags, tag)
		}
	}

	for _, p := range r.Presences {
		i, seen := a.index[p.Participant]
		if !seen {
			a.index[p.Participant] = len(a.day.Presences)
			a.day.Presences = append(a.day.Presences, p)
			continue
		}
		if p.Code.Better(a.day.Presences[i].Code) {
			a.day.Presences[i].Code = p.Code
		}
	}
}
