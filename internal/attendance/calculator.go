package attendance

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"
)

// Calculator computes per-participant attendance over grouped raid days.
// DayEligible drops raid days that do not count toward attendance at all;
// Name resolves display names for ordering. Both are optional.
type Calculator[ID comparable] struct {
	DayEligible func(RaidDay[ID]) bool
	Name        func(ID) string
}

// ForPopulation returns stats for every participant seen on an eligible day
// who passes eligible. A nil eligible admits everyone.
func (c Calculator[ID]) ForPopulation(days []RaidDay[ID], eligible func(ID) bool) []Stats[ID] {
	return c.compute(days, eligible)
}

// ForOne returns nil when id never appears on an eligible day.
func (c Calculator[ID]) ForOne(days []RaidDay[ID], id ID) (*Stats[ID], error) {
	var zero ID
	if id == zero {
		return nil, fmt.Errorf("%w: empty participant id", ErrInvalidInput)
	}
	stats := c.compute(days, func(p ID) bool { return p == id })
	if len(stats) == 0 {
		return nil, nil
	}
	return &stats[0], nil
}

// ForSubset rejects a nil ids slice; an empty one yields no stats.
func (c Calculator[ID]) ForSubset(days []RaidDay[ID], ids []ID) ([]Stats[ID], error) {
	if ids == nil {
		return nil, fmt.Errorf("%w: nil participant set", ErrInvalidInput)
	}
	if len(ids) == 0 {
		return []Stats[ID]{}, nil
	}
	set := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return c.compute(days, func(p ID) bool {
		_, ok := set[p]
		return ok
	}), nil
}

func (c Calculator[ID]) compute(days []RaidDay[ID], eligible func(ID) bool) []Stats[ID] {
	counted := make([]RaidDay[ID], 0, len(days))
	for _, d := range days {
		if c.DayEligible == nil || c.DayEligible(d) {
			counted = append(counted, d)
		}
	}
	sort.SliceStable(counted, func(i, j int) bool { return counted[i].Date.Before(counted[j].Date) })

	type tally struct {
		firstDay int
		attended int
	}
	var order []ID
	tallies := make(map[ID]*tally)
	for i, d := range counted {
		for _, p := range d.Presences {
			t, ok := tallies[p.Participant]
			if !ok {
				if eligible != nil && !eligible(p.Participant) {
					continue
				}
				t = &tally{firstDay: i}
				tallies[p.Participant] = t
				order = append(order, p.Participant)
			}
			if p.Code.Attended() {
				t.attended++
			}
		}
	}

	out := make([]Stats[ID], 0, len(order))
	for _, id := range order {
		t := tallies[id]
		total := len(counted) - t.firstDay
		if total <= 0 {
			continue
		}
		out = append(out, Stats[ID]{
			Participant:     id,
			Name:            c.displayName(id),
			FirstAttendance: counted[t.firstDay].Start,
			TotalReports:    total,
			ReportsAttended: t.attended,
			Percentage:      Percentage(t.attended, total),
		})
	}
	sortStats(out)
	return out
}

func (c Calculator[ID]) displayName(id ID) string {
	if c.Name != nil {
		if name := c.Name(id); name != "" {
			return name
		}
	}
	return fmt.Sprint(id)
}

func sortStats[ID comparable](stats []Stats[ID]) {
	fold := cases.Fold()
	keys := make(map[string]string, len(stats))
	key := func(name string) string {
		k, ok := keys[name]
		if !ok {
			k = fold.String(name)
			keys[name] = k
		}
		return k
	}
	sort.SliceStable(stats, func(i, j int) bool { return key(stats[i].Name) < key(stats[j].Name) })
}
