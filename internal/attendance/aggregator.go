package attendance

// Combine merges stats computed independently per source. Totals and
// attended counts are summed and the percentage is recomputed from the sums.
func Combine[ID comparable](sources ...[]Stats[ID]) []Stats[ID] {
	var order []ID
	merged := make(map[ID]*Stats[ID])
	sourcesSeen := make(map[ID]int)

	for _, source := range sources {
		for _, s := range source {
			sourcesSeen[s.Participant]++
			m, ok := merged[s.Participant]
			if !ok {
				cp := s
				merged[s.Participant] = &cp
				order = append(order, s.Participant)
				continue
			}
			m.TotalReports += s.TotalReports
			m.ReportsAttended += s.ReportsAttended
			if !s.FirstAttendance.IsZero() && (m.FirstAttendance.IsZero() || s.FirstAttendance.Before(m.FirstAttendance)) {
				m.FirstAttendance = s.FirstAttendance
			}
			if m.Name == "" {
				m.Name = s.Name
			}
		}
	}

	out := make([]Stats[ID], 0, len(order))
	for _, id := range order {
		m := merged[id]
		if sourcesSeen[id] > 1 {
			m.Percentage = Percentage(m.ReportsAttended, m.TotalReports)
		}
		out = append(out, *m)
	}
	sortStats(out)
	return out
}
