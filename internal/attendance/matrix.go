package attendance

import (
	"sort"

	"golang.org/x/text/cases"
)

type Cell int8

const (
	CellNoData Cell = iota
	CellAbsent
	CellPresent
	CellBenched
)

func (c Cell) String() string {
	switch c {
	case CellPresent:
		return "present"
	case CellBenched:
		return "benched"
	case CellAbsent:
		return "absent"
	default:
		return ""
	}
}

func cellFor(code PresenceCode) Cell {
	switch code {
	case Present:
		return CellPresent
	case Benched:
		return CellBenched
	default:
		return CellAbsent
	}
}

type Column struct {
	Date  Date
	Zones []string
	Tags  []string
}

type Row[ID comparable] struct {
	Member     Member[ID]
	Attended   int
	Total      int
	Percentage float64
	Cells      []Cell
}

// Matrix columns are always ascending by date.
type Matrix[ID comparable] struct {
	Columns []Column
	Rows    []Row[ID]
}

type MatrixFilters[ID comparable] struct {
	Records RecordFilter
	Members MemberFilter[ID]
}

type MatrixBuilder[ID comparable] struct {
	Boundary DayBoundary
}

// Build filters records before grouping them, so a date bound splits source
// records rather than already merged days. Members who never appear in the
// filtered days get no row. Rows sort by folded name, then by the exact name.
func (b MatrixBuilder[ID]) Build(records []RaidEventRecord[ID], members []Member[ID], filters MatrixFilters[ID]) (Matrix[ID], error) {
	kept, err := FilterRecords(records, b.Boundary, filters.Records)
	if err != nil {
		return Matrix[ID]{}, err
	}
	days, err := GroupDays(kept, b.Boundary)
	if err != nil {
		return Matrix[ID]{}, err
	}

	m := Matrix[ID]{
		Columns: make([]Column, len(days)),
		Rows:    []Row[ID]{},
	}
	for i, d := range days {
		m.Columns[i] = Column{Date: d.Date, Zones: d.Zones, Tags: d.Tags}
	}

	seen := make(map[ID]struct{}, len(members))
	for _, member := range members {
		if _, dup := seen[member.ID]; dup {
			continue
		}
		seen[member.ID] = struct{}{}
		if filters.Members != nil && !filters.Members(member) {
			continue
		}
		if row, ok := buildRow(member, days); ok {
			m.Rows = append(m.Rows, row)
		}
	}

	fold := cases.Fold()
	sort.SliceStable(m.Rows, func(i, j int) bool {
		a, b := m.Rows[i].Member.Name, m.Rows[j].Member.Name
		if fa, fb := fold.String(a), fold.String(b); fa != fb {
			return fa < fb
		}
		return a < b
	})
	return m, nil
}

func buildRow[ID comparable](member Member[ID], days []RaidDay[ID]) (Row[ID], bool) {
	row := Row[ID]{Member: member, Cells: make([]Cell, len(days))}
	active := false
	for i, d := range days {
		code, listed := d.Code(member.ID)
		if !active && !listed {
			continue
		}
		active = true
		row.Total++
		if listed {
			row.Cells[i] = cellFor(code)
		} else {
			row.Cells[i] = CellAbsent
		}
		if listed && code.Attended() {
			row.Attended++
		}
	}
	if row.Total == 0 {
		return Row[ID]{}, false
	}
	row.Percentage = Percentage(row.Attended, row.Total)
	return row, true
}
