package attendance

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func boundary(t *testing.T) DayBoundary {
	t.Helper()
	b, err := NewDayBoundary(newYork(t), DefaultCutoffHour)
	require.NoError(t, err)
	return b
}

func record(id string, start time.Time, presences ...Presence[string]) RaidEventRecord[string] {
	return RaidEventRecord[string]{ID: id, StartTime: start, Presences: presences}
}

func p(name string, code PresenceCode) Presence[string] {
	return Presence[string]{Participant: name, Code: code}
}

func TestDateKey(t *testing.T) {
	b := boundary(t)
	ny := b.Location

	tests := []struct {
		name string
		at   time.Time
		want Date
	}{
		{"evening_same_day", time.Date(2025, 5, 10, 19, 0, 0, 0, ny), NewDate(2025, 5, 10)},
		{"after_midnight_rolls_back", time.Date(2025, 5, 11, 3, 0, 0, 0, ny), NewDate(2025, 5, 10)},
		{"one_minute_before_cutoff", time.Date(2025, 5, 11, 4, 59, 0, 0, ny), NewDate(2025, 5, 10)},
		{"exactly_cutoff_stays", time.Date(2025, 5, 11, 5, 0, 0, 0, ny), NewDate(2025, 5, 11)},
		{"morning_stays", time.Date(2025, 5, 11, 6, 0, 0, 0, ny), NewDate(2025, 5, 11)},
		{"utc_instant_uses_guild_zone", time.Date(2025, 5, 11, 2, 0, 0, 0, time.UTC), NewDate(2025, 5, 10)},
		{"first_of_month_rolls_to_previous_month", time.Date(2025, 6, 1, 1, 0, 0, 0, ny), NewDate(2025, 5, 31)},
		{"new_year_rolls_to_previous_year", time.Date(2025, 1, 1, 0, 30, 0, 0, ny), NewDate(2024, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.DateKey(tt.at))
		})
	}
}

func TestDateKeyAcrossDST(t *testing.T) {
	b := boundary(t)

	tests := []struct {
		name string
		utc  string
		want Date
	}{
		// EST (UTC-5) the day before spring forward
		{"spring_eve_0400_est", "2025-03-08T09:00:00Z", NewDate(2025, 3, 7)},
		// 2025-03-09 02:00 EST jumps to 03:00 EDT (UTC-4)
		{"spring_0130_est_before_jump", "2025-03-09T06:30:00Z", NewDate(2025, 3, 8)},
		{"spring_0430_edt", "2025-03-09T08:30:00Z", NewDate(2025, 3, 8)},
		{"spring_0500_edt", "2025-03-09T09:00:00Z", NewDate(2025, 3, 9)},
		// 2025-11-02 02:00 EDT falls back to 01:00 EST
		{"fall_0500_edt_day_before", "2025-11-01T09:00:00Z", NewDate(2025, 11, 1)},
		{"fall_0130_first_pass", "2025-11-02T05:30:00Z", NewDate(2025, 11, 1)},
		{"fall_0130_second_pass", "2025-11-02T06:30:00Z", NewDate(2025, 11, 1)},
		{"fall_0400_est", "2025-11-02T09:00:00Z", NewDate(2025, 11, 1)},
		{"fall_0500_est", "2025-11-02T10:00:00Z", NewDate(2025, 11, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, err := time.Parse(time.RFC3339, tt.utc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.DateKey(at))
		})
	}
}

func TestNewDayBoundaryValidation(t *testing.T) {
	_, err := NewDayBoundary(nil, 5)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewDayBoundary(time.UTC, 24)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewDayBoundary(time.UTC, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	b, err := NewDayBoundary(time.UTC, 0)
	require.NoError(t, err)
	assert.Equal(t, NewDate(2025, 1, 1), b.DateKey(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGroupDaysMergesAcrossMidnight(t *testing.T) {
	b := boundary(t)
	ny := b.Location

	days, err := GroupDays([]RaidEventRecord[string]{
		record("late", time.Date(2025, 5, 11, 3, 0, 0, 0, ny), p("alice", Present)),
		record("early", time.Date(2025, 5, 10, 19, 0, 0, 0, ny), p("bob", Present)),
	}, b)
	require.NoError(t, err)
	require.Len(t, days, 1)

	day := days[0]
	assert.Equal(t, NewDate(2025, 5, 10), day.Date)
	assert.Equal(t, []string{"early", "late"}, day.RecordIDs)
	assert.True(t, day.Start.Equal(time.Date(2025, 5, 10, 19, 0, 0, 0, ny)))
	assert.Len(t, day.Presences, 2)
}

func TestGroupDaysSplitsAfterCutoff(t *testing.T) {
	b := boundary(t)
	ny := b.Location

	days, err := GroupDays([]RaidEventRecord[string]{
		record("a", time.Date(2025, 5, 10, 19, 0, 0, 0, ny), p("alice", Present)),
		record("b", time.Date(2025, 5, 11, 6, 0, 0, 0, ny), p("alice", Present)),
	}, b)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, NewDate(2025, 5, 10), days[0].Date)
	assert.Equal(t, NewDate(2025, 5, 11), days[1].Date)
}

func TestGroupDaysBestCodeWins(t *testing.T) {
	b := boundary(t)
	ny := b.Location
	evening := time.Date(2025, 5, 10, 19, 0, 0, 0, ny)

	tests := []struct {
		name  string
		codes []PresenceCode
		want  PresenceCode
	}{
		{"absent_then_present", []PresenceCode{Absent, Present}, Present},
		{"present_then_absent", []PresenceCode{Present, Absent}, Present},
		{"benched_then_present", []PresenceCode{Benched, Present}, Present},
		{"present_then_benched", []PresenceCode{Present, Benched}, Present},
		{"absent_then_benched", []PresenceCode{Absent, Benched}, Benched},
		{"unknown_then_absent", []PresenceCode{3, Absent}, Absent},
		{"unknown_codes_pick_smaller", []PresenceCode{7, 3}, 3},
		{"unknown_then_benched", []PresenceCode{4, Benched}, Benched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []RaidEventRecord[string]
			for i, code := range tt.codes {
				records = append(records, record(
					string(rune('a'+i)),
					evening.Add(time.Duration(i)*time.Hour),
					p("alice", code),
				))
			}
			days, err := GroupDays(records, b)
			require.NoError(t, err)
			require.Len(t, days, 1)

			code, listed := days[0].Code("alice")
			assert.True(t, listed)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestPresenceCodeBetter(t *testing.T) {
	assert.True(t, Present.Better(Benched))
	assert.True(t, Benched.Better(Absent))
	assert.True(t, Absent.Better(PresenceCode(7)))
	assert.True(t, PresenceCode(3).Better(PresenceCode(9)), "smaller unknown code wins")
	assert.False(t, Absent.Better(Present))
	assert.False(t, Present.Better(Present))
}

func TestGroupDaysIsOrderIndependentAndIdempotent(t *testing.T) {
	b := boundary(t)
	ny := b.Location

	records := []RaidEventRecord[string]{
		record("r1", time.Date(2025, 5, 10, 19, 0, 0, 0, ny), p("alice", Absent), p("bob", Present)),
		record("r2", time.Date(2025, 5, 10, 21, 0, 0, 0, ny), p("alice", Present), p("carol", Benched)),
		record("r3", time.Date(2025, 5, 12, 20, 0, 0, 0, ny), p("bob", Absent)),
		record("r4", time.Date(2025, 5, 13, 1, 0, 0, 0, ny), p("bob", Benched)),
	}
	reversed := make([]RaidEventRecord[string], len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	first, err := GroupDays(records, b)
	require.NoError(t, err)
	second, err := GroupDays(records, b)
	require.NoError(t, err)
	fromReversed, err := GroupDays(reversed, b)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, fromReversed)
	require.Len(t, first, 2)
	assert.Equal(t, []Presence[string]{p("alice", Present), p("bob", Present), p("carol", Benched)}, first[0].Presences)
	assert.Equal(t, []Presence[string]{p("bob", Benched)}, first[1].Presences)
}

func TestGroupDaysCollectsLabels(t *testing.T) {
	b := boundary(t)
	ny := b.Location

	r1 := record("r1", time.Date(2025, 5, 10, 19, 0, 0, 0, ny))
	r1.Zone = "Nerub-ar Palace"
	r1.Tags = []string{"main"}
	r2 := record("r2", time.Date(2025, 5, 10, 21, 0, 0, 0, ny))
	r2.Zone = "Nerub-ar Palace"
	r2.Tags = []string{"main", "progression"}

	days, err := GroupDays([]RaidEventRecord[string]{r1, r2}, b)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, []string{"Nerub-ar Palace"}, days[0].Zones)
	assert.Equal(t, []string{"main", "progression"}, days[0].Tags)
}

func TestGroupDaysEmptyRecordStillMakesDay(t *testing.T) {
	b := boundary(t)
	days, err := GroupDays([]RaidEventRecord[string]{
		record("empty", time.Date(2025, 5, 10, 19, 0, 0, 0, b.Location)),
	}, b)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Empty(t, days[0].Presences)
}

func TestGroupDaysRejectsInvalidInput(t *testing.T) {
	b := boundary(t)

	_, err := GroupDays([]RaidEventRecord[string]{{ID: "x"}}, b)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = GroupDays([]RaidEventRecord[string]{{StartTime: time.Now()}}, b)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = GroupDays([]RaidEventRecord[string]{}, DayBoundary{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	days, err := GroupDays[string](nil, b)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.False(t, d.Before(d))

	_, err = ParseDate("28/02/2024")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
