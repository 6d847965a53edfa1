package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"raid-attendance/internal/api"
	"raid-attendance/internal/attendance"
	"raid-attendance/internal/config"
	"raid-attendance/internal/database"
	"raid-attendance/internal/metrics"
	"raid-attendance/internal/repository"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2025, month, day, hour, minute, 0, 0, time.UTC)
}

type fakeLogs struct {
	guildCalls      atomic.Int32
	attendanceCalls atomic.Int32
	fail            atomic.Bool
	reports         []api.ReportSummary
	attendees       map[string][]api.AttendeeRecord
}

func (f *fakeLogs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.fail.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("X-Ratelimit-Limit", "300")
	w.Header().Set("X-Ratelimit-Remaining", "250")
	w.Header().Set("X-Ratelimit-Reset", "3600")
	switch {
	case strings.HasPrefix(r.URL.Path, "/reports/guild/"):
		f.guildCalls.Add(1)
		_ = json.NewEncoder(w).Encode(f.reports)
	case strings.HasPrefix(r.URL.Path, "/report/attendance/"):
		f.attendanceCalls.Add(1)
		code := strings.TrimPrefix(r.URL.Path, "/report/attendance/")
		_ = json.NewEncoder(w).Encode(api.ReportAttendanceResponse{Code: code, Attendees: f.attendees[code]})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func guildLogs() *fakeLogs {
	return &fakeLogs{
		reports: []api.ReportSummary{
			{Code: "r1", Zone: "Undermine", Start: utc(5, 10, 23, 0).UnixMilli(), End: utc(5, 11, 2, 0).UnixMilli()},
			// 00:30 New York, still the raid night of May 10
			{Code: "r2", Zone: "Undermine", Start: utc(5, 11, 4, 30).UnixMilli(), End: utc(5, 11, 5, 30).UnixMilli()},
			{Code: "r3", Zone: "Undermine", Start: utc(5, 17, 23, 0).UnixMilli(), End: utc(5, 18, 2, 0).UnixMilli()},
			{Code: "r4", Zone: "Undermine", Start: utc(5, 18, 23, 0).UnixMilli(), End: utc(5, 19, 2, 0).UnixMilli(), Tags: []string{"alt-run"}},
		},
		attendees: map[string][]api.AttendeeRecord{
			"r1": {{Name: "Alice", Presence: 1}, {Name: "Bob", Presence: 0}, {Name: "Carol", Presence: 1}, {Name: "Zed", Presence: 1}},
			"r2": {{Name: "alice", Presence: 0}, {Name: "Bob", Presence: 1}},
			"r3": {{Name: "Alice", Presence: 1}, {Name: "Bob", Presence: 2}},
			"r4": {{Name: "Alice", Presence: 0}},
		},
	}
}

type fixture struct {
	svc  *AttendanceService
	logs *fakeLogs
	ids  map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, guildLogs(), zerolog.Nop())
}

func newFixtureWith(t *testing.T, logs *fakeLogs, logger zerolog.Logger) *fixture {
	t.Helper()
	ctx := context.Background()

	srv := httptest.NewServer(logs)
	t.Cleanup(srv.Close)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	db, err := database.Open(filepath.Join(t.TempDir(), "attendance.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		LogsAPIURL:  srv.URL,
		LogsAPIKey:  "secret",
		LogsGuildID: "g1",
		Location:    loc,
		CutoffHour:  5,
	}
	svc, err := NewAttendanceService(
		api.NewLogsClient(cfg),
		repository.NewReportRepository(db, zerolog.Nop()),
		repository.NewRaidRepository(db, zerolog.Nop()),
		repository.NewRosterRepository(db, zerolog.Nop()),
		cfg,
		metrics.New(),
		logger,
	)
	require.NoError(t, err)

	require.NoError(t, svc.SeedEligibility(ctx, config.GuildSettings{
		Ranks: []config.Eligibility{{Name: "Raider", CountsToAttendance: true}, {Name: "Social", CountsToAttendance: false}},
		Tags:  []config.Eligibility{{Name: "alt-run", CountsToAttendance: false}},
	}))

	ids := make(map[string]int64)
	for name, rank := range map[string]string{"Alice": "Raider", "Bob": "Raider", "Carol": "Social", "Dave": ""} {
		m, err := svc.UpsertMember(ctx, name, rank, true)
		require.NoError(t, err)
		ids[name] = m.ID
	}

	_, err = svc.RecordRaid(ctx, RaidInput{
		StartedAt: utc(5, 24, 23, 0),
		Zone:      "Undermine",
		Attendees: []RaidAttendee{{Name: "Alice", Presence: 1}, {Name: "Dave", Presence: 1}, {Name: "Bob", Presence: 0}},
	})
	require.NoError(t, err)

	return &fixture{svc: svc, logs: logs, ids: ids}
}

func TestStatsCombinesSources(t *testing.T) {
	f := newFixture(t)

	stats, err := f.svc.Stats(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, "Alice", stats[0].Name)
	assert.Equal(t, 3, stats[0].TotalReports)
	assert.Equal(t, 3, stats[0].ReportsAttended)
	assert.Equal(t, 100.0, stats[0].Percentage)
	assert.Equal(t, utc(5, 10, 23, 0), stats[0].FirstAttendance.UTC())

	assert.Equal(t, "Bob", stats[1].Name)
	assert.Equal(t, 3, stats[1].TotalReports)
	assert.Equal(t, 2, stats[1].ReportsAttended)
	assert.Equal(t, 66.67, stats[1].Percentage)

	assert.Equal(t, "Dave", stats[2].Name)
	assert.Equal(t, f.ids["Dave"], stats[2].Participant)
	assert.Equal(t, 1, stats[2].TotalReports)
	assert.Equal(t, 100.0, stats[2].Percentage)
}

func TestStatsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.svc.Stats(ctx, Query{Since: "2025-05-17", Before: "2025-05-24"})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Alice", stats[0].Name)
	assert.Equal(t, 1, stats[0].TotalReports)
	assert.Equal(t, "Bob", stats[1].Name)
	assert.Equal(t, 1, stats[1].ReportsAttended, "benched counts as attended")

	stats, err = f.svc.Stats(ctx, Query{Ranks: []string{"raider"}})
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	stats, err = f.svc.Stats(ctx, Query{Zones: []string{"Nerub-ar Palace"}})
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestStatsRejectsInvalidQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
	}{
		{"bad since", Query{Since: "05/10/2025"}},
		{"inverted range", Query{Since: "2025-05-20", Before: "2025-05-10"}},
		{"empty range", Query{Since: "2025-05-20", Before: "2025-05-20"}},
		{"blank zone", Query{Zones: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Stats(ctx, tt.query)
			assert.ErrorIs(t, err, attendance.ErrInvalidInput)
		})
	}
}

func TestReportRefreshHonorsTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Stats(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.logs.guildCalls.Load())
	assert.Equal(t, int32(4), f.logs.attendanceCalls.Load())

	_, err = f.svc.Stats(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.logs.guildCalls.Load(), "cached within ttl")

	_, err = f.svc.Stats(ctx, Query{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.logs.guildCalls.Load())
	assert.Equal(t, int32(4), f.logs.attendanceCalls.Load(), "finished reports are not refetched")
}

func TestReportRefreshLogsRateLimit(t *testing.T) {
	var buf bytes.Buffer
	f := newFixtureWith(t, guildLogs(), zerolog.New(zerolog.SyncWriter(&buf)))

	_, err := f.svc.Stats(context.Background(), Query{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"reports refreshed"`)
	assert.Contains(t, out, `"rate_limit_remaining":250`)
	assert.Contains(t, out, `"rate_limit":300`)
}

func TestStatsFallsBackToCacheWhenProviderFails(t *testing.T) {
	f := newFixture(t)
	f.logs.fail.Store(true)

	stats, err := f.svc.Stats(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, stats, 3)
	for _, s := range stats {
		assert.Equal(t, 1, s.TotalReports, "only the local raid is known")
	}
}

func TestMemberStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob, err := f.svc.MemberStats(ctx, f.ids["Bob"], Query{})
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, "Bob", bob.Name)
	assert.Equal(t, 2, bob.ReportsAttended)
	assert.Equal(t, 3, bob.TotalReports)

	none, err := f.svc.MemberStats(ctx, f.ids["Dave"], Query{Before: "2025-05-20"})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.svc.MemberStats(ctx, 0, Query{})
	assert.ErrorIs(t, err, attendance.ErrInvalidInput)

	_, err = f.svc.MemberStats(ctx, 9999, Query{})
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestMemberStatsHonorsRanks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob, err := f.svc.MemberStats(ctx, f.ids["Bob"], Query{Ranks: []string{"raider"}})
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, 3, bob.TotalReports)

	none, err := f.svc.MemberStats(ctx, f.ids["Bob"], Query{Ranks: []string{"Social"}})
	require.NoError(t, err)
	assert.Nil(t, none)

	none, err = f.svc.MemberStats(ctx, f.ids["Dave"], Query{Ranks: []string{"Raider"}})
	require.NoError(t, err)
	assert.Nil(t, none, "unranked member is outside any rank scope")
}

func TestRecordRaidKeepsBestDuplicateCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raid, err := f.svc.RecordRaid(ctx, RaidInput{
		StartedAt: utc(5, 31, 23, 0),
		Zone:      "Undermine",
		Attendees: []RaidAttendee{{Name: "Dave", Presence: 1}, {Name: "dave", Presence: 0}},
	})
	require.NoError(t, err)
	require.Len(t, raid.Entries, 1)
	assert.Equal(t, 1, raid.Entries[0].Presence)

	dave, err := f.svc.MemberStats(ctx, f.ids["Dave"], Query{})
	require.NoError(t, err)
	require.NotNil(t, dave)
	assert.Equal(t, 2, dave.TotalReports)
	assert.Equal(t, 2, dave.ReportsAttended)
	assert.Equal(t, 100.0, dave.Percentage)
}

func TestReportKeepsBestDuplicateCode(t *testing.T) {
	logs := guildLogs()
	logs.attendees["r3"] = []api.AttendeeRecord{{Name: "Bob", Presence: 2}, {Name: "Bob", Presence: 0}}
	f := newFixtureWith(t, logs, zerolog.Nop())

	bob, err := f.svc.MemberStats(context.Background(), f.ids["Bob"], Query{})
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, 3, bob.TotalReports)
	assert.Equal(t, 2, bob.ReportsAttended)
	assert.Equal(t, 66.67, bob.Percentage)
}

func TestDeleteRaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raid, err := f.svc.RecordRaid(ctx, RaidInput{
		StartedAt: utc(5, 31, 23, 0),
		Attendees: []RaidAttendee{{Name: "Dave", Presence: 0}},
	})
	require.NoError(t, err)

	dave, err := f.svc.MemberStats(ctx, f.ids["Dave"], Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, dave.TotalReports)

	require.NoError(t, f.svc.DeleteRaid(ctx, raid.ID))
	dave, err = f.svc.MemberStats(ctx, f.ids["Dave"], Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, dave.TotalReports)

	assert.ErrorIs(t, f.svc.DeleteRaid(ctx, raid.ID), ErrRaidNotFound)
	assert.ErrorIs(t, f.svc.DeleteRaid(ctx, " "), attendance.ErrInvalidInput)
}

func TestMatrix(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.Matrix(context.Background(), Query{})
	require.NoError(t, err)

	require.Len(t, m.Columns, 3)
	assert.Equal(t, attendance.NewDate(2025, time.May, 10), m.Columns[0].Date)
	assert.Equal(t, attendance.NewDate(2025, time.May, 17), m.Columns[1].Date)
	assert.Equal(t, attendance.NewDate(2025, time.May, 24), m.Columns[2].Date)

	require.Len(t, m.Rows, 3)
	assert.Equal(t, "Alice", m.Rows[0].Member.Name)
	assert.Equal(t, []attendance.Cell{attendance.CellPresent, attendance.CellPresent, attendance.CellPresent}, m.Rows[0].Cells)
	assert.Equal(t, "Bob", m.Rows[1].Member.Name)
	assert.Equal(t, []attendance.Cell{attendance.CellPresent, attendance.CellBenched, attendance.CellAbsent}, m.Rows[1].Cells)
	assert.Equal(t, 66.67, m.Rows[1].Percentage)
	assert.Equal(t, "Dave", m.Rows[2].Member.Name)
	assert.Equal(t, []attendance.Cell{attendance.CellNoData, attendance.CellNoData, attendance.CellPresent}, m.Rows[2].Cells)
	assert.Equal(t, 1, m.Rows[2].Total)
}

func TestMatrixOrdersFoldEqualNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"Straße", "STRASSE"} {
		_, err := f.svc.UpsertMember(ctx, name, "Raider", true)
		require.NoError(t, err)
	}
	_, err := f.svc.RecordRaid(ctx, RaidInput{
		StartedAt: utc(5, 31, 23, 0),
		Attendees: []RaidAttendee{{Name: "Straße", Presence: 1}, {Name: "STRASSE", Presence: 0}},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m, err := f.svc.Matrix(ctx, Query{Since: "2025-05-31"})
		require.NoError(t, err)
		require.Len(t, m.Rows, 2)
		assert.Equal(t, "STRASSE", m.Rows[0].Member.Name)
		assert.Equal(t, "Straße", m.Rows[1].Member.Name)
	}
}

func TestRecordRaidValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RaidInput
	}{
		{"no attendees", RaidInput{StartedAt: utc(6, 1, 23, 0)}},
		{"no start", RaidInput{Attendees: []RaidAttendee{{Name: "Alice", Presence: 1}}}},
		{"bad presence", RaidInput{StartedAt: utc(6, 1, 23, 0), Attendees: []RaidAttendee{{Name: "Alice", Presence: 7}}}},
		{"unknown member", RaidInput{StartedAt: utc(6, 1, 23, 0), Attendees: []RaidAttendee{{Name: "Mallory", Presence: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordRaid(ctx, tt.in)
			assert.ErrorIs(t, err, attendance.ErrInvalidInput)
		})
	}
}

func TestUpsertMemberValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpsertMember(ctx, "  ", "Raider", true)
	assert.ErrorIs(t, err, attendance.ErrInvalidInput)

	_, err = f.svc.UpsertMember(ctx, "Frank", "Guild Master", true)
	assert.ErrorIs(t, err, attendance.ErrInvalidInput)

	m, err := f.svc.UpsertMember(ctx, "Frank", "raider", false)
	require.NoError(t, err)
	assert.Equal(t, "Raider", m.RankName)
	assert.False(t, m.Active)
}
