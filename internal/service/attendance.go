package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"raid-attendance/internal/api"
	"raid-attendance/internal/attendance"
	"raid-attendance/internal/config"
	"raid-attendance/internal/constants"
	"raid-attendance/internal/domain"
	"raid-attendance/internal/metrics"
	"raid-attendance/internal/repository"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrRaidNotFound   = errors.New("raid not found")
)

const reportFetchConcurrency = 4

// Query narrows an attendance computation. Dates are raid-day keys in
// YYYY-MM-DD form; Since is inclusive and Before exclusive.
type Query struct {
	Since   string   `validate:"omitempty,datetime=2006-01-02"`
	Before  string   `validate:"omitempty,datetime=2006-01-02"`
	Zones   []string `validate:"dive,required"`
	Tags    []string `validate:"dive,required"`
	Ranks   []string `validate:"dive,required"`
	Refresh bool
}

type RaidInput struct {
	ID        string
	StartedAt time.Time
	Zone      string         `validate:"max=128"`
	Tags      []string       `validate:"dive,required,max=64"`
	Attendees []RaidAttendee `validate:"required,min=1,dive"`
}

type RaidAttendee struct {
	Name     string `validate:"required"`
	Presence int    `validate:"oneof=0 1 2"`
}

type AttendanceService struct {
	logs       *api.LogsClient
	reportRepo *repository.ReportRepository
	raidRepo   *repository.RaidRepository
	rosterRepo *repository.RosterRepository
	cfg        *config.Config
	boundary   attendance.DayBoundary
	metrics    *metrics.Metrics
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewAttendanceService(
	logs *api.LogsClient,
	reportRepo *repository.ReportRepository,
	raidRepo *repository.RaidRepository,
	rosterRepo *repository.RosterRepository,
	cfg *config.Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*AttendanceService, error) {
	boundary, err := cfg.DayBoundary()
	if err != nil {
		return nil, err
	}
	return &AttendanceService{
		logs:       logs,
		reportRepo: reportRepo,
		raidRepo:   raidRepo,
		rosterRepo: rosterRepo,
		cfg:        cfg,
		boundary:   boundary,
		metrics:    m,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}, nil
}

// sources is one consistent load of both attendance sources, already keyed by
// member id.
type sources struct {
	roster   roster
	external []attendance.RaidEventRecord[int64]
	local    []attendance.RaidEventRecord[int64]
}

type parsedQuery struct {
	since, before attendance.Date
	records       attendance.RecordFilter
	members       attendance.MemberFilter[int64]
}

func (s *AttendanceService) Stats(ctx context.Context, q Query) (stats []attendance.Stats[int64], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveComputation("stats", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	pq, err := s.parseQuery(q)
	if err != nil {
		return nil, err
	}
	src, err := s.load(ctx, pq.since, q.Refresh)
	if err != nil {
		return nil, err
	}

	keep := attendance.AllRecords(attendance.TagScope(src.roster.tagCounts), pq.records)
	eligible := func(id int64) bool {
		if !src.roster.memberCounts(id) {
			return false
		}
		m := src.roster.members[id]
		return pq.members(attendance.Member[int64]{ID: id, Name: m.Name, Rank: m.RankName})
	}
	calc := attendance.Calculator[int64]{Name: src.roster.name}

	perSource, err := s.perSource(ctx, src, keep, func(days []attendance.RaidDay[int64]) ([]attendance.Stats[int64], error) {
		return calc.ForPopulation(days, eligible), nil
	})
	if err != nil {
		return nil, err
	}

	stats = attendance.Combine(perSource...)
	s.logger.Info().
		Int("members", len(stats)).
		Int("external_records", len(src.external)).
		Int("local_records", len(src.local)).
		Msg("attendance computed")
	return stats, nil
}

// MemberStats returns nil stats when the member has no counted raid day in
// range or falls outside the query's ranks.
func (s *AttendanceService) MemberStats(ctx context.Context, memberID int64, q Query) (stats *attendance.Stats[int64], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveComputation("member_stats", start, err) }()

	if memberID <= 0 {
		return nil, fmt.Errorf("%w: member id must be positive", attendance.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	pq, err := s.parseQuery(q)
	if err != nil {
		return nil, err
	}

	member, err := s.rosterRepo.MemberByID(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrMemberNotFound, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	if !pq.members(attendance.Member[int64]{ID: member.ID, Name: member.Name, Rank: member.RankName}) {
		s.logger.Debug().Int64("member_id", memberID).Str("rank", member.RankName).Msg("member outside rank scope")
		return nil, nil
	}

	src, err := s.load(ctx, pq.since, q.Refresh)
	if err != nil {
		return nil, err
	}

	keep := attendance.AllRecords(attendance.TagScope(src.roster.tagCounts), pq.records)
	calc := attendance.Calculator[int64]{Name: func(int64) string { return member.Name }}

	perSource, err := s.perSource(ctx, src, keep, func(days []attendance.RaidDay[int64]) ([]attendance.Stats[int64], error) {
		one, err := calc.ForOne(days, memberID)
		if err != nil || one == nil {
			return nil, err
		}
		return []attendance.Stats[int64]{*one}, nil
	})
	if err != nil {
		return nil, err
	}

	combined := attendance.Combine(perSource...)
	if len(combined) == 0 {
		s.logger.Debug().Int64("member_id", memberID).Msg("no counted raid days for member")
		return nil, nil
	}
	return &combined[0], nil
}

// Matrix merges both sources into shared raid days, so a night recorded
// locally and on the log provider is one column.
func (s *AttendanceService) Matrix(ctx context.Context, q Query) (m attendance.Matrix[int64], err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveComputation("matrix", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	pq, err := s.parseQuery(q)
	if err != nil {
		return attendance.Matrix[int64]{}, err
	}
	src, err := s.load(ctx, pq.since, q.Refresh)
	if err != nil {
		return attendance.Matrix[int64]{}, err
	}

	records := make([]attendance.RaidEventRecord[int64], 0, len(src.external)+len(src.local))
	records = append(records, src.external...)
	records = append(records, src.local...)

	builder := attendance.MatrixBuilder[int64]{Boundary: s.boundary}
	m, err = builder.Build(records, src.roster.attendanceMembers(), attendance.MatrixFilters[int64]{
		Records: attendance.AllRecords(attendance.TagScope(src.roster.tagCounts), pq.records),
		Members: pq.members,
	})
	if err != nil {
		return attendance.Matrix[int64]{}, err
	}

	s.logger.Info().Int("columns", len(m.Columns)).Int("rows", len(m.Rows)).Msg("attendance matrix built")
	return m, nil
}

// RecordRaid stores a locally recorded raid. Attendee names must match roster
// members.
func (s *AttendanceService) RecordRaid(ctx context.Context, in RaidInput) (*domain.Raid, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if err := s.validateStruct(in); err != nil {
		return nil, err
	}
	if in.StartedAt.IsZero() {
		return nil, fmt.Errorf("%w: raid start time is required", attendance.ErrInvalidInput)
	}

	raid := &domain.Raid{
		ID:        in.ID,
		StartedAt: in.StartedAt,
		Zone:      in.Zone,
		Tags:      in.Tags,
		Entries:   make([]domain.RaidEntry, 0, len(in.Attendees)),
	}
	// a member listed twice keeps the best code
	entryIdx := make(map[int64]int, len(in.Attendees))
	for _, a := range in.Attendees {
		member, err := s.rosterRepo.MemberByName(ctx, a.Name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown member %q", attendance.ErrInvalidInput, a.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve member %q: %w", a.Name, err)
		}
		if i, dup := entryIdx[member.ID]; dup {
			if betterCode(a.Presence, raid.Entries[i].Presence) {
				raid.Entries[i].Presence = a.Presence
			}
			continue
		}
		entryIdx[member.ID] = len(raid.Entries)
		raid.Entries = append(raid.Entries, domain.RaidEntry{MemberID: member.ID, Presence: a.Presence})
	}

	if err := s.raidRepo.Record(ctx, raid); err != nil {
		s.logger.Error().Err(err).Msg("failed to record raid")
		return nil, fmt.Errorf("failed to record raid: %w", err)
	}
	s.logger.Info().Str("raid_id", raid.ID).Int("entries", len(raid.Entries)).Msg("raid recorded")
	return raid, nil
}

func (s *AttendanceService) DeleteRaid(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: raid id is required", attendance.ErrInvalidInput)
	}
	err := s.raidRepo.Delete(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRaidNotFound, id)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("raid_id", id).Msg("failed to delete raid")
		return fmt.Errorf("failed to delete raid: %w", err)
	}
	s.logger.Info().Str("raid_id", id).Msg("raid deleted")
	return nil
}

func (s *AttendanceService) UpsertMember(ctx context.Context, name, rank string, active bool) (*domain.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: member name is required", attendance.ErrInvalidInput)
	}
	if rank != "" {
		if err := s.checkRank(ctx, rank); err != nil {
			return nil, err
		}
	}
	id, err := s.rosterRepo.UpsertMember(ctx, name, rank)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert member: %w", err)
	}
	if err := s.rosterRepo.SetActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("failed to set member active: %w", err)
	}
	return s.rosterRepo.MemberByID(ctx, id)
}

// checkRank rejects ranks the roster does not know. Ranks come from the guild
// file.
func (s *AttendanceService) checkRank(ctx context.Context, rank string) error {
	ranks, err := s.rosterRepo.Ranks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ranks: %w", err)
	}
	for _, rk := range ranks {
		if normalize(rk.Name) == normalize(rank) {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown rank %q", attendance.ErrInvalidInput, rank)
}

// SeedEligibility writes the rank and tag flags of the guild file into the
// roster.
func (s *AttendanceService) SeedEligibility(ctx context.Context, guild config.GuildSettings) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	for _, rank := range guild.Ranks {
		if _, err := s.rosterRepo.UpsertRank(ctx, rank.Name, rank.CountsToAttendance); err != nil {
			return fmt.Errorf("failed to seed rank %q: %w", rank.Name, err)
		}
	}
	for _, tag := range guild.Tags {
		if _, err := s.rosterRepo.UpsertTag(ctx, tag.Name, tag.CountsToAttendance); err != nil {
			return fmt.Errorf("failed to seed tag %q: %w", tag.Name, err)
		}
	}
	s.logger.Info().Int("ranks", len(guild.Ranks)).Int("tags", len(guild.Tags)).Msg("eligibility seeded")
	return nil
}

func (s *AttendanceService) parseQuery(q Query) (parsedQuery, error) {
	if err := s.validateStruct(q); err != nil {
		return parsedQuery{}, err
	}

	var pq parsedQuery
	var err error
	if q.Since != "" {
		if pq.since, err = attendance.ParseDate(q.Since); err != nil {
			return parsedQuery{}, err
		}
	}
	if q.Before != "" {
		if pq.before, err = attendance.ParseDate(q.Before); err != nil {
			return parsedQuery{}, err
		}
	}
	if !pq.since.IsZero() && !pq.before.IsZero() && !pq.since.Before(pq.before) {
		return parsedQuery{}, fmt.Errorf("%w: since %s is not before %s", attendance.ErrInvalidInput, pq.since, pq.before)
	}

	filters := []attendance.RecordFilter{attendance.DateRange(pq.since, pq.before)}
	if len(q.Zones) > 0 {
		filters = append(filters, attendance.ZoneAllowList(q.Zones...))
	}
	if len(q.Tags) > 0 {
		filters = append(filters, attendance.TagAllowList(q.Tags...))
	}
	pq.records = attendance.AllRecords(filters...)

	pq.members = attendance.AllMembers[int64]()
	if len(q.Ranks) > 0 {
		pq.members = attendance.RankScope[int64](q.Ranks...)
	}
	return pq, nil
}

func (s *AttendanceService) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", attendance.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", attendance.ErrInvalidInput, err)
	}
	return nil
}

// load refreshes the report cache when due and reads both sources and the
// roster concurrently. A failed refresh falls back to the cache.
func (s *AttendanceService) load(ctx context.Context, since attendance.Date, refresh bool) (sources, error) {
	if err := s.refreshReports(ctx, refresh); err != nil {
		s.logger.Warn().Err(err).Msg("report refresh failed, using cached reports")
	}

	var from time.Time
	if !since.IsZero() {
		from = since.In(s.boundary.Location)
	}

	var (
		reports []domain.Report
		raids   []domain.Raid
		members []domain.Member
		ranks   []domain.Rank
		tags    []domain.Tag
	)
	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	g, gCtx := errgroup.WithContext(dbCtx)
	g.Go(func() (err error) {
		reports, err = s.reportRepo.List(gCtx, from)
		return err
	})
	g.Go(func() (err error) {
		raids, err = s.raidRepo.List(gCtx, from)
		return err
	})
	g.Go(func() (err error) {
		members, err = s.rosterRepo.Members(gCtx)
		return err
	})
	g.Go(func() (err error) {
		ranks, err = s.rosterRepo.Ranks(gCtx)
		return err
	})
	g.Go(func() (err error) {
		tags, err = s.rosterRepo.Tags(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("failed to load attendance sources")
		return sources{}, fmt.Errorf("failed to load attendance sources: %w", err)
	}

	r := newRoster(members, ranks, tags)
	external, unmatched := reportRecords(reports, r)
	s.metrics.UnmatchedAttendees(unmatched)
	if unmatched > 0 {
		s.logger.Debug().Int("unmatched", unmatched).Msg("dropped attendees with no roster match")
	}

	return sources{
		roster:   r,
		external: external,
		local:    raidRecords(raids),
	}, nil
}

// perSource filters, groups and computes each source independently and in
// parallel. Results keep source order: external first, then local.
func (s *AttendanceService) perSource(
	ctx context.Context,
	src sources,
	keep attendance.RecordFilter,
	compute func([]attendance.RaidDay[int64]) ([]attendance.Stats[int64], error),
) ([][]attendance.Stats[int64], error) {
	inputs := [][]attendance.RaidEventRecord[int64]{src.external, src.local}
	results := make([][]attendance.Stats[int64], len(inputs))

	g, _ := errgroup.WithContext(ctx)
	for i, records := range inputs {
		g.Go(func() error {
			kept, err := attendance.FilterRecords(records, s.boundary, keep)
			if err != nil {
				return err
			}
			days, err := attendance.GroupDays(kept, s.boundary)
			if err != nil {
				return err
			}
			results[i], err = compute(days)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *AttendanceService) syncKey() string {
	return "guild:" + s.cfg.LogsGuildID
}

// refreshReports pulls the guild's report list and the attendance of every
// report that changed since it was cached.
func (s *AttendanceService) refreshReports(ctx context.Context, force bool) (err error) {
	if s.cfg.LogsGuildID == "" {
		return nil
	}

	shouldRefresh, err := s.reportRepo.ShouldRefresh(ctx, s.syncKey(), constants.ReportRefreshTTL)
	if err != nil {
		return fmt.Errorf("failed to check if reports should be refreshed: %w", err)
	}
	if force {
		s.logger.Debug().Msg("manual refresh requested")
		shouldRefresh = true
	}
	if !shouldRefresh {
		return nil
	}
	defer func() { s.metrics.ExternalFetch(err) }()

	fetchStart := time.Now()
	lookback := fetchStart.Add(-constants.ReportLookback)

	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	summaries, err := s.logs.GetGuildReports(apiCtx, s.cfg.LogsGuildID, lookback)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to fetch guild reports: %w", err)
	}

	earliest := lookback
	for _, summary := range summaries {
		if summary.StartedAt().Before(earliest) {
			earliest = summary.StartedAt()
		}
	}
	cached, err := s.reportRepo.List(ctx, earliest)
	if err != nil {
		return fmt.Errorf("failed to list cached reports: %w", err)
	}
	cachedAt := make(map[string]time.Time, len(cached))
	for _, rep := range cached {
		cachedAt[rep.Code] = rep.UpdatedAt
	}

	var stale []api.ReportSummary
	for _, summary := range summaries {
		if at, ok := cachedAt[summary.Code]; ok && at.After(summary.EndedAt()) {
			continue
		}
		stale = append(stale, summary)
	}

	fetched := make([]domain.Report, len(stale))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(reportFetchConcurrency)
	for i, summary := range stale {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gCtx, constants.ExternalAPITimeout)
			defer cancel()
			resp, err := s.logs.GetReportAttendance(callCtx, summary.Code)
			if err != nil {
				return fmt.Errorf("report %s: %w", summary.Code, err)
			}
			fetched[i] = toDomainReport(summary, resp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to fetch report attendance: %w", err)
	}

	if err := s.reportRepo.UpsertBatch(ctx, fetched); err != nil {
		return fmt.Errorf("failed to cache reports: %w", err)
	}
	if err := s.reportRepo.SetLastFetchAt(ctx, s.syncKey(), fetchStart); err != nil {
		return err
	}

	rl := s.logs.GetRateLimitInfo()
	s.logger.Info().
		Int("reports", len(summaries)).
		Int("fetched", len(fetched)).
		Dur("took", time.Since(fetchStart)).
		Int("rate_limit_remaining", rl.Remaining).
		Int("rate_limit", rl.Limit).
		Int("rate_limit_reset", rl.Reset).
		Msg("reports refreshed")
	return nil
}

func toDomainReport(summary api.ReportSummary, resp *api.ReportAttendanceResponse) domain.Report {
	rep := domain.Report{
		Code:      summary.Code,
		Title:     summary.Title,
		Zone:      summary.Zone,
		StartedAt: summary.StartedAt(),
		EndedAt:   summary.EndedAt(),
		Tags:      summary.Tags,
		Source:    constants.SourceLogsAPI,
		Attendees: make([]domain.ReportAttendee, 0, len(resp.Attendees)),
	}
	byName := make(map[string]int, len(resp.Attendees))
	for _, a := range resp.Attendees {
		key := normalize(a.Name)
		if i, dup := byName[key]; dup {
			if betterCode(a.Presence, rep.Attendees[i].Presence) {
				rep.Attendees[i].Presence = a.Presence
			}
			continue
		}
		byName[key] = len(rep.Attendees)
		rep.Attendees = append(rep.Attendees, domain.ReportAttendee{
			ReportCode: summary.Code,
			Name:       a.Name,
			Presence:   a.Presence,
		})
	}
	return rep
}

func betterCode(code, than int) bool {
	return attendance.PresenceCode(code).Better(attendance.PresenceCode(than))
}
