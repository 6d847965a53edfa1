package repository

import (
	"context"
	"database/sql"
	"fmt"
	"raid-attendance/internal/constants"
	"raid-attendance/internal/domain"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ReportRepository caches reports fetched from the external log provider.
type ReportRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewReportRepository(sqlDB *sql.DB, logger zerolog.Logger) *ReportRepository {
	return &ReportRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// UpsertBatch replaces the cached tags and attendees of every report in one
// transaction. Rows go out as multi-row inserts of DBBatchSize rows.
func (r *ReportRepository) UpsertBatch(ctx context.Context, reports []domain.Report) error {
	if len(reports) == 0 {
		return nil
	}

	now := time.Now().UTC()
	codes := make([]string, 0, len(reports))
	reportRows := make([][]any, 0, len(reports))
	var tagRows, attendeeRows [][]any
	for _, report := range reports {
		if report.Code == "" {
			return fmt.Errorf("report code is required")
		}
		source := report.Source
		if source == "" {
			source = constants.SourceLogsAPI
		}
		createdAt := report.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		codes = append(codes, report.Code)
		reportRows = append(reportRows, []any{
			report.Code, report.Title, report.Zone, report.StartedAt.UTC(), report.EndedAt.UTC(), source, createdAt, now,
		})
		for _, tag := range report.Tags {
			tagRows = append(tagRows, []any{report.Code, tag})
		}
		for _, a := range report.Attendees {
			id := a.ID
			if id == "" {
				var err error
				id, err = gonanoid.New()
				if err != nil {
					return fmt.Errorf("failed to generate nanoid: %w", err)
				}
			}
			attendeeRows = append(attendeeRows, []any{id, report.Code, a.Name, a.Presence})
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = execValues(ctx, tx,
		`INSERT INTO reports (code, title, zone, started_at, ended_at, source, created_at, updated_at)`,
		`ON CONFLICT(code) DO UPDATE SET
			title = excluded.title,
			zone = excluded.zone,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		reportRows)
	if err != nil {
		return fmt.Errorf("failed to upsert reports: %w", err)
	}

	if err := execIn(ctx, tx, `DELETE FROM report_tags WHERE report_code IN (%s)`, codes); err != nil {
		return fmt.Errorf("failed to clear report tags: %w", err)
	}
	if err := execIn(ctx, tx, `DELETE FROM report_attendees WHERE report_code IN (%s)`, codes); err != nil {
		return fmt.Errorf("failed to clear report attendees: %w", err)
	}

	if err := execValues(ctx, tx, `INSERT OR IGNORE INTO report_tags (report_code, tag)`, "", tagRows); err != nil {
		return fmt.Errorf("failed to insert report tags: %w", err)
	}
	err = execValues(ctx, tx,
		`INSERT INTO report_attendees (id, report_code, name, presence)`,
		`ON CONFLICT(report_code, name) DO UPDATE SET `+keepBestPresence("report_attendees"),
		attendeeRows)
	if err != nil {
		return fmt.Errorf("failed to insert report attendees: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Debug().
		Int("count", len(reports)).
		Int("attendees", len(attendeeRows)).
		Msg("reports upserted")
	return nil
}

// List returns cached reports started at or after since, oldest first.
func (r *ReportRepository) List(ctx context.Context, since time.Time) ([]domain.Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, title, zone, started_at, ended_at, source, created_at, updated_at
		FROM reports
		WHERE started_at >= ?
		ORDER BY started_at, code`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.Report
	index := make(map[string]int)
	for rows.Next() {
		var rep domain.Report
		if err := rows.Scan(&rep.Code, &rep.Title, &rep.Zone, &rep.StartedAt, &rep.EndedAt, &rep.Source, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
			return nil, err
		}
		index[rep.Code] = len(reports)
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return []domain.Report{}, nil
	}

	tagRows, err := r.db.QueryContext(ctx, `
		SELECT t.report_code, t.tag
		FROM report_tags t
		JOIN reports rp ON rp.code = t.report_code
		WHERE rp.started_at >= ?
		ORDER BY t.report_code, t.tag`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var code, tag string
		if err := tagRows.Scan(&code, &tag); err != nil {
			return nil, err
		}
		if i, ok := index[code]; ok {
			reports[i].Tags = append(reports[i].Tags, tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	attendeeRows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.report_code, a.name, a.presence
		FROM report_attendees a
		JOIN reports rp ON rp.code = a.report_code
		WHERE rp.started_at >= ?
		ORDER BY a.report_code, a.name`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer attendeeRows.Close()
	for attendeeRows.Next() {
		var a domain.ReportAttendee
		if err := attendeeRows.Scan(&a.ID, &a.ReportCode, &a.Name, &a.Presence); err != nil {
			return nil, err
		}
		if i, ok := index[a.ReportCode]; ok {
			reports[i].Attendees = append(reports[i].Attendees, a)
		}
	}
	return reports, attendeeRows.Err()
}

func (r *ReportRepository) ShouldRefresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var lastFetchAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT last_fetch_at FROM sync_state WHERE key = ?`, key).Scan(&lastFetchAt)
	if err == sql.ErrNoRows {
		r.logger.Debug().Str("key", key).Msg("no sync state, should refresh")
		return true, nil
	}
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("failed to get sync state")
		return false, err
	}

	timeSince := time.Since(lastFetchAt)
	shouldRefresh := timeSince > ttl
	r.logger.Debug().
		Str("key", key).
		Time("last_fetch_at", lastFetchAt).
		Dur("time_since", timeSince).
		Dur("ttl", ttl).
		Bool("should_refresh", shouldRefresh).
		Msg("checking if reports should refresh")

	return shouldRefresh, nil
}

func (r *ReportRepository) SetLastFetchAt(ctx context.Context, key string, lastFetchAt time.Time) error {
	r.logger.Debug().
		Str("key", key).
		Time("last_fetch_at", lastFetchAt).
		Msg("setting last fetch at")

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, last_fetch_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_fetch_at = excluded.last_fetch_at,
			updated_at = excluded.updated_at`,
		key, lastFetchAt.UTC(), time.Now().UTC())
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("failed to set last fetch at")
		return err
	}
	return nil
}
