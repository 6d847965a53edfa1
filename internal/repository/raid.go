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

// RaidRepository stores officer-recorded raids keyed by member id.
type RaidRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRaidRepository(sqlDB *sql.DB, logger zerolog.Logger) *RaidRepository {
	return &RaidRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Record inserts or replaces a raid with its tags and entries. A raid without
// an id gets a nanoid, written back into raid.ID.
func (r *RaidRepository) Record(ctx context.Context, raid *domain.Raid) error {
	if raid.StartedAt.IsZero() {
		return fmt.Errorf("raid start time is required")
	}
	if raid.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		raid.ID = id
	}
	if raid.Source == "" {
		raid.Source = constants.SourceRoster
	}
	now := time.Now().UTC()
	if raid.CreatedAt.IsZero() {
		raid.CreatedAt = now
	}
	raid.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO raids (id, started_at, zone, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			zone = excluded.zone,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		raid.ID, raid.StartedAt.UTC(), raid.Zone, raid.Source, raid.CreatedAt, raid.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert raid %s: %w", raid.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM raid_tags WHERE raid_id = ?`, raid.ID); err != nil {
		return fmt.Errorf("failed to clear raid tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM raid_entries WHERE raid_id = ?`, raid.ID); err != nil {
		return fmt.Errorf("failed to clear raid entries: %w", err)
	}

	tags := make([][]any, 0, len(raid.Tags))
	for _, tag := range raid.Tags {
		tags = append(tags, []any{raid.ID, tag})
	}
	if err := execValues(ctx, tx, `INSERT OR IGNORE INTO raid_tags (raid_id, tag)`, "", tags); err != nil {
		return fmt.Errorf("failed to insert raid tags: %w", err)
	}
	entries := make([][]any, 0, len(raid.Entries))
	for _, e := range raid.Entries {
		entries = append(entries, []any{raid.ID, e.MemberID, e.Presence})
	}
	err = execValues(ctx, tx,
		`INSERT INTO raid_entries (raid_id, member_id, presence)`,
		`ON CONFLICT(raid_id, member_id) DO UPDATE SET `+keepBestPresence("raid_entries"),
		entries)
	if err != nil {
		return fmt.Errorf("failed to insert raid entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Debug().
		Str("raid_id", raid.ID).
		Int("entries", len(raid.Entries)).
		Time("started_at", raid.StartedAt).
		Msg("raid recorded")
	return nil
}

// Delete removes a raid with its tags and entries. It returns sql.ErrNoRows
// when no raid has the id.
func (r *RaidRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM raid_entries WHERE raid_id = ?`,
		`DELETE FROM raid_tags WHERE raid_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete raid %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM raids WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete raid %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Debug().Str("raid_id", id).Msg("raid deleted")
	return nil
}

// List returns raids started at or after since, oldest first.
func (r *RaidRepository) List(ctx context.Context, since time.Time) ([]domain.Raid, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, zone, source, created_at, updated_at
		FROM raids
		WHERE started_at >= ?
		ORDER BY started_at, id`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raids []domain.Raid
	index := make(map[string]int)
	for rows.Next() {
		var raid domain.Raid
		if err := rows.Scan(&raid.ID, &raid.StartedAt, &raid.Zone, &raid.Source, &raid.CreatedAt, &raid.UpdatedAt); err != nil {
			return nil, err
		}
		index[raid.ID] = len(raids)
		raids = append(raids, raid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(raids) == 0 {
		return []domain.Raid{}, nil
	}

	tagRows, err := r.db.QueryContext(ctx, `
		SELECT t.raid_id, t.tag
		FROM raid_tags t
		JOIN raids rd ON rd.id = t.raid_id
		WHERE rd.started_at >= ?
		ORDER BY t.raid_id, t.tag`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var raidID, tag string
		if err := tagRows.Scan(&raidID, &tag); err != nil {
			return nil, err
		}
		if i, ok := index[raidID]; ok {
			raids[i].Tags = append(raids[i].Tags, tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	entryRows, err := r.db.QueryContext(ctx, `
		SELECT e.raid_id, e.member_id, e.presence
		FROM raid_entries e
		JOIN raids rd ON rd.id = e.raid_id
		WHERE rd.started_at >= ?
		ORDER BY e.raid_id, e.member_id`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer entryRows.Close()
	for entryRows.Next() {
		var e domain.RaidEntry
		if err := entryRows.Scan(&e.RaidID, &e.MemberID, &e.Presence); err != nil {
			return nil, err
		}
		if i, ok := index[e.RaidID]; ok {
			raids[i].Entries = append(raids[i].Entries, e)
		}
	}
	if err := entryRows.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug().Int("count", len(raids)).Time("since", since).Msg("listed roster raids")
	return raids, nil
}
