package repository

import (
	"context"
	"database/sql"
	"fmt"
	"raid-attendance/internal/domain"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type RosterRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRosterRepository(sqlDB *sql.DB, logger zerolog.Logger) *RosterRepository {
	return &RosterRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *RosterRepository) UpsertRank(ctx context.Context, name string, counts bool) (int64, error) {
	return r.upsertEligibility(ctx, "ranks", name, counts)
}

func (r *RosterRepository) UpsertTag(ctx context.Context, name string, counts bool) (int64, error) {
	return r.upsertEligibility(ctx, "tags", name, counts)
}

func (r *RosterRepository) upsertEligibility(ctx context.Context, table, name string, counts bool) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%s name is required", strings.TrimSuffix(table, "s"))
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (name, counts_to_attendance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			counts_to_attendance = excluded.counts_to_attendance,
			updated_at = excluded.updated_at
		RETURNING id`, table)

	var id int64
	if err := r.db.QueryRowContext(ctx, query, name, counts, now, now).Scan(&id); err != nil {
		r.logger.Error().Err(err).Str("table", table).Str("name", name).Msg("failed to upsert eligibility")
		return 0, fmt.Errorf("failed to upsert %s %q: %w", table, name, err)
	}
	return id, nil
}

// UpsertMember creates or updates a member by name. An unknown or empty rank
// leaves the member unranked.
func (r *RosterRepository) UpsertMember(ctx context.Context, name, rank string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("member name is required")
	}
	now := time.Now().UTC()

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO members (name, rank_id, active, created_at, updated_at)
		VALUES (?, (SELECT id FROM ranks WHERE name = ?), 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			rank_id = excluded.rank_id,
			active = 1,
			updated_at = excluded.updated_at
		RETURNING id`, name, strings.TrimSpace(rank), now, now).Scan(&id)
	if err != nil {
		r.logger.Error().Err(err).Str("name", name).Msg("failed to upsert member")
		return 0, fmt.Errorf("failed to upsert member %q: %w", name, err)
	}
	return id, nil
}

func (r *RosterRepository) SetActive(ctx context.Context, memberID int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE members SET active = ?, updated_at = ? WHERE id = ?`, active, time.Now().UTC(), memberID)
	if err != nil {
		return fmt.Errorf("failed to update member %d: %w", memberID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const memberColumns = `
	m.id, m.name, COALESCE(m.rank_id, 0), COALESCE(rk.name, ''), m.active, m.created_at, m.updated_at`

func (r *RosterRepository) Members(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+memberColumns+`
		FROM members m
		LEFT JOIN ranks rk ON rk.id = m.rank_id
		WHERE m.active = 1
		ORDER BY m.name COLLATE NOCASE, m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *RosterRepository) MemberByName(ctx context.Context, name string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+memberColumns+`
		FROM members m
		LEFT JOIN ranks rk ON rk.id = m.rank_id
		WHERE m.name = ?`, strings.TrimSpace(name))
	m, err := scanMember(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *RosterRepository) MemberByID(ctx context.Context, id int64) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+memberColumns+`
		FROM members m
		LEFT JOIN ranks rk ON rk.id = m.rank_id
		WHERE m.id = ?`, id)
	m, err := scanMember(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *RosterRepository) Ranks(ctx context.Context) ([]domain.Rank, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, counts_to_attendance, created_at, updated_at FROM ranks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranks []domain.Rank
	for rows.Next() {
		var rk domain.Rank
		if err := rows.Scan(&rk.ID, &rk.Name, &rk.CountsToAttendance, &rk.CreatedAt, &rk.UpdatedAt); err != nil {
			return nil, err
		}
		ranks = append(ranks, rk)
	}
	return ranks, rows.Err()
}

func (r *RosterRepository) Tags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, counts_to_attendance, created_at, updated_at FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CountsToAttendance, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (domain.Member, error) {
	var m domain.Member
	err := s.Scan(&m.ID, &m.Name, &m.RankID, &m.RankName, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}
