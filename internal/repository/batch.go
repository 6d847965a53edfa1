package repository

import (
	"context"
	"database/sql"
	"fmt"
	"raid-attendance/internal/constants"
	"strings"
)

// execValues inserts rows with one multi-row statement per DBBatchSize rows.
// head is the statement up to VALUES, tail any trailing ON CONFLICT clause.
func execValues(ctx context.Context, tx *sql.Tx, head, tail string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(rows[0])), ", ") + ")"

	for i := 0; i < len(rows); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(rows))

		var b strings.Builder
		b.WriteString(head)
		b.WriteString(" VALUES ")
		args := make([]any, 0, (end-i)*len(rows[0]))
		for j, row := range rows[i:end] {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tuple)
			args = append(args, row...)
		}
		if tail != "" {
			b.WriteString(" ")
			b.WriteString(tail)
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// execIn runs query once per DBBatchSize keys, with %s replaced by the
// placeholder list.
func execIn(ctx context.Context, tx *sql.Tx, query string, keys []string) error {
	for i := 0; i < len(keys); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(keys))
		args := make([]any, 0, end-i)
		for _, k := range keys[i:end] {
			args = append(args, k)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", end-i), ", ")
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(query, placeholders), args...); err != nil {
			return err
		}
	}
	return nil
}

// keepBestPresence is an upsert SET clause that keeps the better of two codes
// for the same attendee: present, then benched, then absent, then the
// smallest other code.
func keepBestPresence(table string) string {
	rank := func(col string) string {
		return fmt.Sprintf("(CASE %s WHEN 1 THEN 3 WHEN 2 THEN 2 WHEN 0 THEN 1 ELSE 0 END)", col)
	}
	current := table + ".presence"
	return fmt.Sprintf(`presence = CASE
		WHEN %[1]s > %[2]s THEN excluded.presence
		WHEN %[1]s = %[2]s THEN MIN(%[3]s, excluded.presence)
		ELSE %[3]s END`, rank("excluded.presence"), rank(current), current)
}
