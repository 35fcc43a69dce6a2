package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// BackfillDates fills chunk_date for chunks stored without one, using infer(path, text).
// Chunks whose date still cannot be inferred stay NULL. Returns the number updated.
func (s *SQLiteStorage) BackfillDates(ctx context.Context, infer func(path, text string) string) (int, error) {
	type update struct {
		id   int64
		date string
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, text FROM chunks WHERE chunk_date IS NULL`)
	if err != nil {
		return 0, err
	}
	var updates []update
	for rows.Next() {
		var id int64
		var path, text string
		if err := rows.Scan(&id, &path, &text); err != nil {
			rows.Close()
			return 0, err
		}
		if d := infer(path, text); d != "" {
			updates = append(updates, update{id: id, date: d})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET chunk_date = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.date, u.id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("backfill dates: %w", err)
	}
	return len(updates), nil
}
