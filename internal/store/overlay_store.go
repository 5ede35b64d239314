package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/overlay"
)

// SaveOverlayRecord inserts or replaces an overlay record.
func (s *SQLiteStore) SaveOverlayRecord(ctx context.Context, rec overlay.Record) error {
	var deletedAt any
	if rec.DeletedAt != nil {
		deletedAt = rec.DeletedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overlay_records (id, folder, deleted_at, starred, favorited, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			folder     = excluded.folder,
			deleted_at = excluded.deleted_at,
			starred    = excluded.starred,
			favorited  = excluded.favorited,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Folder, deletedAt,
		boolToInt(rec.Starred), boolToInt(rec.Favorited),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving overlay record %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteOverlayRecords removes the records with the given ids in one
// statement.
func (s *SQLiteStore) DeleteOverlayRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM overlay_records WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("building overlay delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting %d overlay records: %w", len(ids), err)
	}
	return nil
}

// LoadOverlayRecords returns every stored overlay record.
func (s *SQLiteStore) LoadOverlayRecords(ctx context.Context) ([]overlay.Record, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, folder, deleted_at, starred, favorited, updated_at
		FROM overlay_records
		ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("querying overlay records: %w", err)
	}
	defer rows.Close()

	var records []overlay.Record
	for rows.Next() {
		var (
			rec       overlay.Record
			deletedAt sql.NullTime
			starred   int
			favorited int
			updatedAt time.Time
		)
		if err := rows.Scan(
			&rec.ID, &rec.Folder, &deletedAt,
			&starred, &favorited, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning overlay record row: %w", err)
		}

		if deletedAt.Valid {
			t := deletedAt.Time
			rec.DeletedAt = &t
		}
		rec.Starred = starred != 0
		rec.Favorited = favorited != 0
		rec.UpdatedAt = updatedAt
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ClearOverlayRecords removes every overlay record.
func (s *SQLiteStore) ClearOverlayRecords(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM overlay_records"); err != nil {
		return fmt.Errorf("clearing overlay records: %w", err)
	}
	return nil
}
