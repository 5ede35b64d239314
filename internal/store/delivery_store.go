package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// RecordDelivery appends an entry to the delivery log. If the record has
// no ID, a new UUID is generated.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d model.DeliveryRecord) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	recipients, err := json.Marshal(d.Recipients)
	if err != nil {
		return fmt.Errorf("marshaling recipients for delivery %s: %w", d.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO deliveries (id, recipients, subject, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, string(recipients), d.Subject, d.Status, d.Error, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording delivery %s: %w", d.ID, err)
	}
	return nil
}

// GetDeliveries returns the most recent deliveries, newest first.
func (s *SQLiteStore) GetDeliveries(ctx context.Context, limit int) ([]model.DeliveryRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, recipients, subject, status, error, created_at
		FROM deliveries
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.DeliveryRecord
	for rows.Next() {
		var (
			d          model.DeliveryRecord
			recipients string
			createdAt  time.Time
		)
		if err := rows.Scan(
			&d.ID, &recipients, &d.Subject, &d.Status, &d.Error, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		if recipients != "" {
			if err := json.Unmarshal([]byte(recipients), &d.Recipients); err != nil {
				return nil, fmt.Errorf("unmarshaling recipients: %w", err)
			}
		}
		d.CreatedAt = createdAt
		out = append(out, d)
	}
	return out, rows.Err()
}
