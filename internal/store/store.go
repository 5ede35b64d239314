package store

import (
	"context"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/overlay"
)

// Store defines the persistence interface: the overlay journal and the
// outbound delivery log.
type Store interface {
	overlay.Journal

	// === Deliveries ===

	RecordDelivery(ctx context.Context, d model.DeliveryRecord) error
	GetDeliveries(ctx context.Context, limit int) ([]model.DeliveryRecord, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
