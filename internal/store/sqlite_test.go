package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/overlay"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/tests/testutil"
)

func TestOverlayRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	deletedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	recs := []overlay.Record{
		{ID: "imap:INBOX:1", Folder: "INBOX", DeletedAt: &deletedAt, UpdatedAt: deletedAt},
		{ID: "imap:INBOX:2", Folder: "INBOX", Starred: true, UpdatedAt: deletedAt.Add(time.Second)},
	}
	for _, r := range recs {
		require.NoError(t, s.SaveOverlayRecord(ctx, r))
	}

	got, err := s.LoadOverlayRecords(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "imap:INBOX:1", got[0].ID)
	require.NotNil(t, got[0].DeletedAt)
	assert.WithinDuration(t, deletedAt, *got[0].DeletedAt, time.Second)
	assert.False(t, got[0].Starred)

	assert.Nil(t, got[1].DeletedAt)
	assert.True(t, got[1].Starred)
}

func TestSaveOverlayRecordUpserts(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	rec := overlay.Record{ID: "imap:INBOX:1", Folder: "INBOX", Starred: true, UpdatedAt: time.Now()}
	require.NoError(t, s.SaveOverlayRecord(ctx, rec))

	rec.Starred = false
	rec.Favorited = true
	require.NoError(t, s.SaveOverlayRecord(ctx, rec))

	got, err := s.LoadOverlayRecords(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Starred)
	assert.True(t, got[0].Favorited)
}

func TestDeleteAndClearOverlayRecords(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveOverlayRecord(ctx, overlay.Record{ID: id, Starred: true, UpdatedAt: time.Now()}))
	}

	require.NoError(t, s.DeleteOverlayRecords(ctx, []string{"a", "c"}))
	require.NoError(t, s.DeleteOverlayRecords(ctx, nil))

	got, err := s.LoadOverlayRecords(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	require.NoError(t, s.ClearOverlayRecords(ctx))
	got, err = s.LoadOverlayRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOverlayStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailsync.db")

	first, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	ov := overlay.New(overlay.WithJournal(first))
	require.NoError(t, ov.MarkDeleted(ctx, "imap:INBOX:9", "INBOX"))
	require.NoError(t, first.Close())

	second, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	restored := overlay.New(overlay.WithJournal(second))
	require.NoError(t, restored.Load(ctx))
	assert.True(t, restored.IsDeleted("imap:INBOX:9"))
}

func TestDeliveryLog(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordDelivery(ctx, model.DeliveryRecord{
		ID:         "d1",
		Recipients: []string{"a@example.com"},
		Subject:    "first",
		Status:     model.DeliveryStatusSent,
		CreatedAt:  base,
	}))
	require.NoError(t, s.RecordDelivery(ctx, model.DeliveryRecord{
		Recipients: []string{"b@example.com", "c@example.com"},
		Subject:    "second",
		Status:     model.DeliveryStatusFailed,
		Error:      "connection reset",
		CreatedAt:  base.Add(time.Minute),
	}))

	got, err := s.GetDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Subject)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, []string{"b@example.com", "c@example.com"}, got[0].Recipients)
	assert.Equal(t, "connection reset", got[0].Error)
	assert.Equal(t, "d1", got[1].ID)
}
