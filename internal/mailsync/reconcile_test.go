package mailsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/gateway/gatewaytest"
	"github.com/nhle/mailsync/internal/overlay"
)

func TestCleanupStaleDeletedRemovesOnlyAbsent(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 4)
	ctx := context.Background()

	for _, id := range seeded[:3] {
		_, err := f.svc.RemoveMessage(ctx, id, "INBOX", ActionOverlayHide)
		require.NoError(t, err)
	}
	// Another client expunged the first one.
	f.gw.Expunge(seeded[0])

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	var left []string
	for _, r := range f.svc.ListDeleted() {
		left = append(left, r.ID)
	}
	assert.ElementsMatch(t, []string{seeded[1], seeded[2]}, left)

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{seeded[3]}, ids(page), "still-present messages stay hidden")
}

func TestCleanupStaleDeletedScansEveryPage(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", gateway.MaxPageSize*2+5)
	ctx := context.Background()

	// The oldest message sits on the last page.
	_, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.True(t, f.overlay.IsDeleted(seeded[0]))
	assert.Equal(t, 3, f.gw.Calls(gatewaytest.OpFetchPage))
}

func TestCleanupStaleDeletedScansFolderOfIdentifier(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("Archive")
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	require.NoError(t, f.overlay.MarkDeleted(ctx, seeded[0], "Archive"))

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.True(t, f.overlay.IsDeleted(seeded[0]))

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestCleanupStaleDeletedMissingFolder(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("Old")
	seeded := f.gw.Seed("Old", 2)
	ctx := context.Background()

	for _, id := range seeded {
		_, err := f.svc.RemoveMessage(ctx, id, "Old", ActionOverlayHide)
		require.NoError(t, err)
	}
	f.gw.RemoveFolder("Old")

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, f.svc.ListDeleted())
}

func TestCleanupStaleDeletedKeepsRecordsOnGatewayError(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 2)
	ctx := context.Background()

	_, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)
	f.gw.Expunge(seeded[0])
	f.gw.FailWith(gatewaytest.OpFetchPage, gateway.Errorf(gateway.ErrUnavailable, "fetch", "INBOX", "down"))

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.True(t, f.overlay.IsDeleted(seeded[0]))
}

func TestCleanupStaleDeletedBatch(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ReconcileBatch = 2 })
	seeded := f.gw.Seed("INBOX", 5)
	ctx := context.Background()

	for _, id := range seeded {
		_, err := f.svc.RemoveMessage(ctx, id, "INBOX", ActionOverlayHide)
		require.NoError(t, err)
		f.gw.Expunge(id)
	}

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Len(t, f.svc.ListDeleted(), 3)
}

func TestCleanupStaleDeletedLeavesStarOnlyRecords(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	_, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	f.gw.Expunge(seeded[0])

	removed, err := f.svc.CleanupStaleDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	_, ok := f.overlay.Get(seeded[0])
	assert.True(t, ok)
}

func TestCleanupStaleDeletedCancelled(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	_, err := f.svc.RemoveMessage(context.Background(), seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.gw.FailWith(gatewaytest.OpFetchPage, context.Canceled)

	_, err = f.svc.CleanupStaleDeleted(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.overlay.IsDeleted(seeded[0]))
}

func TestClearAllCaches(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 3)
	ctx := context.Background()

	_, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	n, err := f.svc.GetFolderEmailCount(ctx, "INBOX")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	_, err = f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)
	_, err = f.svc.ToggleStar(ctx, seeded[1])
	require.NoError(t, err)

	f.gw.Seed("INBOX", 2)
	require.NoError(t, f.svc.ClearAllCaches(ctx))

	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, 0, f.overlay.Len())
	assert.Empty(t, f.svc.ListDeleted())

	countCalls := f.gw.Calls(gatewaytest.OpCount)
	n, err = f.svc.GetFolderEmailCount(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, countCalls+1, f.gw.Calls(gatewaytest.OpCount))

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Equal(t, 5, page.Total)
	assert.Contains(t, ids(page), seeded[0], "cleared overlay no longer hides")
}

type failingJournal struct{}

func (failingJournal) SaveOverlayRecord(context.Context, overlay.Record) error { return nil }
func (failingJournal) DeleteOverlayRecords(context.Context, []string) error    { return nil }
func (failingJournal) LoadOverlayRecords(context.Context) ([]overlay.Record, error) {
	return nil, nil
}
func (failingJournal) ClearOverlayRecords(context.Context) error {
	return errors.New("disk full")
}

func TestClearAllCachesJournalFailureKeepsState(t *testing.T) {
	ov := overlay.New(overlay.WithJournal(failingJournal{}))
	f := newFixture(t, func(o *Options) { o.Overlay = ov })
	f.overlay = ov
	seeded := f.gw.Seed("INBOX", 2)
	ctx := context.Background()

	_, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	_, err = f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)

	err = f.svc.ClearAllCaches(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, f.overlay.Len())
	assert.Equal(t, 1, f.cache.Len())
}

func TestResetClearsState(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	_, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(ctx))
	assert.Equal(t, 0, f.overlay.Len())
}

func TestSweepCache(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 0, f.svc.SweepCache())
}
