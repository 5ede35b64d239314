package mailsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/gateway/gatewaytest"
	"github.com/nhle/mailsync/internal/model"
)

func TestParseRemoveAction(t *testing.T) {
	tests := []struct {
		in   string
		want RemoveAction
	}{
		{"move_to_trash", ActionRelocate},
		{" move_to_trash ", ActionRelocate},
		{"soft", ActionOverlayHide},
		{"", ActionOverlayHide},
		{"anything", ActionOverlayHide},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRemoveAction(tt.in))
		})
	}
}

func TestRemoveMessageHide(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 3)
	ctx := context.Background()

	_, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)

	res, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)
	assert.Equal(t, "soft", res.Action)
	assert.Empty(t, res.To)
	assert.Equal(t, 0, f.gw.Calls(gatewaytest.OpRelocate))

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.NotContains(t, ids(page), seeded[0])
	assert.True(t, f.gw.Has(seeded[0]), "hiding must not touch the server")
}

func TestSoftDeleteEmail(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)

	require.NoError(t, f.svc.SoftDeleteEmail(context.Background(), model.Message{ID: seeded[0], Folder: "INBOX"}))
	assert.True(t, f.overlay.IsDeleted(seeded[0]))
}

func TestRemoveMessageMoveToTrashInvalidates(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 3)
	ctx := context.Background()

	_, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	_, err = f.svc.FetchEmails(ctx, "Trash", 10, 1)
	require.NoError(t, err)

	res, err := f.svc.RemoveMessage(ctx, seeded[1], "INBOX", ActionRelocate)
	require.NoError(t, err)
	assert.Equal(t, "move_to_trash", res.Action)
	assert.Equal(t, "Trash", res.To)
	assert.NotEmpty(t, res.NewID)

	inbox, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.False(t, inbox.Cached)
	assert.NotContains(t, ids(inbox), seeded[1])

	trash, err := f.svc.FetchEmails(ctx, "Trash", 10, 1)
	require.NoError(t, err)
	assert.False(t, trash.Cached)
	assert.Equal(t, []string{res.NewID}, ids(trash))
	assert.Equal(t, "Message 2", trash.Messages[0].Subject)
}

func TestRemoveMessageRelocateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 2)
	ctx := context.Background()

	first, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionRelocate)
	require.NoError(t, err)
	assert.False(t, first.AlreadyMoved)

	second, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionRelocate)
	require.NoError(t, err)
	assert.True(t, second.AlreadyMoved)

	assert.Equal(t, []string{"Message 1"}, f.gw.Contents("Trash"))
	assert.Equal(t, []string{"Message 2"}, f.gw.Contents("INBOX"))
}

func TestRemoveMessageConcurrentRelocateMovesOnce(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionRelocate)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"Message 1"}, f.gw.Contents("Trash"))
}

func TestRemoveMessageRelocateTimeoutLeavesMessageVisible(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 3)
	ctx := context.Background()

	_, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)

	release := f.gw.Block(gatewaytest.OpRelocate)
	_, err = f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionRelocate)
	release()

	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrTimeout)
	assert.True(t, IsStep(err, StepRelocate))

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "INBOX", se.Folder)

	assert.False(t, f.overlay.IsDeleted(seeded[0]))
	assert.Equal(t, 1, f.cache.Len(), "a failed relocate must not invalidate")

	f.cache.ClearAll()
	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Contains(t, ids(page), seeded[0])
}

func TestRemoveMessageWithoutTrash(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	f.gw.SetTrash("")

	_, err := f.svc.RemoveMessage(context.Background(), seeded[0], "INBOX", ActionRelocate)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.True(t, IsStep(err, StepResolveTrash))
	assert.False(t, f.overlay.IsDeleted(seeded[0]), "no silent fallback to hiding")
	assert.True(t, f.gw.Has(seeded[0]))
}

func TestRemoveMessageAlreadyInTrash(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("Trash", 1)

	_, err := f.svc.RemoveMessage(context.Background(), seeded[0], "Trash", ActionRelocate)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, f.gw.Calls(gatewaytest.OpRelocate))
}

func TestRemoveMessageValidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RemoveMessage(context.Background(), "", "INBOX", ActionOverlayHide)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RemoveMessage(context.Background(), "test:INBOX:1", "", ActionRelocate)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, IsStep(err, StepRelocate))
}

func TestRemoveMessageRejectsForeignFolder(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("Archive")
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	_, err := f.svc.RemoveMessage(ctx, seeded[0], "Archive", ActionOverlayHide)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, f.overlay.IsDeleted(seeded[0]))

	_, err = f.svc.Move(ctx, seeded[0], "Archive", "Trash")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, f.gw.Calls(gatewaytest.OpRelocate))

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("Archive")
	seeded := f.gw.Seed("INBOX", 2)
	ctx := context.Background()

	res, err := f.svc.Move(ctx, seeded[1], "INBOX", "Archive")
	require.NoError(t, err)
	assert.Equal(t, "move", res.Action)
	assert.Equal(t, []string{"Message 2"}, f.gw.Contents("Archive"))

	_, err = f.svc.Move(ctx, seeded[0], "INBOX", "INBOX")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Move(ctx, seeded[0], "INBOX", "Nowhere")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.True(t, f.gw.Has(seeded[0]))
}

func TestRelocateCarriesStarToNewID(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	starred, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	require.True(t, starred)

	res, err := f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionRelocate)
	require.NoError(t, err)

	_, ok := f.overlay.Get(seeded[0])
	assert.False(t, ok)

	rec, ok := f.overlay.Get(res.NewID)
	require.True(t, ok)
	assert.True(t, rec.Starred)
	assert.Equal(t, "Trash", rec.Folder)

	trash, err := f.svc.FetchEmails(ctx, "Trash", 10, 1)
	require.NoError(t, err)
	require.Len(t, trash.Messages, 1)
	assert.True(t, trash.Messages[0].Flags.Starred)
}

func TestToggleStarRoundTrip(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 2)
	ctx := context.Background()

	before, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	require.False(t, before.Messages[1].Flags.Starred)

	on, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	assert.True(t, on)

	mid, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.True(t, mid.Cached)
	assert.True(t, mid.Messages[1].Flags.Starred)

	off, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	assert.False(t, off)

	after, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.Equal(t, before.Messages[1].Flags, after.Messages[1].Flags)

	assert.Empty(t, f.gw.FlagCalls(), "propagation is off by default")
}

func TestToggleFavorite(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	v, err := f.svc.ToggleFavorite(ctx, seeded[0], true)
	require.NoError(t, err)
	assert.True(t, v)

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.True(t, page.Messages[0].Flags.Favorited)

	_, err = f.svc.ToggleFavorite(ctx, "", true)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTogglePropagatesFlags(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Propagate = true })
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	_, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	_, err = f.svc.ToggleFavorite(ctx, seeded[0], true)
	require.NoError(t, err)

	calls := f.gw.FlagCalls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[0].Change.Starred)
	assert.True(t, *calls[0].Change.Starred)
	require.NotNil(t, calls[1].Change.Favorited)
	assert.True(t, *calls[1].Change.Favorited)
}

func TestToggleStarRollsBackOnPushFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Propagate = true })
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()
	f.gw.FailWith(gatewaytest.OpSetFlags, gateway.Errorf(gateway.ErrUnavailable, "store", "INBOX", "down"))

	starred, err := f.svc.ToggleStar(ctx, seeded[0])
	require.Error(t, err)
	assert.False(t, starred)
	assert.True(t, IsStep(err, StepSetFlags))
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "INBOX", se.Folder)

	_, ok := f.overlay.Get(seeded[0])
	assert.False(t, ok, "overlay must be restored to its previous state")
}

func TestToggleFavoriteRollbackKeepsOtherState(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	_, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)

	f.svc.propagate = true
	f.gw.FailWith(gatewaytest.OpSetFlags, gateway.Errorf(gateway.ErrTimeout, "store", "INBOX", "slow"))

	_, err = f.svc.ToggleFavorite(ctx, seeded[0], true)
	require.Error(t, err)

	rec, ok := f.overlay.Get(seeded[0])
	require.True(t, ok)
	assert.True(t, rec.Starred)
	assert.False(t, rec.Favorited)
}

func TestServerStarSurvivesClearWithPropagation(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Propagate = true })
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	on, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	require.True(t, on)
	require.NoError(t, f.svc.ClearAllCaches(ctx))

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.True(t, page.Messages[0].Flags.Starred, "the server's \\Flagged shows after a clear")

	// The next toggle starts from the server's state.
	on, err = f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	assert.False(t, on)

	page, err = f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.False(t, page.Messages[0].Flags.Starred)
	assert.Len(t, f.gw.FlagCalls(), 2)
}

func TestFlagRollbackSkippedAfterClear(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Propagate = true })
	seeded := f.gw.Seed("INBOX", 1)
	ctx := context.Background()

	_, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)

	release := f.gw.Block(gatewaytest.OpSetFlags)
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ToggleStar(ctx, seeded[0])
		done <- err
	}()
	require.Eventually(t, func() bool {
		return f.gw.Calls(gatewaytest.OpSetFlags) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, f.svc.ClearAllCaches(ctx))

	err = <-done
	assert.ErrorIs(t, err, gateway.ErrTimeout)
	_, ok := f.overlay.Get(seeded[0])
	assert.False(t, ok, "a rollback must not bring back a record from before the clear")
}

func TestUndeleteEmail(t *testing.T) {
	f := newFixture(t)
	seeded := f.gw.Seed("INBOX", 2)
	ctx := context.Background()

	_, err := f.svc.ToggleStar(ctx, seeded[0])
	require.NoError(t, err)
	_, err = f.svc.RemoveMessage(ctx, seeded[0], "INBOX", ActionOverlayHide)
	require.NoError(t, err)

	page, err := f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	require.NoError(t, f.svc.UndeleteEmail(ctx, seeded[0]))
	assert.Empty(t, f.svc.ListDeleted())

	page, err = f.svc.FetchEmails(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.False(t, page.Cached, "undelete invalidates the folder")
	require.Len(t, page.Messages, 2)
	assert.Equal(t, seeded[0], page.Messages[1].ID)
	assert.True(t, page.Messages[1].Flags.Starred, "undelete keeps the star")

	require.NoError(t, f.svc.UndeleteEmail(ctx, seeded[1]), "a visible message is left alone")
	assert.ErrorIs(t, f.svc.UndeleteEmail(ctx, ""), ErrInvalidInput)
}

func TestLocksetSerializesSameKey(t *testing.T) {
	var l lockset
	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("test:INBOX:1")
			defer unlock()

			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}
