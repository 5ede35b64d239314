package maildir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/model"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(Config{
		Root:        t.TempDir(),
		From:        "me@example.com",
		Timeout:     5 * time.Second,
		FetchBodies: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	return g
}

// seed delivers n messages to folder with strictly increasing mtimes so
// arrival order is deterministic.
func seed(t *testing.T, g *Gateway, folder string, n int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 1; i <= n; i++ {
		raw := fmt.Sprintf(
			"From: Sender %d <s%d@example.com>\r\nTo: me@example.com\r\nSubject: Message %d\r\nMessage-ID: <m%d@example.com>\r\nDate: Mon, 02 Jan 2026 15:04:05 +0000\r\nContent-Type: text/plain\r\n\r\nbody %d\r\n",
			i, i, i, i, i,
		)
		require.NoError(t, g.Deliver(folder, []byte(raw)))

		dir, err := g.open("seed", folder)
		require.NoError(t, err)
		_, err = dir.Unseen()
		require.NoError(t, err)
		msgs, err := dir.Messages()
		require.NoError(t, err)

		// Stamp only the message that has no stamp yet.
		for _, m := range msgs {
			fi, err := os.Stat(m.Filename())
			require.NoError(t, err)
			if fi.ModTime().Before(base) {
				continue
			}
			stamp := base.Add(-time.Duration(n-i+1) * time.Minute)
			require.NoError(t, os.Chtimes(m.Filename(), stamp, stamp))
		}
	}
}

func subjects(p model.Page) []string {
	out := make([]string, len(p.Messages))
	for i, m := range p.Messages {
		out[i] = m.Subject
	}
	return out
}

func TestNewCreatesDefaultFolders(t *testing.T) {
	g := newTestGateway(t)

	folders, err := g.ListFolders(context.Background())
	require.NoError(t, err)

	var names []string
	for _, f := range folders {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"INBOX", "Sent", "Trash"}, names)
}

func TestFetchPageNewestFirst(t *testing.T) {
	g := newTestGateway(t)
	seed(t, g, "INBOX", 5)
	ctx := context.Background()

	first, err := g.FetchPage(ctx, "INBOX", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Total)
	assert.Equal(t, []string{"Message 5", "Message 4"}, subjects(first))

	last, err := g.FetchPage(ctx, "INBOX", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Message 1"}, subjects(last))

	past, err := g.FetchPage(ctx, "INBOX", 2, 4)
	require.NoError(t, err)
	assert.Empty(t, past.Messages)
	assert.Equal(t, 5, past.Total)
}

func TestFetchPageParsesHeadersAndBody(t *testing.T) {
	g := newTestGateway(t)
	seed(t, g, "INBOX", 1)

	page, err := g.FetchPage(context.Background(), "INBOX", 10, 1)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	m := page.Messages[0]
	assert.Equal(t, "m1@example.com", m.MessageID)
	assert.Equal(t, []string{"me@example.com"}, m.To)
	assert.Contains(t, m.From, "s1@example.com")
	assert.Contains(t, m.TextBody, "body 1")

	ref, err := model.ParseMessageID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OriginMaildir, ref.Origin)
	assert.Equal(t, "INBOX", ref.Folder)
}

func TestFetchPageUnknownFolder(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.FetchPage(context.Background(), "Nope", 10, 1)
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	_, err = g.FetchPage(context.Background(), "../escape", 10, 1)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestRelocateIsIdempotent(t *testing.T) {
	g := newTestGateway(t)
	seed(t, g, "INBOX", 2)
	ctx := context.Background()

	page, err := g.FetchPage(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	id := page.Messages[0].ID

	rel, err := g.Relocate(ctx, id, "INBOX", "Trash")
	require.NoError(t, err)
	assert.False(t, rel.AlreadyMoved)
	assert.NotEmpty(t, rel.NewID)

	again, err := g.Relocate(ctx, id, "INBOX", "Trash")
	require.NoError(t, err)
	assert.True(t, again.AlreadyMoved)

	n, err := g.FolderMessageCount(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = g.FolderMessageCount(ctx, "Trash")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trashed, err := g.FetchPage(ctx, "Trash", 10, 1)
	require.NoError(t, err)
	require.Len(t, trashed.Messages, 1)
	assert.Equal(t, rel.NewID, trashed.Messages[0].ID)
}

func TestSetFlags(t *testing.T) {
	g := newTestGateway(t)
	seed(t, g, "INBOX", 1)
	ctx := context.Background()

	page, err := g.FetchPage(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	id := page.Messages[0].ID

	on := true
	require.NoError(t, g.SetFlags(ctx, id, model.FlagChange{Starred: &on, Seen: &on}))

	page, err = g.FetchPage(ctx, "INBOX", 10, 1)
	require.NoError(t, err)
	assert.True(t, page.Messages[0].Flags.Flagged)
	assert.True(t, page.Messages[0].Flags.Seen)

	dir, err := g.open("test", "INBOX")
	require.NoError(t, err)
	msgs, err := dir.Messages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.ElementsMatch(t, []maildir.Flag{maildir.FlagFlagged, maildir.FlagSeen}, msgs[0].Flags())

	err = g.SetFlags(ctx, "maildir:INBOX:missing", model.FlagChange{Starred: &on})
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestSendDeliversToSent(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	d, err := g.Send(ctx, model.Outgoing{
		To:      []string{"you@example.com"},
		Subject: "Hi",
		Body:    "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)

	page, err := g.FetchPage(ctx, FolderSent, 10, 1)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "Hi", page.Messages[0].Subject)
	assert.Equal(t, d.ID, page.Messages[0].MessageID)
}

func TestSendWithoutSender(t *testing.T) {
	g, err := New(Config{Root: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)

	_, err = g.Send(context.Background(), model.Outgoing{To: []string{"you@example.com"}})
	assert.ErrorIs(t, err, gateway.ErrDeliveryConfig)
}

func TestTrashFolderAndNestedFolders(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.ensure("Archive/2026")
	require.NoError(t, err)

	trash, err := g.TrashFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, FolderTrash, trash)

	folders, err := g.ListFolders(ctx)
	require.NoError(t, err)
	var found bool
	for _, f := range folders {
		if f.Name == "Archive/2026" {
			found = true
			assert.Equal(t, "2026", f.Label)
		}
	}
	assert.True(t, found)

	require.NoError(t, os.RemoveAll(filepath.Join(g.cfg.Root, FolderTrash)))
	_, err = g.TrashFolder(ctx, "INBOX")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}
