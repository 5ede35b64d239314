// Package maildir implements gateway.Gateway over a local tree of Maildir
// folders. Each folder is a maildir directory below the root; nested
// folders use '/' in their names.
package maildir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/gateway/email"
	"github.com/nhle/mailsync/internal/model"
)

// Default folders created on first use.
const (
	FolderInbox = "INBOX"
	FolderTrash = "Trash"
	FolderSent  = "Sent"
)

// Config tunes a maildir gateway.
type Config struct {
	// Root is the directory holding every folder.
	Root string

	// From is the sender recorded on messages written by Send.
	From string

	Timeout     time.Duration
	MaxPageSize int
	FetchBodies bool
}

// Gateway serves a maildir tree. Mutations are serialized; reads run in
// parallel.
type Gateway struct {
	cfg Config
	log zerolog.Logger
	mu  sync.RWMutex
}

// New creates the root and the default folders if they are missing.
func New(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	if cfg.Root == "" {
		return nil, gateway.Errorf(gateway.ErrUnavailable, "open", "", "maildir root is required")
	}
	if cfg.MaxPageSize < 1 {
		cfg.MaxPageSize = gateway.MaxPageSize
	}

	g := &Gateway{
		cfg: cfg,
		log: logger.With().Str("component", "maildir").Logger(),
	}
	for _, name := range []string{FolderInbox, FolderTrash, FolderSent} {
		if _, err := g.ensure(name); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// path resolves a folder name to its directory, refusing names that
// escape the root.
func (g *Gateway) path(folder string) (string, error) {
	if folder == "" {
		return "", gateway.Errorf(gateway.ErrNotFound, "resolve", folder, "empty folder name")
	}
	root := filepath.Clean(g.cfg.Root)
	candidate := filepath.Clean(filepath.Join(root, filepath.FromSlash(folder)))
	if !strings.HasPrefix(candidate+string(filepath.Separator), root+string(filepath.Separator)) || candidate == root {
		return "", gateway.Errorf(gateway.ErrNotFound, "resolve", folder, "folder outside maildir root")
	}
	return candidate, nil
}

// open returns the maildir for an existing folder.
func (g *Gateway) open(op, folder string) (maildir.Dir, error) {
	path, err := g.path(folder)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(path, "cur")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", gateway.Errorf(gateway.ErrNotFound, op, folder, "no such folder")
		}
		return "", gateway.NewError(gateway.ErrUnavailable, op, folder, err)
	}
	return maildir.Dir(path), nil
}

// ensure opens folder, creating it if needed.
func (g *Gateway) ensure(folder string) (maildir.Dir, error) {
	path, err := g.path(folder)
	if err != nil {
		return "", err
	}
	dir := maildir.Dir(path)
	if _, err := os.Stat(filepath.Join(path, "cur")); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return "", gateway.NewError(gateway.ErrUnavailable, "create", folder, err)
		}
		if err := dir.Init(); err != nil {
			return "", gateway.NewError(gateway.ErrUnavailable, "create", folder, err)
		}
	}
	return dir, nil
}

// sorted returns every message in dir oldest first. Messages in new/ are
// moved to cur/ as a side effect, as any maildir reader does.
func sorted(op, folder string, dir maildir.Dir) ([]*maildir.Message, error) {
	if _, err := dir.Unseen(); err != nil {
		return nil, gateway.NewError(gateway.ErrUnavailable, op, folder, err)
	}
	msgs, err := dir.Messages()
	if err != nil {
		return nil, gateway.NewError(gateway.ErrUnavailable, op, folder, err)
	}

	mtimes := make(map[string]time.Time, len(msgs))
	for _, m := range msgs {
		if fi, err := os.Stat(m.Filename()); err == nil {
			mtimes[m.Key()] = fi.ModTime()
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		ti, tj := mtimes[msgs[i].Key()], mtimes[msgs[j].Key()]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return msgs[i].Key() < msgs[j].Key()
	})
	return msgs, nil
}

// ListFolders walks the root for maildir directories.
func (g *Gateway) ListFolders(ctx context.Context) ([]model.Folder, error) {
	return gateway.Deadline(ctx, g.cfg.Timeout, "list_folders", "", nil, func(ctx context.Context) ([]model.Folder, error) {
		g.mu.RLock()
		defer g.mu.RUnlock()

		root := filepath.Clean(g.cfg.Root)
		var folders []model.Folder
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			switch d.Name() {
			case "cur", "new", "tmp":
				return fs.SkipDir
			}
			if path == root {
				return nil
			}
			if _, err := os.Stat(filepath.Join(path, "cur")); err != nil {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			msgs, err := maildir.Dir(path).Messages()
			if err != nil {
				return err
			}
			unseen, err := os.ReadDir(filepath.Join(path, "new"))
			if err != nil {
				return err
			}

			f := model.Folder{
				Name:  name,
				Label: filepath.Base(path),
				Count: len(msgs) + len(unseen),
			}
			if name == FolderTrash {
				f.Attributes = []string{`\Trash`}
			}
			folders = append(folders, f)
			return nil
		})
		if err != nil {
			return nil, gateway.NewError(gateway.ErrUnavailable, "list_folders", "", err)
		}

		sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
		return folders, nil
	})
}

// FetchPage returns one newest-first page of folder.
func (g *Gateway) FetchPage(ctx context.Context, folder string, pageSize, page int) (model.Page, error) {
	pageSize = gateway.ClampPageSize(pageSize, g.cfg.MaxPageSize)
	if page < 1 {
		page = 1
	}

	return gateway.Deadline(ctx, g.cfg.Timeout, "fetch_page", folder, nil, func(ctx context.Context) (model.Page, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		dir, err := g.open("fetch_page", folder)
		if err != nil {
			return model.Page{}, err
		}
		msgs, err := sorted("fetch_page", folder, dir)
		if err != nil {
			return model.Page{}, err
		}

		result := model.Page{
			Folder:   folder,
			Page:     page,
			PageSize: pageSize,
			Total:    len(msgs),
			Messages: []model.Message{},
		}
		start, end, ok := gateway.PageBounds(len(msgs), pageSize, page)
		if !ok {
			return result, nil
		}

		for i := end; i >= start; i-- {
			m, err := g.read(folder, msgs[i-1])
			if err != nil {
				return model.Page{}, err
			}
			result.Messages = append(result.Messages, m)
		}
		return result, nil
	})
}

// read parses one maildir message.
func (g *Gateway) read(folder string, m *maildir.Message) (model.Message, error) {
	rc, err := m.Open()
	if err != nil {
		return model.Message{}, gateway.NewError(gateway.ErrUnavailable, "read", folder, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return model.Message{}, gateway.NewError(gateway.ErrUnavailable, "read", folder, err)
	}

	msg := model.Message{
		ID:     model.NewMessageID(model.OriginMaildir, folder, m.Key()),
		Folder: folder,
		UID:    m.Key(),
		Size:   int64(len(raw)),
	}
	for _, f := range m.Flags() {
		switch f {
		case maildir.FlagSeen:
			msg.Flags.Seen = true
		case maildir.FlagReplied:
			msg.Flags.Answered = true
		case maildir.FlagFlagged:
			msg.Flags.Flagged = true
		}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable messages still list, with what we know.
		g.log.Debug().Err(err).Str("folder", folder).Str("key", m.Key()).Msg("unparseable message")
		return msg, nil
	}
	h := mr.Header
	msg.Subject, _ = h.Subject()
	msg.MessageID, _ = h.MessageID()
	msg.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].String()
	}
	msg.To = addresses(h, "To")
	msg.Cc = addresses(h, "Cc")
	_ = mr.Close()

	if g.cfg.FetchBodies {
		msg.TextBody, msg.HTMLBody, msg.Attachments = email.ParseBody(raw)
	}
	return msg, nil
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

// FolderMessageCount returns the number of messages in folder.
func (g *Gateway) FolderMessageCount(ctx context.Context, folder string) (int, error) {
	return gateway.Deadline(ctx, g.cfg.Timeout, "count", folder, nil, func(ctx context.Context) (int, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		dir, err := g.open("count", folder)
		if err != nil {
			return 0, err
		}
		msgs, err := sorted("count", folder, dir)
		if err != nil {
			return 0, err
		}
		return len(msgs), nil
	})
}

// find looks a message up by key, returning nil when absent.
func find(op, folder string, dir maildir.Dir, key string) (*maildir.Message, error) {
	msgs, err := sorted(op, folder, dir)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Key() == key {
			return m, nil
		}
	}
	return nil, nil
}

// Relocate renames the message file into the target maildir. Its key is
// preserved, so the new id differs only in folder.
func (g *Gateway) Relocate(ctx context.Context, id, source, target string) (gateway.Relocation, error) {
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return gateway.Relocation{}, gateway.NewError(gateway.ErrNotFound, "relocate", source, err)
	}

	return gateway.Deadline(ctx, g.cfg.Timeout, "relocate", source, nil, func(ctx context.Context) (gateway.Relocation, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		src, err := g.open("relocate", source)
		if err != nil {
			return gateway.Relocation{}, err
		}
		dst, err := g.open("relocate", target)
		if err != nil {
			return gateway.Relocation{}, err
		}

		m, err := find("relocate", source, src, ref.UID)
		if err != nil {
			return gateway.Relocation{}, err
		}
		if m == nil {
			return gateway.Relocation{AlreadyMoved: true}, nil
		}

		if err := m.MoveTo(dst); err != nil {
			return gateway.Relocation{}, gateway.NewError(gateway.ErrUnavailable, "relocate", source, err)
		}

		g.log.Debug().Str("id", id).Str("from", source).Str("to", target).Msg("message relocated")
		return gateway.Relocation{
			NewID: model.NewMessageID(model.OriginMaildir, target, ref.UID),
		}, nil
	})
}

// SetFlags maps Starred to the maildir F flag and Seen to S. Maildir has
// no keyword for favorites, so that change is accepted and ignored.
func (g *Gateway) SetFlags(ctx context.Context, id string, change model.FlagChange) error {
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return gateway.NewError(gateway.ErrNotFound, "set_flags", "", err)
	}

	_, err = gateway.Deadline(ctx, g.cfg.Timeout, "set_flags", ref.Folder, nil, func(ctx context.Context) (struct{}, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		dir, err := g.open("set_flags", ref.Folder)
		if err != nil {
			return struct{}{}, err
		}
		m, err := find("set_flags", ref.Folder, dir, ref.UID)
		if err != nil {
			return struct{}{}, err
		}
		if m == nil {
			return struct{}{}, gateway.Errorf(gateway.ErrNotFound, "set_flags", ref.Folder, "no message %s", ref.UID)
		}

		flags := make(map[maildir.Flag]bool)
		for _, f := range m.Flags() {
			flags[f] = true
		}
		if change.Starred != nil {
			flags[maildir.FlagFlagged] = *change.Starred
		}
		if change.Seen != nil {
			flags[maildir.FlagSeen] = *change.Seen
		}

		var next []maildir.Flag
		for f, on := range flags {
			if on {
				next = append(next, f)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		if err := m.SetFlags(next); err != nil {
			return struct{}{}, gateway.NewError(gateway.ErrUnavailable, "set_flags", ref.Folder, err)
		}
		return struct{}{}, nil
	})
	return err
}

// Send composes the message and delivers it into the Sent folder.
func (g *Gateway) Send(ctx context.Context, msg model.Outgoing) (gateway.Delivery, error) {
	if g.cfg.From == "" {
		return gateway.Delivery{}, gateway.Errorf(gateway.ErrDeliveryConfig, "send", "", "sender address is required")
	}
	if len(msg.To) == 0 {
		return gateway.Delivery{}, gateway.Errorf(gateway.ErrDelivery, "send", "", "no recipients")
	}

	now := time.Now()
	raw, messageID, err := email.Compose(g.cfg.From, msg, now)
	if err != nil {
		return gateway.Delivery{}, gateway.NewError(gateway.ErrDelivery, "send", "", err)
	}

	return gateway.Deadline(ctx, g.cfg.Timeout, "send", FolderSent, nil, func(ctx context.Context) (gateway.Delivery, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		dir, err := g.ensure(FolderSent)
		if err != nil {
			return gateway.Delivery{}, err
		}

		delivery, err := maildir.NewDelivery(string(dir))
		if err != nil {
			return gateway.Delivery{}, gateway.NewError(gateway.ErrDelivery, "send", FolderSent, err)
		}
		if _, err := io.Copy(delivery, bytes.NewReader(raw)); err != nil {
			_ = delivery.Abort()
			return gateway.Delivery{}, gateway.NewError(gateway.ErrDelivery, "send", FolderSent, err)
		}
		if err := delivery.Close(); err != nil {
			return gateway.Delivery{}, gateway.NewError(gateway.ErrDelivery, "send", FolderSent, err)
		}

		return gateway.Delivery{ID: messageID, SentAt: now}, nil
	})
}

// Deliver writes a raw message into folder, as a local MDA would.
func (g *Gateway) Deliver(folder string, raw []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dir, err := g.ensure(folder)
	if err != nil {
		return err
	}
	delivery, err := maildir.NewDelivery(string(dir))
	if err != nil {
		return fmt.Errorf("delivering to %s: %w", folder, err)
	}
	if _, err := delivery.Write(raw); err != nil {
		_ = delivery.Abort()
		return fmt.Errorf("delivering to %s: %w", folder, err)
	}
	return delivery.Close()
}

// TrashFolder resolves the trash folder among the existing folders.
func (g *Gateway) TrashFolder(ctx context.Context, folder string) (string, error) {
	folders, err := g.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	trash, ok := gateway.ResolveTrash(folders)
	if !ok {
		return "", gateway.Errorf(gateway.ErrNotFound, "trash", folder, "no trash folder")
	}
	return trash, nil
}

// Ping checks that the root is still readable.
func (g *Gateway) Ping(ctx context.Context) error {
	if _, err := os.Stat(g.cfg.Root); err != nil {
		return gateway.NewError(gateway.ErrUnavailable, "ping", "", err)
	}
	return ctx.Err()
}

// Close is a no-op; the maildir holds no open handles between calls.
func (g *Gateway) Close() error { return nil }

var _ gateway.Gateway = (*Gateway)(nil)
