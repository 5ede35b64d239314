// Package email implements gateway.Gateway over IMAP (go-imap v2) for
// reads and relocation and SMTP (go-smtp) for sending.
package email

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/rate"
)

// Gateway talks to one IMAP/SMTP account. It is safe for concurrent use;
// IMAP commands are serialized over a single reused session.
type Gateway struct {
	cfg     Config
	log     zerolog.Logger
	limiter rate.Limiter
	sess    *session

	trashMu sync.Mutex
	trash   string
}

// New creates a gateway. No connection is made until the first call.
func New(cfg Config, logger zerolog.Logger) *Gateway {
	if cfg.MaxPageSize < 1 {
		cfg.MaxPageSize = gateway.MaxPageSize
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	logger = logger.With().Str("component", "imap").Logger()
	return &Gateway{
		cfg:     cfg,
		log:     logger,
		limiter: limiter,
		sess:    &session{cfg: cfg, log: logger},
	}
}

// ListFolders returns every selectable mailbox with its message count.
func (g *Gateway) ListFolders(ctx context.Context) ([]model.Folder, error) {
	return run(ctx, g.sess, g.limiter, "list_folders", "", func(c *imapclient.Client) ([]model.Folder, error) {
		var opts *imap.ListOptions
		listStatus := c.Caps().Has(imap.CapListStatus)
		if listStatus {
			opts = &imap.ListOptions{
				ReturnStatus: &imap.StatusOptions{NumMessages: true},
			}
		}

		data, err := c.List("", "*", opts).Collect()
		if err != nil {
			return nil, fmt.Errorf("listing mailboxes: %w", err)
		}

		folders := make([]model.Folder, 0, len(data))
		for _, d := range data {
			f := folderFromList(d)
			if !selectable(f) {
				continue
			}
			if !listStatus {
				status, err := c.Status(f.Name, &imap.StatusOptions{NumMessages: true}).Wait()
				if err != nil {
					return nil, fmt.Errorf("status %s: %w", f.Name, err)
				}
				if status.NumMessages != nil {
					f.Count = int(*status.NumMessages)
				}
			}
			folders = append(folders, f)
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

	return run(ctx, g.sess, g.limiter, "fetch_page", folder, func(c *imapclient.Client) (model.Page, error) {
		total, err := selectFolder(c, folder)
		if err != nil {
			return model.Page{}, fmt.Errorf("selecting %s: %w", folder, err)
		}

		result := model.Page{
			Folder:   folder,
			Page:     page,
			PageSize: pageSize,
			Total:    int(total),
			Messages: []model.Message{},
		}

		start, end, ok := gateway.PageBounds(int(total), pageSize, page)
		if !ok {
			return result, nil
		}

		var seqSet imap.SeqSet
		seqSet.AddRange(uint32(start), uint32(end))

		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchOpts := &imap.FetchOptions{
			Envelope:   true,
			Flags:      true,
			UID:        true,
			RFC822Size: true,
		}
		if g.cfg.FetchBodies {
			fetchOpts.BodySection = []*imap.FetchItemBodySection{bodySection}
		}

		buffers, err := c.Fetch(seqSet, fetchOpts).Collect()
		if err != nil {
			return model.Page{}, fmt.Errorf("fetching %d:%d: %w", start, end, err)
		}

		sort.Slice(buffers, func(i, j int) bool { return buffers[i].SeqNum > buffers[j].SeqNum })

		for _, buf := range buffers {
			var body []byte
			if g.cfg.FetchBodies {
				body = buf.FindBodySection(bodySection)
			}
			result.Messages = append(result.Messages, messageFromBuffer(folder, buf, body))
		}

		g.log.Debug().
			Str("folder", folder).
			Int("page", page).
			Int("count", len(result.Messages)).
			Int("total", result.Total).
			Msg("fetched page")

		return result, nil
	})
}

// FolderMessageCount returns the number of messages in folder.
func (g *Gateway) FolderMessageCount(ctx context.Context, folder string) (int, error) {
	return run(ctx, g.sess, g.limiter, "count", folder, func(c *imapclient.Client) (int, error) {
		status, err := c.Status(folder, &imap.StatusOptions{NumMessages: true}).Wait()
		if err != nil {
			return 0, fmt.Errorf("status %s: %w", folder, err)
		}
		if status.NumMessages == nil {
			return 0, gateway.Errorf(gateway.ErrProtocol, "count", folder, "server omitted MESSAGES")
		}
		return int(*status.NumMessages), nil
	})
}

// Relocate moves a message with UID MOVE (go-imap falls back to
// COPY+EXPUNGE on servers without MOVE). A message already gone from
// source is reported as AlreadyMoved.
func (g *Gateway) Relocate(ctx context.Context, id, source, target string) (gateway.Relocation, error) {
	uid, err := parseUID(id)
	if err != nil {
		return gateway.Relocation{}, gateway.NewError(gateway.ErrNotFound, "relocate", source, err)
	}

	return run(ctx, g.sess, g.limiter, "relocate", source, func(c *imapclient.Client) (gateway.Relocation, error) {
		if _, err := selectFolder(c, source); err != nil {
			return gateway.Relocation{}, fmt.Errorf("selecting %s: %w", source, err)
		}

		uidSet := imap.UIDSetNum(uid)
		found, err := c.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{uidSet}}, nil).Wait()
		if err != nil {
			return gateway.Relocation{}, fmt.Errorf("searching uid %d: %w", uid, err)
		}
		if len(found.AllUIDs()) == 0 {
			g.log.Debug().Str("id", id).Str("folder", source).Msg("message already absent from source")
			return gateway.Relocation{AlreadyMoved: true}, nil
		}

		data, err := c.Move(uidSet, target).Wait()
		if err != nil {
			return gateway.Relocation{}, fmt.Errorf("moving uid %d to %s: %w", uid, target, err)
		}

		var rel gateway.Relocation
		if data != nil {
			if dest, ok := data.DestUIDs.(imap.UIDSet); ok {
				if uids, ok := dest.Nums(); ok && len(uids) == 1 {
					rel.NewID = model.NewMessageID(model.OriginIMAP, target, strconv.FormatUint(uint64(uids[0]), 10))
				}
			}
		}
		return rel, nil
	})
}

// SetFlags mirrors local flag state onto the server: Starred maps to
// \Flagged and Favorited to the $Favorite keyword.
func (g *Gateway) SetFlags(ctx context.Context, id string, change model.FlagChange) error {
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return gateway.NewError(gateway.ErrNotFound, "set_flags", "", err)
	}
	uid, err := parseUID(id)
	if err != nil {
		return gateway.NewError(gateway.ErrNotFound, "set_flags", ref.Folder, err)
	}

	var add, del []imap.Flag
	toggle := func(v *bool, flag imap.Flag) {
		if v == nil {
			return
		}
		if *v {
			add = append(add, flag)
		} else {
			del = append(del, flag)
		}
	}
	toggle(change.Starred, imap.FlagFlagged)
	toggle(change.Favorited, imap.Flag(favoriteKeyword))
	toggle(change.Seen, imap.FlagSeen)

	if len(add) == 0 && len(del) == 0 {
		return nil
	}

	_, err = run(ctx, g.sess, g.limiter, "set_flags", ref.Folder, func(c *imapclient.Client) (struct{}, error) {
		if _, err := selectFolder(c, ref.Folder); err != nil {
			return struct{}{}, fmt.Errorf("selecting %s: %w", ref.Folder, err)
		}

		uidSet := imap.UIDSetNum(uid)
		for _, op := range []struct {
			kind  imap.StoreFlagsOp
			flags []imap.Flag
		}{
			{imap.StoreFlagsAdd, add},
			{imap.StoreFlagsDel, del},
		} {
			if len(op.flags) == 0 {
				continue
			}
			storeCmd := c.Store(uidSet, &imap.StoreFlags{
				Op:     op.kind,
				Silent: true,
				Flags:  op.flags,
			}, nil)
			if err := storeCmd.Close(); err != nil {
				return struct{}{}, fmt.Errorf("storing flags on uid %d: %w", uid, err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// TrashFolder resolves the account's trash folder. The result is
// remembered for the life of the gateway.
func (g *Gateway) TrashFolder(ctx context.Context, folder string) (string, error) {
	g.trashMu.Lock()
	cached := g.trash
	g.trashMu.Unlock()
	if cached != "" {
		return cached, nil
	}

	folders, err := g.ListFolders(ctx)
	if err != nil {
		return "", err
	}

	trash, ok := gateway.ResolveTrash(folders)
	if !ok {
		return "", gateway.Errorf(gateway.ErrNotFound, "trash", folder, "no trash folder on server")
	}

	g.trashMu.Lock()
	g.trash = trash
	g.trashMu.Unlock()
	return trash, nil
}

// Ping establishes (or reuses) the session and issues a NOOP.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := run(ctx, g.sess, g.limiter, "ping", "", func(c *imapclient.Client) (struct{}, error) {
		return struct{}{}, c.Noop().Wait()
	})
	return err
}

// Close logs out of the IMAP session.
func (g *Gateway) Close() error {
	return g.sess.close()
}

// parseUID extracts the numeric IMAP UID from a message id.
func parseUID(id string) (imap.UID, error) {
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(ref.UID, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid imap uid %q in %s", ref.UID, id)
	}
	return imap.UID(uid), nil
}

var _ gateway.Gateway = (*Gateway)(nil)
