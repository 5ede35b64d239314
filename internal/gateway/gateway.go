// Package gateway defines the contract for remote mailbox access and the
// error taxonomy shared by all gateway implementations.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// Page size bounds applied by every implementation.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Relocation reports the outcome of a successful Relocate call.
type Relocation struct {
	// NewID is the identifier of the message in the target folder, when the
	// server reported it. Empty if unknown.
	NewID string

	// AlreadyMoved is true when the message was no longer in the source
	// folder, so nothing was done.
	AlreadyMoved bool
}

// Delivery identifies a transmitted message.
type Delivery struct {
	ID     string
	SentAt time.Time
}

// Gateway issues remote mailbox protocol operations. It performs no
// caching and knows nothing of the local overlay.
type Gateway interface {
	// ListFolders returns every selectable folder with its message count.
	ListFolders(ctx context.Context) ([]model.Folder, error)

	// FetchPage returns one newest-first page of folder. page is 1-based; a
	// page past the end yields no messages and the true total.
	FetchPage(ctx context.Context, folder string, pageSize, page int) (model.Page, error)

	// FolderMessageCount returns the number of messages in folder.
	FolderMessageCount(ctx context.Context, folder string) (int, error)

	// Relocate moves the message identified by id from source to target.
	// Relocating a message that is no longer in source succeeds without
	// doing anything.
	Relocate(ctx context.Context, id, source, target string) (Relocation, error)

	// SetFlags updates remote flags on a message.
	SetFlags(ctx context.Context, id string, change model.FlagChange) error

	// Send transmits a new message.
	Send(ctx context.Context, msg model.Outgoing) (Delivery, error)

	// TrashFolder resolves the trash folder to use for messages in folder.
	TrashFolder(ctx context.Context, folder string) (string, error)

	// Ping establishes (or reuses) a session to verify configuration.
	Ping(ctx context.Context) error

	// Close releases any open session.
	Close() error
}

// ClampPageSize applies the default and upper bound to a requested page
// size.
func ClampPageSize(pageSize, max int) int {
	if max < 1 {
		max = MaxPageSize
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > max {
		pageSize = max
	}
	return pageSize
}

// PageBounds converts a newest-first (pageSize, page) request over total
// messages into an inclusive 1-based sequence range [start, end]. ok is
// false when the page lies past the end.
func PageBounds(total, pageSize, page int) (start, end int, ok bool) {
	if page < 1 {
		page = 1
	}
	end = total - (page-1)*pageSize
	if end < 1 {
		return 0, 0, false
	}
	start = end - pageSize + 1
	if start < 1 {
		start = 1
	}
	return start, end, true
}

// Deadline runs fn under timeout. If the deadline passes first, abort is
// called (to tear down whatever fn is blocked on) and ErrTimeout is
// returned; fn's eventual result is discarded.
func Deadline[T any](
	ctx context.Context,
	timeout time.Duration,
	op, folder string,
	abort func(),
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		if abort != nil {
			abort()
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return zero, fmt.Errorf("%s %s: %w", op, folder, ctx.Err())
		}
		return zero, NewError(ErrTimeout, op, folder, ctx.Err())
	}
}

// TrashCandidates are tried in order when no folder carries the \Trash
// special-use attribute.
var TrashCandidates = []string{
	"Trash",
	"[Gmail]/Trash",
	"Deleted Items",
	"INBOX.Trash",
	"Lixeira",
}

// ResolveTrash chooses the trash folder among folders: the \Trash
// special-use folder first, then the first of TrashCandidates that exists.
func ResolveTrash(folders []model.Folder) (string, bool) {
	for _, f := range folders {
		if f.HasAttribute(`\Trash`) {
			return f.Name, true
		}
	}

	names := make(map[string]bool, len(folders))
	for _, f := range folders {
		names[f.Name] = true
	}
	for _, candidate := range TrashCandidates {
		if names[candidate] {
			return candidate, true
		}
	}
	return "", false
}
