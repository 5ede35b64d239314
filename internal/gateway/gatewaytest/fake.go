// Package gatewaytest provides an in-memory, scriptable gateway.Gateway for
// tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/model"
)

// Operation names used to script failures and count calls.
const (
	OpListFolders = "list_folders"
	OpFetchPage   = "fetch_page"
	OpCount       = "count"
	OpRelocate    = "relocate"
	OpSetFlags    = "set_flags"
	OpSend        = "send"
	OpTrash       = "trash"
	OpPing        = "ping"
)

type folder struct {
	nextUID int
	msgs    []model.Message // ascending UID order
}

// Fake is an in-memory mailbox. The zero value is not usable; call New.
type Fake struct {
	mu      sync.Mutex
	folders map[string]*folder
	errs    map[string]error
	blocks  map[string]chan struct{}
	calls   map[string]int
	flags   []FlagCall
	sent    []model.Outgoing
	trash   string
	timeout time.Duration
}

// FlagCall records one SetFlags invocation.
type FlagCall struct {
	ID     string
	Change model.FlagChange
}

// New creates a Fake with an empty INBOX and Trash.
func New() *Fake {
	f := &Fake{
		folders: make(map[string]*folder),
		errs:    make(map[string]error),
		blocks:  make(map[string]chan struct{}),
		calls:   make(map[string]int),
		trash:   "Trash",
	}
	f.folders["INBOX"] = &folder{nextUID: 1}
	f.folders["Trash"] = &folder{nextUID: 1}
	return f
}

// WithTimeout makes blocked operations fail with gateway.ErrTimeout after
// d, mirroring the hard deadline of real gateways.
func (f *Fake) WithTimeout(d time.Duration) *Fake {
	f.timeout = d
	return f
}

// AddFolder creates an empty folder.
func (f *Fake) AddFolder(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[name]; !ok {
		f.folders[name] = &folder{nextUID: 1}
	}
}

// RemoveFolder deletes a folder and everything in it.
func (f *Fake) RemoveFolder(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.folders, name)
}

// SetTrash changes the folder returned by TrashFolder. An empty name makes
// TrashFolder fail with gateway.ErrNotFound.
func (f *Fake) SetTrash(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trash = name
}

// Seed appends n messages to folderName and returns their IDs, oldest
// first.
func (f *Fake) Seed(folderName string, n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	fo, ok := f.folders[folderName]
	if !ok {
		fo = &folder{nextUID: 1}
		f.folders[folderName] = fo
	}

	ids := make([]string, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		m := f.newMessage(folderName, fo, model.Message{
			From:    fmt.Sprintf("sender%d@example.com", fo.nextUID),
			To:      []string{"me@example.com"},
			Subject: fmt.Sprintf("Message %d", fo.nextUID),
			Date:    base.Add(time.Duration(fo.nextUID) * time.Minute),
		})
		ids = append(ids, m.ID)
	}
	return ids
}

// Expunge removes a message out from under the cache, as another client
// would.
func (f *Fake) Expunge(id string) {
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if fo, ok := f.folders[ref.Folder]; ok {
		if i := indexOf(fo, ref.UID); i >= 0 {
			fo.msgs = append(fo.msgs[:i], fo.msgs[i+1:]...)
		}
	}
}

// Has reports whether id currently exists.
func (f *Fake) Has(id string) bool {
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fo, ok := f.folders[ref.Folder]
	return ok && indexOf(fo, ref.UID) >= 0
}

// Contents returns the subjects of every message in folderName, oldest
// first.
func (f *Fake) Contents(folderName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	fo, ok := f.folders[folderName]
	if !ok {
		return nil
	}
	out := make([]string, len(fo.msgs))
	for i, m := range fo.msgs {
		out[i] = m.Subject
	}
	return out
}

// FailWith makes every call of op return err until cleared with nil.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Block makes calls of op hang until the returned function is called.
func (f *Fake) Block(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocks[op] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.blocks[op] == ch {
				delete(f.blocks, op)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// FlagCalls returns every SetFlags invocation.
func (f *Fake) FlagCalls() []FlagCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FlagCall(nil), f.flags...)
}

// Sent returns every transmitted message.
func (f *Fake) Sent() []model.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Outgoing(nil), f.sent...)
}

// enter counts the call, honors scripted blocks and failures, and returns
// the scripted error, if any.
func (f *Fake) enter(ctx context.Context, op, folderName string) error {
	f.mu.Lock()
	f.calls[op]++
	block := f.blocks[op]
	err := f.errs[op]
	timeout := f.timeout
	f.mu.Unlock()

	if block != nil {
		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-block:
		case <-expired:
			return gateway.NewError(gateway.ErrTimeout, op, folderName, context.DeadlineExceeded)
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return gateway.NewError(gateway.ErrTimeout, op, folderName, ctx.Err())
			}
			return ctx.Err()
		}
	}
	return err
}

// ListFolders implements gateway.Gateway.
func (f *Fake) ListFolders(ctx context.Context) ([]model.Folder, error) {
	if err := f.enter(ctx, OpListFolders, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Folder, 0, len(f.folders))
	for name, fo := range f.folders {
		fd := model.Folder{Name: name, Label: name, Count: len(fo.msgs)}
		if name == f.trash {
			fd.Attributes = []string{`\Trash`}
		}
		out = append(out, fd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FetchPage implements gateway.Gateway.
func (f *Fake) FetchPage(ctx context.Context, folderName string, pageSize, page int) (model.Page, error) {
	if err := f.enter(ctx, OpFetchPage, folderName); err != nil {
		return model.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	fo, ok := f.folders[folderName]
	if !ok {
		return model.Page{}, gateway.Errorf(gateway.ErrNotFound, OpFetchPage, folderName, "no such folder")
	}

	pageSize = gateway.ClampPageSize(pageSize, gateway.MaxPageSize)
	if page < 1 {
		page = 1
	}
	total := len(fo.msgs)
	result := model.Page{Folder: folderName, Page: page, PageSize: pageSize, Total: total}

	start, end, ok := gateway.PageBounds(total, pageSize, page)
	if !ok {
		result.Messages = []model.Message{}
		return result, nil
	}
	for i := end; i >= start; i-- {
		result.Messages = append(result.Messages, fo.msgs[i-1].Clone())
	}
	return result, nil
}

// FolderMessageCount implements gateway.Gateway.
func (f *Fake) FolderMessageCount(ctx context.Context, folderName string) (int, error) {
	if err := f.enter(ctx, OpCount, folderName); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fo, ok := f.folders[folderName]
	if !ok {
		return 0, gateway.Errorf(gateway.ErrNotFound, OpCount, folderName, "no such folder")
	}
	return len(fo.msgs), nil
}

// Relocate implements gateway.Gateway.
func (f *Fake) Relocate(ctx context.Context, id, source, target string) (gateway.Relocation, error) {
	if err := f.enter(ctx, OpRelocate, source); err != nil {
		return gateway.Relocation{}, err
	}
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return gateway.Relocation{}, gateway.NewError(gateway.ErrNotFound, OpRelocate, source, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	src, ok := f.folders[source]
	if !ok {
		return gateway.Relocation{}, gateway.Errorf(gateway.ErrNotFound, OpRelocate, source, "no such folder")
	}
	dst, ok := f.folders[target]
	if !ok {
		return gateway.Relocation{}, gateway.Errorf(gateway.ErrNotFound, OpRelocate, target, "no such folder")
	}

	i := indexOf(src, ref.UID)
	if i < 0 {
		return gateway.Relocation{AlreadyMoved: true}, nil
	}
	m := src.msgs[i]
	src.msgs = append(src.msgs[:i], src.msgs[i+1:]...)
	moved := f.newMessage(target, dst, m)
	return gateway.Relocation{NewID: moved.ID}, nil
}

// SetFlags implements gateway.Gateway.
func (f *Fake) SetFlags(ctx context.Context, id string, change model.FlagChange) error {
	if err := f.enter(ctx, OpSetFlags, ""); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = append(f.flags, FlagCall{ID: id, Change: change})

	ref, err := model.ParseMessageID(id)
	if err != nil {
		return gateway.NewError(gateway.ErrNotFound, OpSetFlags, "", err)
	}
	fo, ok := f.folders[ref.Folder]
	if !ok {
		return gateway.Errorf(gateway.ErrNotFound, OpSetFlags, ref.Folder, "no such folder")
	}
	i := indexOf(fo, ref.UID)
	if i < 0 {
		return gateway.Errorf(gateway.ErrNotFound, OpSetFlags, ref.Folder, "no message %s", ref.UID)
	}
	m := &fo.msgs[i]
	if change.Starred != nil {
		m.Flags.Flagged = *change.Starred
	}
	if change.Favorited != nil {
		m.Flags.Favorited = *change.Favorited
	}
	if change.Seen != nil {
		m.Flags.Seen = *change.Seen
	}
	return nil
}

// Send implements gateway.Gateway.
func (f *Fake) Send(ctx context.Context, msg model.Outgoing) (gateway.Delivery, error) {
	if err := f.enter(ctx, OpSend, ""); err != nil {
		return gateway.Delivery{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return gateway.Delivery{ID: uuid.New().String(), SentAt: time.Now()}, nil
}

// TrashFolder implements gateway.Gateway.
func (f *Fake) TrashFolder(ctx context.Context, folderName string) (string, error) {
	if err := f.enter(ctx, OpTrash, folderName); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trash == "" {
		return "", gateway.Errorf(gateway.ErrNotFound, OpTrash, folderName, "no trash folder")
	}
	return f.trash, nil
}

// Ping implements gateway.Gateway.
func (f *Fake) Ping(ctx context.Context) error {
	return f.enter(ctx, OpPing, "")
}

// Close implements gateway.Gateway.
func (f *Fake) Close() error { return nil }

// newMessage stores m in fo under a fresh UID. Callers hold f.mu.
func (f *Fake) newMessage(folderName string, fo *folder, m model.Message) model.Message {
	uid := strconv.Itoa(fo.nextUID)
	fo.nextUID++
	m.Folder = folderName
	m.UID = uid
	m.ID = model.NewMessageID(model.OriginTest, folderName, uid)
	fo.msgs = append(fo.msgs, m)
	return m
}

func indexOf(fo *folder, uid string) int {
	for i, m := range fo.msgs {
		if m.UID == uid {
			return i
		}
	}
	return -1
}

var _ gateway.Gateway = (*Fake)(nil)
