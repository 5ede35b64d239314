// Package overlay keeps the local ledger of user actions (soft-delete,
// star, favorite) layered over whatever the remote mailbox reports.
package overlay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// Record is the overlay state of one message.
type Record struct {
	ID        string     `json:"id" db:"id"`
	Folder    string     `json:"folder" db:"folder"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	Starred   bool       `json:"starred" db:"starred"`
	Favorited bool       `json:"favorited" db:"favorited"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Deleted reports whether the record hides its message.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// empty reports whether the record carries no state worth keeping.
func (r Record) empty() bool {
	return !r.Deleted() && !r.Starred && !r.Favorited
}

// Journal persists overlay records. Writes happen before the in-memory
// state changes, so a failed write leaves the overlay exactly as it was.
type Journal interface {
	SaveOverlayRecord(ctx context.Context, rec Record) error
	DeleteOverlayRecords(ctx context.Context, ids []string) error
	LoadOverlayRecords(ctx context.Context) ([]Record, error)
	ClearOverlayRecords(ctx context.Context) error
}

// Store is the in-process overlay. It is safe for concurrent use; every
// read sees a complete record.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	journal Journal
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithJournal makes every mutation write through to j.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty overlay store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the journal's contents.
func (s *Store) Load(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	recs, err := s.journal.LoadOverlayRecords(ctx)
	if err != nil {
		return fmt.Errorf("loading overlay journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record, len(recs))
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return nil
}

// update applies fn to a copy of the record for id and commits the result
// to the journal and then to memory. Must not be called with s.mu held.
func (s *Store) update(ctx context.Context, id string, fn func(r *Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = Record{ID: id}
	}
	fn(&rec)
	rec.UpdatedAt = s.now()

	if rec.empty() {
		if !ok {
			return rec, nil
		}
		if s.journal != nil {
			if err := s.journal.DeleteOverlayRecords(ctx, []string{id}); err != nil {
				return Record{}, fmt.Errorf("removing overlay record %s: %w", id, err)
			}
		}
		delete(s.records, id)
		return rec, nil
	}

	if s.journal != nil {
		if err := s.journal.SaveOverlayRecord(ctx, rec); err != nil {
			return Record{}, fmt.Errorf("saving overlay record %s: %w", id, err)
		}
	}
	s.records[id] = rec
	return rec, nil
}

// MarkDeleted hides the message id. folder is its last known location,
// used later by reconciliation.
func (s *Store) MarkDeleted(ctx context.Context, id, folder string) error {
	_, err := s.update(ctx, id, func(r *Record) {
		if r.DeletedAt == nil {
			t := s.now()
			r.DeletedAt = &t
		}
		if folder != "" {
			r.Folder = folder
		}
	})
	return err
}

// UnmarkDeleted makes id visible again.
func (s *Store) UnmarkDeleted(ctx context.Context, id string) error {
	_, err := s.update(ctx, id, func(r *Record) { r.DeletedAt = nil })
	return err
}

// IsDeleted reports whether id is hidden.
func (s *Store) IsDeleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Deleted()
}

// ToggleStar flips the starred state of id and returns the new state.
func (s *Store) ToggleStar(ctx context.Context, id string) (bool, error) {
	rec, err := s.update(ctx, id, func(r *Record) { r.Starred = !r.Starred })
	if err != nil {
		return false, err
	}
	return rec.Starred, nil
}

// ToggleFavorite flips the favorited state of id and returns the new state.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	rec, err := s.update(ctx, id, func(r *Record) { r.Favorited = !r.Favorited })
	if err != nil {
		return false, err
	}
	return rec.Favorited, nil
}

// SetFavorite sets the favorited state of id.
func (s *Store) SetFavorite(ctx context.Context, id string, value bool) error {
	_, err := s.update(ctx, id, func(r *Record) { r.Favorited = value })
	return err
}

// Seed creates a record for id carrying the given flags, unless id already
// has one. A record that was never written has no UpdatedAt.
func (s *Store) Seed(ctx context.Context, id string, starred, favorited bool) error {
	_, err := s.update(ctx, id, func(r *Record) {
		if r.UpdatedAt.IsZero() {
			r.Starred = starred
			r.Favorited = favorited
		}
	})
	return err
}

// Get returns the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Restore puts rec back exactly as given, used to roll back an optimistic
// change whose remote half failed.
func (s *Store) Restore(ctx context.Context, rec Record, existed bool) error {
	if !existed {
		return s.Remove(ctx, rec.ID)
	}
	_, err := s.update(ctx, rec.ID, func(r *Record) { *r = rec })
	return err
}

// Remove drops the record for id entirely.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	if s.journal != nil {
		if err := s.journal.DeleteOverlayRecords(ctx, []string{id}); err != nil {
			return fmt.Errorf("removing overlay record %s: %w", id, err)
		}
	}
	delete(s.records, id)
	return nil
}

// PurgeDeleted removes the records in ids that are still marked deleted at
// the time of the call and returns how many were removed. Records that
// were undeleted in the meantime are left alone.
func (s *Store) PurgeDeleted(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for _, id := range ids {
		if s.records[id].Deleted() {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if s.journal != nil {
		if err := s.journal.DeleteOverlayRecords(ctx, doomed); err != nil {
			return 0, fmt.Errorf("purging %d overlay records: %w", len(doomed), err)
		}
	}
	for _, id := range doomed {
		delete(s.records, id)
	}
	return len(doomed), nil
}

// ListDeleted returns every deleted record, oldest deletion first.
func (s *Store) ListDeleted() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Deleted() {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeletedAt.Equal(*out[j].DeletedAt) {
			return out[i].DeletedAt.Before(*out[j].DeletedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClearAll drops every record.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.ClearOverlayRecords(ctx); err != nil {
			return fmt.Errorf("clearing overlay journal: %w", err)
		}
	}
	s.records = make(map[string]Record)
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Apply filters msgs through the overlay: deleted messages are dropped and
// survivors get their starred and favorited state from the overlay. The
// overlay wins over whatever the gateway reported for those flags. With
// keepRemote, a message without a record keeps the server's state instead,
// \Flagged standing for starred. msgs is not modified.
func (s *Store) Apply(msgs []model.Message, keepRemote bool) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		rec, ok := s.records[m.ID]
		if rec.Deleted() {
			continue
		}
		m = m.Clone()
		if ok || !keepRemote {
			m.Flags.Starred = rec.Starred
			m.Flags.Favorited = rec.Favorited
		} else {
			m.Flags.Starred = m.Flags.Flagged
		}
		out = append(out, m)
	}
	return out
}
