package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/overlay"
)

// CleanupStaleDeleted purges soft-delete records whose message no longer
// exists on the server. Each run checks at most the oldest ReconcileBatch
// records, grouped by the folder their identifier names. A record is
// purged only when the folder was scanned to the end without finding it,
// or the folder itself is gone; a folder whose scan fails keeps all its
// records. Cleanup only
// removes records, so no message reappears because of it.
func (s *Service) CleanupStaleDeleted(ctx context.Context) (int, error) {
	start := time.Now()

	deleted := s.overlay.ListDeleted()
	if len(deleted) > s.batch {
		deleted = deleted[:s.batch]
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	byFolder := make(map[string][]overlay.Record)
	for _, rec := range deleted {
		folder, ok := recordFolder(rec)
		if !ok {
			s.log.Warn().Str("id", rec.ID).Msg("skipping overlay record without folder")
			continue
		}
		byFolder[folder] = append(byFolder[folder], rec)
	}

	folders := make([]string, 0, len(byFolder))
	for f := range byFolder {
		folders = append(folders, f)
	}
	sort.Strings(folders)

	var (
		mu     sync.Mutex
		absent = make(map[string][]string)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, folder := range folders {
		recs := byFolder[folder]
		g.Go(func() error {
			gone, err := s.confirmAbsent(gctx, folder, recs)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.log.Warn().Err(err).Str("folder", folder).Int("records", len(recs)).
					Msg("reconcile scan failed, keeping records")
				return nil
			}
			if len(gone) > 0 {
				mu.Lock()
				absent[folder] = gone
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("reconciling overlay: %w", err)
	}

	removed := 0
	for _, folder := range folders {
		ids := absent[folder]
		if len(ids) == 0 {
			continue
		}
		n, err := s.purge(ctx, folder, ids)
		removed += n
		if err != nil {
			return removed, fmt.Errorf("purging stale records in %s: %w", folder, err)
		}
	}

	s.log.Info().
		Int("checked", len(deleted)).
		Int("removed", removed).
		Int("folders", len(folders)).
		Dur("elapsed", time.Since(start)).
		Msg("stale overlay cleanup finished")
	return removed, nil
}

// recordFolder returns the folder to scan for rec. The folder encoded in
// the identifier wins over the recorded one.
func recordFolder(rec overlay.Record) (string, bool) {
	if ref, err := model.ParseMessageID(rec.ID); err == nil {
		return ref.Folder, true
	}
	return rec.Folder, rec.Folder != ""
}

// confirmAbsent scans folder to the end and returns the ids among recs that
// were not found. A folder the gateway reports as missing confirms every
// record absent.
func (s *Service) confirmAbsent(ctx context.Context, folder string, recs []overlay.Record) ([]string, error) {
	want := make(map[string]bool, len(recs))
	for _, r := range recs {
		want[r.ID] = true
	}

	for page := 1; ; page++ {
		p, err := s.gw.FetchPage(ctx, folder, s.maxPageSize, page)
		if errors.Is(err, gateway.ErrNotFound) && page == 1 {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, m := range p.Messages {
			delete(want, m.ID)
		}
		if len(want) == 0 || len(p.Messages) == 0 || !p.HasMore() {
			break
		}
	}

	gone := make([]string, 0, len(want))
	for id := range want {
		gone = append(gone, id)
	}
	sort.Strings(gone)
	return gone, nil
}

// purge drops the records and invalidates the folder's pages in one step,
// so a cached page still listing a purged message is never served without
// its deletion mark.
func (s *Service) purge(ctx context.Context, folder string, ids []string) (int, error) {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	s.cache.InvalidateFolder(folder)
	return s.overlay.PurgeDeleted(ctx, ids)
}

// ClearAllCaches empties the fetch cache and the overlay together. If the
// overlay journal cannot be reset neither is cleared and the error is
// returned.
func (s *Service) ClearAllCaches(ctx context.Context) error {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	records := s.overlay.Len()
	pages := s.cache.Len()

	if err := s.overlay.ClearAll(ctx); err != nil {
		s.log.Error().Err(err).Msg("clearing overlay failed, caches left intact")
		return fmt.Errorf("clearing caches: %w", err)
	}
	s.cache.ClearAll()
	s.clears++

	s.log.Info().Int("pages", pages).Int("overlay_records", records).Msg("caches cleared")
	return nil
}

// ListDeleted returns every soft-delete record, oldest first.
func (s *Service) ListDeleted() []overlay.Record {
	return s.overlay.ListDeleted()
}

// SweepCache drops expired cache entries and returns how many pages were
// removed.
func (s *Service) SweepCache() int {
	return s.cache.Sweep()
}
