// Package mailsync is the mail synchronization engine: it fronts a
// gateway.Gateway with the paginated fetch cache and the action overlay,
// and dispatches user mutations to whichever of them they concern.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/mailsync/internal/cache"
	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/overlay"
)

// DeliveryLog records send attempts. store.SQLiteStore implements it.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d model.DeliveryRecord) error
	GetDeliveries(ctx context.Context, limit int) ([]model.DeliveryRecord, error)
}

// Options configures a Service. Gateway is required; zero values elsewhere
// get defaults.
type Options struct {
	Gateway gateway.Gateway
	Cache   *cache.Cache
	Overlay *overlay.Store

	// Deliveries, when set, receives one record per Send attempt.
	Deliveries DeliveryLog

	Logger zerolog.Logger

	// MaxPageSize caps the limit accepted by FetchEmails.
	MaxPageSize int

	// Propagate pushes star and favorite changes to the gateway.
	Propagate bool

	// ReconcileBatch bounds how many deleted records one cleanup run
	// checks.
	ReconcileBatch int

	// ReconcileParallelism bounds how many folders are scanned at once.
	ReconcileParallelism int
}

// Service is the engine. Create one per mailbox account with New.
type Service struct {
	gw         gateway.Gateway
	cache      *cache.Cache
	overlay    *overlay.Store
	deliveries DeliveryLog
	log        zerolog.Logger

	maxPageSize int
	propagate   bool
	batch       int
	parallelism int

	flight singleflight.Group
	locks  lockset

	// clearMu makes ClearAllCaches and reconciliation purges atomic with
	// respect to cache reads and overlay filtering. Everything else holds
	// it shared.
	clearMu sync.RWMutex

	// clears counts successful ClearAllCaches calls. Guarded by clearMu.
	clears uint64
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Gateway == nil {
		return nil, errors.New("mailsync: gateway is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(5 * time.Minute)
	}
	if opts.Overlay == nil {
		opts.Overlay = overlay.New()
	}
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = gateway.MaxPageSize
	}
	if opts.ReconcileBatch < 1 {
		opts.ReconcileBatch = 200
	}
	if opts.ReconcileParallelism < 1 {
		opts.ReconcileParallelism = 2
	}

	return &Service{
		gw:          opts.Gateway,
		cache:       opts.Cache,
		overlay:     opts.Overlay,
		deliveries:  opts.Deliveries,
		log:         opts.Logger.With().Str("component", "mailsync").Logger(),
		maxPageSize: opts.MaxPageSize,
		propagate:   opts.Propagate,
		batch:       opts.ReconcileBatch,
		parallelism: opts.ReconcileParallelism,
	}, nil
}

// Reset returns the service to its just-constructed state: cache and
// overlay are emptied and the gateway session is closed, to be re-dialled
// on the next call.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.ClearAllCaches(ctx); err != nil {
		return err
	}
	if err := s.gw.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing gateway during reset")
	}
	return nil
}

// ListAvailableFolders returns every folder as reported by the gateway.
func (s *Service) ListAvailableFolders(ctx context.Context) ([]model.Folder, error) {
	start := time.Now()
	folders, err := s.gw.ListFolders(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("listing folders failed")
		return nil, &ReadError{Err: err}
	}
	s.log.Debug().Int("folders", len(folders)).Dur("elapsed", time.Since(start)).Msg("listed folders")
	return folders, nil
}

// FetchEmails returns one newest-first page of folder with the overlay
// applied: soft-deleted messages are absent and star and favorite state
// comes from the overlay. A non-expired cache entry is served without
// contacting the gateway; concurrent misses for the same page share one
// gateway call.
func (s *Service) FetchEmails(ctx context.Context, folder string, limit, page int) (model.Page, error) {
	if strings.TrimSpace(folder) == "" {
		return model.Page{}, &ReadError{Folder: folder, Page: page, Err: fmt.Errorf("%w: folder is required", ErrInvalidInput)}
	}
	limit = gateway.ClampPageSize(limit, s.maxPageSize)
	if page < 1 {
		page = 1
	}
	key := cache.Key{Folder: folder, PageSize: limit, Page: page}

	if p, ok := s.cachedPage(key); ok {
		return p, nil
	}

	gen := s.cache.Generation(folder)
	flightKey := fmt.Sprintf("page\x00%s\x00%d\x00%d\x00%v", folder, limit, page, gen)

	start := time.Now()
	v, err, shared := s.flight.Do(flightKey, func() (any, error) {
		p, err := s.gw.FetchPage(ctx, folder, limit, page)
		if err != nil {
			return model.Page{}, err
		}
		s.cache.PutIfCurrent(gen, key, p.Messages, p.Total)
		return p, nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("folder", folder).Int("page", page).Msg("fetch failed")
		return model.Page{}, &ReadError{Folder: folder, Page: page, Err: err}
	}

	p := v.(model.Page)
	s.clearMu.RLock()
	p.Messages = s.overlay.Apply(p.Messages, s.propagate)
	s.clearMu.RUnlock()

	s.log.Debug().
		Str("folder", folder).
		Int("page", page).
		Int("total", p.Total).
		Bool("shared", shared).
		Dur("elapsed", time.Since(start)).
		Msg("fetched page from gateway")
	return p, nil
}

// cachedPage serves key from the cache, filtered through the overlay.
func (s *Service) cachedPage(key cache.Key) (model.Page, bool) {
	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return model.Page{}, false
	}
	return model.Page{
		Folder:   key.Folder,
		Page:     key.Page,
		PageSize: key.PageSize,
		Total:    entry.Total,
		Messages: s.overlay.Apply(entry.Messages, s.propagate),
		Cached:   true,
	}, true
}

// GetFolderEmailCount returns the number of messages in folder, from the
// count cache when fresh.
func (s *Service) GetFolderEmailCount(ctx context.Context, folder string) (int, error) {
	if strings.TrimSpace(folder) == "" {
		return 0, &ReadError{Folder: folder, Err: fmt.Errorf("%w: folder is required", ErrInvalidInput)}
	}
	if n, ok := s.cache.Count(folder); ok {
		return n, nil
	}

	gen := s.cache.Generation(folder)
	flightKey := fmt.Sprintf("count\x00%s\x00%v", folder, gen)
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		n, err := s.gw.FolderMessageCount(ctx, folder)
		if err != nil {
			return 0, err
		}
		s.cache.PutCountIfCurrent(gen, folder, n)
		return n, nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("folder", folder).Msg("count failed")
		return 0, &ReadError{Folder: folder, Err: err}
	}
	return v.(int), nil
}

// ConnectionStatus is the result of TestConnection.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestConnection verifies that a gateway session can be established.
func (s *Service) TestConnection(ctx context.Context) ConnectionStatus {
	start := time.Now()
	if err := s.gw.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("connection test failed")
		return ConnectionStatus{Success: false, Message: err.Error()}
	}
	return ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("connected in %s", time.Since(start).Round(time.Millisecond)),
	}
}

// Send transmits a message and records the attempt in the delivery log.
func (s *Service) Send(ctx context.Context, to []string, subject, body string) (gateway.Delivery, error) {
	var recipients []string
	for _, r := range to {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return gateway.Delivery{}, fmt.Errorf("%w: at least one recipient is required", ErrInvalidInput)
	}

	d, err := s.gw.Send(ctx, model.Outgoing{To: recipients, Subject: subject, Body: body})

	rec := model.DeliveryRecord{
		ID:         d.ID,
		Recipients: recipients,
		Subject:    subject,
		Status:     model.DeliveryStatusSent,
		CreatedAt:  time.Now(),
	}
	if err != nil {
		rec.Status = model.DeliveryStatusFailed
		rec.Error = err.Error()
	}
	if s.deliveries != nil {
		if logErr := s.deliveries.RecordDelivery(ctx, rec); logErr != nil {
			s.log.Warn().Err(logErr).Msg("recording delivery")
		}
	}

	if err != nil {
		s.log.Warn().Err(err).Int("recipients", len(recipients)).Msg("send failed")
		return gateway.Delivery{}, fmt.Errorf("sending message: %w", err)
	}
	return d, nil
}

// RecentDeliveries returns the newest delivery log entries.
func (s *Service) RecentDeliveries(ctx context.Context, limit int) ([]model.DeliveryRecord, error) {
	if s.deliveries == nil {
		return nil, nil
	}
	return s.deliveries.GetDeliveries(ctx, limit)
}
