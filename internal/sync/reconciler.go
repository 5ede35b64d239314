// Package sync runs overlay reconciliation in the background and reports
// each run to the Bubble Tea runtime or to any other listener.
package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

// State represents the current state of the reconciler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Status is a snapshot of the reconciler.
type Status struct {
	State   State
	LastRun time.Time
	Removed int
	Error   error
}

// ResultMsg is a tea.Msg sent when a reconciliation run completes.
type ResultMsg struct {
	// Removed is the number of stale overlay records purged.
	Removed int

	// Swept is the number of expired cache pages dropped.
	Swept int

	Error error
}

// Cleaner is the part of the engine the reconciler drives.
// mailsync.Service implements it.
type Cleaner interface {
	CleanupStaleDeleted(ctx context.Context) (int, error)
	SweepCache() int
}

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 10 * time.Minute

// runTimeout bounds a single reconciliation run.
const runTimeout = 2 * time.Minute

// Reconciler periodically purges stale overlay records and expired cache
// entries.
type Reconciler struct {
	cleaner  Cleaner
	interval time.Duration
	log      zerolog.Logger

	resultCh  chan ResultMsg
	triggerCh chan struct{}

	mu      gosync.Mutex
	status  Status
	running bool

	// stopCh and done belong to the current loop; Start makes new ones.
	stopCh chan struct{}
	done   chan struct{}
}

// New creates a Reconciler. It does nothing until Start is called.
func New(c Cleaner, interval time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		cleaner:   c,
		interval:  interval,
		log:       logger.With().Str("component", "reconciler").Logger(),
		resultCh:  make(chan ResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the loop and returns a tea.Cmd that waits for the first
// result. Calling Start twice returns nil. A stopped reconciler can be
// started again.
func (r *Reconciler) Start() tea.Cmd {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	r.stopCh, r.done = stop, done
	r.mu.Unlock()

	go r.loop(stop, done)

	return r.waitForResult()
}

// Stop halts the loop and waits for an in-progress run to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.done
	r.mu.Unlock()

	<-done
}

// Trigger requests an immediate run. A request made while one is already
// pending is dropped.
func (r *Reconciler) Trigger() tea.Cmd {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the current status.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Results exposes run results to non-TUI listeners. Results are dropped
// when nobody reads them.
func (r *Reconciler) Results() <-chan ResultMsg {
	return r.resultCh
}

// WaitForNextResult returns a tea.Cmd that waits for the next result.
// Call it after handling a ResultMsg to keep listening.
func (r *Reconciler) WaitForNextResult() tea.Cmd {
	return r.waitForResult()
}

func (r *Reconciler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.run(stop)
		case <-r.triggerCh:
			r.run(stop)
		}
	}
}

// run performs one reconciliation and publishes the result.
func (r *Reconciler) run(stop <-chan struct{}) {
	r.setStatus(StateRunning, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	// Stop cancels an in-progress run.
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	swept := r.cleaner.SweepCache()
	removed, err := r.cleaner.CleanupStaleDeleted(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("reconciliation failed")
		r.setStatus(StateError, removed, err)
		r.sendResult(ResultMsg{Removed: removed, Swept: swept, Error: err})
		return
	}

	r.log.Debug().Int("removed", removed).Int("swept", swept).Msg("reconciliation finished")
	r.setStatus(StateIdle, removed, nil)
	r.sendResult(ResultMsg{Removed: removed, Swept: swept})
}

func (r *Reconciler) setStatus(state State, removed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.State = state
	r.status.Error = err
	if state != StateRunning {
		r.status.Removed = removed
		r.status.LastRun = time.Now()
	}
}

// sendResult sends without blocking; a full channel drops the result.
func (r *Reconciler) sendResult(msg ResultMsg) {
	select {
	case r.resultCh <- msg:
	default:
	}
}

func (r *Reconciler) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-r.resultCh
		if !ok {
			return nil
		}
		return result
	}
}
