package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	mu      gosync.Mutex
	runs    int
	removed int
	err     error
}

func (f *fakeCleaner) CleanupStaleDeleted(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.removed, f.err
}

func (f *fakeCleaner) SweepCache() int { return 1 }

func (f *fakeCleaner) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func waitMsg(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)

	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconciler result")
		return nil
	}
}

func TestReconcilerTrigger(t *testing.T) {
	c := &fakeCleaner{removed: 3}
	r := New(c, time.Hour, zerolog.Nop())

	cmd := r.Start()
	defer r.Stop()
	r.Trigger()

	msg := waitMsg(t, cmd)
	res, ok := msg.(ResultMsg)
	require.True(t, ok)
	assert.Equal(t, 3, res.Removed)
	assert.Equal(t, 1, res.Swept)
	assert.NoError(t, res.Error)

	st := r.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 3, st.Removed)
	assert.False(t, st.LastRun.IsZero())
}

func TestReconcilerTicks(t *testing.T) {
	c := &fakeCleaner{}
	r := New(c, 10*time.Millisecond, zerolog.Nop())
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return c.Runs() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestReconcilerReportsErrors(t *testing.T) {
	c := &fakeCleaner{err: errors.New("journal locked")}
	r := New(c, time.Hour, zerolog.Nop())
	r.Start()
	defer r.Stop()
	r.Trigger()

	msg := waitMsg(t, r.WaitForNextResult())
	res := msg.(ResultMsg)
	assert.EqualError(t, res.Error, "journal locked")
	assert.Equal(t, StateError, r.Status().State)
	assert.Equal(t, "error", r.Status().State.String())
}

func TestReconcilerStartTwiceAndStopIdempotent(t *testing.T) {
	r := New(&fakeCleaner{}, 0, zerolog.Nop())
	assert.Equal(t, DefaultInterval, r.interval)

	require.NotNil(t, r.Start())
	assert.Nil(t, r.Start())

	r.Stop()
	r.Stop()
}

func TestReconcilerRestartsAfterStop(t *testing.T) {
	c := &fakeCleaner{removed: 1}
	r := New(c, time.Hour, zerolog.Nop())

	r.Start()
	r.Stop()

	cmd := r.Start()
	r.Trigger()
	res, ok := waitMsg(t, cmd).(ResultMsg)
	require.True(t, ok)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, c.Runs())

	r.Stop()
	r.Stop()
}
