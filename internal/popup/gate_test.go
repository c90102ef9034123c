package popup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noto/internal/sessionstore"
)

// countingStore records writes on top of an in-memory store.
type countingStore struct {
	*sessionstore.Memory
	mu     sync.Mutex
	writes int
}

func (c *countingStore) Set(key, value string) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Memory.Set(key, value)
}

func (c *countingStore) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: sessionstore.NewMemory()}
}

func mount(t *testing.T, store sessionstore.Store, fc clockwork.Clock, opts ...Option) *Gate {
	t.Helper()
	gate := NewGate(store, append([]Option{WithClock(fc)}, opts...)...)
	gate.Activate()
	t.Cleanup(gate.Deactivate)
	return gate
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func flagSet(t *testing.T, store sessionstore.Store) bool {
	t.Helper()
	_, ok, err := store.Get(DefaultKey)
	require.NoError(t, err)
	return ok
}

func TestShowsAfterDelayAndWritesFlag(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := newCountingStore()
	gate := mount(t, store, fc)

	assert.True(t, gate.Pending())
	assert.False(t, gate.Visible())
	assert.False(t, flagSet(t, store), "flag must not be written at schedule time")

	fc.Advance(DefaultDelay - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, gate.Visible())

	fc.Advance(time.Millisecond)
	waitFor(t, gate.Visible)
	assert.True(t, flagSet(t, store))
	assert.False(t, gate.Pending())
	assert.Equal(t, 1, store.writeCount())
}

func TestShownAtMostOncePerSession(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := newCountingStore()

	first := mount(t, store, fc)
	fc.Advance(DefaultDelay)
	waitFor(t, first.Visible)
	first.Deactivate()

	second := mount(t, store, fc)
	assert.False(t, second.Pending())
	fc.Advance(10 * DefaultDelay)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, second.Visible())
	assert.Equal(t, 1, store.writeCount())
}

func TestDeactivateBeforeDelayLeavesFlagUnset(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := newCountingStore()

	first := mount(t, store, fc)
	fc.Advance(DefaultDelay / 2)
	first.Deactivate()
	fc.Advance(DefaultDelay)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, first.Visible())
	assert.False(t, flagSet(t, store))
	assert.Zero(t, store.writeCount())

	second := mount(t, store, fc)
	require.True(t, second.Pending(), "an unseen popup is offered again")
	fc.Advance(DefaultDelay)
	waitFor(t, second.Visible)
}

func TestDismissKeepsFlag(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := newCountingStore()

	gate := mount(t, store, fc)
	fc.Advance(DefaultDelay)
	waitFor(t, gate.Visible)
	gate.Dismiss()
	assert.False(t, gate.Visible())
	assert.True(t, flagSet(t, store))
	gate.Deactivate()

	again := mount(t, store, fc)
	fc.Advance(DefaultDelay)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, again.Visible())
}

func TestUnavailableStorageShowsEveryMount(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := sessionstore.Unavailable{Err: errors.New("disabled")}

	for i := 0; i < 2; i++ {
		gate := mount(t, store, fc)
		fc.Advance(DefaultDelay)
		waitFor(t, gate.Visible)
		gate.Deactivate()
	}
}

func TestOnShowAndCustomKey(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := sessionstore.NewMemory()
	var shown atomic.Int32

	gate := mount(t, store, fc, WithKey("Other_Shown"), WithDelay(time.Second), WithOnShow(func() { shown.Add(1) }))
	fc.Advance(time.Second)
	waitFor(t, func() bool { return shown.Load() == 1 })
	assert.True(t, gate.Visible())

	_, ok, _ := store.Get("Other_Shown")
	assert.True(t, ok)
	_, ok, _ = store.Get(DefaultKey)
	assert.False(t, ok)
}

func TestActivateAfterDeactivateIsNoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := sessionstore.NewMemory()
	gate := NewGate(store, WithClock(fc))
	gate.Deactivate()
	gate.Activate()
	assert.False(t, gate.Pending())

	fc.Advance(DefaultDelay)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, gate.Visible())
}
