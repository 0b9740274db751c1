package nonce

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

const addr = domain.Address("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore(WithClock(clock.Now)), clock
}

func TestNewestChallengeWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()

	require.NoError(t, store.Put(ctx, addr, "first", time.Minute))
	require.NoError(t, store.Put(ctx, addr, "second", time.Minute))

	got, err := store.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	assert.ErrorIs(t, store.Consume(ctx, addr, "first"), sentinel.ErrAlreadyUsed)
	require.NoError(t, store.Consume(ctx, addr, "second"))
	assert.ErrorIs(t, store.Consume(ctx, addr, "second"), sentinel.ErrNotFound, "consumed at most once")
}

func TestChallengeExpires(t *testing.T) {
	ctx := context.Background()
	store, clock := newStore()
	require.NoError(t, store.Put(ctx, addr, "n", 5*time.Minute))

	clock.Advance(4 * time.Minute)
	_, err := store.Get(ctx, addr)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = store.Get(ctx, addr)
	assert.ErrorIs(t, err, sentinel.ErrExpired)
	_, err = store.Get(ctx, addr)
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "expired slot is dropped on read")
}

func TestExpiredChallengeCannotBeConsumed(t *testing.T) {
	ctx := context.Background()
	store, clock := newStore()
	require.NoError(t, store.Put(ctx, addr, "n", time.Minute))
	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, store.Consume(ctx, addr, "n"), sentinel.ErrExpired)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store, clock := newStore()
	require.NoError(t, store.Put(ctx, addr, "old", time.Minute))
	require.NoError(t, store.Put(ctx, "0x00000000000000000000000000000000000000aa", "fresh", time.Hour))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestConcurrentIssuersLeaveOneSlot(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Put(ctx, addr, string(rune('a'+i%26)), time.Minute)
		}()
	}
	wg.Wait()

	last, err := store.Get(ctx, addr)
	require.NoError(t, err)
	require.NoError(t, store.Consume(ctx, addr, last))
	assert.Equal(t, 0, store.Len())
}

func TestStartSweeper(t *testing.T) {
	store, _ := newStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	_, err := store.StartSweeper("not a schedule", logger)
	require.Error(t, err)

	stop, err := store.StartSweeper("@every 1h", logger)
	require.NoError(t, err)
	stop()
}
