package sanctions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory versioned store matching the sqlite semantics
type memStore struct {
	mu      sync.Mutex
	recs    map[string]Record
	getErr  error
	putErr  error
	getHits int
	putHits int
}

func newMemStore() *memStore { return &memStore{recs: map[string]Record{}} }

func (m *memStore) Get(_ context.Context, userID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getHits++
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.recs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	res := rec
	res.History = append([]string(nil), rec.History...)
	return &res, nil
}

func (m *memStore) Put(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putHits++
	if m.putErr != nil {
		return m.putErr
	}
	curr, ok := m.recs[rec.UserID]
	if rec.Version == 0 {
		if ok {
			return ErrConflict
		}
		rec.Version = 1
		m.recs[rec.UserID] = *rec
		return nil
	}
	if !ok || curr.Version != rec.Version {
		return ErrConflict
	}
	rec.Version++
	m.recs[rec.UserID] = *rec
	return nil
}

func TestEngine_HandleViolation(t *testing.T) {
	t.Run("warnings accumulate", func(t *testing.T) {
		e := NewEngine(newMemStore(), Config{MaxWarnings: 3})
		for i := 1; i <= 2; i++ {
			allowed, err := e.HandleViolation(context.Background(), "u1", fmt.Sprintf("v%d", i))
			require.NoError(t, err)
			assert.True(t, allowed, "below the threshold the message passes with a warning")
			count, err := e.ViolationCount(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, i, count)
		}
		blocked, err := e.IsBlocked(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, blocked, "below the threshold")
	})

	t.Run("threshold crossing blocks", func(t *testing.T) {
		store := newMemStore()
		e := NewEngine(store, Config{MaxWarnings: 3, BlockDuration: time.Hour})
		for i := 1; i <= 3; i++ {
			_, err := e.HandleViolation(context.Background(), "u1", fmt.Sprintf("v%d", i))
			require.NoError(t, err)
		}
		blocked, err := e.IsBlocked(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, blocked)

		rec := store.recs["u1"]
		assert.Equal(t, 3, rec.WarningCount)
		assert.True(t, rec.Blocked)
		assert.WithinDuration(t, time.Now().Add(time.Hour), rec.BlockExpiry, 5*time.Second)
		assert.Equal(t, []string{"v1", "v2", "v3"}, rec.History)
	})

	t.Run("blocked user suppressed without counting", func(t *testing.T) {
		store := newMemStore()
		e := NewEngine(store, Config{MaxWarnings: 2, BlockDuration: time.Hour})
		for i := 0; i < 2; i++ {
			_, err := e.HandleViolation(context.Background(), "u1", "v")
			require.NoError(t, err)
		}
		allowed, err := e.HandleViolation(context.Background(), "u1", "extra")
		require.NoError(t, err)
		assert.False(t, allowed)

		count, err := e.ViolationCount(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, count, "no increment while blocked")
	})

	t.Run("expired block lapses, count kept, instant re-block", func(t *testing.T) {
		store := newMemStore()
		e := NewEngine(store, Config{MaxWarnings: 2, BlockDuration: time.Hour})
		clock := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
		e.now = func() time.Time { return clock }

		for i := 0; i < 2; i++ {
			_, err := e.HandleViolation(context.Background(), "u1", "v")
			require.NoError(t, err)
		}
		blocked, err := e.IsBlocked(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, blocked)

		clock = clock.Add(2 * time.Hour) // past expiry
		blocked, err = e.IsBlocked(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, blocked, "lapsed block reads as not blocked")

		// counter survived the lapse, the very next violation re-blocks
		allowed, err := e.HandleViolation(context.Background(), "u1", "again")
		require.NoError(t, err)
		assert.False(t, allowed)
		blocked, err = e.IsBlocked(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, blocked)
		assert.Equal(t, 3, store.recs["u1"].WarningCount)
	})

	t.Run("indefinite block with zero expiry", func(t *testing.T) {
		store := newMemStore()
		store.recs["u1"] = Record{UserID: "u1", WarningCount: 5, Blocked: true, Version: 1}
		e := NewEngine(store, Config{})

		blocked, err := e.IsBlocked(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, blocked)
		allowed, err := e.HandleViolation(context.Background(), "u1", "v")
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("rejects empty user id", func(t *testing.T) {
		e := NewEngine(newMemStore(), Config{})
		_, err := e.HandleViolation(context.Background(), "", "v")
		assert.Error(t, err)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		store := newMemStore()
		store.getErr = errors.New("db down")
		e := NewEngine(store, Config{RetryDelay: time.Millisecond})
		_, err := e.HandleViolation(context.Background(), "u1", "v")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load")
	})
}

func TestEngine_HandleViolationConcurrent(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, Config{MaxWarnings: 1000})

	const users, perUser = 8, 25
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(u, i int) {
				defer wg.Done()
				_, err := e.HandleViolation(context.Background(), fmt.Sprintf("user-%d", u), fmt.Sprintf("v%d", i))
				assert.NoError(t, err)
			}(u, i)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		count, err := e.ViolationCount(context.Background(), fmt.Sprintf("user-%d", u))
		require.NoError(t, err)
		assert.Equal(t, perUser, count, "no lost updates for user-%d", u)
	}
}

func TestEngine_ConflictRetry(t *testing.T) {
	// store that rejects the first put with a conflict, forcing a re-read
	store := &conflictOnceStore{memStore: newMemStore()}
	e := NewEngine(store, Config{RetryDelay: time.Millisecond})

	allowed, err := e.HandleViolation(context.Background(), "u1", "v1")
	require.NoError(t, err)
	assert.True(t, allowed)
	count, err := e.ViolationCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.GreaterOrEqual(t, store.putHits, 2, "second put after conflict")
}

type conflictOnceStore struct {
	*memStore
	conflicted bool
}

func (c *conflictOnceStore) Put(ctx context.Context, rec *Record) error {
	if !c.conflicted {
		c.conflicted = true
		c.mu.Lock()
		c.putHits++
		c.mu.Unlock()
		return ErrConflict
	}
	return c.memStore.Put(ctx, rec)
}

func TestEngine_ViolationCountUnknownUser(t *testing.T) {
	e := NewEngine(newMemStore(), Config{})
	count, err := e.ViolationCount(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	blocked, err := e.IsBlocked(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRecord_BlockedAt(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tbl := []struct {
		name string
		rec  Record
		want bool
	}{
		{"not blocked", Record{}, false},
		{"active block", Record{Blocked: true, BlockExpiry: now.Add(time.Hour)}, true},
		{"expired block", Record{Blocked: true, BlockExpiry: now.Add(-time.Hour)}, false},
		{"indefinite block", Record{Blocked: true}, true},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.BlockedAt(now))
		})
	}
}
