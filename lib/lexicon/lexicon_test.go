package lexicon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoro/chat-guard/lib/modcheck"
)

// fakeStore is an in-memory lexicon store with manual change feed control
type fakeStore struct {
	mu     sync.Mutex
	data   map[modcheck.Category][]string
	getErr map[modcheck.Category]error
	putErr error
	subs   map[modcheck.Category]chan []string
	subErr map[modcheck.Category]error
	subCtx map[modcheck.Category]context.Context
	puts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:   map[modcheck.Category][]string{},
		getErr: map[modcheck.Category]error{},
		subs:   map[modcheck.Category]chan []string{},
		subErr: map[modcheck.Category]error{},
		subCtx: map[modcheck.Category]context.Context{},
	}
}

func (f *fakeStore) Get(_ context.Context, category modcheck.Category) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[category]; err != nil {
		return nil, err
	}
	return f.data[category], nil
}

func (f *fakeStore) Put(_ context.Context, category modcheck.Category, words []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.data[category] = words
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, category modcheck.Category) (<-chan []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subErr[category]; err != nil {
		return nil, err
	}
	f.subCtx[category] = ctx
	ch := make(chan []string, 1)
	f.subs[category] = ch
	return ch, nil
}

func TestService_Load(t *testing.T) {
	t.Run("loads stored words", func(t *testing.T) {
		store := newFakeStore()
		store.data[modcheck.CategoryBully] = []string{"troll", "jerk"}
		store.data[modcheck.CategoryHarassment] = []string{"creep"}
		store.data[modcheck.CategoryProfanity] = []string{"damn"}

		svc := New(store)
		require.NoError(t, svc.Load(context.Background()))

		assert.Equal(t, map[string]struct{}{"troll": {}, "jerk": {}}, svc.Words(modcheck.CategoryBully))
		assert.Equal(t, map[string]struct{}{"creep": {}}, svc.Words(modcheck.CategoryHarassment))
	})

	t.Run("seeds defaults for empty categories", func(t *testing.T) {
		store := newFakeStore()
		svc := New(store)
		require.NoError(t, svc.Load(context.Background()))

		bully := svc.Words(modcheck.CategoryBully)
		assert.Len(t, bully, len(defaultWords[modcheck.CategoryBully]))
		assert.Contains(t, bully, "loser")
		assert.Contains(t, bully, "stupid")
		assert.Contains(t, svc.Words(modcheck.CategoryProfanity), "inappropriate")

		// defaults written back to the store
		stored, err := store.Get(context.Background(), modcheck.CategoryBully)
		require.NoError(t, err)
		assert.Len(t, stored, len(defaultWords[modcheck.CategoryBully]))
	})

	t.Run("degrades to defaults on store failure", func(t *testing.T) {
		store := newFakeStore()
		store.getErr[modcheck.CategoryBully] = errors.New("db down")
		svc := New(store)

		err := svc.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load bully_words")
		assert.Contains(t, svc.Words(modcheck.CategoryBully), "loser", "defaults still usable in memory")
		assert.Contains(t, svc.Words(modcheck.CategoryProfanity), "inappropriate", "healthy categories unaffected")
	})
}

func TestService_SetWords(t *testing.T) {
	t.Run("replaces and persists", func(t *testing.T) {
		store := newFakeStore()
		svc := New(store)
		require.NoError(t, svc.Load(context.Background()))

		err := svc.SetWords(context.Background(), modcheck.CategoryBully, []string{" Troll ", "JERK", "", "jerk"})
		require.NoError(t, err)
		assert.Equal(t, map[string]struct{}{"troll": {}, "jerk": {}}, svc.Words(modcheck.CategoryBully))

		stored, err := store.Get(context.Background(), modcheck.CategoryBully)
		require.NoError(t, err)
		assert.Equal(t, []string{"jerk", "troll"}, stored, "sorted and sanitized")
	})

	t.Run("rejects unknown category", func(t *testing.T) {
		svc := New(newFakeStore())
		err := svc.SetWords(context.Background(), modcheck.Category("nope"), []string{"x"})
		assert.Error(t, err)
	})

	t.Run("store failure keeps old snapshot", func(t *testing.T) {
		store := newFakeStore()
		svc := New(store)
		require.NoError(t, svc.Load(context.Background()))
		before := svc.Words(modcheck.CategoryBully)

		store.putErr = errors.New("disk full")
		err := svc.SetWords(context.Background(), modcheck.CategoryBully, []string{"troll"})
		require.Error(t, err)
		assert.Equal(t, before, svc.Words(modcheck.CategoryBully))
	})
}

func TestService_Watch(t *testing.T) {
	store := newFakeStore()
	svc := New(store)
	require.NoError(t, svc.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, svc.Watch(ctx))
		close(done)
	}()

	// wait for all subscriptions to register
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.subs) == len(modcheck.Categories())
	}, time.Second, 10*time.Millisecond)

	store.mu.Lock()
	store.subs[modcheck.CategoryBully] <- []string{"newword"}
	store.mu.Unlock()

	assert.Eventually(t, func() bool {
		words := svc.Words(modcheck.CategoryBully)
		_, ok := words["newword"]
		return ok && len(words) == 1
	}, time.Second, 10*time.Millisecond, "update applied to snapshot")

	assert.Contains(t, svc.Words(modcheck.CategoryProfanity), "inappropriate", "other categories untouched")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestService_WatchSubscribeFailure(t *testing.T) {
	store := newFakeStore()
	store.subErr[modcheck.CategoryProfanity] = errors.New("no feed")
	svc := New(store)

	err := svc.Watch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe to bad_words")

	// subscriptions made before the failure are released right away
	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.subCtx)
	for cat, subCtx := range store.subCtx {
		select {
		case <-subCtx.Done():
		default:
			t.Errorf("subscription for %s not released", cat)
		}
	}
}

func TestMakeSet(t *testing.T) {
	assert.Equal(t, map[string]struct{}{}, makeSet(nil))
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, makeSet([]string{"A", " b ", "", "a"}))
}
