package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoro/chat-guard/lib/modcheck"
)

func TestFileLexicon_PutGet(t *testing.T) {
	fl, err := NewFileLexicon(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("missing file is empty", func(t *testing.T) {
		words, err := fl.Get(ctx, modcheck.CategoryBully)
		require.NoError(t, err)
		assert.Empty(t, words)
	})

	t.Run("roundtrip", func(t *testing.T) {
		require.NoError(t, fl.Put(ctx, modcheck.CategoryBully, []string{"troll", "jerk", ""}))
		words, err := fl.Get(ctx, modcheck.CategoryBully)
		require.NoError(t, err)
		assert.Equal(t, []string{"troll", "jerk"}, words)
	})

	t.Run("comments and blank lines skipped", func(t *testing.T) {
		file := filepath.Join(fl.dir, "bad_words.txt")
		require.NoError(t, os.WriteFile(file, []byte("# profanity list\n\ndamn\n  hell  \n"), 0o600))
		words, err := fl.Get(ctx, modcheck.CategoryProfanity)
		require.NoError(t, err)
		assert.Equal(t, []string{"damn", "hell"}, words)
	})

	t.Run("invalid category", func(t *testing.T) {
		_, err := fl.Get(ctx, modcheck.Category("nope"))
		assert.Error(t, err)
		assert.Error(t, fl.Put(ctx, modcheck.Category("nope"), []string{"x"}))
	})
}

func TestFileLexicon_Subscribe(t *testing.T) {
	fl, err := NewFileLexicon(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := fl.Subscribe(ctx, modcheck.CategoryBully)
	require.NoError(t, err)

	// one filesystem change may surface as several events, pull the channel
	// until it goes quiet
	drain := func() {
		for {
			select {
			case <-ch:
			case <-time.After(200 * time.Millisecond):
				return
			}
		}
	}

	t.Run("put delivers update", func(t *testing.T) {
		require.NoError(t, fl.Put(ctx, modcheck.CategoryBully, []string{"troll"}))
		select {
		case words := <-ch:
			assert.Equal(t, []string{"troll"}, words)
		case <-time.After(2 * time.Second):
			t.Fatal("no notification received")
		}
		drain()
	})

	t.Run("external edit delivers update", func(t *testing.T) {
		file := filepath.Join(fl.dir, "bully_words.txt")
		require.NoError(t, os.WriteFile(file, []byte("troll\ncreep\n"), 0o600))
		// a non-atomic write can surface mid-content, wait for the final state
		deadline := time.After(2 * time.Second)
		for {
			select {
			case words := <-ch:
				if len(words) == 2 {
					assert.Equal(t, []string{"troll", "creep"}, words)
					drain()
					return
				}
			case <-deadline:
				t.Fatal("no complete notification received")
			}
		}
	})

	t.Run("other category file ignored", func(t *testing.T) {
		require.NoError(t, fl.Put(ctx, modcheck.CategoryProfanity, []string{"damn"}))
		select {
		case words := <-ch:
			t.Fatalf("unexpected notification %v", words)
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("cancel closes channel", func(t *testing.T) {
		cancel()
		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})
}
