package storage

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/avoro/chat-guard/lib/modcheck"
)

// FileLexicon is a file-backed lexicon store, one text file per category in a
// directory, one word per line. An alternative to the sqlite store for
// deployments where word lists are managed as plain files; the change feed is
// driven by filesystem notifications so edits apply without a restart.
type FileLexicon struct {
	dir string
}

// NewFileLexicon creates a file-backed lexicon store in the given directory
func NewFileLexicon(dir string) (*FileLexicon, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to make lexicon dir %s: %w", dir, err)
	}
	return &FileLexicon{dir: dir}, nil
}

// Get reads all words for the category, empty result if the file is missing
func (f *FileLexicon) Get(_ context.Context, category modcheck.Category) ([]string, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}

	fh, err := os.Open(f.path(category))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.path(category), err)
	}
	defer fh.Close()

	var words []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		words = append(words, word)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path(category), err)
	}
	return words, nil
}

// Put replaces the category's file atomically, write to temp then rename
func (f *FileLexicon) Put(_ context.Context, category modcheck.Category, words []string) error {
	if err := category.Validate(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, string(category)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after successful rename

	for _, word := range words {
		if word == "" {
			continue
		}
		if _, err := tmp.WriteString(word + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(category)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path(category), err)
	}
	return nil
}

// Subscribe watches the category's file and delivers the full word list on
// every change. The watcher is released when ctx is canceled.
func (f *FileLexicon) Subscribe(ctx context.Context, category modcheck.Category) (<-chan []string, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// watch the directory, not the file - editors and atomic renames replace
	// the inode and a file watch would silently die
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	ch := make(chan []string, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] stopping lexicon file watcher for %s, %v", category, ctx.Err())
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(f.path(category)) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				words, e := f.Get(ctx, category)
				if e != nil {
					log.Printf("[WARN] failed to read updated %s: %v", event.Name, e)
					continue
				}
				select {
				case ch <- words:
				case <-ctx.Done():
					return
				}
			case e, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] lexicon watcher error: %v", e)
			}
		}
	}()

	return ch, nil
}

func (f *FileLexicon) path(category modcheck.Category) string {
	return filepath.Join(f.dir, string(category)+".txt")
}
