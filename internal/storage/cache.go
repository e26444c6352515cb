package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Cache is the content-addressed store for uploaded MIDI payloads, keyed by
// SHA-1 of the raw file bytes (spec.md §7 "payloads live in a
// content-addressed cache keyed by SHA-1").
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Put stores data under its SHA-1 hex digest and returns that digest. A
// second Put of identical bytes finds the file already present and returns
// without writing anything.
func (c *Cache) Put(data []byte) (string, error) {
	sum := sha1.Sum(data)
	digest := hex.EncodeToString(sum[:])
	path := filepath.Join(c.dir, digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil // already cached, content-addressed so it's identical
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: cache put: %w", err)
	}
	return digest, nil
}

func (c *Cache) Get(digest string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, digest))
	if err != nil {
		return nil, fmt.Errorf("storage: cache get %s: %w", digest, err)
	}
	return data, nil
}

func (c *Cache) Has(digest string) bool {
	_, err := os.Stat(filepath.Join(c.dir, digest))
	return err == nil
}

// Watch notifies onChange(digest, false) whenever a file is created or
// written, and onChange(digest, true) whenever one is removed or renamed
// away, directly in the cache directory — e.g. an operator dropping a MIDI file
// into it by hand outside the HTTP upload path. Grounded on the teacher's
// Lua script-directory watcher (internal/lua/engine.go watchLoop): one
// fsnotify.Watcher, one goroutine selecting on Events/Errors until ctx is
// cancelled.
func (c *Cache) Watch(ctx context.Context, onChange func(digest string, removed bool)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("storage: create cache watcher: %w", err)
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return fmt.Errorf("storage: watch cache dir: %w", err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				digest := filepath.Base(ev.Name)
				switch {
				case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
					onChange(digest, false)
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					onChange(digest, true)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("storage: cache watcher error: %v", err)
			}
		}
	}()
	return nil
}
