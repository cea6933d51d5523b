// Package filestore implements the key-value persistence transport as one
// JSON file per key, with fsnotify delivering changes made by other processes.
package filestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const ext = ".json"

// Store is a directory-backed domain.KVStore and domain.ChangeFeed.
type Store struct {
	dir string

	mu      sync.Mutex
	written map[string][]byte // last bytes this instance wrote per key
}

// Open creates the directory if needed and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &Store{dir: dir, written: make(map[string][]byte)}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Close is a no-op; files are closed after every operation.
func (s *Store) Close() error { return nil }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+ext)
}

// Get reads the file for key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

// Put writes value atomically: temp file in the same directory, then rename.
func (s *Store) Put(key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}

	s.mu.Lock()
	s.written[key] = bytes.Clone(value)
	s.mu.Unlock()

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Changes watches the directory and emits keys whose file content differs
// from what this instance last wrote. The channel closes when ctx is done.
func (s *Store) Changes(ctx context.Context) (<-chan string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				key, relevant := s.keyFor(event)
				if !relevant || s.isOwnWrite(key) {
					continue
				}
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) keyFor(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return "", false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ext) {
		return "", false
	}
	return strings.TrimSuffix(base, ext), true
}

// isOwnWrite reports whether the file for key still holds our last write.
func (s *Store) isOwnWrite(key string) bool {
	current, ok, err := s.Get(key)
	if err != nil || !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mine, wrote := s.written[key]
	return wrote && bytes.Equal(mine, current)
}
