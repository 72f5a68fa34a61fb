// Package storage persists the single StorageState envelope for a profile
// directory as JSON, with flock-based mutual exclusion and atomic
// temp-file-then-rename writes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/eicompanion/ei/pkg/types"
)

// ErrNotFound is returned by Load when no state file exists yet.
var ErrNotFound = errors.New("storage: not found")

const stateFileName = "state.json"

// Store is the persistence contract the rest of the engine depends on.
type Store interface {
	IsAvailable(ctx context.Context) bool
	Load(ctx context.Context) (*types.StorageState, error)
	Save(ctx context.Context, state *types.StorageState) error
	WithLock(ctx context.Context, fn func() error) error
}

// FileStore is the filesystem-backed Store implementation: one profile
// directory, one state.json envelope, one write lock.
type FileStore struct {
	dir  string
	lock *FileLock

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	dirty   bool // set by the fsnotify goroutine on an external write
}

// NewFileStore creates a FileStore rooted at dir, creating dir if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create profile dir: %w", err)
	}
	fs := &FileStore{
		dir:  dir,
		lock: NewFileLock(filepath.Join(dir, stateFileName+".lock")),
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(dir); err == nil {
			fs.watcher = w
			go fs.watchLoop()
		} else {
			w.Close()
		}
	}
	return fs, nil
}

// watchLoop marks the store dirty when something outside this process
// touches state.json; Dirty reports the flag. StateManager does not consult
// Dirty and does not reload its in-memory state on an external write.
func (fs *FileStore) watchLoop() {
	for {
		select {
		case ev, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != stateFileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				fs.mu.Lock()
				fs.dirty = true
				fs.mu.Unlock()
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("storage: watch error")
		}
	}
}

// Close stops the filesystem watcher goroutine.
func (fs *FileStore) Close() error {
	if fs.watcher != nil {
		return fs.watcher.Close()
	}
	return nil
}

// IsAvailable reports whether the profile directory is writable.
func (fs *FileStore) IsAvailable(ctx context.Context) bool {
	info, err := os.Stat(fs.dir)
	return err == nil && info.IsDir()
}

// Dirty reports and clears whether an external process has written
// state.json since the last Load/Save.
func (fs *FileStore) Dirty() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d := fs.dirty
	fs.dirty = false
	return d
}

func (fs *FileStore) statePath() string {
	return filepath.Join(fs.dir, stateFileName)
}

// Load reads and unmarshals state.json. Returns ErrNotFound if it does not
// exist yet (a fresh profile).
func (fs *FileStore) Load(ctx context.Context) (*types.StorageState, error) {
	data, err := os.ReadFile(fs.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read state: %w", err)
	}

	var state types.StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("storage: unmarshal state: %w", err)
	}
	return &state, nil
}

// Save marshals state and writes it atomically: write to a temp file in the
// same directory, fsync, then rename over state.json.
func (fs *FileStore) Save(ctx context.Context, state *types.StorageState) error {
	if err := fs.lock.Lock(); err != nil {
		return fmt.Errorf("storage: acquire write lock: %w", err)
	}
	defer fs.lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal state: %w", err)
	}

	path := fs.statePath()
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("storage: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename temp file: %w", err)
	}

	fs.mu.Lock()
	fs.dirty = false
	fs.mu.Unlock()
	return nil
}

// WithLock runs fn while holding the write lock, for callers that need a
// raw read-modify-write against the profile directory without an
// intervening external writer (internal/sync's export/import). fn must not
// call Save, which takes the same lock: the FileLock is not reentrant and
// doing so deadlocks. Load does not take the lock.
func (fs *FileStore) WithLock(ctx context.Context, fn func() error) error {
	if err := fs.lock.Lock(); err != nil {
		return fmt.Errorf("storage: acquire lock: %w", err)
	}
	defer fs.lock.Unlock()
	return fn()
}
