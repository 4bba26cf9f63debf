// Package cursorstore persists a single value: the last fully
// processed slot, rewritten after every successful batch so the
// Scheduler can resume forward motion across restarts.
package cursorstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/valwatch/duties-indexer/internal/domain"
)

type fileFormat struct {
	Cursor uint64 `json:"cursor"`
}

// FileStore implements ports.CursorStore by rewriting a single JSON
// file atomically (write to a temp file, then rename) on every Save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore constructs a FileStore rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements ports.CursorStore. A missing file is not an error: it
// means this is the first run, and the caller's configured
// cursor_initial applies instead.
func (f *FileStore) Load(_ context.Context) (domain.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reading cursor file %s", f.path)
	}

	var parsed fileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, errors.Wrapf(err, "parsing cursor file %s", f.path)
	}
	return domain.Slot(parsed.Cursor), nil
}

// Save implements ports.CursorStore, persisting slot before returning.
func (f *FileStore) Save(_ context.Context, slot domain.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(fileFormat{Cursor: uint64(slot)})
	if err != nil {
		return errors.Wrap(err, "marshaling cursor")
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".cursor-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temp cursor file in %s", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing cursor file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing cursor file")
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return errors.Wrapf(err, "renaming cursor file into place at %s", f.path)
	}
	return nil
}

// InMemoryStore implements ports.CursorStore without touching disk,
// used in tests and selected in place of FileStore when test_mode is
// set.
type InMemoryStore struct {
	mu     sync.Mutex
	cursor domain.Slot
}

// NewInMemoryStore constructs an InMemoryStore starting at initial.
func NewInMemoryStore(initial domain.Slot) *InMemoryStore {
	return &InMemoryStore{cursor: initial}
}

// Load implements ports.CursorStore.
func (m *InMemoryStore) Load(context.Context) (domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

// Save implements ports.CursorStore.
func (m *InMemoryStore) Save(_ context.Context, slot domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = slot
	return nil
}
