package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"cms-go/internal/cms"
)

// MemoryStore is an in-memory blob store, useful for tests and the
// throwaway "memory" database type. Safe for concurrent use.
type MemoryStore struct {
	content map[string][]byte
	puts    int
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{content: make(map[string][]byte)}
}

func (m *MemoryStore) PutContent(_ context.Context, checksum string, r io.Reader) error {
	if _, err := ShardPath(checksum); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if _, ok := m.content[checksum]; !ok {
		m.content[checksum] = data
	}
	return nil
}

func (m *MemoryStore) ReplaceContent(_ context.Context, checksum string, r io.Reader) error {
	if _, err := ShardPath(checksum); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.content[checksum] = data
	return nil
}

func (m *MemoryStore) OpenContent(_ context.Context, checksum string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", cms.ErrBlobNotFound, checksum)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) HasContent(_ context.Context, checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok, nil
}

func (m *MemoryStore) ValidateSetup(context.Context) error { return nil }

// Len returns the number of distinct blobs stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// Puts returns how many times PutContent was called.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Raw returns the stored bytes for checksum, as written.
func (m *MemoryStore) Raw(checksum string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.content[checksum]
	return data, ok
}

var _ cms.BlobStore = (*MemoryStore)(nil)
