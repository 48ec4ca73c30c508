package staging

import (
	"bytes"
	"io"
)

// NewMemoryStagingArea creates a staging area that spools into memory.
// maxSize is the largest accepted upload in bytes; must be positive.
func NewMemoryStagingArea(maxSize int64) *Area {
	return &Area{store: memorySpoolStore{}, maxSize: maxSize}
}

type memorySpoolStore struct{}

func (memorySpoolStore) create() (spoolBuffer, error) {
	return &memorySpool{}, nil
}

type memorySpool struct {
	bytes.Buffer
}

func (m *memorySpool) rewind() (io.ReadSeeker, error) {
	return bytes.NewReader(m.Bytes()), nil
}

func (m *memorySpool) discard() error {
	m.Reset()
	return nil
}
