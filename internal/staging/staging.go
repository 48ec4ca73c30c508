// Package staging spools forward-only upload streams so the file pool can
// hash them and then rewind for the upload.
package staging

import (
	"fmt"
	"io"
	"sync"

	"cms-go/internal/cms"
)

// Area implements cms.Stager using a pluggable spoolStore for the
// storage mechanics. The size limit and accounting live here.
type Area struct {
	store   spoolStore
	maxSize int64

	mu     sync.Mutex
	active int64 // bytes held by open spools
}

var _ cms.Stager = (*Area)(nil)

// Stage copies r into a new spool. If r yields more than maxSize bytes the
// partial spool is discarded and cms.ErrTooLarge is returned.
func (s *Area) Stage(r io.Reader) (cms.Spool, error) {
	buf, err := s.store.create()
	if err != nil {
		return nil, fmt.Errorf("creating spool: %w", err)
	}

	n, err := io.Copy(buf, io.LimitReader(r, s.maxSize+1))
	if err != nil {
		buf.discard()
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	if n > s.maxSize {
		buf.discard()
		return nil, fmt.Errorf("%w: more than %d bytes", cms.ErrTooLarge, s.maxSize)
	}

	rs, err := buf.rewind()
	if err != nil {
		buf.discard()
		return nil, fmt.Errorf("rewinding spool: %w", err)
	}

	s.mu.Lock()
	s.active += n
	s.mu.Unlock()

	return &spool{ReadSeeker: rs, buf: buf, size: n, area: s}, nil
}

// Size returns the number of bytes held by spools that are not yet closed.
func (s *Area) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type spool struct {
	io.ReadSeeker
	buf    spoolBuffer
	size   int64
	area   *Area
	once   sync.Once
	closed error
}

func (sp *spool) Size() int64 { return sp.size }

func (sp *spool) Close() error {
	sp.once.Do(func() {
		sp.closed = sp.buf.discard()
		sp.area.mu.Lock()
		sp.area.active -= sp.size
		sp.area.mu.Unlock()
	})
	return sp.closed
}
