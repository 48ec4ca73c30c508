package staging

import "io"

// spoolStore creates spool buffers. Implementations: memorySpoolStore,
// fileSpoolStore.
type spoolStore interface {
	create() (spoolBuffer, error)
}

// spoolBuffer is written once, then rewound and read.
type spoolBuffer interface {
	io.Writer
	rewind() (io.ReadSeeker, error)
	discard() error
}
