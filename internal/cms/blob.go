package cms

import (
	"context"
	"io"
)

// BlobStore holds the bytes behind the file pool, keyed by the SHA-256
// hex digest of the plaintext. Sealed blobs carry a ".age" suffix on the
// key so they never share a key with plaintext bytes. Everything streams
// through io.Reader so large uploads are never loaded into memory.
type BlobStore interface {
	// PutContent stores content identified by its checksum. If content is
	// already stored under checksum it is kept and r is drained.
	PutContent(ctx context.Context, checksum string, r io.Reader) error

	// ReplaceContent stores content under checksum, atomically replacing
	// whatever was there.
	ReplaceContent(ctx context.Context, checksum string, r io.Reader) error

	// OpenContent opens the content for a checksum. The caller closes it.
	// Returns ErrBlobNotFound if nothing is stored under checksum.
	OpenContent(ctx context.Context, checksum string) (io.ReadCloser, error)

	// HasContent reports whether content exists for checksum.
	HasContent(ctx context.Context, checksum string) (bool, error)

	// ValidateSetup verifies that the store is accessible.
	ValidateSetup(ctx context.Context) error
}

// Spool is a rewindable copy of an upload stream.
type Spool interface {
	io.ReadSeeker
	// Size is the number of bytes spooled.
	Size() int64
	// Close discards the spooled bytes.
	Close() error
}

// Stager turns a forward-only stream into a Spool so the file pool can hash
// it and then rewind for the upload. Implementations enforce a size cap and
// return ErrTooLarge when the stream exceeds it.
type Stager interface {
	Stage(r io.Reader) (Spool, error)
}
