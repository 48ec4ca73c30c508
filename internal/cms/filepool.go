package cms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"cms-go/internal/model"
)

// ErrEncrypted is returned by GetFile for a sealed file when the pool has
// not been unlocked.
var ErrEncrypted = errors.New("file is encrypted and no passphrase was provided")

const hashChunkSize = 16 << 10

// sealedSuffix marks the blob key of an encrypted file.
const sealedSuffix = ".age"

func blobKey(digest string, sealed bool) string {
	if sealed {
		return digest + sealedSuffix
	}
	return digest
}

// FilePool is the content-addressed file half of the resource pool.
// Rows live in a FileIndex; bytes live in a BlobStore under the SHA-256 of
// the plaintext. With an Encryptor configured new blobs are sealed.
type FilePool struct {
	index   FileIndex
	blobs   BlobStore
	stager  Stager
	enc     Encryptor
	metrics Metrics
	logger  Logger
	clock   Clock

	mu  sync.RWMutex
	dec DecryptionContext
}

// NewFilePool creates a file pool. enc may be nil for plaintext blobs; a
// nil metrics sink, logger or clock falls back to the defaults.
func NewFilePool(index FileIndex, blobs BlobStore, stager Stager, enc Encryptor, metrics Metrics, logger Logger, clock Clock) *FilePool {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &FilePool{
		index:   index,
		blobs:   blobs,
		stager:  stager,
		enc:     enc,
		metrics: metrics,
		logger:  logger,
		clock:   clock,
	}
}

// Unlock prepares the pool to read sealed files.
func (p *FilePool) Unlock(passphrase string) error {
	if p.enc == nil {
		return nil
	}
	dec, err := p.enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking file pool: %w", err)
	}
	p.mu.Lock()
	p.dec = dec
	p.mu.Unlock()
	return nil
}

// SetFile returns the id of the file holding the bytes of r. Identical
// content is stored once. When no entry exists and create is false, ok is
// false and nothing is written. Non-seekable readers are spooled first.
func (p *FilePool) SetFile(ctx context.Context, r io.Reader, create bool) (int64, bool, error) {
	rs, release, err := p.rewindable(r)
	if err != nil {
		return 0, false, err
	}
	defer release()

	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false, fmt.Errorf("locating upload start: %w", err)
	}
	digest, size, err := hashStream(rs)
	if err != nil {
		return 0, false, fmt.Errorf("hashing upload: %w", err)
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return 0, false, fmt.Errorf("rewinding upload: %w", err)
	}

	existing, err := p.index.FindFileByDigest(ctx, digest)
	if err != nil {
		return 0, false, fmt.Errorf("checking for existing file: %w", err)
	}
	if existing != nil {
		p.metrics.PoolWrite("file", true)
		p.logger.Debug("file deduplicated", "digest", digest, "id", existing.ID)
		return existing.ID, true, nil
	}
	if !create {
		return 0, false, nil
	}

	// Blob first, so a failed insert below leaves at worst an unreferenced
	// blob that the next upload of the same content reuses or replaces.
	if err := p.put(ctx, digest, rs); err != nil {
		return 0, false, fmt.Errorf("storing file blob: %w", err)
	}

	f, err := p.index.InsertFile(ctx, &model.File{
		Digest:    digest,
		Size:      size,
		Encrypted: p.enc != nil,
		CreatedAt: p.clock.Now(),
	})
	if err != nil {
		return 0, false, fmt.Errorf("recording file: %w", err)
	}
	p.metrics.PoolWrite("file", false)
	p.logger.Debug("file stored", "digest", digest, "id", f.ID, "size", size)
	return f.ID, true, nil
}

func (p *FilePool) rewindable(r io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}
	if p.stager == nil {
		return nil, nil, fmt.Errorf("upload is not seekable and no staging area is configured")
	}
	spool, err := p.stager.Stage(r)
	if err != nil {
		return nil, nil, fmt.Errorf("staging upload: %w", err)
	}
	return spool, func() { spool.Close() }, nil
}

func hashStream(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, hashChunkSize))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// put writes plaintext r to the blob store, sealing it through a pipe when
// an encryptor is configured. Plaintext under a digest is always the same
// bytes, so an existing blob is kept. Sealed bytes depend on the key pair
// in use, so a sealed blob left by an earlier failed save is replaced.
func (p *FilePool) put(ctx context.Context, digest string, r io.Reader) error {
	if p.enc == nil {
		return p.blobs.PutContent(ctx, blobKey(digest, false), r)
	}

	pr, pw := io.Pipe()
	encErrCh := make(chan error, 1)
	go func() {
		err := p.enc.Encrypt(r, pw)
		pw.CloseWithError(err)
		encErrCh <- err
	}()

	putErr := p.blobs.ReplaceContent(ctx, blobKey(digest, true), pr)
	pr.CloseWithError(putErr) // unblock the encryptor if the upload stopped early
	encErr := <-encErrCh

	if putErr != nil {
		return putErr
	}
	if encErr != nil {
		return fmt.Errorf("encrypting: %w", encErr)
	}
	return nil
}

// GetFile opens the file stored under id. The caller closes the reader.
func (p *FilePool) GetFile(ctx context.Context, id int64) (io.ReadCloser, bool, error) {
	f, err := p.index.FindFileByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("finding file %d: %w", id, err)
	}
	if f == nil {
		return nil, false, nil
	}

	var dec DecryptionContext
	if f.Encrypted {
		p.mu.RLock()
		dec = p.dec
		p.mu.RUnlock()
		if dec == nil {
			return nil, false, ErrEncrypted
		}
	}

	rc, err := p.blobs.OpenContent(ctx, blobKey(f.Digest, f.Encrypted))
	if err != nil {
		return nil, false, fmt.Errorf("opening blob of file %d: %w", id, err)
	}
	if dec == nil {
		return rc, true, nil
	}

	pr, pw := io.Pipe()
	go func() {
		err := dec.Decrypt(rc, pw)
		rc.Close()
		pw.CloseWithError(err)
	}()
	return pr, true, nil
}

// FileInfo returns the index row of a file, or a *NotFoundError.
func (p *FilePool) FileInfo(ctx context.Context, id int64) (*model.File, error) {
	f, err := p.index.FindFileByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding file %d: %w", id, err)
	}
	if f == nil {
		return nil, &NotFoundError{Kind: "file", ID: strconv.FormatInt(id, 10)}
	}
	return f, nil
}
