package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cms-go/internal/cms"
)

// FileSystemStore keeps blobs as files in a sharded directory tree:
//
//	<root>/
//	  ab/
//	    cd/
//	      abcd...   (named by SHA-256 of the plaintext)
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a filesystem blob store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pool root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) pathFor(checksum string) (string, error) {
	rel, err := ShardPath(checksum)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// PutContent stores content identified by its checksum.
// If the blob already exists the reader is drained and nothing is written.
func (s *FileSystemStore) PutContent(_ context.Context, checksum string, r io.Reader) error {
	destPath, err := s.pathFor(checksum)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return writeFile(destPath, r)
}

// ReplaceContent writes content for checksum, replacing any existing blob
// through an atomic rename.
func (s *FileSystemStore) ReplaceContent(_ context.Context, checksum string, r io.Reader) error {
	destPath, err := s.pathFor(checksum)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return writeFile(destPath, r)
}

// OpenContent opens the blob for checksum.
func (s *FileSystemStore) OpenContent(_ context.Context, checksum string) (io.ReadCloser, error) {
	srcPath, err := s.pathFor(checksum)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", cms.ErrBlobNotFound, checksum)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) HasContent(_ context.Context, checksum string) (bool, error) {
	p, err := s.pathFor(checksum)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ValidateSetup verifies that the root directory exists and is writable.
func (s *FileSystemStore) ValidateSetup(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("pool root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("pool root is not a directory: %s", s.root)
	}

	check, err := os.CreateTemp(s.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("pool root not writable: %w", err)
	}
	check.Close()
	return os.Remove(check.Name())
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
// Concurrent writers of the same checksum each rename their own temp file
// and the last rename wins.
func writeFile(destPath string, r io.Reader) error {
	// Temp file in the same directory so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements cms.BlobStore
var _ cms.BlobStore = (*FileSystemStore)(nil)
