package staging

import (
	"fmt"
	"io"
	"os"
)

// NewFileSystemStagingArea creates a staging area that spools into temp
// files under stagingDir. Spool files are removed when the spool is closed.
//
// Directory structure:
//
//	<staging_dir>/
//	  spool-*    (one file per upload in flight)
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (*Area, error) {
	if err := os.MkdirAll(stagingDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Area{store: fileSpoolStore{dir: stagingDir}, maxSize: maxSize}, nil
}

type fileSpoolStore struct {
	dir string
}

func (s fileSpoolStore) create() (spoolBuffer, error) {
	f, err := os.CreateTemp(s.dir, "spool-*")
	if err != nil {
		return nil, err
	}
	return &fileSpool{f: f}, nil
}

type fileSpool struct {
	f *os.File
}

func (s *fileSpool) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *fileSpool) rewind() (io.ReadSeeker, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.f, nil
}

func (s *fileSpool) discard() error {
	name := s.f.Name()
	s.f.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
