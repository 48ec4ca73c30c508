// Package fs discovers files on local disk for bulk upload into the file pool.
package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Upload is a regular file found under an upload root.
type Upload struct {
	Path         string // absolute
	RelativePath string // slash separated, relative to the root
	Size         int64
	ModTime      time.Time
}

// Dir returns the slash separated directory of the upload relative to the
// root, or "" for files directly in it.
func (u *Upload) Dir() string {
	if dir := path.Dir(u.RelativePath); dir != "." {
		return dir
	}
	return ""
}

// FindUploads discovers regular files under root, sorted by relative path.
// Patterns from ignore, the root's .cmsignore and the defaults exclude
// files; a matching directory is skipped whole. Symlinks, devices, pipes
// and sockets are never returned.
func FindUploads(root string, recursive bool, ignore []string) ([]*Upload, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absRoot)
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(absRoot, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := slices.Concat(defaultIgnorePatterns, ignore, fromFile)
	matcher := NewIgnoreMatcher(patterns)

	var uploads []*Upload
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive || matcher.MatchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		uploads = append(uploads, &Upload{
			Path:         p,
			RelativePath: filepath.ToSlash(rel),
			Size:         fi.Size(),
			ModTime:      fi.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	slices.SortFunc(uploads, func(a, b *Upload) int {
		return strings.Compare(a.RelativePath, b.RelativePath)
	})
	return uploads, nil
}
