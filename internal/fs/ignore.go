package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the ignore file read from an upload root.
const IgnoreFileName = ".cmsignore"

// defaultIgnorePatterns never become articles: the ignore file itself and
// the metadata files desktop file managers drop into folders.
var defaultIgnorePatterns = []string{IgnoreFileName, ".DS_Store", "Thumbs.db", "desktop.ini"}

type ignorePattern struct {
	pattern   string
	matchPath bool // against the relative path instead of the base name
	dirOnly   bool // trailing '/': applies to directories only
	negate    bool // leading '!': re-includes what earlier patterns excluded
}

// IgnoreMatcher decides which entries of an upload tree are left out.
//
// Patterns follow a small subset of gitignore:
//   - without '/', a pattern matches the base name at any depth
//   - with '/', it matches the whole relative path; a leading '/' only
//     anchors it to the root
//   - a trailing '/' restricts it to directories, which are then skipped
//     with everything below them
//   - a leading '!' re-includes a match; the last matching pattern wins
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw patterns. Blank lines and lines starting
// with '#' are skipped, as are patterns path.Match rejects.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var p ignorePattern
		if strings.HasPrefix(raw, "!") {
			p.negate = true
			raw = raw[1:]
		}
		if strings.HasSuffix(raw, "/") {
			p.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		if strings.HasPrefix(raw, "/") {
			p.matchPath = true
			raw = strings.TrimLeft(raw, "/")
		}
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p.matchPath = true
		}
		if _, err := path.Match(raw, ""); err != nil {
			continue
		}
		p.pattern = raw
		patterns = append(patterns, p)
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the file at relativePath is ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	return m.match(relativePath, false)
}

// MatchDir reports whether the directory at relativePath is ignored, and
// with it everything below.
func (m *IgnoreMatcher) MatchDir(relativePath string) bool {
	return m.match(relativePath, true)
}

func (m *IgnoreMatcher) match(relativePath string, isDir bool) bool {
	if relativePath == "" {
		return false
	}
	normalized := filepath.ToSlash(relativePath)
	base := path.Base(normalized)

	ignored := false
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		subject := base
		if p.matchPath {
			subject = normalized
		}
		if ok, _ := path.Match(p.pattern, subject); ok {
			ignored = !p.negate
		}
	}
	return ignored
}

// ParseIgnoreFile reads a .cmsignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
