// Package blob provides the storage backends behind the file pool.
package blob

import (
	"fmt"
	"path"
	"strings"
)

// ShardPath returns the relative key for checksum: two levels of two hex
// characters each, then the full checksum. This keeps any one directory
// from holding more than 256 entries per level. The checksum may carry one
// lowercase extension such as ".age", which stays on the file name.
func ShardPath(checksum string) (string, error) {
	digest, ext, hasExt := strings.Cut(checksum, ".")
	if len(digest) < 4 || hasExt && !isLowerAlnum(ext) {
		return "", fmt.Errorf("invalid checksum %q", checksum)
	}
	for _, r := range digest {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", fmt.Errorf("invalid checksum %q", checksum)
		}
	}
	return path.Join(digest[0:2], digest[2:4], checksum), nil
}

func isLowerAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z') {
			return false
		}
	}
	return true
}
