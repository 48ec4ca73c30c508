package cms

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxAddressLen is the longest address accepted, in bytes after normalization.
const MaxAddressLen = 255

var (
	slugInvalid     = regexp.MustCompile(`[^a-z0-9-]+`)
	multipleHyphens = regexp.MustCompile(`-{2,}`)
)

// NormalizeAddress trims and NFC-normalizes an address and checks that it is
// usable as a unique slug.
func NormalizeAddress(address string) (string, error) {
	a := norm.NFC.String(strings.TrimSpace(address))
	if a == "" {
		return "", &ValidationError{Field: "addresses", Reason: "address is empty"}
	}
	if len(a) > MaxAddressLen {
		return "", &ValidationError{Field: "addresses", Reason: "address " + truncateRunes(a, 32) + "... exceeds 255 bytes"}
	}
	for _, r := range a {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", &ValidationError{Field: "addresses", Reason: "address " + a + " contains whitespace or control characters"}
		}
	}
	return a, nil
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// NormalizeAddresses normalizes every address and returns them sorted and
// deduplicated.
func NormalizeAddresses(addresses []string) ([]string, error) {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		n, err := NormalizeAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// resolvePrimaryAddress returns the primary address for a normalized address
// set. An empty primary defaults to the first address; a non-empty one must
// be a member of the set.
func resolvePrimaryAddress(primary string, addresses []string) (string, error) {
	if len(addresses) == 0 {
		if strings.TrimSpace(primary) != "" {
			return "", &ValidationError{Field: "primary_address", Reason: "set without any addresses"}
		}
		return "", nil
	}
	if strings.TrimSpace(primary) == "" {
		return addresses[0], nil
	}
	p, err := NormalizeAddress(primary)
	if err != nil {
		return "", &ValidationError{Field: "primary_address", Reason: err.(*ValidationError).Reason}
	}
	if _, found := slices.BinarySearch(addresses, p); !found {
		return "", &ValidationError{Field: "primary_address", Reason: p + " is not one of the addresses"}
	}
	return p, nil
}

// Slugify turns a title into an address candidate: transliterated to ASCII,
// lowercase, words joined by single hyphens.
func Slugify(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ := transform.String(t, title)
	s = strings.ToLower(unidecode.Unidecode(s))
	s = strings.Join(strings.Fields(s), "-")
	s = slugInvalid.ReplaceAllString(s, "-")
	s = multipleHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
