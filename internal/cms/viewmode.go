package cms

import "strings"

// ViewMode is a bit set describing how an article is presented.
type ViewMode int64

const (
	ViewModeViewable ViewMode = 1 << iota
	ViewModeFile
	ViewModeEditableByOthers
	ViewModeAllowComments
	ViewModeCategory
	// ViewModeLocked refuses new versions until the lock is lifted with Unlock.
	ViewModeLocked

	viewModeAll = ViewModeViewable | ViewModeFile | ViewModeEditableByOthers |
		ViewModeAllowComments | ViewModeCategory | ViewModeLocked
)

var viewModeNames = []struct {
	flag ViewMode
	name string
}{
	{ViewModeViewable, "viewable"},
	{ViewModeFile, "file"},
	{ViewModeEditableByOthers, "editable_by_others"},
	{ViewModeAllowComments, "allow_comments"},
	{ViewModeCategory, "category"},
	{ViewModeLocked, "locked"},
}

// Has reports whether every flag in f is set.
func (m ViewMode) Has(f ViewMode) bool { return m&f == f }

// With returns m with f set or cleared.
func (m ViewMode) With(f ViewMode, on bool) ViewMode {
	if on {
		return m | f
	}
	return m &^ f
}

func (m ViewMode) String() string {
	var names []string
	for _, n := range viewModeNames {
		if m.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseViewMode parses a "|" or "," separated list of flag names.
func ParseViewMode(s string) (ViewMode, error) {
	var m ViewMode
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part == "" || part == "none" {
			continue
		}
		found := false
		for _, n := range viewModeNames {
			if n.name == part {
				m |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, &ValidationError{Field: "view_mode", Reason: "unknown flag " + part}
		}
	}
	return m, nil
}
