package cms

import (
	"io"
	"slices"
	"time"

	"cms-go/internal/model"
)

// ArticleVersion is one revision of an article. Versions returned by
// NewArticle and NewArticleVersion are editable until saved; versions read
// back from storage are frozen, and saving them again fails.
type ArticleVersion struct {
	rec model.Version

	text    string
	hasText bool

	// pending changes to the resource pool references
	textSet   bool
	file      io.Reader
	fileSet   bool
	parentSet bool

	newArticle bool
	saved      bool
}

// versionFromRecord wraps a persisted version. text is the body already
// read from the text pool.
func versionFromRecord(rec *model.Version, text string, hasText bool) *ArticleVersion {
	v := &ArticleVersion{rec: *rec, text: text, hasText: hasText, saved: true}
	v.rec.Addresses = slices.Clone(rec.Addresses)
	v.rec.ParentArticleIDs = slices.Clone(rec.ParentArticleIDs)
	return v
}

func (v *ArticleVersion) ID() string                 { return v.rec.ID }
func (v *ArticleVersion) ArticleID() string          { return v.rec.ArticleID }
func (v *ArticleVersion) VersionNumber() int         { return v.rec.VersionNumber }
func (v *ArticleVersion) TextID() int64              { return v.rec.TextID }
func (v *ArticleVersion) FileID() int64              { return v.rec.FileID }
func (v *ArticleVersion) Title() string              { return v.rec.Title }
func (v *ArticleVersion) PublicationDate() time.Time { return v.rec.PublicationDate }
func (v *ArticleVersion) PrimaryAddress() string     { return v.rec.PrimaryAddress }
func (v *ArticleVersion) AllowChildren() bool        { return v.rec.AllowChildren }
func (v *ArticleVersion) ViewMode() ViewMode         { return ViewMode(v.rec.ViewMode) }
func (v *ArticleVersion) EditorAccountID() string    { return v.rec.EditorAccountID }
func (v *ArticleVersion) Reason() string             { return v.rec.Reason }
func (v *ArticleVersion) Filename() string           { return v.rec.Filename }
func (v *ArticleVersion) CreatedAt() time.Time       { return v.rec.CreatedAt }

// Saved reports whether the version has been persisted and is frozen.
func (v *ArticleVersion) Saved() bool { return v.saved }

// IsNewArticle reports whether saving this version creates the article.
func (v *ArticleVersion) IsNewArticle() bool { return v.newArticle }

// Text returns the text of the version and whether one is set.
func (v *ArticleVersion) Text() (string, bool) { return v.text, v.hasText }

func (v *ArticleVersion) EditableByOthers() bool {
	return ViewMode(v.rec.ViewMode).Has(ViewModeEditableByOthers)
}

// Addresses returns the address set, sorted.
func (v *ArticleVersion) Addresses() []string { return slices.Clone(v.rec.Addresses) }

// ParentArticleIDs returns the parent article ids, sorted.
func (v *ArticleVersion) ParentArticleIDs() []string { return slices.Clone(v.rec.ParentArticleIDs) }

// Record returns a copy of the persisted fields.
func (v *ArticleVersion) Record() model.Version {
	rec := v.rec
	rec.Addresses = slices.Clone(v.rec.Addresses)
	rec.ParentArticleIDs = slices.Clone(v.rec.ParentArticleIDs)
	return rec
}

// SetText replaces the text. It is stored in the text pool on save.
func (v *ArticleVersion) SetText(text string) {
	v.text, v.hasText, v.textSet = text, true, true
}

// ClearText removes the text reference from this version.
func (v *ArticleVersion) ClearText() {
	v.text, v.hasText, v.textSet = "", false, true
}

// SetFile replaces the file. r is read once, during save.
func (v *ArticleVersion) SetFile(r io.Reader) {
	v.file, v.fileSet = r, true
}

// ClearFile removes the file reference from this version.
func (v *ArticleVersion) ClearFile() {
	v.file, v.fileSet = nil, true
}

func (v *ArticleVersion) SetTitle(title string) { v.rec.Title = title }

func (v *ArticleVersion) SetPublicationDate(t time.Time) { v.rec.PublicationDate = t.UTC() }

// SetAddresses replaces the address set. Addresses are normalized on save.
func (v *ArticleVersion) SetAddresses(addresses ...string) {
	v.rec.Addresses = slices.Clone(addresses)
}

// SetPrimaryAddress selects the preferred address, which must be one of
// the addresses when the version is saved.
func (v *ArticleVersion) SetPrimaryAddress(address string) { v.rec.PrimaryAddress = address }

// SetParents replaces the parent article ids.
func (v *ArticleVersion) SetParents(ids ...string) {
	v.rec.ParentArticleIDs = slices.Clone(ids)
	v.parentSet = true
}

func (v *ArticleVersion) SetEditableByOthers(editable bool) {
	v.rec.ViewMode = int64(ViewMode(v.rec.ViewMode).With(ViewModeEditableByOthers, editable))
}

func (v *ArticleVersion) SetAllowChildren(allow bool) { v.rec.AllowChildren = allow }

// SetViewMode replaces the whole flag set. ViewModeFile is recomputed on save.
func (v *ArticleVersion) SetViewMode(mode ViewMode) { v.rec.ViewMode = int64(mode) }

// SetEditor records the account making this edit.
func (v *ArticleVersion) SetEditor(accountID string) { v.rec.EditorAccountID = accountID }

func (v *ArticleVersion) SetReason(reason string) { v.rec.Reason = reason }

func (v *ArticleVersion) SetFilename(name string) { v.rec.Filename = name }
