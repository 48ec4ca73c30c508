package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cms-go/internal/model"
)

// stringList is a []string stored as a JSON array in a TEXT column.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("cannot scan %T into stringList", src)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("decoding string list: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*l = out
	return nil
}

// nullID maps the 0 "unset" pool reference to NULL.
func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

const versionColumns = `id, article_id, version_number, text_id, file_id, title, publication_date,
	addresses, primary_address, parent_article_ids, editable_by_others, allow_children,
	view_mode, editor_account_id, reason, filename, created_at`

type versionRow struct {
	ID               string        `db:"id"`
	ArticleID        string        `db:"article_id"`
	VersionNumber    int           `db:"version_number"`
	TextID           sql.NullInt64 `db:"text_id"`
	FileID           sql.NullInt64 `db:"file_id"`
	Title            string        `db:"title"`
	PublicationDate  time.Time     `db:"publication_date"`
	Addresses        stringList    `db:"addresses"`
	PrimaryAddress   string        `db:"primary_address"`
	ParentArticleIDs stringList    `db:"parent_article_ids"`
	EditableByOthers bool          `db:"editable_by_others"`
	AllowChildren    bool          `db:"allow_children"`
	ViewMode         int64         `db:"view_mode"`
	EditorAccountID  string        `db:"editor_account_id"`
	Reason           string        `db:"reason"`
	Filename         string        `db:"filename"`
	CreatedAt        time.Time     `db:"created_at"`
}

func (r *versionRow) toModel() *model.Version {
	return &model.Version{
		ID:               r.ID,
		ArticleID:        r.ArticleID,
		VersionNumber:    r.VersionNumber,
		TextID:           r.TextID.Int64,
		FileID:           r.FileID.Int64,
		Title:            r.Title,
		PublicationDate:  r.PublicationDate.UTC(),
		Addresses:        []string(r.Addresses),
		PrimaryAddress:   r.PrimaryAddress,
		ParentArticleIDs: []string(r.ParentArticleIDs),
		EditableByOthers: r.EditableByOthers,
		AllowChildren:    r.AllowChildren,
		ViewMode:         r.ViewMode,
		EditorAccountID:  r.EditorAccountID,
		Reason:           r.Reason,
		Filename:         r.Filename,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

func versionArgs(v *model.Version) []any {
	return []any{
		v.ID, v.ArticleID, v.VersionNumber, nullID(v.TextID), nullID(v.FileID), v.Title,
		v.PublicationDate.UTC(), stringList(v.Addresses), v.PrimaryAddress,
		stringList(v.ParentArticleIDs), v.EditableByOthers, v.AllowChildren, v.ViewMode,
		v.EditorAccountID, v.Reason, v.Filename, v.CreatedAt.UTC(),
	}
}

const articleColumns = `id, current_version_number, title, publication_date, author_account_id,
	primary_address, view_mode, created_at`

// qualified prefixes every column in a column list with alias.
func qualified(alias, columns string) string {
	fields := strings.Split(columns, ",")
	for i, f := range fields {
		fields[i] = alias + "." + strings.TrimSpace(f)
	}
	return strings.Join(fields, ", ")
}

func normalizeArticle(a *model.Article) *model.Article {
	a.PublicationDate = a.PublicationDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return a
}
