package model

import "time"

// Text represents deduplicated text content in the text pool.
// Digest is the SHA-256 checksum of the UTF-8 bytes of Body.
type Text struct {
	ID     int64  `db:"id"`
	Digest string `db:"digest"`
	Body   string `db:"body"`
}

// File represents a deduplicated file blob. The bytes live in a blob store;
// this row only records that content with Digest exists.
type File struct {
	ID        int64     `db:"id" json:"id"`
	Digest    string    `db:"digest" json:"digest"` // SHA-256 checksum of the plaintext bytes
	Size      int64     `db:"size" json:"size"`
	Encrypted bool      `db:"encrypted" json:"encrypted"` // blob holds sealed bytes
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Article is the summary row of an article. Title, PublicationDate,
// PrimaryAddress and ViewMode are denormalized from the current version.
type Article struct {
	ID                   string    `db:"id" json:"id"` // UUID
	CurrentVersionNumber int       `db:"current_version_number" json:"current_version_number"`
	Title                string    `db:"title" json:"title"`
	PublicationDate      time.Time `db:"publication_date" json:"publication_date"`
	AuthorAccountID      string    `db:"author_account_id" json:"author_account_id"`
	PrimaryAddress       string    `db:"primary_address" json:"primary_address"`
	ViewMode             int64     `db:"view_mode" json:"view_mode"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// Version is one persisted, immutable revision of an article.
// TextID and FileID reference the resource pools; 0 means unset.
type Version struct {
	ID               string    `db:"id" json:"id"` // UUID
	ArticleID        string    `db:"article_id" json:"article_id"`
	VersionNumber    int       `db:"version_number" json:"version_number"`
	TextID           int64     `db:"text_id" json:"text_id,omitempty"`
	FileID           int64     `db:"file_id" json:"file_id,omitempty"`
	Title            string    `db:"title" json:"title"`
	PublicationDate  time.Time `db:"publication_date" json:"publication_date"`
	Addresses        []string  `db:"-" json:"addresses,omitempty"`
	PrimaryAddress   string    `db:"primary_address" json:"primary_address,omitempty"`
	ParentArticleIDs []string  `db:"-" json:"parent_article_ids,omitempty"`
	EditableByOthers bool      `db:"editable_by_others" json:"editable_by_others"`
	AllowChildren    bool      `db:"allow_children" json:"allow_children"`
	ViewMode         int64     `db:"view_mode" json:"view_mode"`
	EditorAccountID  string    `db:"editor_account_id" json:"editor_account_id,omitempty"`
	Reason           string    `db:"reason" json:"reason,omitempty"`
	Filename         string    `db:"filename" json:"filename,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
