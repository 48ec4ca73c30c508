// Package events publishes notifications about saved article versions.
package events

import (
	"context"
	"time"
)

// VersionSaved is published after a version has been committed.
type VersionSaved struct {
	ArticleID       string    `json:"article_id"`
	VersionID       string    `json:"version_id"`
	VersionNumber   int       `json:"version_number"`
	Title           string    `json:"title"`
	PrimaryAddress  string    `json:"primary_address,omitempty"`
	EditorAccountID string    `json:"editor_account_id,omitempty"`
	NewArticle      bool      `json:"new_article"`
	SavedAt         time.Time `json:"saved_at"`
}

// Action names the kind of change for routing on the consumer side.
func (e VersionSaved) Action() string {
	if e.NewArticle {
		return "create"
	}
	return "update"
}

//go:generate mockgen -source=events.go -destination=mocks/mocks.go -package=mocks

// Publisher delivers VersionSaved events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, evt VersionSaved) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, VersionSaved) error { return nil }
func (Nop) Close() error                                { return nil }
