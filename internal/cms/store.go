package cms

import (
	"context"

	"cms-go/internal/model"
)

// TextPool is the content-addressed text half of the resource pool.
// Identical text (by SHA-256 of its UTF-8 bytes) is stored exactly once.
type TextPool interface {
	// SetText returns the id of the entry for text. When no entry exists and
	// create is true a new one is inserted; when create is false ok is false.
	SetText(ctx context.Context, text string, create bool) (id int64, ok bool, err error)

	// GetText returns the text stored under id.
	GetText(ctx context.Context, id int64) (text string, ok bool, err error)
}

// FileIndex records which file blobs exist. The bytes live in a BlobStore.
type FileIndex interface {
	// FindFileByDigest returns nil when no file has the digest.
	FindFileByDigest(ctx context.Context, digest string) (*model.File, error)

	// FindFileByID returns nil when no file has the id.
	FindFileByID(ctx context.Context, id int64) (*model.File, error)

	// InsertFile records a file. Concurrent inserts of the same digest
	// converge on one row, which is returned.
	InsertFile(ctx context.Context, f *model.File) (*model.File, error)
}

// AddressStore is the persisted address registry.
type AddressStore interface {
	// FindAddress returns the id of the article holding address.
	FindAddress(ctx context.Context, address string) (articleID string, ok bool, err error)

	// AddressesForArticle returns the addresses held by an article, sorted.
	AddressesForArticle(ctx context.Context, articleID string) ([]string, error)

	// ClaimAddress binds address to articleID. Returns ErrDuplicate if the
	// address is already bound.
	ClaimAddress(ctx context.Context, address, articleID string) error

	// ReleaseAddress removes the binding for address.
	ReleaseAddress(ctx context.Context, address string) error
}

// AncestryStore holds the parent edges and their transitive closure.
type AncestryStore interface {
	Parents(ctx context.Context, articleID string) ([]string, error)
	Children(ctx context.Context, articleID string) ([]string, error)
	Ancestors(ctx context.Context, articleID string) ([]string, error)
	Descendants(ctx context.Context, articleID string) ([]string, error)

	// SetParents replaces the parent edges of articleID.
	SetParents(ctx context.Context, articleID string, parentIDs []string) error

	// ReplaceAncestors replaces the closure rows whose descendant is articleID.
	ReplaceAncestors(ctx context.Context, articleID string, ancestorIDs []string) error
}

// SortKey selects the ordering of browse queries.
type SortKey string

const (
	SortTitle   SortKey = "title"
	SortDate    SortKey = "date"
	SortCreated SortKey = "created"
)

// ArticleQuery selects a page of articles. The store returns at most Limit
// rows; the manager over-fetches by one to detect further pages.
type ArticleQuery struct {
	Offset      int
	Limit       int
	Sort        SortKey
	Descending  bool
	ParentID    string
	Descendants bool
}

// VersionQuery selects a page of versions across all articles.
type VersionQuery struct {
	Offset     int
	Limit      int
	Sort       SortKey
	Descending bool
}

// Store provides all persisted state of the CMS.
// Methods called with the context handed to WithTx's fn join that transaction.
// Lookups return nil (or ok=false) when nothing matches.
type Store interface {
	TextPool
	FileIndex
	AddressStore
	AncestryStore

	// WithTx runs fn in a transaction, committing if fn returns nil.
	// Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	FindArticle(ctx context.Context, id string) (*model.Article, error)

	// FindArticleForUpdate is FindArticle holding a row lock where the
	// backend supports one.
	FindArticleForUpdate(ctx context.Context, id string) (*model.Article, error)

	InsertArticle(ctx context.Context, article *model.Article) error

	// UpdateArticle overwrites the summary row if its current version number
	// is still expectedVersion. Returns false when another writer got there first.
	UpdateArticle(ctx context.Context, article *model.Article, expectedVersion int) (bool, error)

	// DeleteArticle removes the article with its versions, addresses and edges.
	DeleteArticle(ctx context.Context, id string) error

	ListArticles(ctx context.Context, q ArticleQuery) ([]*model.Article, error)

	// ListArticleIDs returns every article id in creation order.
	ListArticleIDs(ctx context.Context) ([]string, error)

	// InsertVersion returns ErrDuplicate if (article_id, version_number) exists.
	InsertVersion(ctx context.Context, version *model.Version) error

	FindVersion(ctx context.Context, id string) (*model.Version, error)
	FindVersionByNumber(ctx context.Context, articleID string, number int) (*model.Version, error)

	// ListVersionsForArticle returns every version of an article in ascending order.
	ListVersionsForArticle(ctx context.Context, articleID string) ([]*model.Version, error)

	ListVersions(ctx context.Context, q VersionQuery) ([]*model.Version, error)

	Close() error
}
