package cms

import (
	"context"

	"cms-go/internal/model"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Page is one slice of a browse result. HasMore reports whether a request
// for the following page would return anything.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

func checkPaging(offset, limit int, sort SortKey, allowCreated bool) (int, error) {
	if offset < 0 {
		return 0, &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	switch sort {
	case "", SortTitle, SortDate:
	case SortCreated:
		if !allowCreated {
			return 0, &ValidationError{Field: "sort", Reason: "articles sort by title or date"}
		}
	default:
		return 0, &ValidationError{Field: "sort", Reason: "unknown sort key " + string(sort)}
	}
	switch {
	case limit <= 0:
		return DefaultPageSize, nil
	case limit > MaxPageSize:
		return MaxPageSize, nil
	}
	return limit, nil
}

// BrowseArticles lists articles. With q.ParentID set it lists the children
// of that article, or its whole subtree when q.Descendants is set.
func (m *Manager) BrowseArticles(ctx context.Context, q ArticleQuery) (*Page[*model.Article], error) {
	limit, err := checkPaging(q.Offset, q.Limit, q.Sort, false)
	if err != nil {
		return nil, err
	}
	if q.ParentID != "" {
		parent, err := m.GetArticle(ctx, q.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, &NotFoundError{Kind: "article", ID: q.ParentID}
		}
	}

	// One extra row tells us whether another page exists.
	q.Limit = limit + 1
	rows, err := m.store.ListArticles(ctx, q)
	if err != nil {
		return nil, storageErr("list articles", err)
	}
	page := &Page[*model.Article]{Items: rows}
	if len(rows) > limit {
		page.Items, page.HasMore = rows[:limit], true
	}
	return page, nil
}

// BrowseArticleVersions lists versions of all articles, typically newest
// first by creation time for a feed.
func (m *Manager) BrowseArticleVersions(ctx context.Context, q VersionQuery) (*Page[*ArticleVersion], error) {
	limit, err := checkPaging(q.Offset, q.Limit, q.Sort, true)
	if err != nil {
		return nil, err
	}

	q.Limit = limit + 1
	rows, err := m.store.ListVersions(ctx, q)
	if err != nil {
		return nil, storageErr("list versions", err)
	}
	page := &Page[*ArticleVersion]{}
	if len(rows) > limit {
		rows, page.HasMore = rows[:limit], true
	}
	for _, rec := range rows {
		v, err := m.wrapVersion(ctx, rec)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, v)
	}
	return page, nil
}
