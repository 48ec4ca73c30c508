package cms

import "context"

// History returns every version of an article, oldest first.
func (m *Manager) History(ctx context.Context, articleID string) ([]*ArticleVersion, error) {
	m.logger.Debug("fetching article history", "article", articleID)

	a, err := m.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "article", ID: articleID}
	}

	recs, err := m.store.ListVersionsForArticle(ctx, articleID)
	if err != nil {
		return nil, storageErr("list versions", err)
	}
	out := make([]*ArticleVersion, 0, len(recs))
	for _, rec := range recs {
		v, err := m.wrapVersion(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
