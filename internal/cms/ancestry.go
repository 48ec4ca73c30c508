package cms

import (
	"context"
	"fmt"
	"slices"
)

// checkParents validates the parent set of a version about to be saved.
// previous holds the parent edges the article has now.
func (m *Manager) checkParents(ctx context.Context, articleID string, parents, previous []string) error {
	var descendants []string
	if len(parents) > 0 {
		var err error
		descendants, err = m.store.Descendants(ctx, articleID)
		if err != nil {
			return err
		}
	}

	for _, p := range parents {
		if p == articleID || slices.Contains(descendants, p) {
			return &CycleError{ArticleID: articleID, ParentID: p}
		}
		parent, err := m.store.FindArticle(ctx, p)
		if err != nil {
			return err
		}
		if parent == nil {
			return &DanglingParentError{ArticleID: articleID, ParentID: p}
		}
		if slices.Contains(previous, p) {
			continue
		}
		current, err := m.store.FindVersionByNumber(ctx, p, parent.CurrentVersionNumber)
		if err != nil {
			return err
		}
		if current != nil && !current.AllowChildren {
			return &ValidationError{Field: "parent_article_ids", Reason: fmt.Sprintf("article %s does not allow children", p)}
		}
	}
	return nil
}

// rebuildAncestry recomputes the closure rows of root and everything below
// it after root's parent edges changed. Articles outside that subtree keep
// their ancestor sets, so they are read back instead of recomputed.
func rebuildAncestry(ctx context.Context, store AncestryStore, root string) error {
	subtree, err := store.Descendants(ctx, root)
	if err != nil {
		return err
	}
	affected := make(map[string]bool, len(subtree)+1)
	affected[root] = true
	for _, id := range subtree {
		affected[id] = true
	}

	memo := make(map[string][]string)
	visiting := make(map[string]bool)

	var resolve func(id string) ([]string, error)
	resolve = func(id string) ([]string, error) {
		if anc, ok := memo[id]; ok {
			return anc, nil
		}
		if !affected[id] {
			anc, err := store.Ancestors(ctx, id)
			if err != nil {
				return nil, err
			}
			memo[id] = anc
			return anc, nil
		}
		if visiting[id] {
			return nil, &CycleError{ArticleID: root, ParentID: id}
		}
		visiting[id] = true
		defer delete(visiting, id)

		parents, err := store.Parents(ctx, id)
		if err != nil {
			return nil, err
		}
		var anc []string
		for _, p := range parents {
			above, err := resolve(p)
			if err != nil {
				return nil, err
			}
			anc = append(anc, p)
			anc = append(anc, above...)
		}
		slices.Sort(anc)
		anc = slices.Compact(anc)
		memo[id] = anc
		return anc, nil
	}

	for _, id := range append([]string{root}, subtree...) {
		anc, err := resolve(id)
		if err != nil {
			return err
		}
		if err := store.ReplaceAncestors(ctx, id, anc); err != nil {
			return err
		}
	}
	return nil
}
