package cms_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"cms-go/internal/cms"
	"cms-go/internal/model"
	"cms-go/internal/testutil"
)

// tree holds
//
//	a1
//	├── a2
//	└── a3
//	    ├── a4
//	    │   └── a5
//	    └── a5
type tree struct {
	a1, a2, a3, a4, a5 string
}

func buildTree(t *testing.T, m *cms.Manager) tree {
	t.Helper()
	var tr tree
	tr.a1 = createArticle(t, m, func(v *cms.ArticleVersion) { v.SetTitle("a1") }).ArticleID()
	tr.a2 = createArticle(t, m, withParents(tr.a1)).ArticleID()
	tr.a3 = createArticle(t, m, withParents(tr.a1)).ArticleID()
	tr.a4 = createArticle(t, m, withParents(tr.a3)).ArticleID()
	tr.a5 = createArticle(t, m, withParents(tr.a4, tr.a3)).ArticleID()
	return tr
}

func sorted(ids ...string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func pageIDs(page *cms.Page[*model.Article]) []string {
	ids := make([]string, 0, len(page.Items))
	for _, a := range page.Items {
		ids = append(ids, a.ID)
	}
	slices.Sort(ids)
	return ids
}

func TestManager_BrowseTree(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()
	tr := buildTree(t, m)

	children, err := m.BrowseArticles(ctx, cms.ArticleQuery{ParentID: tr.a1})
	if err != nil {
		t.Fatalf("BrowseArticles(children) error = %v", err)
	}
	if got, want := pageIDs(children), sorted(tr.a2, tr.a3); !slices.Equal(got, want) {
		t.Errorf("children of a1 = %v, want %v", got, want)
	}

	subtree, err := m.BrowseArticles(ctx, cms.ArticleQuery{ParentID: tr.a1, Descendants: true})
	if err != nil {
		t.Fatalf("BrowseArticles(descendants) error = %v", err)
	}
	if got, want := pageIDs(subtree), sorted(tr.a2, tr.a3, tr.a4, tr.a5); !slices.Equal(got, want) {
		t.Errorf("descendants of a1 = %v, want %v", got, want)
	}

	var nf *cms.NotFoundError
	if _, err := m.BrowseArticles(ctx, cms.ArticleQuery{ParentID: "missing"}); !errors.As(err, &nf) {
		t.Errorf("BrowseArticles(missing parent) error = %v, want *NotFoundError", err)
	}
}

func TestManager_TreeQueries(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()
	tr := buildTree(t, m)

	tests := []struct {
		name  string
		query func(ctx context.Context, id string) ([]string, error)
		id    string
		want  []string
	}{
		{"parents of a5", m.Parents, tr.a5, sorted(tr.a3, tr.a4)},
		{"children of a3", m.Children, tr.a3, sorted(tr.a4, tr.a5)},
		{"children of a2", m.Children, tr.a2, nil},
		{"ancestors of a5", m.Ancestors, tr.a5, sorted(tr.a1, tr.a3, tr.a4)},
		{"ancestors of a1", m.Ancestors, tr.a1, nil},
		{"descendants of a3", m.Descendants, tr.a3, sorted(tr.a4, tr.a5)},
		{"descendants of a1", m.Descendants, tr.a1, sorted(tr.a2, tr.a3, tr.a4, tr.a5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.query(ctx, tt.id)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if len(got) != len(tt.want) || (len(got) > 0 && !slices.Equal(got, tt.want)) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManager_Reparent(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()
	tr := buildTree(t, m)

	// move the a4 subtree under a2
	if _, err := m.Edit(ctx, tr.a4, func(v *cms.ArticleVersion) error {
		v.SetParents(tr.a2)
		return nil
	}); err != nil {
		t.Fatalf("Edit(a4) error = %v", err)
	}

	anc, err := m.Ancestors(ctx, tr.a4)
	if err != nil {
		t.Fatalf("Ancestors(a4) error = %v", err)
	}
	if want := sorted(tr.a1, tr.a2); !slices.Equal(anc, want) {
		t.Errorf("Ancestors(a4) = %v, want %v", anc, want)
	}

	// a5 keeps a3 as a direct parent and gains a2 through a4
	anc, err = m.Ancestors(ctx, tr.a5)
	if err != nil {
		t.Fatalf("Ancestors(a5) error = %v", err)
	}
	if want := sorted(tr.a1, tr.a2, tr.a3, tr.a4); !slices.Equal(anc, want) {
		t.Errorf("Ancestors(a5) = %v, want %v", anc, want)
	}

	desc, err := m.Descendants(ctx, tr.a2)
	if err != nil {
		t.Fatalf("Descendants(a2) error = %v", err)
	}
	if want := sorted(tr.a4, tr.a5); !slices.Equal(desc, want) {
		t.Errorf("Descendants(a2) = %v, want %v", desc, want)
	}

	// dropping every parent makes a4 a root
	if _, err := m.Edit(ctx, tr.a4, func(v *cms.ArticleVersion) error {
		v.SetParents()
		return nil
	}); err != nil {
		t.Fatalf("Edit(a4) error = %v", err)
	}
	anc, err = m.Ancestors(ctx, tr.a4)
	if err != nil {
		t.Fatalf("Ancestors(a4) error = %v", err)
	}
	if len(anc) != 0 {
		t.Errorf("Ancestors(root a4) = %v, want none", anc)
	}
}

func TestManager_ParentChecks(t *testing.T) {
	metrics := newRecordingMetrics()
	env := testutil.NewTestEnv(t, testutil.WithMetrics(metrics))
	m := env.Manager
	ctx := context.Background()
	tr := buildTree(t, m)

	t.Run("self parent", func(t *testing.T) {
		_, err := m.Edit(ctx, tr.a2, func(v *cms.ArticleVersion) error {
			v.SetParents(tr.a2)
			return nil
		})
		var cycle *cms.CycleError
		if !errors.As(err, &cycle) {
			t.Fatalf("error = %v, want *CycleError", err)
		}
	})

	t.Run("descendant as parent", func(t *testing.T) {
		_, err := m.Edit(ctx, tr.a1, func(v *cms.ArticleVersion) error {
			v.SetParents(tr.a5)
			return nil
		})
		var cycle *cms.CycleError
		if !errors.As(err, &cycle) {
			t.Fatalf("error = %v, want *CycleError", err)
		}
		if cycle.ParentID != tr.a5 {
			t.Errorf("CycleError.ParentID = %q, want %q", cycle.ParentID, tr.a5)
		}
	})

	t.Run("missing parent", func(t *testing.T) {
		v := m.NewArticle()
		v.SetParents("no-such-article")
		err := m.SaveArticleVersion(ctx, v)
		var dangling *cms.DanglingParentError
		if !errors.As(err, &dangling) {
			t.Fatalf("error = %v, want *DanglingParentError", err)
		}
		if dangling.ParentID != "no-such-article" {
			t.Errorf("DanglingParentError.ParentID = %q", dangling.ParentID)
		}
	})

	anc, err := m.Ancestors(ctx, tr.a1)
	if err != nil {
		t.Fatalf("Ancestors(a1) error = %v", err)
	}
	if len(anc) != 0 {
		t.Errorf("refused edits changed the ancestry of a1: %v", anc)
	}
	if metrics.refused["cycle"] != 2 || metrics.refused["dangling_parent"] != 1 {
		t.Errorf("refused = %v", metrics.refused)
	}
}

func TestManager_AllowChildren(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()

	parent := createArticle(t, m, nil).ArticleID()
	child := createArticle(t, m, withParents(parent)).ArticleID()

	if _, err := m.Edit(ctx, parent, func(v *cms.ArticleVersion) error {
		v.SetAllowChildren(false)
		return nil
	}); err != nil {
		t.Fatalf("Edit(parent) error = %v", err)
	}

	v := m.NewArticle()
	v.SetParents(parent)
	err := m.SaveArticleVersion(ctx, v)
	var verr *cms.ValidationError
	if !errors.As(err, &verr) || verr.Field != "parent_article_ids" {
		t.Fatalf("new child of a closed parent error = %v, want parent_article_ids validation", err)
	}

	// an existing edge survives the parent closing
	next, err := m.Edit(ctx, child, func(v *cms.ArticleVersion) error {
		v.SetTitle("still here")
		return nil
	})
	if err != nil {
		t.Fatalf("Edit(existing child) error = %v", err)
	}
	if !slices.Equal(next.ParentArticleIDs(), []string{parent}) {
		t.Errorf("child parents = %v, want [%s]", next.ParentArticleIDs(), parent)
	}
}
