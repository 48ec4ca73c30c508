package cms_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cms-go/internal/cms"
	"cms-go/internal/testutil"
)

func TestManager_BrowseArticlesPaging(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()

	for _, title := range []string{"delta", "alpha", "echo", "charlie", "bravo"} {
		createArticle(t, m, func(v *cms.ArticleVersion) { v.SetTitle(title) })
	}

	tests := []struct {
		name    string
		query   cms.ArticleQuery
		want    []string
		hasMore bool
	}{
		{
			name:    "first page by title",
			query:   cms.ArticleQuery{Limit: 2, Sort: cms.SortTitle},
			want:    []string{"alpha", "bravo"},
			hasMore: true,
		},
		{
			name:    "middle page",
			query:   cms.ArticleQuery{Offset: 2, Limit: 2, Sort: cms.SortTitle},
			want:    []string{"charlie", "delta"},
			hasMore: true,
		},
		{
			name:  "last page",
			query: cms.ArticleQuery{Offset: 4, Limit: 2, Sort: cms.SortTitle},
			want:  []string{"echo"},
		},
		{
			name:  "exact fit",
			query: cms.ArticleQuery{Limit: 5, Sort: cms.SortTitle},
			want:  []string{"alpha", "bravo", "charlie", "delta", "echo"},
		},
		{
			name:    "descending",
			query:   cms.ArticleQuery{Limit: 1, Sort: cms.SortTitle, Descending: true},
			want:    []string{"echo"},
			hasMore: true,
		},
		{
			name:  "past the end",
			query: cms.ArticleQuery{Offset: 10, Sort: cms.SortTitle},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := m.BrowseArticles(ctx, tt.query)
			if err != nil {
				t.Fatalf("BrowseArticles() error = %v", err)
			}
			var got []string
			for _, a := range page.Items {
				got = append(got, a.Title)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("titles = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("titles = %v, want %v", got, tt.want)
					break
				}
			}
			if page.HasMore != tt.hasMore {
				t.Errorf("HasMore = %v, want %v", page.HasMore, tt.hasMore)
			}
		})
	}
}

func TestManager_BrowseArticlesByDate(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()

	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"old", "new", "middle"} {
		offset := []int{0, 48, 24}[i]
		createArticle(t, m, func(v *cms.ArticleVersion) {
			v.SetTitle(title)
			v.SetPublicationDate(base.Add(time.Duration(offset) * time.Hour))
		})
	}

	page, err := m.BrowseArticles(ctx, cms.ArticleQuery{Sort: cms.SortDate, Descending: true})
	if err != nil {
		t.Fatalf("BrowseArticles() error = %v", err)
	}
	var got []string
	for _, a := range page.Items {
		got = append(got, a.Title)
	}
	want := []string{"new", "middle", "old"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("titles = %v, want %v", got, want)
	}
	if !page.Items[0].PublicationDate.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("publication date = %v", page.Items[0].PublicationDate)
	}
}

func TestManager_BrowseArticleVersions(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()

	a := createArticle(t, m, func(v *cms.ArticleVersion) { v.SetTitle("a1"); v.SetText("first") })
	env.Clock.Advance(time.Minute)
	createArticle(t, m, func(v *cms.ArticleVersion) { v.SetTitle("b1") })
	env.Clock.Advance(time.Minute)
	if _, err := m.Edit(ctx, a.ArticleID(), func(v *cms.ArticleVersion) error {
		v.SetTitle("a2")
		return nil
	}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	page, err := m.BrowseArticleVersions(ctx, cms.VersionQuery{Limit: 2, Sort: cms.SortCreated, Descending: true})
	if err != nil {
		t.Fatalf("BrowseArticleVersions() error = %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("got %d items, HasMore = %v; want 2, true", len(page.Items), page.HasMore)
	}
	if page.Items[0].Title() != "a2" || page.Items[1].Title() != "b1" {
		t.Errorf("titles = %q, %q; want a2, b1", page.Items[0].Title(), page.Items[1].Title())
	}
	if text, ok := page.Items[0].Text(); !ok || text != "first" {
		t.Errorf("feed entry text = %q, %v; want carried-forward text", text, ok)
	}
}

func TestManager_BrowseValidation(t *testing.T) {
	env := testutil.NewTestEnv(t)
	m := env.Manager
	ctx := context.Background()

	var verr *cms.ValidationError
	if _, err := m.BrowseArticles(ctx, cms.ArticleQuery{Offset: -1}); !errors.As(err, &verr) || verr.Field != "offset" {
		t.Errorf("negative offset error = %v, want offset validation", err)
	}
	if _, err := m.BrowseArticles(ctx, cms.ArticleQuery{Sort: cms.SortCreated}); !errors.As(err, &verr) || verr.Field != "sort" {
		t.Errorf("articles by created error = %v, want sort validation", err)
	}
	if _, err := m.BrowseArticleVersions(ctx, cms.VersionQuery{Sort: "popularity"}); !errors.As(err, &verr) || verr.Field != "sort" {
		t.Errorf("unknown sort error = %v, want sort validation", err)
	}

	// oversized limits are clamped rather than refused
	page, err := m.BrowseArticles(ctx, cms.ArticleQuery{Limit: cms.MaxPageSize * 10})
	if err != nil {
		t.Fatalf("BrowseArticles(huge limit) error = %v", err)
	}
	if len(page.Items) != 0 || page.HasMore {
		t.Errorf("empty store page = %d items, HasMore %v", len(page.Items), page.HasMore)
	}
}
