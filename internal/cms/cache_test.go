package cms_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"cms-go/internal/cms"
	"cms-go/internal/model"
	"cms-go/internal/testutil"
)

// gatedStore holds the next armed read after it has hit the store, so a
// save can commit while the reader still carries what it read.
type gatedStore struct {
	cms.Store
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedStore(s cms.Store) *gatedStore {
	return &gatedStore{Store: s, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) hold() {
	if g.armed.CompareAndSwap(true, false) {
		close(g.reached)
		<-g.release
	}
}

func (g *gatedStore) FindArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := g.Store.FindArticle(ctx, id)
	g.hold()
	return a, err
}

func (g *gatedStore) FindAddress(ctx context.Context, address string) (string, bool, error) {
	id, ok, err := g.Store.FindAddress(ctx, address)
	g.hold()
	return id, ok, err
}

func newGatedManager(t *testing.T) (*cms.Manager, *gatedStore) {
	t.Helper()
	env := testutil.NewTestEnv(t)
	gated := newGatedStore(env.Store)
	return cms.NewManager(gated, env.Files, env.Cache, nil, nil, nil, env.Clock, env.IDs), gated
}

func TestManager_ReadDuringSaveDoesNotCacheOldArticle(t *testing.T) {
	m, gated := newGatedManager(t)
	ctx := context.Background()

	id := createArticle(t, m, func(v *cms.ArticleVersion) { v.SetText("hello") }).ArticleID()

	gated.armed.Store(true)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := m.GetArticle(ctx, id); err != nil {
			t.Errorf("GetArticle() error = %v", err)
		}
	}()
	<-gated.reached

	if _, err := m.Edit(ctx, id, func(v *cms.ArticleVersion) error {
		v.SetText("kittens")
		return nil
	}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	close(gated.release)
	wg.Wait()

	cur, err := m.GetArticleVersion(ctx, id, 0)
	if err != nil {
		t.Fatalf("GetArticleVersion() error = %v", err)
	}
	if cur.VersionNumber() != 2 || mustText(t, cur) != "kittens" {
		t.Errorf("current = version %d %q, want version 2 %q", cur.VersionNumber(), mustText(t, cur), "kittens")
	}
}

func TestManager_LookupDuringSaveDoesNotCacheReleasedAddress(t *testing.T) {
	m, gated := newGatedManager(t)
	ctx := context.Background()

	id := createArticle(t, m, func(v *cms.ArticleVersion) { v.SetAddresses("news") }).ArticleID()

	gated.armed.Store(true)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, _, err := m.LookUpAddress(ctx, "news"); err != nil {
			t.Errorf("LookUpAddress() error = %v", err)
		}
	}()
	<-gated.reached

	if _, err := m.Edit(ctx, id, func(v *cms.ArticleVersion) error {
		v.SetAddresses("archive")
		return nil
	}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	close(gated.release)
	wg.Wait()

	if got, ok, err := m.LookUpAddress(ctx, "news"); err != nil || ok {
		t.Errorf("LookUpAddress(news) = %q, %v, %v; want released", got, ok, err)
	}
}
