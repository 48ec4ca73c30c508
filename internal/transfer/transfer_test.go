package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"cms-go/internal/cms"
	"cms-go/internal/testutil"
)

func save(t *testing.T, m *cms.Manager, v *cms.ArticleVersion) *cms.ArticleVersion {
	t.Helper()
	if err := m.SaveArticleVersion(context.Background(), v); err != nil {
		t.Fatalf("SaveArticleVersion() error = %v", err)
	}
	return v
}

func edit(t *testing.T, m *cms.Manager, id string, fn func(v *cms.ArticleVersion)) *cms.ArticleVersion {
	t.Helper()
	v, err := m.Unlock(context.Background(), id)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	fn(v)
	return save(t, m, v)
}

// seedCorpus builds a small corpus with texts, files, addresses, a lock,
// a multi-parent child and a reparent.
func seedCorpus(t *testing.T, env *testutil.Env) {
	t.Helper()
	m := env.Manager
	tick := func() { env.Clock.Advance(time.Minute) }

	root := m.NewArticle()
	root.SetTitle("Home")
	root.SetAddresses("home", "index")
	root.SetText("welcome")
	root.SetEditor("alice")
	save(t, m, root)
	tick()

	docs := m.NewArticle()
	docs.SetTitle("Docs")
	docs.SetParents(root.ArticleID())
	docs.SetAddresses("docs")
	docs.SetEditor("bob")
	save(t, m, docs)
	tick()

	pdf := m.NewArticle()
	pdf.SetTitle("Manual")
	pdf.SetParents(root.ArticleID(), docs.ArticleID())
	pdf.SetFile(strings.NewReader("%PDF-1.7 manual"))
	pdf.SetFilename("manual.pdf")
	pdf.SetEditor("bob")
	save(t, m, pdf)
	tick()

	edit(t, m, root.ArticleID(), func(v *cms.ArticleVersion) {
		v.SetText("welcome back")
		v.SetAddresses("home")
		v.SetEditor("alice")
		v.SetViewMode(v.ViewMode().With(cms.ViewModeLocked, true))
		v.SetReason("lock the front page")
	})
	tick()

	edit(t, m, docs.ArticleID(), func(v *cms.ArticleVersion) {
		v.SetParents()
		v.SetTitle("Documentation")
		v.SetEditor("carol")
	})
	tick()

	edit(t, m, root.ArticleID(), func(v *cms.ArticleVersion) {
		v.SetEditor("alice")
		v.SetReason("unlock")
	})
}

type flatVersion struct {
	Number    int
	Title     string
	Text      string
	HasText   bool
	File      string
	Addresses []string
	Primary   string
	Parents   []string
	Mode      cms.ViewMode
	Editor    string
	Reason    string
	Filename  string
	Published time.Time
}

func flatten(t *testing.T, m *cms.Manager) map[string][]flatVersion {
	t.Helper()
	ctx := context.Background()

	ids, err := m.ArticleIDs(ctx)
	if err != nil {
		t.Fatalf("ArticleIDs() error = %v", err)
	}
	out := make(map[string][]flatVersion, len(ids))
	for _, id := range ids {
		history, err := m.History(ctx, id)
		if err != nil {
			t.Fatalf("History(%s) error = %v", id, err)
		}
		for _, v := range history {
			text, ok := v.Text()
			f := flatVersion{
				Number:    v.VersionNumber(),
				Title:     v.Title(),
				Text:      text,
				HasText:   ok,
				Addresses: v.Addresses(),
				Primary:   v.PrimaryAddress(),
				Parents:   v.ParentArticleIDs(),
				Mode:      v.ViewMode(),
				Editor:    v.EditorAccountID(),
				Reason:    v.Reason(),
				Filename:  v.Filename(),
				Published: v.PublicationDate(),
			}
			if v.FileID() != 0 {
				rc, ok, err := m.GetFile(ctx, v.FileID())
				if err != nil || !ok {
					t.Fatalf("GetFile(%d) = %v, %v", v.FileID(), ok, err)
				}
				data, err := io.ReadAll(rc)
				rc.Close()
				if err != nil {
					t.Fatalf("reading file %d: %v", v.FileID(), err)
				}
				f.File = string(data)
			}
			out[id] = append(out[id], f)
		}
	}
	return out
}

func equalVersions(a, b flatVersion) bool {
	return a.Number == b.Number && a.Title == b.Title && a.Text == b.Text && a.HasText == b.HasText &&
		a.File == b.File && slices.Equal(a.Addresses, b.Addresses) && a.Primary == b.Primary &&
		slices.Equal(a.Parents, b.Parents) && a.Mode == b.Mode && a.Editor == b.Editor &&
		a.Reason == b.Reason && a.Filename == b.Filename && a.Published.Equal(b.Published)
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewTestEnv(t)
	seedCorpus(t, src)

	var buf bytes.Buffer
	exported, err := New(src.Manager, nil).Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if exported.Articles != 3 || exported.Versions != 6 || exported.Files != 1 {
		t.Errorf("Export() stats = %+v, want 3 articles, 6 versions, 1 file", exported)
	}
	if !strings.HasPrefix(buf.String(), "kind,article_id,version_number,payload\n") {
		t.Errorf("export starts with %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}

	dst := testutil.NewTestEnv(t)
	imported, err := New(dst.Manager, nil).Import(ctx, bytes.NewReader(buf.Bytes()), IdentityMapper)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if imported.Articles != 3 || imported.Versions != 6 || imported.Relinked != 0 {
		t.Errorf("Import() stats = %+v", imported)
	}

	want := flatten(t, src.Manager)
	got := flatten(t, dst.Manager)
	if len(got) != len(want) {
		t.Fatalf("imported %d articles, want %d", len(got), len(want))
	}
	for id, versions := range want {
		if len(got[id]) != len(versions) {
			t.Errorf("article %s: %d versions, want %d", id, len(got[id]), len(versions))
			continue
		}
		for i := range versions {
			if !equalVersions(got[id][i], versions[i]) {
				t.Errorf("article %s version %d:\n got %+v\nwant %+v", id, i+1, got[id][i], versions[i])
			}
		}
	}

	// derived state is rebuilt too
	home, _, err := dst.Manager.LookUpAddress(ctx, "home")
	if err != nil || home == "" {
		t.Fatalf("LookUpAddress(home) = %q, %v", home, err)
	}
	if _, ok, _ := dst.Manager.LookUpAddress(ctx, "index"); ok {
		t.Error("released address index is bound after import")
	}
	children, err := dst.Manager.Children(ctx, home)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 1 {
		t.Errorf("Children(home) = %v, want only the manual", children)
	}
	a, err := dst.Manager.GetArticle(ctx, home)
	if err != nil || a == nil {
		t.Fatalf("GetArticle(home) = %v, %v", a, err)
	}
	if a.AuthorAccountID != "alice" {
		t.Errorf("author = %q, want alice", a.AuthorAccountID)
	}
}

func TestExportImport_EmptyFile(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewTestEnv(t)
	v := src.Manager.NewArticle()
	v.SetTitle("Blank")
	v.SetFile(strings.NewReader(""))
	v.SetFilename("blank.txt")
	save(t, src.Manager, v)
	if v.FileID() == 0 {
		t.Fatal("empty file not stored")
	}

	var buf bytes.Buffer
	exported, err := New(src.Manager, nil).Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if exported.Files != 1 {
		t.Errorf("Export() files = %d, want 1", exported.Files)
	}

	dst := testutil.NewTestEnv(t)
	imported, err := New(dst.Manager, nil).Import(ctx, &buf, IdentityMapper)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if imported.Files != 1 {
		t.Errorf("Import() files = %d, want 1", imported.Files)
	}

	got, err := dst.Manager.GetArticleVersion(ctx, v.ArticleID(), 0)
	if err != nil || got == nil {
		t.Fatalf("GetArticleVersion() = %v, %v", got, err)
	}
	if got.FileID() == 0 {
		t.Fatal("imported version lost its file")
	}
	if got.ViewMode() != v.ViewMode() {
		t.Errorf("ViewMode() = %v, want %v", got.ViewMode(), v.ViewMode())
	}
	rc, ok, err := dst.Manager.GetFile(ctx, got.FileID())
	if err != nil || !ok {
		t.Fatalf("GetFile() = %v, %v", ok, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("file = %q, want empty", data)
	}
}

func TestImport_MapsAccounts(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewTestEnv(t)
	seedCorpus(t, src)

	var buf bytes.Buffer
	if _, err := New(src.Manager, nil).Export(ctx, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	mapper := func(_ context.Context, id string) (string, error) {
		return "acct:" + id, nil
	}
	dst := testutil.NewTestEnv(t)
	if _, err := New(dst.Manager, nil).Import(ctx, &buf, mapper); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	for id, versions := range flatten(t, dst.Manager) {
		for _, v := range versions {
			if !strings.HasPrefix(v.Editor, "acct:") {
				t.Errorf("article %s version %d editor = %q, want mapped", id, v.Number, v.Editor)
			}
		}
	}

	failing := func(context.Context, string) (string, error) {
		return "", errors.New("unknown account")
	}
	var again bytes.Buffer
	if _, err := New(src.Manager, nil).Export(ctx, &again); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := New(testutil.NewTestEnv(t).Manager, nil).Import(ctx, &again, failing); err == nil {
		t.Error("Import() succeeded although the mapper failed")
	}
}

func TestImport_ForwardParentIsRelinked(t *testing.T) {
	ctx := context.Background()
	// every save at the same instant, so replay falls back to file order
	src := testutil.NewTestEnv(t)
	m := src.Manager

	a := save(t, m, m.NewArticle())
	b := save(t, m, m.NewArticle())
	edit(t, m, a.ArticleID(), func(v *cms.ArticleVersion) { v.SetParents(b.ArticleID()) })

	var buf bytes.Buffer
	if _, err := New(m, nil).Export(ctx, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst := testutil.NewTestEnv(t)
	stats, err := New(dst.Manager, nil).Import(ctx, &buf, nil)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if stats.Relinked != 1 {
		t.Errorf("Relinked = %d, want 1", stats.Relinked)
	}
	parents, err := dst.Manager.Parents(ctx, a.ArticleID())
	if err != nil {
		t.Fatalf("Parents() error = %v", err)
	}
	if !slices.Equal(parents, []string{b.ArticleID()}) {
		t.Errorf("Parents(a) = %v, want [%s]", parents, b.ArticleID())
	}
}

func TestImport_DropsDeletedParents(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewTestEnv(t)
	m := src.Manager

	parent := save(t, m, m.NewArticle())
	child := m.NewArticle()
	child.SetParents(parent.ArticleID())
	save(t, m, child)
	if err := m.DeleteArticle(ctx, parent.ArticleID()); err != nil {
		t.Fatalf("DeleteArticle() error = %v", err)
	}

	var buf bytes.Buffer
	if _, err := New(m, nil).Export(ctx, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	dst := testutil.NewTestEnv(t)
	stats, err := New(dst.Manager, nil).Import(ctx, &buf, nil)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if stats.Articles != 1 || stats.Relinked != 0 {
		t.Errorf("Import() stats = %+v", stats)
	}
}

func TestImport_RejectsMalformedInput(t *testing.T) {
	const head = "kind,article_id,version_number,payload\n"
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong header", "a,b,c,d\n"},
		{"unknown kind", head + "comment,x,1,{}\n"},
		{"bad number", head + "version,x,one,{}\n"},
		{"bad json", head + "article,x,1,{\n"},
		{"mismatched payload", head + `article,x,1,"{""id"":""y"",""current_version_number"":1}"` + "\n"},
		{"version without article", head + `version,x,1,"{""article_id"":""x"",""version_number"":1}"` + "\n"},
		{"missing versions", head + `article,x,2,"{""id"":""x"",""current_version_number"":2}"` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewTestEnv(t)
			if _, err := New(env.Manager, nil).Import(context.Background(), strings.NewReader(tt.input), nil); err == nil {
				t.Error("Import() error = nil, want an error")
			}
		})
	}
}

func TestExport_Empty(t *testing.T) {
	env := testutil.NewTestEnv(t)
	var buf bytes.Buffer
	stats, err := New(env.Manager, nil).Export(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if stats.Articles != 0 || buf.String() != "kind,article_id,version_number,payload\n" {
		t.Errorf("Export() = %+v, %q", stats, buf.String())
	}
}
