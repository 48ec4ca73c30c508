// Package transfer moves the whole article corpus in and out of a portable
// CSV file. Each row carries a JSON payload; file bytes travel inline.
package transfer

import (
	"bytes"
	"cmp"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"cms-go/internal/cms"
	"cms-go/internal/model"
)

const (
	kindArticle = "article"
	kindVersion = "version"
)

var header = []string{"kind", "article_id", "version_number", "payload"}

// AccountMapper translates an account id from the exporting system into
// one known to the importing system.
type AccountMapper func(ctx context.Context, accountID string) (string, error)

// IdentityMapper keeps account ids unchanged.
func IdentityMapper(_ context.Context, accountID string) (string, error) {
	return accountID, nil
}

// Stats summarizes a transfer.
type Stats struct {
	Articles int
	Versions int
	Files    int
	// Relinked counts articles that needed an extra version to restore
	// parent links pointing forward in the file.
	Relinked int
}

type articlePayload struct {
	ID                   string    `json:"id"`
	CurrentVersionNumber int       `json:"current_version_number"`
	AuthorAccountID      string    `json:"author_account_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

type versionPayload struct {
	model.Version
	Text *string `json:"text,omitempty"`
	File []byte  `json:"file,omitempty"` // base64 in JSON
}

// hasFile reports whether the version referenced a file. An empty file
// encodes as no bytes at all, so the exported file id decides.
func (p *versionPayload) hasFile() bool {
	return p.FileID != 0
}

// Transfer exports and imports through a Manager.
type Transfer struct {
	manager *cms.Manager
	logger  cms.Logger
}

// New creates a Transfer. A nil logger discards log output.
func New(manager *cms.Manager, logger cms.Logger) *Transfer {
	if logger == nil {
		logger = cms.NewNopLogger()
	}
	return &Transfer{manager: manager, logger: logger}
}

// Export writes every article and all of its versions to w, articles in
// creation order and versions oldest first.
func (t *Transfer) Export(ctx context.Context, w io.Writer) (*Stats, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	ids, err := t.manager.ArticleIDs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := t.manager.GetArticle(ctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			// deleted since the id list was read
			continue
		}
		if err := writeRow(cw, kindArticle, a.ID, a.CurrentVersionNumber, articlePayload{
			ID:                   a.ID,
			CurrentVersionNumber: a.CurrentVersionNumber,
			AuthorAccountID:      a.AuthorAccountID,
			CreatedAt:            a.CreatedAt,
		}); err != nil {
			return nil, err
		}
		stats.Articles++

		history, err := t.manager.History(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, v := range history {
			p := versionPayload{Version: v.Record()}
			if text, ok := v.Text(); ok {
				p.Text = &text
			}
			if v.FileID() != 0 {
				if p.File, err = t.readFile(ctx, v.FileID()); err != nil {
					return nil, fmt.Errorf("exporting version %d of %s: %w", v.VersionNumber(), id, err)
				}
				stats.Files++
			}
			if err := writeRow(cw, kindVersion, id, v.VersionNumber(), p); err != nil {
				return nil, err
			}
			stats.Versions++
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flushing export: %w", err)
	}
	t.logger.Info("export finished", "articles", stats.Articles, "versions", stats.Versions, "files", stats.Files)
	return stats, nil
}

func (t *Transfer) readFile(ctx context.Context, id int64) ([]byte, error) {
	rc, ok, err := t.manager.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &cms.NotFoundError{Kind: "file", ID: strconv.FormatInt(id, 10)}
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeRow(cw *csv.Writer, kind, articleID string, number int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", kind, articleID, err)
	}
	if err := cw.Write([]string{kind, articleID, strconv.Itoa(number), string(data)}); err != nil {
		return fmt.Errorf("writing %s %s: %w", kind, articleID, err)
	}
	return nil
}

// Import replays an export through the manager. Article ids, version
// numbers, publication dates, addresses and parent links are preserved.
// Versions are replayed in the order they were originally created, so a
// parent usually exists by the time a child names it; links that still
// point forward are restored in a second pass. Editor ids go through
// mapper.
func (t *Transfer) Import(ctx context.Context, r io.Reader, mapper AccountMapper) (*Stats, error) {
	if mapper == nil {
		mapper = IdentityMapper
	}

	articles, versions, err := readRows(r)
	if err != nil {
		return nil, err
	}

	replayOrder(versions)

	stats := &Stats{Articles: len(articles)}
	imported := make(map[string]bool, len(articles))
	applied := make(map[string][]string) // parents set on the latest imported version
	wanted := make(map[string][]string)  // parents that version asked for
	counts := make(map[string]int)

	for _, p := range versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var kept []string
		for _, parent := range p.ParentArticleIDs {
			if imported[parent] && parent != p.ArticleID {
				kept = append(kept, parent)
			}
		}
		if err := t.replay(ctx, p, kept, mapper); err != nil {
			return nil, fmt.Errorf("importing version %d of %s: %w", p.VersionNumber, p.ArticleID, err)
		}

		imported[p.ArticleID] = true
		applied[p.ArticleID] = kept
		wanted[p.ArticleID] = p.ParentArticleIDs
		counts[p.ArticleID]++
		stats.Versions++
		if p.hasFile() {
			stats.Files++
		}
	}

	for id, a := range articles {
		if counts[id] != a.CurrentVersionNumber {
			return nil, fmt.Errorf("article %s: expected %d versions, found %d", id, a.CurrentVersionNumber, counts[id])
		}
	}

	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		var parents []string
		for _, parent := range wanted[id] {
			if _, ok := articles[parent]; ok && parent != id {
				parents = append(parents, parent)
			} else {
				t.logger.Warn("dropping link to a parent missing from the import", "article", id, "parent", parent)
			}
		}
		slices.Sort(parents)
		if slices.Equal(parents, applied[id]) {
			continue
		}
		if err := t.relink(ctx, id, parents); err != nil {
			return nil, fmt.Errorf("restoring parents of %s: %w", id, err)
		}
		stats.Relinked++
	}

	t.logger.Info("import finished", "articles", stats.Articles, "versions", stats.Versions,
		"files", stats.Files, "relinked", stats.Relinked)
	return stats, nil
}

func (t *Transfer) replay(ctx context.Context, p *versionPayload, parents []string, mapper AccountMapper) error {
	var v *cms.ArticleVersion
	if p.VersionNumber == 1 {
		v = t.manager.NewArticleWithID(p.ArticleID)
	} else {
		// Unlock rather than NewArticleVersion: a locked version may be
		// followed by later ones in the history being replayed.
		var err error
		if v, err = t.manager.Unlock(ctx, p.ArticleID); err != nil {
			return err
		}
	}
	if v.VersionNumber() != p.VersionNumber {
		return fmt.Errorf("out of sequence: next version would be %d", v.VersionNumber())
	}

	editor := p.EditorAccountID
	if editor != "" {
		var err error
		if editor, err = mapper(ctx, editor); err != nil {
			return fmt.Errorf("mapping account %s: %w", p.EditorAccountID, err)
		}
	}

	v.SetTitle(p.Title)
	v.SetPublicationDate(p.PublicationDate)
	v.SetAddresses(p.Addresses...)
	v.SetPrimaryAddress(p.PrimaryAddress)
	v.SetParents(parents...)
	v.SetAllowChildren(p.AllowChildren)
	v.SetViewMode(cms.ViewMode(p.ViewMode))
	v.SetEditor(editor)
	v.SetReason(p.Reason)
	v.SetFilename(p.Filename)
	if p.Text != nil {
		v.SetText(*p.Text)
	} else {
		v.ClearText()
	}
	if p.hasFile() {
		v.SetFile(bytes.NewReader(p.File))
	} else {
		v.ClearFile()
	}
	return t.manager.SaveArticleVersion(ctx, v)
}

// relink saves one more version of an article carrying its full parent set.
func (t *Transfer) relink(ctx context.Context, id string, parents []string) error {
	cur, err := t.manager.GetArticleVersion(ctx, id, 0)
	if err != nil {
		return err
	}
	if cur == nil {
		return &cms.NotFoundError{Kind: "article", ID: id}
	}
	v, err := t.manager.Unlock(ctx, id)
	if err != nil {
		return err
	}
	v.SetViewMode(cur.ViewMode())
	v.SetParents(parents...)
	v.SetEditor(cur.EditorAccountID())
	v.SetReason("import: restore parent links")
	return t.manager.SaveArticleVersion(ctx, v)
}

// replayOrder sorts versions into the order they were created. Within an
// article the order always follows version numbers, even when clocks
// stepped backwards between saves.
func replayOrder(versions []*versionPayload) {
	rank := make(map[string]int)
	for _, p := range versions {
		if _, ok := rank[p.ArticleID]; !ok {
			rank[p.ArticleID] = len(rank)
		}
	}
	slices.SortStableFunc(versions, func(a, b *versionPayload) int {
		if c := cmp.Compare(rank[a.ArticleID], rank[b.ArticleID]); c != 0 {
			return c
		}
		return cmp.Compare(a.VersionNumber, b.VersionNumber)
	})

	effective := make(map[*versionPayload]time.Time, len(versions))
	last := make(map[string]time.Time)
	for _, p := range versions {
		at := p.CreatedAt
		if prev, ok := last[p.ArticleID]; ok && prev.After(at) {
			at = prev
		}
		last[p.ArticleID] = at
		effective[p] = at
	}
	slices.SortStableFunc(versions, func(a, b *versionPayload) int {
		return effective[a].Compare(effective[b])
	})
}

func readRows(r io.Reader) (map[string]*articlePayload, []*versionPayload, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	if !slices.Equal(first, header) {
		return nil, nil, fmt.Errorf("unexpected header %q", first)
	}

	articles := make(map[string]*articlePayload)
	var versions []*versionPayload
	seen := make(map[string]bool)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		kind, id, payload := row[0], row[1], []byte(row[3])
		number, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: invalid version number %q", line, row[2])
		}

		switch kind {
		case kindArticle:
			var a articlePayload
			if err := json.Unmarshal(payload, &a); err != nil {
				return nil, nil, fmt.Errorf("line %d: decoding article: %w", line, err)
			}
			if a.ID != id || a.CurrentVersionNumber != number {
				return nil, nil, fmt.Errorf("line %d: payload does not match columns", line)
			}
			if _, dup := articles[id]; dup {
				return nil, nil, fmt.Errorf("line %d: duplicate article %s", line, id)
			}
			articles[id] = &a
		case kindVersion:
			p := &versionPayload{}
			if err := json.Unmarshal(payload, p); err != nil {
				return nil, nil, fmt.Errorf("line %d: decoding version: %w", line, err)
			}
			if p.ArticleID != id || p.VersionNumber != number {
				return nil, nil, fmt.Errorf("line %d: payload does not match columns", line)
			}
			key := id + "@" + row[2]
			if seen[key] {
				return nil, nil, fmt.Errorf("line %d: duplicate version %d of %s", line, number, id)
			}
			seen[key] = true
			versions = append(versions, p)
		default:
			return nil, nil, fmt.Errorf("line %d: unknown row kind %q", line, kind)
		}
	}

	for _, p := range versions {
		if _, ok := articles[p.ArticleID]; !ok {
			return nil, nil, fmt.Errorf("version %d of %s has no article row", p.VersionNumber, p.ArticleID)
		}
	}
	return articles, versions, nil
}
