package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"cms-go/internal/cms"
	"cms-go/internal/database/migrations"
	"cms-go/internal/model"
)

var _ cms.Store = (*SQLStore)(nil)

// SQLStore implements cms.Store on SQLite or PostgreSQL through sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open connection. The driver name selects the dialect.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB exposes the underlying pool for migrations and tests.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

// Dialect returns the migration dialect of the connection.
func (s *SQLStore) Dialect() string {
	if s.db.DriverName() == "postgres" {
		return migrations.DialectPostgres
	}
	return migrations.DialectSQLite
}

// Migrate brings the schema to the latest version.
func (s *SQLStore) Migrate() error {
	return migrations.MigrateUp(s.db.DB, s.Dialect())
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.Dialect())
}

// BackupTo writes a consistent copy of a SQLite database to destPath.
func (s *SQLStore) BackupTo(ctx context.Context, destPath string) error {
	if s.Dialect() != migrations.DialectSQLite {
		return fmt.Errorf("backup is only supported for sqlite, use pg_dump for %s", s.Dialect())
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, s.executor(ctx), dest, s.db.Rebind(query), args...)
}

func (s *SQLStore) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.executor(ctx), dest, s.db.Rebind(query), args...)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.executor(ctx).ExecContext(ctx, s.db.Rebind(query), args...)
}

// Text pool

func textDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *SQLStore) SetText(ctx context.Context, text string, create bool) (int64, bool, error) {
	digest := textDigest(text)
	if create {
		_, err := s.exec(ctx, `INSERT INTO texts (digest, body) VALUES (?, ?) ON CONFLICT (digest) DO NOTHING`, digest, text)
		if err != nil {
			return 0, false, fmt.Errorf("inserting text: %w", err)
		}
	}

	var id int64
	err := s.get(ctx, &id, `SELECT id FROM texts WHERE digest = ?`, digest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("finding text by digest: %w", err)
	}
	return id, true, nil
}

func (s *SQLStore) GetText(ctx context.Context, id int64) (string, bool, error) {
	var body string
	err := s.get(ctx, &body, `SELECT body FROM texts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting text %d: %w", id, err)
	}
	return body, true, nil
}

// File index

func (s *SQLStore) FindFileByDigest(ctx context.Context, digest string) (*model.File, error) {
	var f model.File
	err := s.get(ctx, &f, `SELECT id, digest, size, encrypted, created_at FROM files WHERE digest = ?`, digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file by digest: %w", err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func (s *SQLStore) FindFileByID(ctx context.Context, id int64) (*model.File, error) {
	var f model.File
	err := s.get(ctx, &f, `SELECT id, digest, size, encrypted, created_at FROM files WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file %d: %w", id, err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func (s *SQLStore) InsertFile(ctx context.Context, f *model.File) (*model.File, error) {
	_, err := s.exec(ctx, `INSERT INTO files (digest, size, encrypted, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (digest) DO NOTHING`,
		f.Digest, f.Size, f.Encrypted, f.CreatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("inserting file: %w", err)
	}
	got, err := s.FindFileByDigest(ctx, f.Digest)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, fmt.Errorf("file %s missing after insert", f.Digest)
	}
	return got, nil
}

// Addresses

func (s *SQLStore) FindAddress(ctx context.Context, address string) (string, bool, error) {
	var articleID string
	err := s.get(ctx, &articleID, `SELECT article_id FROM addresses WHERE address = ?`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("finding address %q: %w", address, err)
	}
	return articleID, true, nil
}

func (s *SQLStore) AddressesForArticle(ctx context.Context, articleID string) ([]string, error) {
	var out []string
	if err := s.sel(ctx, &out, `SELECT address FROM addresses WHERE article_id = ? ORDER BY address`, articleID); err != nil {
		return nil, fmt.Errorf("listing addresses of %s: %w", articleID, err)
	}
	return out, nil
}

// ClaimAddress inserts with ON CONFLICT DO NOTHING so that a lost claim does
// not abort a PostgreSQL transaction.
func (s *SQLStore) ClaimAddress(ctx context.Context, address, articleID string) error {
	res, err := s.exec(ctx, `INSERT INTO addresses (address, article_id) VALUES (?, ?) ON CONFLICT (address) DO NOTHING`,
		address, articleID)
	if err != nil {
		return fmt.Errorf("claiming address %q: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claiming address %q: %w", address, err)
	}
	if n == 1 {
		return nil
	}

	holder, ok, err := s.FindAddress(ctx, address)
	if err != nil {
		return err
	}
	if ok && holder == articleID {
		return nil
	}
	return cms.ErrDuplicate
}

func (s *SQLStore) ReleaseAddress(ctx context.Context, address string) error {
	if _, err := s.exec(ctx, `DELETE FROM addresses WHERE address = ?`, address); err != nil {
		return fmt.Errorf("releasing address %q: %w", address, err)
	}
	return nil
}

// Ancestry

func (s *SQLStore) ids(ctx context.Context, what, query, arg string) ([]string, error) {
	var out []string
	if err := s.sel(ctx, &out, query, arg); err != nil {
		return nil, fmt.Errorf("listing %s of %s: %w", what, arg, err)
	}
	return out, nil
}

func (s *SQLStore) Parents(ctx context.Context, articleID string) ([]string, error) {
	return s.ids(ctx, "parents", `SELECT parent_id FROM article_parents WHERE article_id = ? ORDER BY parent_id`, articleID)
}

func (s *SQLStore) Children(ctx context.Context, articleID string) ([]string, error) {
	return s.ids(ctx, "children", `SELECT article_id FROM article_parents WHERE parent_id = ? ORDER BY article_id`, articleID)
}

func (s *SQLStore) Ancestors(ctx context.Context, articleID string) ([]string, error) {
	return s.ids(ctx, "ancestors", `SELECT ancestor_id FROM article_ancestry WHERE descendant_id = ? ORDER BY ancestor_id`, articleID)
}

func (s *SQLStore) Descendants(ctx context.Context, articleID string) ([]string, error) {
	return s.ids(ctx, "descendants", `SELECT descendant_id FROM article_ancestry WHERE ancestor_id = ? ORDER BY descendant_id`, articleID)
}

func (s *SQLStore) SetParents(ctx context.Context, articleID string, parentIDs []string) error {
	if _, err := s.exec(ctx, `DELETE FROM article_parents WHERE article_id = ?`, articleID); err != nil {
		return fmt.Errorf("clearing parents of %s: %w", articleID, err)
	}
	for _, p := range parentIDs {
		if _, err := s.exec(ctx, `INSERT INTO article_parents (article_id, parent_id) VALUES (?, ?)`, articleID, p); err != nil {
			return fmt.Errorf("adding parent %s to %s: %w", p, articleID, err)
		}
	}
	return nil
}

func (s *SQLStore) ReplaceAncestors(ctx context.Context, articleID string, ancestorIDs []string) error {
	if _, err := s.exec(ctx, `DELETE FROM article_ancestry WHERE descendant_id = ?`, articleID); err != nil {
		return fmt.Errorf("clearing ancestors of %s: %w", articleID, err)
	}
	for _, a := range ancestorIDs {
		if _, err := s.exec(ctx, `INSERT INTO article_ancestry (ancestor_id, descendant_id) VALUES (?, ?)`, a, articleID); err != nil {
			return fmt.Errorf("adding ancestor %s to %s: %w", a, articleID, err)
		}
	}
	return nil
}

// Articles

func (s *SQLStore) findArticle(ctx context.Context, id, suffix string) (*model.Article, error) {
	var a model.Article
	err := s.get(ctx, &a, `SELECT `+articleColumns+` FROM articles WHERE id = ?`+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding article %s: %w", id, err)
	}
	return normalizeArticle(&a), nil
}

func (s *SQLStore) FindArticle(ctx context.Context, id string) (*model.Article, error) {
	return s.findArticle(ctx, id, "")
}

// FindArticleForUpdate locks the row on PostgreSQL. SQLite serializes
// writers on its single connection, so no lock clause is needed there.
func (s *SQLStore) FindArticleForUpdate(ctx context.Context, id string) (*model.Article, error) {
	if s.Dialect() == migrations.DialectPostgres && txFromContext(ctx) != nil {
		return s.findArticle(ctx, id, " FOR UPDATE")
	}
	return s.findArticle(ctx, id, "")
}

func (s *SQLStore) InsertArticle(ctx context.Context, a *model.Article) error {
	_, err := s.exec(ctx, `INSERT INTO articles (`+articleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CurrentVersionNumber, a.Title, a.PublicationDate.UTC(), a.AuthorAccountID,
		a.PrimaryAddress, a.ViewMode, a.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return cms.ErrDuplicate
		}
		return fmt.Errorf("inserting article %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) UpdateArticle(ctx context.Context, a *model.Article, expectedVersion int) (bool, error) {
	res, err := s.exec(ctx, `UPDATE articles
		SET current_version_number = ?, title = ?, publication_date = ?, primary_address = ?, view_mode = ?
		WHERE id = ? AND current_version_number = ?`,
		a.CurrentVersionNumber, a.Title, a.PublicationDate.UTC(), a.PrimaryAddress, a.ViewMode,
		a.ID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("updating article %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating article %s: %w", a.ID, err)
	}
	return n == 1, nil
}

func (s *SQLStore) DeleteArticle(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, q := range []string{
			`DELETE FROM article_ancestry WHERE ancestor_id = ? OR descendant_id = ?`,
			`DELETE FROM article_parents WHERE article_id = ? OR parent_id = ?`,
		} {
			if _, err := s.exec(ctx, q, id, id); err != nil {
				return fmt.Errorf("deleting edges of %s: %w", id, err)
			}
		}
		for _, q := range []string{
			`DELETE FROM addresses WHERE article_id = ?`,
			`DELETE FROM article_versions WHERE article_id = ?`,
			`DELETE FROM articles WHERE id = ?`,
		} {
			if _, err := s.exec(ctx, q, id); err != nil {
				return fmt.Errorf("deleting article %s: %w", id, err)
			}
		}
		return nil
	})
}

func sortColumn(alias string, key cms.SortKey) string {
	switch key {
	case cms.SortTitle:
		return alias + ".title"
	case cms.SortCreated:
		return alias + ".created_at"
	default:
		return alias + ".publication_date"
	}
}

func orderBy(alias string, key cms.SortKey, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, %s.id %s", sortColumn(alias, key), dir, alias, dir)
}

func (s *SQLStore) ListArticles(ctx context.Context, q cms.ArticleQuery) ([]*model.Article, error) {
	var sb strings.Builder
	var args []any
	sb.WriteString(`SELECT ` + qualified("a", articleColumns) + ` FROM articles a`)
	switch {
	case q.ParentID != "" && q.Descendants:
		sb.WriteString(` JOIN article_ancestry x ON x.descendant_id = a.id WHERE x.ancestor_id = ?`)
		args = append(args, q.ParentID)
	case q.ParentID != "":
		sb.WriteString(` JOIN article_parents p ON p.article_id = a.id WHERE p.parent_id = ?`)
		args = append(args, q.ParentID)
	}
	sb.WriteString(orderBy("a", q.Sort, q.Descending))
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, q.Limit, q.Offset)

	var rows []*model.Article
	if err := s.sel(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	for _, a := range rows {
		normalizeArticle(a)
	}
	return rows, nil
}

func (s *SQLStore) ListArticleIDs(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.sel(ctx, &out, `SELECT id FROM articles ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("listing article ids: %w", err)
	}
	return out, nil
}

// Versions

func (s *SQLStore) InsertVersion(ctx context.Context, v *model.Version) error {
	_, err := s.exec(ctx, `INSERT INTO article_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, versionArgs(v)...)
	if err != nil {
		if isUniqueViolation(err) {
			return cms.ErrDuplicate
		}
		return fmt.Errorf("inserting version %d of %s: %w", v.VersionNumber, v.ArticleID, err)
	}
	return nil
}

func (s *SQLStore) findVersion(ctx context.Context, where string, args ...any) (*model.Version, error) {
	var row versionRow
	err := s.get(ctx, &row, `SELECT `+versionColumns+` FROM article_versions WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *SQLStore) FindVersion(ctx context.Context, id string) (*model.Version, error) {
	v, err := s.findVersion(ctx, `id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("finding version %s: %w", id, err)
	}
	return v, nil
}

func (s *SQLStore) FindVersionByNumber(ctx context.Context, articleID string, number int) (*model.Version, error) {
	v, err := s.findVersion(ctx, `article_id = ? AND version_number = ?`, articleID, number)
	if err != nil {
		return nil, fmt.Errorf("finding version %d of %s: %w", number, articleID, err)
	}
	return v, nil
}

func (s *SQLStore) selectVersions(ctx context.Context, query string, args ...any) ([]*model.Version, error) {
	var rows []versionRow
	if err := s.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*model.Version, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *SQLStore) ListVersionsForArticle(ctx context.Context, articleID string) ([]*model.Version, error) {
	vs, err := s.selectVersions(ctx, `SELECT `+versionColumns+` FROM article_versions
		WHERE article_id = ? ORDER BY version_number`, articleID)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", articleID, err)
	}
	return vs, nil
}

func (s *SQLStore) ListVersions(ctx context.Context, q cms.VersionQuery) ([]*model.Version, error) {
	query := `SELECT ` + qualified("v", versionColumns) + ` FROM article_versions v` +
		orderBy("v", q.Sort, q.Descending) + ` LIMIT ? OFFSET ?`
	vs, err := s.selectVersions(ctx, query, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return vs, nil
}
