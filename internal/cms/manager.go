package cms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"cms-go/internal/cache"
	"cms-go/internal/events"
	"cms-go/internal/model"
)

// maxEditAttempts bounds the retries of Edit on version conflicts.
const maxEditAttempts = 5

// Manager is the orchestration layer over the store, the resource pools,
// the address registry and the ancestry index.
type Manager struct {
	store   Store
	files   *FilePool
	events  events.Publisher
	metrics Metrics
	logger  Logger
	clock   Clock
	idgen   IDGenerator

	articles  *cache.Typed[model.Article]
	versions  *cache.Typed[model.Version]
	addresses *cache.Typed[string]
	texts     *cache.Typed[string]
	fills     fillGuard
}

// NewManager creates a Manager with the provided dependencies. A nil cache,
// publisher, metrics sink or logger disables that concern; a nil clock or
// id generator falls back to the real ones.
func NewManager(store Store, files *FilePool, c cache.Cache, publisher events.Publisher, metrics Metrics, logger Logger, clock Clock, idgen IDGenerator) *Manager {
	if c == nil {
		c = cache.Nop{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &Manager{
		store:     store,
		files:     files,
		events:    publisher,
		metrics:   metrics,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		articles:  cache.NewTyped[model.Article](c, 0),
		versions:  cache.NewTyped[model.Version](c, 0),
		addresses: cache.NewTyped[string](c, 0),
		texts:     cache.NewTyped[string](c, 0),
	}
}

// stamp drops precision below a microsecond so times survive every backend.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NewArticle returns an unsaved first version of a new article. The
// article id is assigned when it is saved.
func (m *Manager) NewArticle() *ArticleVersion {
	return &ArticleVersion{
		rec: model.Version{
			VersionNumber:   1,
			PublicationDate: stamp(m.clock.Now()),
			AllowChildren:   true,
			ViewMode:        int64(ViewModeViewable),
		},
		newArticle: true,
	}
}

// NewArticleWithID is NewArticle with a caller-chosen article id, used when
// importing a corpus.
func (m *Manager) NewArticleWithID(id string) *ArticleVersion {
	v := m.NewArticle()
	v.rec.ArticleID = id
	return v
}

// NewArticleVersion returns an unsaved version following the current version
// of an article. Every field, including the text and file references, is
// carried forward until changed. Returns ErrLocked if the current version
// is locked.
func (m *Manager) NewArticleVersion(ctx context.Context, articleID string) (*ArticleVersion, error) {
	v, err := m.nextVersion(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if v.ViewMode().Has(ViewModeLocked) {
		return nil, ErrLocked
	}
	return v, nil
}

// Unlock returns an unsaved version of a locked article with the lock
// cleared. Saving it lifts the lock.
func (m *Manager) Unlock(ctx context.Context, articleID string) (*ArticleVersion, error) {
	v, err := m.nextVersion(ctx, articleID)
	if err != nil {
		return nil, err
	}
	v.SetViewMode(v.ViewMode().With(ViewModeLocked, false))
	return v, nil
}

func (m *Manager) nextVersion(ctx context.Context, articleID string) (*ArticleVersion, error) {
	a, err := m.store.FindArticle(ctx, articleID)
	if err != nil {
		return nil, storageErr("find article", err)
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "article", ID: articleID}
	}
	cur, err := m.loadVersion(ctx, articleID, a.CurrentVersionNumber)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, &NotFoundError{Kind: "version", ID: fmt.Sprintf("%s@%d", articleID, a.CurrentVersionNumber)}
	}

	// Parents come from the live edges: a deleted parent no longer appears
	// there even though older versions still name it.
	parents, err := m.store.Parents(ctx, articleID)
	if err != nil {
		return nil, storageErr("find parents", err)
	}

	rec := *cur
	rec.ID = ""
	rec.VersionNumber = cur.VersionNumber + 1
	rec.Addresses = slices.Clone(cur.Addresses)
	rec.ParentArticleIDs = parents
	rec.EditorAccountID = ""
	rec.Reason = ""
	rec.CreatedAt = time.Time{}

	v := &ArticleVersion{rec: rec}
	if rec.TextID != 0 {
		text, ok, err := m.GetText(ctx, rec.TextID)
		if err != nil {
			return nil, err
		}
		v.text, v.hasText = text, ok
	}
	return v, nil
}

// SaveArticleVersion persists v and makes it the current version of its
// article. Pool writes, address claims, ancestry updates, the version row
// and the article row commit together or not at all. A concurrent writer
// that saved the same version number first yields *VersionConflictError.
func (m *Manager) SaveArticleVersion(ctx context.Context, v *ArticleVersion) error {
	if v.saved {
		return &ValidationError{Field: "version", Reason: "already saved; start a new version instead"}
	}
	start := m.clock.Now()

	released, err := m.save(ctx, v)
	if err != nil {
		err = storageErr("save article version", err)
		m.metrics.SaveRefused(refusalReason(err))
		m.logger.Warn("save refused", "article", v.rec.ArticleID, "version", v.rec.VersionNumber, "reason", refusalReason(err), "error", err)
		return err
	}

	rec := &v.rec
	m.invalidateArticle(ctx, rec.ArticleID, append(released, rec.Addresses...))
	if err := m.versions.Set(ctx, VersionKey{rec.ArticleID, rec.VersionNumber}, rec); err != nil {
		m.logger.Debug("cache write failed", "key", VersionKey{rec.ArticleID, rec.VersionNumber}.CacheKey(), "error", err)
	}

	m.metrics.VersionSaved(v.newArticle, m.clock.Now().Sub(start))
	if v.newArticle {
		m.logger.Info("article created", "article", rec.ArticleID)
	}
	m.logger.Info("version saved", "article", rec.ArticleID, "version", rec.VersionNumber)
	for _, a := range released {
		m.logger.Info("address released", "address", a, "article", rec.ArticleID)
	}

	evt := events.VersionSaved{
		ArticleID:       rec.ArticleID,
		VersionID:       rec.ID,
		VersionNumber:   rec.VersionNumber,
		Title:           rec.Title,
		PrimaryAddress:  rec.PrimaryAddress,
		EditorAccountID: rec.EditorAccountID,
		NewArticle:      v.newArticle,
		SavedAt:         rec.CreatedAt,
	}
	if err := m.events.Publish(ctx, evt); err != nil {
		m.logger.Warn("publishing version event failed", "article", rec.ArticleID, "version", rec.VersionNumber, "error", err)
	}
	return nil
}

// save runs the save steps and returns the addresses it released. On
// success v holds the persisted record and is frozen.
func (m *Manager) save(ctx context.Context, v *ArticleVersion) ([]string, error) {
	rec := v.Record()
	if rec.ArticleID == "" {
		rec.ArticleID = m.idgen.New()
	}

	addrs, err := NormalizeAddresses(rec.Addresses)
	if err != nil {
		return nil, err
	}
	rec.Addresses = addrs
	if rec.PrimaryAddress, err = resolvePrimaryAddress(rec.PrimaryAddress, addrs); err != nil {
		return nil, err
	}
	slices.Sort(rec.ParentArticleIDs)
	rec.ParentArticleIDs = slices.Compact(rec.ParentArticleIDs)
	rec.PublicationDate = stamp(rec.PublicationDate)
	rec.EditableByOthers = ViewMode(rec.ViewMode).Has(ViewModeEditableByOthers)
	if err := validateRecord(&rec); err != nil {
		return nil, err
	}

	// Refuse known conflicts before anything is written to the pools.
	if err := m.preflight(ctx, &rec); err != nil {
		return nil, err
	}

	var released []string
	now := stamp(m.clock.Now())
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		cur, err := m.store.FindArticleForUpdate(ctx, rec.ArticleID)
		if err != nil {
			return err
		}
		switch {
		case v.newArticle && cur != nil:
			return &VersionConflictError{ArticleID: rec.ArticleID, VersionNumber: rec.VersionNumber}
		case !v.newArticle && cur == nil:
			return &NotFoundError{Kind: "article", ID: rec.ArticleID}
		case !v.newArticle && cur.CurrentVersionNumber != rec.VersionNumber-1:
			return &VersionConflictError{ArticleID: rec.ArticleID, VersionNumber: rec.VersionNumber}
		}

		if err := m.storeResources(ctx, v, &rec); err != nil {
			return err
		}

		if released, err = m.updateAddresses(ctx, &rec); err != nil {
			return err
		}

		if err := m.updateAncestry(ctx, &rec); err != nil {
			return err
		}

		// Version row before the article row: a crash in between leaves an
		// unreferenced version rather than an article pointing at nothing.
		rec.ID = m.idgen.New()
		rec.CreatedAt = now
		if err := m.store.InsertVersion(ctx, &rec); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return &VersionConflictError{ArticleID: rec.ArticleID, VersionNumber: rec.VersionNumber}
			}
			return err
		}

		article := &model.Article{
			ID:                   rec.ArticleID,
			CurrentVersionNumber: rec.VersionNumber,
			Title:                rec.Title,
			PublicationDate:      rec.PublicationDate,
			PrimaryAddress:       rec.PrimaryAddress,
			ViewMode:             rec.ViewMode,
		}
		if v.newArticle {
			article.AuthorAccountID = rec.EditorAccountID
			article.CreatedAt = now
			if err := m.store.InsertArticle(ctx, article); err != nil {
				if errors.Is(err, ErrDuplicate) {
					return &VersionConflictError{ArticleID: rec.ArticleID, VersionNumber: rec.VersionNumber}
				}
				return err
			}
			return nil
		}

		article.AuthorAccountID = cur.AuthorAccountID
		article.CreatedAt = cur.CreatedAt
		ok, err := m.store.UpdateArticle(ctx, article, rec.VersionNumber-1)
		if err != nil {
			return err
		}
		if !ok {
			return &VersionConflictError{ArticleID: rec.ArticleID, VersionNumber: rec.VersionNumber}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.rec = rec
	v.saved = true
	v.textSet, v.fileSet, v.parentSet = false, false, false
	v.file = nil
	return released, nil
}

func (m *Manager) preflight(ctx context.Context, rec *model.Version) error {
	for _, a := range rec.Addresses {
		holder, ok, err := m.store.FindAddress(ctx, a)
		if err != nil {
			return err
		}
		if ok && holder != rec.ArticleID {
			return &AddressConflictError{Address: a, ArticleID: rec.ArticleID, HeldBy: holder}
		}
	}
	if len(rec.ParentArticleIDs) == 0 {
		return nil
	}
	previous, err := m.store.Parents(ctx, rec.ArticleID)
	if err != nil {
		return err
	}
	return m.checkParents(ctx, rec.ArticleID, rec.ParentArticleIDs, previous)
}

// storeResources writes pending text and file changes to the pools and
// points rec at them. Untouched references are carried forward as-is.
func (m *Manager) storeResources(ctx context.Context, v *ArticleVersion, rec *model.Version) error {
	if v.textSet {
		rec.TextID = 0
		if v.hasText {
			id, err := m.putText(ctx, v.text)
			if err != nil {
				return err
			}
			rec.TextID = id
		}
	}
	if v.fileSet {
		rec.FileID = 0
		if v.file != nil {
			if m.files == nil {
				return fmt.Errorf("no file pool configured")
			}
			id, _, err := m.files.SetFile(ctx, v.file, true)
			if err != nil {
				return err
			}
			rec.FileID = id
		}
	}
	rec.ViewMode = int64(ViewMode(rec.ViewMode).With(ViewModeFile, rec.FileID != 0))
	return nil
}

func (m *Manager) putText(ctx context.Context, text string) (int64, error) {
	if id, ok, err := m.store.SetText(ctx, text, false); err != nil {
		return 0, err
	} else if ok {
		m.metrics.PoolWrite("text", true)
		return id, nil
	}
	id, _, err := m.store.SetText(ctx, text, true)
	if err != nil {
		return 0, err
	}
	m.metrics.PoolWrite("text", false)
	return id, nil
}

// updateAddresses claims the addresses rec gains and releases the ones it
// dropped. It returns the released addresses.
func (m *Manager) updateAddresses(ctx context.Context, rec *model.Version) ([]string, error) {
	previous, err := m.store.AddressesForArticle(ctx, rec.ArticleID)
	if err != nil {
		return nil, err
	}
	for _, a := range rec.Addresses {
		if slices.Contains(previous, a) {
			continue
		}
		if err := m.store.ClaimAddress(ctx, a, rec.ArticleID); err != nil {
			if errors.Is(err, ErrDuplicate) {
				holder, _, _ := m.store.FindAddress(ctx, a)
				return nil, &AddressConflictError{Address: a, ArticleID: rec.ArticleID, HeldBy: holder}
			}
			return nil, err
		}
	}
	var released []string
	for _, a := range previous {
		if slices.Contains(rec.Addresses, a) {
			continue
		}
		if err := m.store.ReleaseAddress(ctx, a); err != nil {
			return nil, err
		}
		released = append(released, a)
	}
	return released, nil
}

func (m *Manager) updateAncestry(ctx context.Context, rec *model.Version) error {
	previous, err := m.store.Parents(ctx, rec.ArticleID)
	if err != nil {
		return err
	}
	if slices.Equal(previous, rec.ParentArticleIDs) {
		return nil
	}
	if err := m.checkParents(ctx, rec.ArticleID, rec.ParentArticleIDs, previous); err != nil {
		return err
	}
	if err := m.store.SetParents(ctx, rec.ArticleID, rec.ParentArticleIDs); err != nil {
		return err
	}
	return rebuildAncestry(ctx, m.store, rec.ArticleID)
}

// Edit applies fn to a fresh version of an article and saves it, starting
// over from the new current version when another writer wins the race.
func (m *Manager) Edit(ctx context.Context, articleID string, fn func(v *ArticleVersion) error) (*ArticleVersion, error) {
	for attempt := 1; ; attempt++ {
		v, err := m.NewArticleVersion(ctx, articleID)
		if err != nil {
			return nil, err
		}
		if err := fn(v); err != nil {
			return nil, err
		}
		err = m.SaveArticleVersion(ctx, v)
		var conflict *VersionConflictError
		if errors.As(err, &conflict) && attempt < maxEditAttempts {
			m.logger.Debug("retrying edit after version conflict", "article", articleID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// GetArticle returns the article with id, or nil if there is none.
func (m *Manager) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	if a, ok := m.articles.Get(ctx, ArticleKey{id}); ok {
		m.metrics.CacheLookup("article", true)
		return a, nil
	}
	m.metrics.CacheLookup("article", false)

	since := m.fills.begin()
	a, err := m.store.FindArticle(ctx, id)
	if err != nil {
		return nil, storageErr("find article", err)
	}
	if a == nil {
		return nil, nil
	}
	m.fills.fill(since, func() {
		if err := m.articles.Set(ctx, ArticleKey{id}, a); err != nil {
			m.logger.Debug("cache write failed", "key", ArticleKey{id}.CacheKey(), "error", err)
		}
	})
	return a, nil
}

// LookUpAddress returns the id of the article bound to address.
func (m *Manager) LookUpAddress(ctx context.Context, address string) (string, bool, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return "", false, nil
	}
	if id, ok := m.addresses.Get(ctx, AddressKey{addr}); ok {
		m.metrics.CacheLookup("address", true)
		return *id, true, nil
	}
	m.metrics.CacheLookup("address", false)

	since := m.fills.begin()
	id, ok, err := m.store.FindAddress(ctx, addr)
	if err != nil {
		return "", false, storageErr("find address", err)
	}
	if !ok {
		return "", false, nil
	}
	m.fills.fill(since, func() {
		if err := m.addresses.Set(ctx, AddressKey{addr}, &id); err != nil {
			m.logger.Debug("cache write failed", "key", AddressKey{addr}.CacheKey(), "error", err)
		}
	})
	return id, true, nil
}

// GetArticleByAddress returns the article bound to address, or nil.
func (m *Manager) GetArticleByAddress(ctx context.Context, address string) (*model.Article, error) {
	id, ok, err := m.LookUpAddress(ctx, address)
	if err != nil || !ok {
		return nil, err
	}
	return m.GetArticle(ctx, id)
}

// GetArticleVersion returns version number of an article, or the current
// version when number is 0. Returns nil if either does not exist.
func (m *Manager) GetArticleVersion(ctx context.Context, articleID string, number int) (*ArticleVersion, error) {
	if number == 0 {
		a, err := m.GetArticle(ctx, articleID)
		if err != nil || a == nil {
			return nil, err
		}
		number = a.CurrentVersionNumber
	}
	rec, err := m.loadVersion(ctx, articleID, number)
	if err != nil || rec == nil {
		return nil, err
	}
	return m.wrapVersion(ctx, rec)
}

// GetArticleVersionByID returns the version with id, or nil.
func (m *Manager) GetArticleVersionByID(ctx context.Context, versionID string) (*ArticleVersion, error) {
	rec, err := m.store.FindVersion(ctx, versionID)
	if err != nil {
		return nil, storageErr("find version", err)
	}
	if rec == nil {
		return nil, nil
	}
	return m.wrapVersion(ctx, rec)
}

func (m *Manager) loadVersion(ctx context.Context, articleID string, number int) (*model.Version, error) {
	key := VersionKey{articleID, number}
	if rec, ok := m.versions.Get(ctx, key); ok {
		m.metrics.CacheLookup("version", true)
		return rec, nil
	}
	m.metrics.CacheLookup("version", false)

	rec, err := m.store.FindVersionByNumber(ctx, articleID, number)
	if err != nil {
		return nil, storageErr("find version", err)
	}
	if rec == nil {
		return nil, nil
	}
	if err := m.versions.Set(ctx, key, rec); err != nil {
		m.logger.Debug("cache write failed", "key", key.CacheKey(), "error", err)
	}
	return rec, nil
}

// wrapVersion turns a persisted record into a frozen ArticleVersion with
// its text loaded.
func (m *Manager) wrapVersion(ctx context.Context, rec *model.Version) (*ArticleVersion, error) {
	var text string
	var ok bool
	if rec.TextID != 0 {
		var err error
		if text, ok, err = m.GetText(ctx, rec.TextID); err != nil {
			return nil, err
		}
	}
	return versionFromRecord(rec, text, ok), nil
}

// SetText stores text in the text pool. See TextPool.
func (m *Manager) SetText(ctx context.Context, text string, create bool) (int64, bool, error) {
	id, ok, err := m.store.SetText(ctx, text, create)
	if err != nil {
		return 0, false, storageErr("set text", err)
	}
	return id, ok, nil
}

// GetText returns the text stored under id.
func (m *Manager) GetText(ctx context.Context, id int64) (string, bool, error) {
	if text, ok := m.texts.Get(ctx, TextKey{id}); ok {
		m.metrics.CacheLookup("text", true)
		return *text, true, nil
	}
	m.metrics.CacheLookup("text", false)

	text, ok, err := m.store.GetText(ctx, id)
	if err != nil {
		return "", false, storageErr("get text", err)
	}
	if ok {
		if err := m.texts.Set(ctx, TextKey{id}, &text); err != nil {
			m.logger.Debug("cache write failed", "key", TextKey{id}.CacheKey(), "error", err)
		}
	}
	return text, ok, nil
}

// SetFile stores the bytes of r in the file pool. See FilePool.SetFile.
func (m *Manager) SetFile(ctx context.Context, r io.Reader, create bool) (int64, bool, error) {
	if m.files == nil {
		return 0, false, fmt.Errorf("no file pool configured")
	}
	id, ok, err := m.files.SetFile(ctx, r, create)
	if err != nil {
		return 0, false, storageErr("set file", err)
	}
	return id, ok, nil
}

// GetFile opens the file stored under id. The caller closes the reader.
func (m *Manager) GetFile(ctx context.Context, id int64) (io.ReadCloser, bool, error) {
	if m.files == nil {
		return nil, false, fmt.Errorf("no file pool configured")
	}
	rc, ok, err := m.files.GetFile(ctx, id)
	if err != nil {
		return nil, false, storageErr("get file", err)
	}
	return rc, ok, nil
}

// FileInfo returns the pool entry of a file.
func (m *Manager) FileInfo(ctx context.Context, id int64) (*model.File, error) {
	if m.files == nil {
		return nil, fmt.Errorf("no file pool configured")
	}
	f, err := m.files.FileInfo(ctx, id)
	return f, storageErr("file info", err)
}

// ArticleIDs returns the id of every article in creation order.
func (m *Manager) ArticleIDs(ctx context.Context) ([]string, error) {
	ids, err := m.store.ListArticleIDs(ctx)
	return ids, storageErr("list article ids", err)
}

// Parents returns the ids of the direct parents of an article.
func (m *Manager) Parents(ctx context.Context, articleID string) ([]string, error) {
	ids, err := m.store.Parents(ctx, articleID)
	return ids, storageErr("parents", err)
}

// Children returns the ids of the direct children of an article.
func (m *Manager) Children(ctx context.Context, articleID string) ([]string, error) {
	ids, err := m.store.Children(ctx, articleID)
	return ids, storageErr("children", err)
}

// Ancestors returns the ids of every article above articleID.
func (m *Manager) Ancestors(ctx context.Context, articleID string) ([]string, error) {
	ids, err := m.store.Ancestors(ctx, articleID)
	return ids, storageErr("ancestors", err)
}

// Descendants returns the ids of every article below articleID.
func (m *Manager) Descendants(ctx context.Context, articleID string) ([]string, error) {
	ids, err := m.store.Descendants(ctx, articleID)
	return ids, storageErr("descendants", err)
}

// DeleteArticle removes an article with its versions and addresses. Its
// former children lose the parent edge and get their ancestry rebuilt.
// Texts and files stay in the pools.
func (m *Manager) DeleteArticle(ctx context.Context, id string) error {
	var addrs []string
	var versions int
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		a, err := m.store.FindArticleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return &NotFoundError{Kind: "article", ID: id}
		}
		versions = a.CurrentVersionNumber

		if addrs, err = m.store.AddressesForArticle(ctx, id); err != nil {
			return err
		}
		children, err := m.store.Children(ctx, id)
		if err != nil {
			return err
		}
		if err := m.store.DeleteArticle(ctx, id); err != nil {
			return err
		}
		for _, c := range children {
			if err := rebuildAncestry(ctx, m.store, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("delete article", err)
	}

	m.invalidateArticle(ctx, id, addrs)
	for n := 1; n <= versions; n++ {
		if err := m.versions.Delete(ctx, VersionKey{id, n}); err != nil {
			m.logger.Debug("cache delete failed", "key", VersionKey{id, n}.CacheKey(), "error", err)
		}
	}
	m.metrics.ArticleDeleted()
	m.logger.Info("article deleted", "article", id, "addresses_released", len(addrs))
	return nil
}

func (m *Manager) invalidateArticle(ctx context.Context, id string, addrs []string) {
	m.fills.invalidate(func() {
		if err := m.articles.Delete(ctx, ArticleKey{id}); err != nil {
			m.logger.Debug("cache delete failed", "key", ArticleKey{id}.CacheKey(), "error", err)
		}
		for _, a := range addrs {
			if err := m.addresses.Delete(ctx, AddressKey{a}); err != nil {
				m.logger.Debug("cache delete failed", "key", AddressKey{a}.CacheKey(), "error", err)
			}
		}
	})
}
