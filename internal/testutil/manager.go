package testutil

import (
	"testing"

	"cms-go/internal/blob"
	"cms-go/internal/cache"
	"cms-go/internal/cms"
	"cms-go/internal/database"
	"cms-go/internal/events"
	"cms-go/internal/staging"
)

// Env bundles a Manager with the in-memory backends behind it so tests can
// inspect them.
type Env struct {
	Manager *cms.Manager
	Store   *database.SQLStore
	Blobs   *blob.MemoryStore
	Stager  *staging.Area
	Files   *cms.FilePool
	Cache   *cache.MemoryCache
	Clock   *StubClock
	IDs     *StubIDGenerator
}

// EnvOption customizes NewTestEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	enc       cms.Encryptor
	publisher events.Publisher
	metrics   cms.Metrics
	noCache   bool
}

// WithEncryptor seals file blobs with enc.
func WithEncryptor(enc cms.Encryptor) EnvOption {
	return func(c *envConfig) { c.enc = enc }
}

// WithPublisher sends version events to p.
func WithPublisher(p events.Publisher) EnvOption {
	return func(c *envConfig) { c.publisher = p }
}

// WithMetrics records into m.
func WithMetrics(m cms.Metrics) EnvOption {
	return func(c *envConfig) { c.metrics = m }
}

// WithoutCache disables the read cache.
func WithoutCache() EnvOption {
	return func(c *envConfig) { c.noCache = true }
}

// NewTestEnv creates a Manager over an in-memory store, blob store, staging
// area and cache, with a stub clock and sequential ids.
func NewTestEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	var cfg envConfig
	for _, o := range opts {
		o(&cfg)
	}

	env := &Env{
		Store:  NewTestStore(t),
		Blobs:  NewTestBlobStore(),
		Stager: NewTestStagingArea(),
		Clock:  FixedClock(),
		IDs:    NewStubIDGenerator(),
	}
	env.Files = cms.NewFilePool(env.Store, env.Blobs, env.Stager, cfg.enc, cfg.metrics, nil, env.Clock)

	var c cache.Cache
	if !cfg.noCache {
		env.Cache = cache.NewMemoryCache(0, 0)
		c = env.Cache
		t.Cleanup(func() { env.Cache.Close() })
	}
	env.Manager = cms.NewManager(env.Store, env.Files, c, cfg.publisher, cfg.metrics, nil, env.Clock, env.IDs)
	return env
}
