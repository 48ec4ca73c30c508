package cms

import (
	"fmt"
	"sync"
)

// Cache keys. Versions and texts are immutable and never invalidated;
// article and address entries are dropped whenever an article changes.

type ArticleKey struct{ ID string }

func (k ArticleKey) CacheKey() string { return "article:" + k.ID }

type VersionKey struct {
	ArticleID string
	Number    int
}

func (k VersionKey) CacheKey() string { return fmt.Sprintf("version:%s:%d", k.ArticleID, k.Number) }

type AddressKey struct{ Address string }

func (k AddressKey) CacheKey() string { return "address:" + k.Address }

type TextKey struct{ ID int64 }

func (k TextKey) CacheKey() string { return fmt.Sprintf("text:%d", k.ID) }

// fillGuard keeps a reader from writing back an entry it read before a
// concurrent change was invalidated. Invalidations bump the epoch; a fill
// is dropped unless the epoch is still the one seen before the store read.
type fillGuard struct {
	mu    sync.Mutex
	epoch uint64
}

func (g *fillGuard) begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// fill runs set only if nothing was invalidated since begin returned since.
func (g *fillGuard) fill(since uint64, set func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch == since {
		set()
	}
}

func (g *fillGuard) invalidate(drop func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch++
	drop()
}
