// Package metrics exposes Prometheus counters for the CMS manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cms-go/internal/cms"
)

// Collector holds the CMS metrics on its own registry so several managers
// (and tests) never collide on the default registerer.
type Collector struct {
	registry *prometheus.Registry

	versionsSaved  *prometheus.CounterVec
	savesRefused   *prometheus.CounterVec
	poolWrites     *prometheus.CounterVec
	dedupHits      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	saveDuration   prometheus.Histogram
	articlesDelete prometheus.Counter
}

var _ cms.Metrics = (*Collector)(nil)

// NewCollector creates and registers the CMS metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		versionsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "versions_saved_total",
				Help:      "Total number of article versions saved",
			},
			[]string{"kind"}, // "new_article" or "edit"
		),
		savesRefused: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saves_refused_total",
				Help:      "Total number of saves refused, by reason",
			},
			[]string{"reason"},
		),
		poolWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_writes_total",
				Help:      "Total number of new resource pool entries",
			},
			[]string{"pool"},
		),
		dedupHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_dedup_hits_total",
				Help:      "Total number of resource pool writes answered by an existing entry",
			},
			[]string{"pool"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups by record kind and result",
			},
			[]string{"kind", "result"},
		),
		saveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "save_duration_seconds",
				Help:      "Duration of article version saves",
				Buckets:   prometheus.DefBuckets,
			},
		),
		articlesDelete: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "articles_deleted_total",
				Help:      "Total number of articles deleted",
			},
		),
	}

	c.registry.MustRegister(
		c.versionsSaved,
		c.savesRefused,
		c.poolWrites,
		c.dedupHits,
		c.cacheLookups,
		c.saveDuration,
		c.articlesDelete,
	)
	return c
}

// Registry returns the registry holding the CMS metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes the current metric values in the text exposition
// format, for pickup by a node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

func (c *Collector) VersionSaved(newArticle bool, d time.Duration) {
	kind := "edit"
	if newArticle {
		kind = "new_article"
	}
	c.versionsSaved.WithLabelValues(kind).Inc()
	c.saveDuration.Observe(d.Seconds())
}

func (c *Collector) SaveRefused(reason string) {
	c.savesRefused.WithLabelValues(reason).Inc()
}

func (c *Collector) PoolWrite(pool string, dedup bool) {
	if dedup {
		c.dedupHits.WithLabelValues(pool).Inc()
		return
	}
	c.poolWrites.WithLabelValues(pool).Inc()
}

func (c *Collector) CacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (c *Collector) ArticleDeleted() {
	c.articlesDelete.Inc()
}
