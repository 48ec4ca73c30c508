package cms

import (
	"errors"
	"time"
)

// Metrics receives counters from the manager and pools.
type Metrics interface {
	VersionSaved(newArticle bool, d time.Duration)
	SaveRefused(reason string)
	PoolWrite(pool string, dedup bool)
	CacheLookup(kind string, hit bool)
	ArticleDeleted()
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) VersionSaved(bool, time.Duration) {}
func (NopMetrics) SaveRefused(string)               {}
func (NopMetrics) PoolWrite(string, bool)           {}
func (NopMetrics) CacheLookup(string, bool)         {}
func (NopMetrics) ArticleDeleted()                  {}

// refusalReason labels a failed save for metrics.
func refusalReason(err error) string {
	var (
		ac  *AddressConflictError
		vc  *VersionConflictError
		dp  *DanglingParentError
		cy  *CycleError
		val *ValidationError
		nf  *NotFoundError
	)
	switch {
	case errors.As(err, &ac):
		return "address_conflict"
	case errors.As(err, &vc):
		return "version_conflict"
	case errors.As(err, &dp):
		return "dangling_parent"
	case errors.As(err, &cy):
		return "cycle"
	case errors.As(err, &val):
		return "validation"
	case errors.As(err, &nf):
		return "not_found"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	default:
		return "storage"
	}
}
