package testutil

import (
	"cms-go/internal/blob"
	"cms-go/internal/staging"
)

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024
)

// NewTestBlobStore creates a new in-memory blob store for testing.
func NewTestBlobStore() *blob.MemoryStore {
	return blob.NewMemoryStore()
}

// NewTestStagingArea creates a new in-memory staging area for testing.
func NewTestStagingArea() *staging.Area {
	return staging.NewMemoryStagingArea(DefaultStagingMaxSize)
}

// NewTestStagingAreaWithSize creates a new in-memory staging area with a custom max size.
func NewTestStagingAreaWithSize(maxSize int64) *staging.Area {
	return staging.NewMemoryStagingArea(maxSize)
}
