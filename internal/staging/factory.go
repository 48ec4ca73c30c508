package staging

import (
	"fmt"

	"cms-go/internal/cms"
	"cms-go/internal/config"
)

// NewStagingAreaFromConfig creates a cms.Stager based on the config type.
func NewStagingAreaFromConfig(cfg config.StagingConfig) (cms.Stager, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = config.DefaultStagingMaxSize
	}

	switch cfg.Type {
	case "", "memory":
		return NewMemoryStagingArea(maxSize), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
		area, err := NewFileSystemStagingArea(cfg.StagingDir, maxSize)
		if err != nil {
			return nil, err
		}
		return area, nil
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
