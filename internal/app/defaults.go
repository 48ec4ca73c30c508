package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths used when the config file does not say otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default paths. Explicit overrides win over the XDG
// base directories, which win over the home directory fallbacks:
//   - config: CMS_CONFIG_PATH, then $XDG_CONFIG_HOME/cms.toml, then ~/.config/cms.toml
//   - data:   CMS_HOME, then $XDG_DATA_HOME/cms, then ~/.local/share/cms
func GetDefaults() (*Defaults, error) {
	configPath, err := resolveDir("CMS_CONFIG_PATH", "XDG_CONFIG_HOME", "cms.toml", ".config")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolveDir("CMS_HOME", "XDG_DATA_HOME", "cms", filepath.Join(".local", "share"))
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolveDir returns $override as is, or name under $xdg, or name under
// homeRel in the user's home directory. Relative XDG values are ignored.
func resolveDir(override, xdg, name, homeRel string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, homeRel, name), nil
}
