package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultStagingMaxSize caps a spooled upload when staging.max_size is unset.
const DefaultStagingMaxSize int64 = 32 << 20

// Config represents the main configuration for cms.
type Config struct {
	InstanceID string           `toml:"instance_id" yaml:"instance_id"`
	BaseDir    string           `toml:"base_dir" yaml:"base_dir"`
	LogDir     string           `toml:"log_dir" yaml:"log_dir"`
	LogLevel   string           `toml:"log_level" yaml:"log_level" env:"CMS_LOG_LEVEL"` // debug, info, warn or error
	Database   DatabaseConfig   `toml:"database" yaml:"database"`
	Pool       PoolConfig       `toml:"pool" yaml:"pool"`
	Staging    StagingConfig    `toml:"staging" yaml:"staging"`
	Encryption EncryptionConfig `toml:"encryption" yaml:"encryption"`
	Cache      CacheConfig      `toml:"cache" yaml:"cache"`
	Events     EventsConfig     `toml:"events" yaml:"events"`
	Upload     UploadConfig     `toml:"upload" yaml:"upload"`

	// Passphrase unlocks the private key for reading encrypted files.
	// It is only ever taken from the environment.
	Passphrase string `toml:"-" yaml:"-" env:"CMS_PASSPHRASE"`
}

// DatabaseConfig represents configuration for the article store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" yaml:"type"`                                          // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"`              // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty" yaml:"dsn,omitempty" env:"CMS_DATABASE_DSN"` // only used for type=postgres
}

// PoolConfig represents configuration for the blob backend of the file pool.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PoolConfig struct {
	Type string `toml:"type" yaml:"type"` // "filesystem", "memory" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" yaml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"` // for S3-compatible services

	// Static S3 credentials, only taken from the environment. When unset the
	// default AWS credential chain is used.
	S3AccessKeyID     string `toml:"-" yaml:"-" env:"CMS_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `toml:"-" yaml:"-" env:"CMS_S3_SECRET_ACCESS_KEY"`
}

// StagingConfig represents configuration for spooling non-seekable uploads.
type StagingConfig struct {
	Type       string `toml:"type" yaml:"type"`                                   // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty" yaml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size" yaml:"max_size"`                           // bytes, defaults to DefaultStagingMaxSize
}

// EncryptionConfig holds paths to the age key pair used to seal file blobs.
type EncryptionConfig struct {
	Type           string `toml:"type" yaml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path" yaml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path" yaml:"private_key_path"`
}

// CacheConfig represents configuration for the read cache.
type CacheConfig struct {
	Type       string `toml:"type" yaml:"type"` // "none", "memory" or "redis"
	RedisURL   string `toml:"redis_url,omitempty" yaml:"redis_url,omitempty" env:"CMS_REDIS_URL"`
	Prefix     string `toml:"prefix,omitempty" yaml:"prefix,omitempty"`
	TTLSeconds int    `toml:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// EventsConfig represents configuration for version-saved notifications.
type EventsConfig struct {
	Type       string `toml:"type" yaml:"type"` // "none" or "rabbitmq"
	URL        string `toml:"url,omitempty" yaml:"url,omitempty" env:"CMS_AMQP_URL"`
	Exchange   string `toml:"exchange,omitempty" yaml:"exchange,omitempty"`
	RoutingKey string `toml:"routing_key,omitempty" yaml:"routing_key,omitempty"`
	Queue      string `toml:"queue,omitempty" yaml:"queue,omitempty"`
}

// UploadConfig holds settings for bulk directory uploads.
type UploadConfig struct {
	Ignore []string `toml:"ignore" yaml:"ignore"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Database:   DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Pool:       PoolConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "pool")},
		Staging:    StagingConfig{Type: "memory", MaxSize: DefaultStagingMaxSize},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "cms.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "cms.key"),
		},
		Cache:  CacheConfig{Type: "memory", Prefix: "cms:", TTLSeconds: 300},
		Events: EventsConfig{Type: "none"},
	}
}

// Format selects the encoding of a config file.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatForPath returns FormatYAML for .yaml and .yml paths, FormatTOML otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Manager handles reading and writing configuration.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides config values from CMS_* environment variables and
// fills defaults for values left empty.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.Staging.MaxSize <= 0 {
		cfg.Staging.MaxSize = DefaultStagingMaxSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies
// environment overrides. The format follows the file extension.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
