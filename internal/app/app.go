package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cms-go/internal/blob"
	"cms-go/internal/cache"
	"cms-go/internal/cms"
	"cms-go/internal/config"
	"cms-go/internal/database"
	"cms-go/internal/encryption"
	"cms-go/internal/events"
	"cms-go/internal/metrics"
	"cms-go/internal/staging"
	"cms-go/internal/transfer"
)

// CMSApp is the application layer between the CLI and the Manager.
// It constructs all dependencies from config, exposes the operations that
// deal in file paths, and releases everything on Close.
type CMSApp struct {
	cfg       *config.Config
	store     *database.SQLStore
	blobs     cms.BlobStore
	cache     cache.Cache
	publisher events.Publisher
	metrics   *metrics.Collector
	manager   *cms.Manager
	transfer  *transfer.Transfer
	op        *Operation
	logger    cms.Logger
	logFile   *os.File
}

// NewCMSApp creates a fully wired CMSApp from the given config.
// operation identifies the CLI command being run (e.g. "ArticlePut", "Import").
// The caller must call Close when done.
func NewCMSApp(ctx context.Context, cfg *config.Config, operation string) (*CMSApp, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	// An in-memory database starts empty on every run.
	if cfg.Database.Type == "memory" {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	} else if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	blobs, err := blob.NewStoreFromConfig(ctx, cfg.Pool)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating file pool backend: %w", err)
	}
	if err := blobs.ValidateSetup(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("file pool backend not ready: %w", err)
	}

	stager, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil && !enc.IsConfigured() {
		store.Close()
		return nil, fmt.Errorf("encryption keys missing: run `cms keys init`")
	}

	op := NewOperation(operation, "", cms.RealClock{}.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("instance", cfg.InstanceID)}

	c, err := cache.NewCacheFromConfig(ctx, cfg.Cache)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	publisher, err := events.NewPublisherFromConfig(cfg.Events, slogger)
	if err != nil {
		c.Close()
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}

	collector := metrics.NewCollector("cms")
	files := cms.NewFilePool(store, blobs, stager, enc, collector, logger, cms.RealClock{})
	if enc != nil && cfg.Passphrase != "" {
		if err := files.Unlock(cfg.Passphrase); err != nil {
			publisher.Close()
			c.Close()
			store.Close()
			logFile.Close()
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	manager := cms.NewManager(store, files, c, publisher, collector, logger, cms.RealClock{}, cms.UUIDGenerator{})

	return &CMSApp{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		cache:     c,
		publisher: publisher,
		metrics:   collector,
		manager:   manager,
		transfer:  transfer.New(manager, logger),
		op:        op,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// Manager returns the wired article manager.
func (a *CMSApp) Manager() *cms.Manager { return a.manager }

// Operation returns the operation record for this run.
func (a *CMSApp) Operation() *Operation { return a.op }

// Export writes the whole corpus to the CSV file at path.
func (a *CMSApp) Export(ctx context.Context, path string) (*transfer.Stats, error) {
	a.op.Parameters = path
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}

	stats, err := a.transfer.Export(ctx, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing export file: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return stats, nil
}

// Import replays the CSV file at path into the store. A nil mapper keeps
// account ids unchanged.
func (a *CMSApp) Import(ctx context.Context, path string, mapper transfer.AccountMapper) (*transfer.Stats, error) {
	a.op.Parameters = path
	if mapper == nil {
		mapper = transfer.IdentityMapper
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()
	return a.transfer.Import(ctx, f, mapper)
}

// BackupDatabase snapshots the database to dest.
func (a *CMSApp) BackupDatabase(ctx context.Context, dest string) error {
	a.op.Parameters = dest
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	return a.store.BackupTo(ctx, dest)
}

// Fail marks the operation as failed so Close logs it as such.
func (a *CMSApp) Fail(err error) {
	a.op.Fail(err)
	if err != nil {
		a.logger.Error("operation failed", "operation", a.op.Name, "error", err)
	}
}

// metricsPath is where Close leaves the textfile for node exporter pickup.
func (a *CMSApp) metricsPath() string {
	return filepath.Join(a.cfg.BaseDir, "metrics", "cms.prom")
}

// Close flushes metrics, logs the outcome and closes all resources.
// It returns the first error encountered.
func (a *CMSApp) Close() error {
	var errs []error

	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing event publisher: %w", err))
	}
	if err := a.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing cache: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if a.cfg.BaseDir != "" {
		path := a.metricsPath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			errs = append(errs, fmt.Errorf("creating metrics directory: %w", err))
		} else if err := a.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status)
	if a.logFile != nil {
		a.logFile.Close()
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// MigrateDatabase applies pending schema migrations for cfg's database.
func MigrateDatabase(cfg *config.Config) error {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys generates the encryption key pair, protecting the private key
// with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return errors.New("encryption is disabled: set encryption.type to \"age\"")
	}
	return enc.Setup(passphrase)
}
