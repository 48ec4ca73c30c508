package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cms-go/internal/app"
	"cms-go/internal/config"
	"cms-go/internal/transfer"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	// A .env file next to the binary may carry CMS_* overrides.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a CMSApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "ArticlePut", "Import").
// When unlock is set and encryption is enabled, the passphrase is prompted for
// unless CMS_PASSPHRASE provides it.
func newApp(ctx context.Context, operation string, unlock bool) (*app.CMSApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if unlock && cfg.Passphrase == "" && cfg.Encryption.Type != "" && cfg.Encryption.Type != "none" {
		p, err := readPassphrase("Passphrase: ")
		if err != nil {
			return nil, err
		}
		cfg.Passphrase = p
	}

	a, err := app.NewCMSApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to read a passphrase from: set CMS_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "cms",
	Short:        "Versioned article store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Log Level:   %s\n", cfg.LogLevel)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("File Pool:   %s\n", cfg.Pool.Type)
		fmt.Printf("Staging:     %s (max %d bytes)\n", cfg.Staging.Type, cfg.Staging.MaxSize)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Cache:       %s\n", cfg.Cache.Type)
		fmt.Printf("Events:      %s\n", cfg.Events.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage file encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase := cfg.Passphrase
		if passphrase == "" {
			first, err := readPassphrase("New passphrase: ")
			if err != nil {
				return err
			}
			second, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if first != second {
				return errors.New("passphrases do not match")
			}
			passphrase = first
		}

		if err := app.InitKeys(cfg, passphrase); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the article database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Snapshot the database to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := newApp(ctx, "BackupDatabase", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if err := a.BackupDatabase(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export every article and version to a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Export", true)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		stats, err := a.Export(ctx, args[0])
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported %d article(s), %d version(s), %d file(s)\n", stats.Articles, stats.Versions, stats.Files)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import articles from a CSV export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		pairs, _ := cmd.Flags().GetStringToString("map-account")
		mapper, err := accountMapper(pairs)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "Import", false)
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		stats, err := a.Import(ctx, args[0], mapper)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported %d article(s), %d version(s), %d file(s)\n", stats.Articles, stats.Versions, stats.Files)
		if stats.Relinked > 0 {
			fmt.Printf("Restored parent links on %d article(s)\n", stats.Relinked)
		}
		return nil
	},
}

// accountMapper builds a mapper from old=new pairs. Accounts not listed
// keep their id.
func accountMapper(pairs map[string]string) (transfer.AccountMapper, error) {
	if len(pairs) == 0 {
		return transfer.IdentityMapper, nil
	}
	for from, to := range pairs {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return nil, fmt.Errorf("invalid account mapping %q=%q", from, to)
		}
	}
	return func(_ context.Context, accountID string) (string, error) {
		if to, ok := pairs[accountID]; ok {
			return to, nil
		}
		return accountID, nil
	}, nil
}

// closeApp records the command outcome and closes the app, keeping the
// command's own error when both fail.
func closeApp(a *app.CMSApp, err *error) {
	a.Fail(*err)
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(articleCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringToString("map-account", nil, "Rewrite account ids, as old=new pairs")
}
