package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/custody/config"
	"github.com/rustyeddy/custody/internal/logging"
	"github.com/rustyeddy/custody/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "custody",
	Short: "Normalize custodian holdings and load them into daily partitions",
	Long: `Custody reads custodian export collections from MongoDB, maps each
custodian's columns onto one canonical holding record, validates it and
loads it into one database table per record date.

It provides tools for:
  - Loading every source collection on a bounded worker pool
  - Reloading a single collection (reloads replace, never duplicate)
  - Daily and overall partition statistics
  - Migrating a legacy single-table layout into daily partitions
  - Inspecting the built-in custodian profiles`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	cfgFile  string
	envFile  string
	logLevel string

	cfg    *config.Config
	logger = zap.NewNop()
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := loadEnv(); err != nil {
		return err
	}

	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	l, err := logging.New(c.Log)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func loadEnv() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// openStore sizes the connection pool to the worker count unless the
// configuration says otherwise.
func openStore(ctx context.Context) (*store.Store, error) {
	sc := cfg.Store
	if sc.MaxOpenConns == 0 {
		sc.MaxOpenConns = cfg.Runner.PoolSize() + 1
	}
	return store.Open(ctx, sc, logger)
}
