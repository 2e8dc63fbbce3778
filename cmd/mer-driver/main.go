package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Timotej979/Model-executor-runtime/internal/config"
	"github.com/Timotej979/Model-executor-runtime/internal/executor"
	"github.com/Timotej979/Model-executor-runtime/internal/logging"
	"github.com/Timotej979/Model-executor-runtime/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool
	socketPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mer-driver",
	Short: "Model Executor Runtime driver",
	Long: `mer-driver runs registered models as local subprocesses or over SSH and
exchanges requests with them using the ready/start/stop/exit token protocol.

The catalog lives in SQLite or a YAML file; see "serve", "repl" and "call".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if socketPath != "" {
			cfg.Server.Socket = socketPath
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	def := os.Getenv("MER_CONFIG")
	if def == "" {
		def = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", def, "config file (env MER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "unix socket path (overrides server.socket)")

	rootCmd.AddCommand(serveCmd, replCmd, migrateCmd, callCmd)
}

// openRuntime opens the configured catalog and an executor over it. The
// caller closes the store.
func openRuntime(ctx context.Context) (store.Store, *executor.Executor, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	exec := executor.New(st, executor.Config{
		Driver:         cfg.DriverConfig(logger),
		MaxConcurrency: cfg.Runtime.MaxConcurrency,
		RequestTimeout: cfg.GetRequestTimeout(),
		CacheSize:      cfg.Runtime.CacheSize,
		CacheTTL:       cfg.GetCacheTTL(),
	}, logger)
	return st, exec, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
