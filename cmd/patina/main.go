package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NicabarNimble/patina-sub001/internal/config"
	"github.com/NicabarNimble/patina-sub001/internal/knowledge"
	"github.com/NicabarNimble/patina-sub001/internal/logging"
)

var (
	// Global flags
	configPath string
	storageDir string
	verbose    bool
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// newRootCmd builds the command tree. Tests build a fresh tree per run so
// flag values do not leak between invocations.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "patina",
		Short: "patina - neuro-symbolic project knowledge",
		Long: `patina stores observations and beliefs about a project in paired
SQLite and vector stores, and validates beliefs against the observations
most similar to them using Mangle rules.

Neural search finds the evidence; the rules decide what it supports.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	root.PersistentFlags().StringVar(&storageDir, "storage", "", "Storage directory (overrides storage.dir)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	root.AddCommand(
		newObserveCmd(),
		newBelieveCmd(),
		newSearchCmd(),
		newValidateCmd(),
		newConfidenceCmd(),
		newCheckCmd(),
		newReindexCmd(),
		newStatsCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if storageDir != "" {
		loaded.Storage.Dir = storageDir
	}
	if verbose {
		loaded.Logging.DebugMode = true
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(loaded.Logging.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg = loaded
	logger = logging.Zap(logging.CategoryCLI)
	logger.Debug("config loaded", zap.String("path", configPath), zap.String("storage", cfg.Storage.Dir))
	return nil
}

// commandContext bounds a command by the --timeout flag.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// withService opens the knowledge service for the duration of fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *knowledge.Service) error) error {
	return openService(cmd, cfg, fn)
}

// withUnrepairedService opens the stores as they are on disk, so divergence
// between rows and vectors stays visible to fn.
func withUnrepairedService(cmd *cobra.Command, fn func(ctx context.Context, svc *knowledge.Service) error) error {
	c := *cfg
	c.Storage.RepairOnOpen = false
	return openService(cmd, &c, fn)
}

func openService(cmd *cobra.Command, c *config.Config, fn func(ctx context.Context, svc *knowledge.Service) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	svc, err := knowledge.Open(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.Warn("failed to close stores", zap.Error(cerr))
		}
	}()
	return fn(ctx, svc)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
