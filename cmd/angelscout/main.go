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

	"angelscout/internal/app"
	"angelscout/internal/config"
	"angelscout/internal/logging"
)

var (
	// Global flags
	configPath     string
	verbose        bool
	timeout        time.Duration
	offline        bool
	candidatesFile string

	// Logger
	logger *zap.Logger

	// newApp is swapped in tests.
	newApp = app.New
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "angelscout",
	Short: "angelscout - find and accumulate angel investor profiles",
	Long: `angelscout answers "which angel investors fit this startup?" by asking a
generative model for candidates, merging them into one deduplicated canonical
investor set, and serving repeat queries from cache.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.Init(logging.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: outputPaths(cfg.Logging.File),
			Categories:  cfg.Logging.Categories,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		loadedConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var loadedConfig *config.Config

func outputPaths(file string) []string {
	if file == "" {
		return []string{"stderr"}
	}
	return []string{file}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "angelscout.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Do not call the generative model")
	rootCmd.PersistentFlags().StringVar(&candidatesFile, "candidates", "", "JSON candidate list served by the offline source")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(accumulateCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the app under a signal-aware timeout, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadedConfig
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	a, err := newApp(ctx, cfg, app.Options{Offline: offline, CandidatesFile: candidatesFile})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil && logger != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}
