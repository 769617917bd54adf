package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/config"
	"github.com/pablof7z/purplewatch/internal/logging"
)

var (
	configPath string
	logLevel   string
	the        *app
)

var rootCmd = &cobra.Command{
	Use:           "purplewatch",
	Short:         "Mirror nostr accounts and curate watchlists from external lists",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		the, err = newApp(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if the != nil {
			the.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PURPLEWATCH_CONFIG"), "path to a JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(resolveCmd(), directoryCmd(), accountCmd(), watchlistCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if the != nil {
			the.log.Error("command failed", zap.Error(err))
			the.Close()
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
