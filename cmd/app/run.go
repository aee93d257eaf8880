package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mt5_copier/internal/app"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the copier",
	Long: `Run loads pairings and the saved ledger, then starts the replication,
account monitor and pairing sync loops until interrupted.`,
	RunE: runCopier,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runCopier(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.App.Version == "" || cfg.App.Version == "dev" {
		cfg.App.Version = version
	}

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(cfg)
	bootstrap.SetupLogger()
	defer bootstrap.Close()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return fmt.Errorf("bootstrap: %w", err)
	}

	// 3. Drivers until signal
	return bootstrap.Run(ctx)
}
