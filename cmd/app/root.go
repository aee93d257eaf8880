package main

import (
	"errors"
	"fmt"
	"os"

	"mt5_copier/internal/app"
	"mt5_copier/internal/domain"
	"mt5_copier/internal/infra"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mt5copier",
	Short: "Copy MT5 trades from master accounts to follower accounts",
	Long: `mt5copier polls master MT5 accounts and replicates their new positions to
follower accounts, scaling volume per pairing and mirroring closes and stop
changes.

Typical setup:
  mt5copier config init -o configs/config.yaml
  mt5copier account add --id master --login 5001 --server Broker-Demo
  mt5copier account add --id follower --login 5002 --server Broker-Demo
  mt5copier pairing add --master master --follower follower --percent 50
  mt5copier run`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "config file")
}

// loadConfig reads the config file. A missing file falls back to defaults so
// management commands work before `config init`.
func loadConfig() (*infra.Config, error) {
	cfg, err := infra.LoadConfig(cfgFile)
	if errors.Is(err, domain.ErrConfigNotFound) {
		fmt.Fprintf(os.Stderr, "config %s not found, using defaults\n", cfgFile)
		return infra.Default(), nil
	}
	return cfg, err
}

// openStore loads the config and connects the database only.
func openStore() (*app.Bootstrap, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	b := app.NewBootstrap(cfg)
	if err := b.OpenStorage(); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return b, nil
}
