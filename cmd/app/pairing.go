package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"mt5_copier/internal/app"
	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var pairingCmd = &cobra.Command{
	Use:   "pairing",
	Short: "Manage master → follower pairings",
	Long: `Pairings are picked up by a running copier on its next pairing sync.

Subcommands:
  add        - Create a pairing
  list       - List pairings
  update     - Change the policy of a pairing
  deactivate - Stop copying for a pairing`,
}

var (
	pairMaster   string
	pairFollower string
	pairPercent  string
	pairMin      string
	pairMax      string
	pairSymbols  []string
	pairExclude  []string
	pairMaxRisk  string
	pairNoStops  bool
	pairActive   bool
)

var pairingAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a pairing",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openPairings(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		p := domain.NewPairing(pairMaster, pairFollower)
		if def := b.Config.Pairing; def.DefaultVolumePercent.IsPositive() {
			p.VolumePercent = def.DefaultVolumePercent
			p.MinVolume = def.DefaultMinVolume
			p.MaxVolume = def.DefaultMaxVolume
		}
		p.CopyStopLevels = !pairNoStops
		p.AllowedSymbols = normalizeSymbols(pairSymbols)
		p.ExcludedSymbols = normalizeSymbols(pairExclude)

		for _, f := range []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"percent", &p.VolumePercent},
			{"min", &p.MinVolume},
			{"max", &p.MaxVolume},
			{"max-risk", &p.MaxRiskPercent},
		} {
			if !cmd.Flags().Changed(f.name) {
				continue
			}
			v, err := parseDecimalFlag(cmd, f.name)
			if err != nil {
				return err
			}
			*f.dst = v
		}

		created, err := b.Pairings.Create(ctxOf(cmd), p)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pairing %s created: %s → %s at %s%%\n",
			created.ID, created.MasterAccountID, created.FollowerAccountID, created.VolumePercent.String())
		return nil
	},
}

var pairingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pairings",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openStore()
		if err != nil {
			return err
		}
		defer b.Close()

		pairings, err := b.Storage.ListPairings(ctxOf(cmd))
		if err != nil {
			return fmt.Errorf("list pairings: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMASTER\tFOLLOWER\tPERCENT\tMIN\tMAX\tMAX RISK\tSTOPS\tSYMBOLS\tEXCLUDED\tACTIVE")
		for _, p := range pairings {
			symbols, excluded := "*", "-"
			if len(p.AllowedSymbols) > 0 {
				symbols = strings.Join(p.AllowedSymbols, ",")
			}
			if len(p.ExcludedSymbols) > 0 {
				excluded = strings.Join(p.ExcludedSymbols, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\t%t\n",
				p.ID, p.MasterAccountID, p.FollowerAccountID,
				p.VolumePercent, p.MinVolume, p.MaxVolume, p.MaxRiskPercent,
				p.CopyStopLevels, symbols, excluded, p.IsActive)
		}
		return w.Flush()
	},
}

var pairingUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change the policy of a pairing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openPairings(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		var patch domain.PairingPatch
		flags := cmd.Flags()
		for _, f := range []struct {
			name string
			dst  **decimal.Decimal
		}{
			{"percent", &patch.VolumePercent},
			{"min", &patch.MinVolume},
			{"max", &patch.MaxVolume},
			{"max-risk", &patch.MaxRiskPercent},
		} {
			if !flags.Changed(f.name) {
				continue
			}
			v, err := parseDecimalFlag(cmd, f.name)
			if err != nil {
				return err
			}
			*f.dst = &v
		}
		if flags.Changed("no-stops") {
			stops := !pairNoStops
			patch.CopyStopLevels = &stops
		}
		if flags.Changed("symbols") {
			symbols := normalizeSymbols(pairSymbols)
			patch.AllowedSymbols = &symbols
		}
		if flags.Changed("exclude") {
			excluded := normalizeSymbols(pairExclude)
			patch.ExcludedSymbols = &excluded
		}
		if flags.Changed("active") {
			active := pairActive
			patch.IsActive = &active
		}

		updated, err := b.Pairings.Update(ctxOf(cmd), args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pairing %s updated (%s%%, active=%t)\n", updated.ID, updated.VolumePercent, updated.IsActive)
		return nil
	},
}

var pairingDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Stop copying for a pairing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openPairings(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.Pairings.Deactivate(ctxOf(cmd), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Pairing %s deactivated\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pairingCmd)
	pairingCmd.AddCommand(pairingAddCmd, pairingListCmd, pairingUpdateCmd, pairingDeactivateCmd)

	pairingAddCmd.Flags().StringVar(&pairMaster, "master", "", "master account id")
	pairingAddCmd.Flags().StringVar(&pairFollower, "follower", "", "follower account id")
	_ = pairingAddCmd.MarkFlagRequired("master")
	_ = pairingAddCmd.MarkFlagRequired("follower")

	for _, c := range []*cobra.Command{pairingAddCmd, pairingUpdateCmd} {
		c.Flags().StringVar(&pairPercent, "percent", "", "volume percent of the master lot")
		c.Flags().StringVar(&pairMin, "min", "", "minimum follower volume")
		c.Flags().StringVar(&pairMax, "max", "", "maximum follower volume")
		c.Flags().StringSliceVar(&pairSymbols, "symbols", nil, "allowed symbols (empty allows all)")
		c.Flags().StringSliceVar(&pairExclude, "exclude", nil, "symbols never copied")
		c.Flags().StringVar(&pairMaxRisk, "max-risk", "", "max risk percent of follower equity (0 disables)")
		c.Flags().BoolVar(&pairNoStops, "no-stops", false, "do not copy SL/TP")
	}
	pairingUpdateCmd.Flags().BoolVar(&pairActive, "active", true, "activate or deactivate")
}

// openPairings opens the store and loads the registry so the pairing
// service can check for conflicts.
func openPairings(cmd *cobra.Command) (*app.Bootstrap, error) {
	b, err := openStore()
	if err != nil {
		return nil, err
	}
	if err := b.Pairings.Sync(ctxOf(cmd)); err != nil {
		b.Close()
		return nil, fmt.Errorf("load pairings: %w", err)
	}
	return b, nil
}

func parseDecimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &domain.ConfigError{Field: name, Err: err}
	}
	return v, nil
}

func normalizeSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
