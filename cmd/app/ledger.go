package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the replication ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the last saved ledger checkpoint as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openStore()
		if err != nil {
			return err
		}
		defer b.Close()

		st, err := b.LoadLedger(ctxOf(cmd))
		if err != nil {
			return err
		}
		if st.Empty() {
			fmt.Fprintln(os.Stderr, "ledger is empty")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
}
