package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"mt5_copier/internal/domain"

	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage MT5 accounts",
}

var (
	accountID       string
	accountLogin    int64
	accountPassword string
	accountServer   string
	accountName     string
)

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register or replace an MT5 account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if accountID == "" || accountLogin == 0 || accountServer == "" {
			return &domain.ConfigError{Field: "account", Err: errors.New("--id, --login and --server are required")}
		}
		b, err := openStore()
		if err != nil {
			return err
		}
		defer b.Close()

		password := accountPassword
		if password == "" {
			password = os.Getenv("MT5COPIER_ACCOUNT_PASSWORD")
		}
		acct := &domain.Account{
			ID:       accountID,
			Login:    accountLogin,
			Password: password,
			Server:   accountServer,
			Name:     accountName,
		}
		if err := b.Storage.SaveAccount(ctxOf(cmd), acct); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		fmt.Printf("✓ Account %s saved (login %d @ %s)\n", acct.ID, acct.Login, acct.Server)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts with their last snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openStore()
		if err != nil {
			return err
		}
		defer b.Close()

		accounts, err := b.Storage.ListAccounts(ctxOf(cmd))
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLOGIN\tSERVER\tBALANCE\tEQUITY\tMARGIN LEVEL\tCONNECTED\tLAST UPDATE")
		for _, a := range accounts {
			snap := a.Snapshot()
			last := "-"
			if !a.LastUpdate.IsZero() {
				last = a.LastUpdate.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s%%\t%t\t%s\n",
				a.ID, a.Login, a.Server,
				snap.Balance.StringFixed(2), snap.Equity.StringFixed(2), snap.MarginLevel().StringFixed(1),
				a.IsConnected, last)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd, accountListCmd)

	accountAddCmd.Flags().StringVar(&accountID, "id", "", "account id used by pairings")
	accountAddCmd.Flags().Int64Var(&accountLogin, "login", 0, "MT5 login number")
	accountAddCmd.Flags().StringVar(&accountPassword, "password", "", "MT5 password (defaults to $MT5COPIER_ACCOUNT_PASSWORD)")
	accountAddCmd.Flags().StringVar(&accountServer, "server", "", "MT5 server name")
	accountAddCmd.Flags().StringVar(&accountName, "name", "", "display name")
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
