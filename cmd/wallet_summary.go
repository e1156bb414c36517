package main

import (
	"fmt"
	"io"

	"guidy/pkg/models"

	"github.com/spf13/cobra"
)

var walletSummaryCmd = &cobra.Command{
	Use:   "wallet:summary USER_ID",
	Short: "Compare a user's wallet balance with their paid commissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		logger, err := newCommandLogger(LogLevel, LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		_, st, err := openStore(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		summary, err := st.User().WalletSummary(cmd.Context(), userID)
		if err != nil {
			return err
		}

		printWalletSummary(cmd.OutOrStdout(), summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(walletSummaryCmd)
}

func printWalletSummary(out io.Writer, summary *models.WalletSummary) {
	fmt.Fprintf(out, "User: #%d\n", summary.UserID)
	fmt.Fprintf(out, "Wallet balance: %s\n", summary.WalletBalance.StringFixed(2))
	fmt.Fprintf(out, "Paid commissions: %s\n", summary.PaidEarnings.StringFixed(2))
	fmt.Fprintf(out, "Drift: %s\n", summary.Drift().StringFixed(2))
}
