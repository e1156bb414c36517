package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"guidy/internal/commission"

	"github.com/spf13/cobra"
)

// errPartialFailure означает, что часть начислений не выплачена
var errPartialFailure = errors.New("some commissions failed to process")

var processCommissionsCmd = &cobra.Command{
	Use:   "referrals:process-commissions",
	Short: "Pay pending referral commissions into user wallets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newCommandLogger(LogLevel, LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg, st, err := openStore(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		processor := commission.NewProcessor(
			st.Earning(),
			st.Earning(),
			nil,
			commission.Config{MaxAttempts: cfg.Commission.MaxAttempts},
			logger,
		)

		return processCommissions(cmd.Context(), processor, cmd.OutOrStdout())
	},
}

// commissionRunner выполняет проход выплаты
type commissionRunner interface {
	ProcessPendingCommissions(ctx context.Context, report commission.Reporter) (commission.Result, error)
}

// processCommissions выводит строку по каждому начислению и итог.
// Возвращает errPartialFailure, если Failed > 0.
func processCommissions(ctx context.Context, processor commissionRunner, out io.Writer) error {
	result, err := processor.ProcessPendingCommissions(ctx, func(o commission.Outcome) {
		fmt.Fprintln(out, formatOutcome(o))
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Successfully processed: %d\n", result.Processed)
	fmt.Fprintf(out, "Failed: %d\n", result.Failed)
	if result.Skipped > 0 {
		fmt.Fprintf(out, "Skipped: %d\n", result.Skipped)
	}

	if result.Failed > 0 {
		return errPartialFailure
	}
	return nil
}

func formatOutcome(o commission.Outcome) string {
	switch o.Status {
	case commission.OutcomePaid:
		return fmt.Sprintf("Earning #%d paid: %s credited to user #%d (balance %s)",
			o.Earning.ID, o.Payout.Amount.StringFixed(2), o.Payout.UserID, o.Payout.Balance.StringFixed(2))
	case commission.OutcomeSkipped:
		return fmt.Sprintf("Earning #%d skipped: already processed", o.Earning.ID)
	default:
		return fmt.Sprintf("Earning #%d failed for user #%d: %v (status: %s)",
			o.Earning.ID, o.Earning.UserID, o.Err, o.EarningStatus)
	}
}
