package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"guidy/internal/referral"
	"guidy/pkg/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// referralRegistrar операции регистрации рефералов, доступные оператору
type referralRegistrar interface {
	GetOrGenerateReferralCode(ctx context.Context, userID int64) (string, error)
	ValidateReferralCode(ctx context.Context, referralCode string) (*models.User, error)
	AttachReferrer(ctx context.Context, referredID int64, referralCode string) error
	CountReferrals(ctx context.Context, userID int64) (int, error)
	CurrentTier(ctx context.Context, userID int64) (*models.ReferralLevel, error)
}

var referralCodeCmd = &cobra.Command{
	Use:   "referrals:code USER_ID",
	Short: "Show or generate a user's referral code and current sponsorship level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		return withReferralService(func(svc referralRegistrar) error {
			return showReferralCode(cmd.Context(), svc, userID, cmd.OutOrStdout())
		})
	},
}

var referralAttachCmd = &cobra.Command{
	Use:   "referrals:attach USER_ID CODE",
	Short: "Attach a user to the owner of a referral code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		return withReferralService(func(svc referralRegistrar) error {
			return attachReferrer(cmd.Context(), svc, userID, args[1], cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(referralCodeCmd)
	rootCmd.AddCommand(referralAttachCmd)
}

func parseUserID(arg string) (int64, error) {
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return userID, nil
}

// withReferralService собирает сервис рефералов поверх базы и передает его в fn
func withReferralService(fn func(svc referralRegistrar) error) error {
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

	catalog := referral.NewCatalog(st.Referral(), logger)
	svc := referral.NewService(st.User(), st.Earning(), catalog, nil, logger)

	if err := fn(svc); err != nil {
		logger.Debug("команда завершилась с ошибкой", zap.Error(err))
		return err
	}
	return nil
}

func showReferralCode(ctx context.Context, svc referralRegistrar, userID int64, out io.Writer) error {
	code, err := svc.GetOrGenerateReferralCode(ctx, userID)
	if err != nil {
		return err
	}

	count, err := svc.CountReferrals(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "User: #%d\n", userID)
	fmt.Fprintf(out, "Referral code: %s\n", code)
	fmt.Fprintf(out, "Referrals: %d\n", count)

	tier, err := svc.CurrentTier(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Level: %s (%s%%)\n", tier.Name, tier.CommissionRate.StringFixed(2))
	return nil
}

func attachReferrer(ctx context.Context, svc referralRegistrar, userID int64, code string, out io.Writer) error {
	referrer, err := svc.ValidateReferralCode(ctx, code)
	if err != nil {
		return err
	}

	if err := svc.AttachReferrer(ctx, userID, code); err != nil {
		return err
	}

	fmt.Fprintf(out, "User #%d is now referred by user #%d\n", userID, referrer.ID)
	return nil
}
