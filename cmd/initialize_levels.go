package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"guidy/internal/config"
	"guidy/internal/referral"
	"guidy/internal/store"
	"guidy/pkg/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var initializeLevelsCmd = &cobra.Command{
	Use:   "sponsorship:initialize-levels",
	Short: "Seed the sponsorship level catalog with the default levels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		return initializeLevels(cmd.Context(), catalog, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// levelInitializer заполняет каталог уровней
type levelInitializer interface {
	Initialize(ctx context.Context, force bool) ([]*models.ReferralLevel, error)
}

// initializeLevels заполняет каталог и при наличии уровней спрашивает подтверждение
func initializeLevels(ctx context.Context, catalog levelInitializer, in io.Reader, out io.Writer) error {
	levels, err := catalog.Initialize(ctx, false)
	if errors.Is(err, referral.ErrLevelsExist) {
		if !confirm(in, out, "Sponsorship levels already exist. Replace them with the default levels?") {
			fmt.Fprintln(out, "Aborted: existing sponsorship levels were left unchanged.")
			return nil
		}
		levels, err = catalog.Initialize(ctx, true)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Sponsorship levels initialized (%d levels):\n", len(levels))
	return printLevels(out, levels)
}

// confirm задает вопрос [y/N]; по умолчанию ответ отрицательный
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(out)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func printLevels(out io.Writer, levels []*models.ReferralLevel) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Name\tMin referrals\tCommission rate")
	for _, level := range levels {
		fmt.Fprintf(w, "%s\t%d\t%s%%\n", level.Name, level.MinReferrals, level.CommissionRate.StringFixed(2))
	}
	return w.Flush()
}

// openStore загружает конфигурацию и подключается к базе данных
func openStore(logger *zap.Logger) (*config.Config, store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	st, err := store.NewStore(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	return cfg, st, nil
}
