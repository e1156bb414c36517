package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"guidy/internal/commission"
	"guidy/internal/metrics"
	"guidy/internal/referral"
	"guidy/internal/store"
	"guidy/internal/webhook"
	"guidy/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCatalog struct {
	existing bool
	calls    []bool
}

func (c *fakeCatalog) Initialize(ctx context.Context, force bool) ([]*models.ReferralLevel, error) {
	c.calls = append(c.calls, force)
	if c.existing && !force {
		return nil, referral.ErrLevelsExist
	}
	return referral.DefaultLevels(), nil
}

func TestInitializeLevels(t *testing.T) {
	tests := []struct {
		name          string
		existing      bool
		input         string
		expectedCalls []bool
		expectTable   bool
	}{
		{"пустой каталог без вопроса", false, "", []bool{false}, true},
		{"подтверждение перезаписи", true, "y\n", []bool{false, true}, true},
		{"полный ответ yes", true, "YES\n", []bool{false, true}, true},
		{"отказ", true, "n\n", []bool{false}, false},
		{"пустой ответ означает отказ", true, "\n", []bool{false}, false},
		{"закрытый stdin означает отказ", true, "", []bool{false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &fakeCatalog{existing: tt.existing}
			var out bytes.Buffer

			err := initializeLevels(context.Background(), catalog, strings.NewReader(tt.input), &out)

			require.NoError(t, err)
			assert.Equal(t, tt.expectedCalls, catalog.calls)
			if tt.existing {
				assert.Contains(t, out.String(), "[y/N]")
			}
			if tt.expectTable {
				assert.Contains(t, out.String(), "Commission rate")
				assert.Contains(t, out.String(), "DIAMANT")
				assert.Contains(t, out.String(), "20.00%")
			} else {
				assert.Contains(t, out.String(), "Aborted")
				assert.NotContains(t, out.String(), "DIAMANT")
			}
		})
	}
}

func TestPrintLevelsTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printLevels(&out, referral.DefaultLevels()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Name"))
	assert.Equal(t, []string{"ARGENT", "0", "10.00%"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"OR", "10", "15.00%"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"DIAMANT", "20", "20.00%"}, strings.Fields(lines[3]))
}

type fakeRunner struct {
	outcomes []commission.Outcome
	err      error
}

func (r *fakeRunner) ProcessPendingCommissions(ctx context.Context, report commission.Reporter) (commission.Result, error) {
	var result commission.Result
	if r.err != nil {
		return result, r.err
	}
	for _, o := range r.outcomes {
		switch o.Status {
		case commission.OutcomePaid:
			result.Processed++
		case commission.OutcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
		report(o)
	}
	return result, nil
}

func paidOutcome(id, userID int64, amount, balance string) commission.Outcome {
	return commission.Outcome{
		Earning: &models.ReferralEarning{ID: id, UserID: userID},
		Status:  commission.OutcomePaid,
		Payout: &models.Payout{
			EarningID: id,
			UserID:    userID,
			Amount:    decimal.RequireFromString(amount),
			Balance:   decimal.RequireFromString(balance),
		},
	}
}

func TestProcessCommissionsSuccess(t *testing.T) {
	runner := &fakeRunner{outcomes: []commission.Outcome{
		paidOutcome(1, 7, "500", "500"),
		paidOutcome(2, 7, "1500", "2000"),
	}}
	var out bytes.Buffer

	err := processCommissions(context.Background(), runner, &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Earning #2 paid: 1500.00 credited to user #7 (balance 2000.00)")
	assert.Contains(t, out.String(), "Successfully processed: 2\n")
	assert.Contains(t, out.String(), "Failed: 0\n")
	assert.NotContains(t, out.String(), "Skipped")
}

func TestProcessCommissionsPartialFailure(t *testing.T) {
	runner := &fakeRunner{outcomes: []commission.Outcome{
		{
			Earning:       &models.ReferralEarning{ID: 3, UserID: 9999},
			Status:        commission.OutcomeFailed,
			EarningStatus: models.EarningStatusPending,
			Err:           store.ErrUserNotFound,
		},
	}}
	var out bytes.Buffer

	err := processCommissions(context.Background(), runner, &out)

	assert.ErrorIs(t, err, errPartialFailure)
	assert.Contains(t, out.String(), "Earning #3 failed for user #9999")
	assert.Contains(t, out.String(), "status: pending")
	assert.Contains(t, out.String(), "Successfully processed: 0\n")
	assert.Contains(t, out.String(), "Failed: 1\n")
}

func TestProcessCommissionsRunError(t *testing.T) {
	runner := &fakeRunner{err: commission.ErrRunInProgress}
	var out bytes.Buffer

	err := processCommissions(context.Background(), runner, &out)

	assert.ErrorIs(t, err, commission.ErrRunInProgress)
	assert.Empty(t, out.String())
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	for _, name := range []string{
		"serve",
		"migrate",
		"sponsorship:initialize-levels",
		"referrals:process-commissions",
		"referrals:code",
		"referrals:attach",
		"wallet:summary",
	} {
		assert.True(t, names[name], name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-format"))
}

func TestNewCommandLogger(t *testing.T) {
	for _, format := range []string{"json", "pretty"} {
		logger, err := newCommandLogger("debug", format)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(zap.NewNop(), reg, reg)
	router := newRouter(
		metrics.NewHandler(m, nil, zap.NewNop()),
		webhook.NewPaymentWebhookHandler(nil, nil, m, "secret", zap.NewNop()),
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/payments", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/payments", strings.NewReader("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrintWalletSummary(t *testing.T) {
	var out bytes.Buffer
	printWalletSummary(&out, &models.WalletSummary{
		UserID:        7,
		WalletBalance: decimal.RequireFromString("1800"),
		PaidEarnings:  decimal.RequireFromString("2000"),
	})

	assert.Contains(t, out.String(), "Wallet balance: 1800.00")
	assert.Contains(t, out.String(), "Paid commissions: 2000.00")
	assert.Contains(t, out.String(), "Drift: -200.00")
}

type fakeRegistrar struct {
	users map[int64]*models.User
	codes map[string]int64
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{
		users: map[int64]*models.User{1: {ID: 1}, 2: {ID: 2}},
		codes: map[string]int64{},
	}
}

func (r *fakeRegistrar) GetOrGenerateReferralCode(ctx context.Context, userID int64) (string, error) {
	if _, ok := r.users[userID]; !ok {
		return "", store.ErrUserNotFound
	}
	for code, owner := range r.codes {
		if owner == userID {
			return code, nil
		}
	}
	code := "CODE000" + strconv.FormatInt(userID, 10)
	r.codes[code] = userID
	return code, nil
}

func (r *fakeRegistrar) ValidateReferralCode(ctx context.Context, code string) (*models.User, error) {
	owner, ok := r.codes[strings.TrimPrefix(code, "ref_")]
	if !ok {
		return nil, referral.ErrInvalidReferralCode
	}
	return r.users[owner], nil
}

func (r *fakeRegistrar) AttachReferrer(ctx context.Context, referredID int64, code string) error {
	referrer, err := r.ValidateReferralCode(ctx, code)
	if err != nil {
		return err
	}
	if referrer.ID == referredID {
		return referral.ErrSelfReferral
	}
	r.users[referredID].ReferredBy = &referrer.ID
	return nil
}

func (r *fakeRegistrar) CountReferrals(ctx context.Context, userID int64) (int, error) {
	count := 0
	for _, u := range r.users {
		if u.ReferredBy != nil && *u.ReferredBy == userID {
			count++
		}
	}
	return count, nil
}

func (r *fakeRegistrar) CurrentTier(ctx context.Context, userID int64) (*models.ReferralLevel, error) {
	count, _ := r.CountReferrals(ctx, userID)
	return referral.TierFor(referral.DefaultLevels(), count), nil
}

func TestShowReferralCode(t *testing.T) {
	svc := newFakeRegistrar()
	var out bytes.Buffer

	err := showReferralCode(context.Background(), svc, 1, &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Referral code: CODE0001\n")
	assert.Contains(t, out.String(), "Referrals: 0\n")
	assert.Contains(t, out.String(), "Level: ARGENT (10.00%)")

	_, err = svc.GetOrGenerateReferralCode(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, svc.codes, 1)
}

func TestShowReferralCodeUnknownUser(t *testing.T) {
	var out bytes.Buffer

	err := showReferralCode(context.Background(), newFakeRegistrar(), 404, &out)

	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.Empty(t, out.String())
}

func TestAttachReferrerCommand(t *testing.T) {
	tests := []struct {
		name     string
		userID   int64
		code     string
		wantErr  error
		expected string
	}{
		{"успешная привязка", 2, "ref_CODE0001", nil, "User #2 is now referred by user #1"},
		{"неизвестный код", 2, "NOPE", referral.ErrInvalidReferralCode, ""},
		{"свой код", 1, "CODE0001", referral.ErrSelfReferral, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeRegistrar()
			svc.codes["CODE0001"] = 1
			var out bytes.Buffer

			err := attachReferrer(context.Background(), svc, tt.userID, tt.code, &out)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, out.String())
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.expected)
			assert.Equal(t, int64(1), *svc.users[tt.userID].ReferredBy)
		})
	}
}

func TestParseUserID(t *testing.T) {
	id, err := parseUserID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, arg := range []string{"0", "-1", "abc"} {
		_, err := parseUserID(arg)
		assert.Error(t, err, arg)
	}
}
