package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"guidy/pkg/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func defaultLevels() []*models.ReferralLevel {
	return []*models.ReferralLevel{
		{Name: "ARGENT", MinReferrals: 0, CommissionRate: decimal.RequireFromString("10.00")},
		{Name: "OR", MinReferrals: 10, CommissionRate: decimal.RequireFromString("15.00")},
		{Name: "DIAMANT", MinReferrals: 20, CommissionRate: decimal.RequireFromString("20.00")},
	}
}

func TestReplaceLevelsCommitsWholeCatalog(t *testing.T) {
	mock := newMock(t)
	repo := NewReferralRepository(mock, zap.NewNop())
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE referral_levels").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	for i, level := range defaultLevels() {
		mock.ExpectQuery("INSERT INTO referral_levels").
			WithArgs(level.Name, level.MinReferrals, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(i+1), now))
	}
	mock.ExpectCommit()

	levels := defaultLevels()
	err := repo.ReplaceLevels(context.Background(), levels)

	require.NoError(t, err)
	assert.Equal(t, int64(1), levels[0].ID)
	assert.Equal(t, int64(3), levels[2].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceLevelsRollsBackOnInsertFailure(t *testing.T) {
	mock := newMock(t)
	repo := NewReferralRepository(mock, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE referral_levels").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectQuery("INSERT INTO referral_levels").
		WithArgs("ARGENT", 0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectQuery("INSERT INTO referral_levels").
		WithArgs("OR", 10, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.ReplaceLevels(context.Background(), defaultLevels())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "OR")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutCreditsWalletAndMarksPaid(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM referral_earnings").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(int64(7), decimal.RequireFromString("500.00"), models.EarningStatusPending))
	mock.ExpectQuery("FROM users").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"wallet_version"}).AddRow(int64(3)))
	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(7), pgxmock.AnyArg(), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"wallet_balance"}).AddRow(decimal.RequireFromString("1500.00")))
	mock.ExpectExec("UPDATE referral_earnings").
		WithArgs(int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	payout, err := repo.Payout(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, int64(7), payout.UserID)
	assert.True(t, payout.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, payout.Balance.Equal(decimal.NewFromInt(1500)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutMissingUserRollsBack(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM referral_earnings").
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(int64(9999), decimal.RequireFromString("250.00"), models.EarningStatusPending))
	mock.ExpectQuery("FROM users").
		WithArgs(int64(9999)).
		WillReturnRows(pgxmock.NewRows([]string{"wallet_version"}))
	mock.ExpectRollback()

	payout, err := repo.Payout(context.Background(), 11)

	assert.Nil(t, payout)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutAlreadyPaid(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("FROM referral_earnings").
		WithArgs(int64(12)).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(int64(7), decimal.RequireFromString("100.00"), models.EarningStatusPaid))
	mock.ExpectRollback()

	_, err := repo.Payout(context.Background(), 12)

	assert.ErrorIs(t, err, ErrEarningNotPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	mock.ExpectQuery("UPDATE referral_earnings").
		WithArgs(int64(13), "user not found", 3).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(models.EarningStatusFailed))

	status, err := repo.RecordFailure(context.Background(), 13, "user not found", 3)

	require.NoError(t, err)
	assert.Equal(t, models.EarningStatusFailed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEarningDuplicatePayment(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	mock.ExpectQuery("INSERT INTO referral_earnings").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	ref := "cinetpay-42"
	err := repo.Create(context.Background(), &models.ReferralEarning{
		UserID:           1,
		PaymentReference: &ref,
		Amount:           decimal.NewFromInt(100),
		CommissionRate:   decimal.NewFromInt(10),
	})

	assert.ErrorIs(t, err, ErrDuplicateEarning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func earningRow(rows *pgxmock.Rows, id int64, status models.EarningStatus) *pgxmock.Rows {
	referredID := int64(3)
	reference := "pluto-" + string(status)
	lastError := ""
	paidAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(id, int64(7), &referredID, &reference,
		decimal.RequireFromString("50.00"), decimal.RequireFromString("10.00"),
		status, 0, &lastError, paidAt, &paidAt)
}

func earningColumnNames() []string {
	return []string{"id", "user_id", "referred_user_id", "payment_reference", "amount", "commission_rate",
		"status", "attempts", "last_error", "created_at", "paid_at"}
}

func TestListPending(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	rows := pgxmock.NewRows(earningColumnNames())
	earningRow(rows, 1, models.EarningStatusPending)
	earningRow(rows, 2, models.EarningStatusPending)
	mock.ExpectQuery("WHERE status = 'pending'").WillReturnRows(rows)

	earnings, err := repo.ListPending(context.Background())

	require.NoError(t, err)
	require.Len(t, earnings, 2)
	assert.Equal(t, int64(2), earnings[1].ID)
	assert.True(t, earnings[0].Amount.Equal(decimal.NewFromInt(50)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingUnknownStatus(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	rows := pgxmock.NewRows(earningColumnNames())
	earningRow(rows, 1, models.EarningStatus("archived"))
	mock.ExpectQuery("WHERE status = 'pending'").WillReturnRows(rows)

	earnings, err := repo.ListPending(context.Background())

	assert.ErrorContains(t, err, "неизвестный статус")
	assert.Nil(t, earnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryBatchLockBusy(t *testing.T) {
	mock := newMock(t)
	repo := NewEarningRepository(mock, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery("pg_try_advisory_xact_lock").
		WithArgs(commissionBatchLockKey).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
	mock.ExpectRollback()

	release, acquired, err := repo.TryBatchLock(context.Background())

	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Nil(t, release)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSucceededRepeatedWebhook(t *testing.T) {
	mock := newMock(t)
	repo := NewPaymentRepository(mock, zap.NewNop())

	mock.ExpectQuery("INSERT INTO payments").
		WithArgs("fapshi-7", int64(5), pgxmock.AnyArg(), "XAF", "fapshi").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "completed_at"}))

	first, err := repo.MarkSucceeded(context.Background(), &models.Payment{
		Reference: "fapshi-7",
		UserID:    5,
		Amount:    decimal.NewFromInt(5000),
		Currency:  "XAF",
		Gateway:   "fapshi",
	})

	require.NoError(t, err)
	assert.False(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByIDNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock, zap.NewNop())

	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "email", "name", "referral_code", "referred_by",
			"wallet_balance", "wallet_version", "created_at", "updated_at",
		}))

	user, err := repo.GetByID(context.Background(), 404)

	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletSummary(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock, zap.NewNop())

	mock.ExpectQuery("FROM users u").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"wallet_balance", "paid"}).
			AddRow(decimal.RequireFromString("2000.00"), decimal.RequireFromString("2000.00")))

	summary, err := repo.WalletSummary(context.Background(), 7)

	require.NoError(t, err)
	assert.True(t, summary.Drift().IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountReferredBy(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock, zap.NewNop())

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.CountReferredBy(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 12, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
