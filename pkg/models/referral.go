package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralLevel представляет уровень спонсорства (ARGENT, OR, DIAMANT)
type ReferralLevel struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	MinReferrals   int             `json:"min_referrals" db:"min_referrals"`
	CommissionRate decimal.Decimal `json:"commission_rate" db:"commission_rate"` // Процент, 0-100
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// EarningStatus представляет статус реферального начисления
type EarningStatus string

const (
	EarningStatusPending EarningStatus = "pending"
	EarningStatusPaid    EarningStatus = "paid"
	EarningStatusFailed  EarningStatus = "failed"
)

// IsValid проверяет валидность статуса начисления
func (s EarningStatus) IsValid() bool {
	switch s {
	case EarningStatusPending, EarningStatusPaid, EarningStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов
func (s EarningStatus) IsTerminal() bool {
	return s == EarningStatusPaid || s == EarningStatusFailed
}

// ReferralEarning представляет одно комиссионное начисление рефереру
type ReferralEarning struct {
	ID               int64           `json:"id" db:"id"`
	UserID           int64           `json:"user_id" db:"user_id"`                   // Владелец комиссии (реферер)
	ReferredUserID   *int64          `json:"referred_user_id" db:"referred_user_id"` // Кто совершил оплату
	PaymentReference *string         `json:"payment_reference" db:"payment_reference"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate" db:"commission_rate"` // Ставка на момент создания
	Status           EarningStatus   `json:"status" db:"status"`
	Attempts         int             `json:"attempts" db:"attempts"`
	LastError        *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// Payout описывает результат зачисления комиссии в кошелек
type Payout struct {
	EarningID int64           `json:"earning_id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"` // Баланс после зачисления
}
