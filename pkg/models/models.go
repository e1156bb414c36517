package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет пользователя Guidy (поля, нужные реферальной программе)
type User struct {
	ID            int64           `json:"id" db:"id"`
	Email         string          `json:"email" db:"email"`
	Name          string          `json:"name" db:"name"`
	ReferralCode  *string         `json:"referral_code" db:"referral_code"` // Уникальный реферальный код
	ReferredBy    *int64          `json:"referred_by" db:"referred_by"`     // ID пользователя, который пригласил
	WalletBalance decimal.Decimal `json:"wallet_balance" db:"wallet_balance"`
	WalletVersion int64           `json:"wallet_version" db:"wallet_version"` // Растет при каждом изменении баланса
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// WalletSummary сравнивает баланс кошелька с суммой выплаченных комиссий
type WalletSummary struct {
	UserID        int64           `json:"user_id"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	PaidEarnings  decimal.Decimal `json:"paid_earnings"`
}

// Drift возвращает разницу между балансом и суммой выплаченных комиссий.
// Отрицательное значение означает внешние списания (оплата из кошелька).
func (w *WalletSummary) Drift() decimal.Decimal {
	return w.WalletBalance.Sub(w.PaidEarnings)
}

// Payment представляет оплату подписки, пришедшую от платежного шлюза
type Payment struct {
	ID          int64           `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"` // ID транзакции у шлюза
	UserID      int64           `json:"user_id" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Gateway     string          `json:"gateway" db:"gateway"` // cinetpay, fapshi, pluto, notchpay
	Status      string          `json:"status" db:"status"`   // pending, succeeded, failed
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	CompletedAt *time.Time      `json:"completed_at" db:"completed_at"`
}

// Статусы платежей
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Платежные шлюзы
const (
	GatewayCinetPay = "cinetpay"
	GatewayFapshi   = "fapshi"
	GatewayPluto    = "pluto"
	GatewayNotchPay = "notchpay"
)

// IsValidGateway проверяет, поддерживается ли шлюз
func IsValidGateway(gateway string) bool {
	switch gateway {
	case GatewayCinetPay, GatewayFapshi, GatewayPluto, GatewayNotchPay:
		return true
	default:
		return false
	}
}
