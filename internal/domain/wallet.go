package domain

import "time"

// Wallet — баланс внутреннего кошелька пользователя.
type Wallet struct {
	UserID       string
	BalanceMinor int64
	Currency     string
	Version      int64
	UpdatedAt    time.Time
}

// WalletTransaction — строка журнала кошелька. Не изменяется после записи.
type WalletTransaction struct {
	ID           string
	UserID       string
	AmountMinor  int64
	BalanceAfter int64
	Reason       string
	// Reference связывает проводку с источником (например, попыткой возмещения).
	Reference string
	CreatedAt time.Time
}

const (
	WalletReasonReturnRefund      = "return_refund"
	WalletReasonOrderCancellation = "order_cancellation"
)
