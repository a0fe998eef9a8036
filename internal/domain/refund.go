package domain

import (
	"fmt"
	"strings"
	"time"
)

// RefundMethod — канал возмещения средств.
type RefundMethod string

const (
	// RefundMethodOriginal — возврат на исходный платёжный инструмент через шлюз.
	RefundMethodOriginal RefundMethod = "original_method"
	// RefundMethodWallet — зачисление на внутренний кошелёк покупателя.
	RefundMethodWallet RefundMethod = "wallet"
)

// ParseRefundMethod приводит строку к RefundMethod.
func ParseRefundMethod(raw string) (RefundMethod, error) {
	m := RefundMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case RefundMethodOriginal, RefundMethodWallet:
		return m, nil
	default:
		return "", &ValidationError{Field: "refundMethod", Message: fmt.Sprintf("unknown refund method %q", raw)}
	}
}

// RefundStatus — состояние попытки возмещения.
type RefundStatus string

const (
	RefundStatusNone       RefundStatus = ""
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// ReturnRefund — одна попытка возмещения по заявке. Последняя запись авторитетна.
// Attempt нумерует попытки заявки с 1.
type ReturnRefund struct {
	ID               string
	ReturnRequestID  string
	Attempt          int
	AmountMinor      int64
	Currency         string
	Method           RefundMethod
	Status           RefundStatus
	ExternalRefundID string
	Notes            string
	CreatedAt        time.Time
	ProcessedAt      *time.Time
}

// GatewayIdempotencyKey одинаков для повторных отправок одной попытки,
// поэтому шлюз не проведёт её дважды.
func (r ReturnRefund) GatewayIdempotencyKey() string {
	return fmt.Sprintf("return-%s-attempt-%d", r.ReturnRequestID, r.Attempt)
}

// GatewayRefundStatus — ответ платёжного шлюза по возврату.
type GatewayRefundStatus string

const (
	GatewayRefundSucceeded GatewayRefundStatus = "succeeded"
	GatewayRefundPending   GatewayRefundStatus = "pending"
	GatewayRefundFailed    GatewayRefundStatus = "failed"
)

// GatewayRefund — результат вызова шлюза.
type GatewayRefund struct {
	ExternalID string
	Status     GatewayRefundStatus
	Message    string
}
