package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/refund"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

var errSecretKeyRequired = errors.New("stripe secret key is required")

// StripeGateway выполняет возвраты на исходный PaymentIntent через Stripe.
type StripeGateway struct {
	create func(params *stripe.RefundParams) (*stripe.Refund, error)
	logger *log.Entry
}

// NewStripeGateway настраивает глобальный ключ Stripe и возвращает шлюз.
func NewStripeGateway(secretKey string, logger *log.Entry) (*StripeGateway, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	stripe.Key = secretKey

	if logger == nil {
		logger = log.New().WithField("component", "stripe-gateway")
	}
	return &StripeGateway{create: refund.New, logger: logger}, nil
}

// Refund создаёт Stripe refund. В TransactionID передаётся идентификатор PaymentIntent заказа.
func (g *StripeGateway) Refund(ctx context.Context, req domain.GatewayRefundRequest) (domain.GatewayRefund, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return domain.GatewayRefund{}, &domain.ValidationError{Field: "transactionId", Message: "original transaction is required"}
	}
	if req.AmountMinor <= 0 {
		return domain.GatewayRefund{}, &domain.ValidationError{Field: "amount", Message: "refund amount must be positive"}
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.AmountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	created, err := g.create(params)
	if err != nil {
		g.logger.WithError(err).WithField("transaction_id", req.TransactionID).Warn("stripe refund failed")
		return domain.GatewayRefund{}, fmt.Errorf("stripe refund: %w", err)
	}

	result := domain.GatewayRefund{ExternalID: created.ID, Status: mapStripeStatus(created.Status)}
	if created.FailureReason != "" {
		result.Message = string(created.FailureReason)
	}
	return result, nil
}

func mapStripeStatus(status stripe.RefundStatus) domain.GatewayRefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return domain.GatewayRefundSucceeded
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return domain.GatewayRefundPending
	default:
		return domain.GatewayRefundFailed
	}
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)
