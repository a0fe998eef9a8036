package payment

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v83"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

func newTestStripeGateway(create func(*stripe.RefundParams) (*stripe.Refund, error)) *StripeGateway {
	return &StripeGateway{create: create, logger: log.New().WithField("component", "stripe-gateway")}
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	if _, err := NewStripeGateway("  ", nil); !errors.Is(err, errSecretKeyRequired) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestStripeGatewayRefund(t *testing.T) {
	var captured *stripe.RefundParams
	gw := newTestStripeGateway(func(p *stripe.RefundParams) (*stripe.Refund, error) {
		captured = p
		return &stripe.Refund{ID: "re_123", Status: stripe.RefundStatusSucceeded}, nil
	})

	res, err := gw.Refund(context.Background(), domain.GatewayRefundRequest{
		TransactionID:  "pi_42",
		AmountMinor:    2599,
		Currency:       "USD",
		IdempotencyKey: "refund-1",
		Reason:         "return ret-1",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.ExternalID != "re_123" || res.Status != domain.GatewayRefundSucceeded {
		t.Fatalf("unexpected result %+v", res)
	}
	if captured == nil || *captured.PaymentIntent != "pi_42" || *captured.Amount != 2599 {
		t.Fatalf("unexpected params %+v", captured)
	}
	if captured.IdempotencyKey == nil || *captured.IdempotencyKey != "refund-1" {
		t.Fatal("idempotency key should be forwarded")
	}
}

func TestStripeGatewayStatusMapping(t *testing.T) {
	tests := []struct {
		in   stripe.RefundStatus
		want domain.GatewayRefundStatus
	}{
		{stripe.RefundStatusSucceeded, domain.GatewayRefundSucceeded},
		{stripe.RefundStatusPending, domain.GatewayRefundPending},
		{stripe.RefundStatusRequiresAction, domain.GatewayRefundPending},
		{stripe.RefundStatusFailed, domain.GatewayRefundFailed},
		{stripe.RefundStatusCanceled, domain.GatewayRefundFailed},
	}
	for _, tt := range tests {
		if got := mapStripeStatus(tt.in); got != tt.want {
			t.Fatalf("mapStripeStatus(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStripeGatewayValidatesRequest(t *testing.T) {
	gw := newTestStripeGateway(func(*stripe.RefundParams) (*stripe.Refund, error) {
		t.Fatal("stripe must not be called for invalid requests")
		return nil, nil
	})

	if _, err := gw.Refund(context.Background(), domain.GatewayRefundRequest{AmountMinor: 10}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := gw.Refund(context.Background(), domain.GatewayRefundRequest{TransactionID: "pi_1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
