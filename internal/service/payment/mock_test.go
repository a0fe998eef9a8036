package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

func TestMockGateway(t *testing.T) {
	mock := NewMockGateway()
	req := domain.GatewayRefundRequest{TransactionID: "pi_1", AmountMinor: 100, Currency: "USD"}

	res, err := mock.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if res.Status != domain.GatewayRefundSucceeded || res.ExternalID == "" {
		t.Fatalf("unexpected refund result: %+v", res)
	}

	mock.Configure(domain.GatewayRefundFailed, errors.New("card expired"))
	if _, err := mock.Refund(context.Background(), req); err == nil {
		t.Fatal("expected refund error")
	}

	if mock.Calls() != 2 {
		t.Fatalf("unexpected call counter: %d", mock.Calls())
	}
	if got := mock.Requests(); len(got) != 2 || got[0].TransactionID != "pi_1" {
		t.Fatalf("unexpected recorded requests: %+v", got)
	}
}

func TestMockGatewayDelayRespectsContext(t *testing.T) {
	mock := NewMockGateway()
	mock.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.Refund(ctx, domain.GatewayRefundRequest{TransactionID: "pi_1", AmountMinor: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
