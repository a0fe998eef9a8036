package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, nil)
	failure := errors.New("gateway down")

	for i := 0; i < 2; i++ {
		if err := cb.Execute("refund", func() error { return failure }); !errors.Is(err, failure) {
			t.Fatalf("attempt %d: expected gateway error, got %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}

	called := false
	err := cb.Execute("refund", func() error { called = true; return nil })
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if called {
		t.Fatal("operation must not run while breaker is open")
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, nil)
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Execute("refund", func() error { return errors.New("boom") })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute("refund", func() error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, nil)
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Execute("refund", func() error { return errors.New("boom") })
	}
	now = now.Add(2 * time.Minute)
	_ = cb.Execute("refund", func() error { return errors.New("still down") })

	if cb.State() != CircuitOpen {
		t.Fatalf("failed probe should reopen breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerConcurrentUse(t *testing.T) {
	cb := NewCircuitBreaker(1000, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute("refund", func() error {
				if i%2 == 0 {
					return errors.New("odd failure")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}
}

func TestBreakerGatewayShortCircuits(t *testing.T) {
	mock := NewMockGateway()
	mock.Configure(domain.GatewayRefundFailed, errors.New("declined"))
	gw := NewBreakerGateway(mock, NewCircuitBreaker(1, time.Minute, nil))
	req := domain.GatewayRefundRequest{TransactionID: "pi_1", AmountMinor: 10}

	if _, err := gw.Refund(context.Background(), req); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, err := gw.Refund(context.Background(), req); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if mock.Calls() != 1 {
		t.Fatalf("gateway should be called once, got %d", mock.Calls())
	}
}

func TestBreakerGatewayIgnoresCallerCancellation(t *testing.T) {
	mock := NewMockGateway()
	mock.Delay = time.Second
	gw := NewBreakerGateway(mock, NewCircuitBreaker(1, time.Minute, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := gw.Refund(ctx, domain.GatewayRefundRequest{TransactionID: "pi_1", AmountMinor: 10}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	mock.Delay = 0
	if _, err := gw.Refund(context.Background(), domain.GatewayRefundRequest{TransactionID: "pi_1", AmountMinor: 10}); err != nil {
		t.Fatalf("breaker should stay closed after caller cancellation: %v", err)
	}
}
