package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"ineligible", &IneligibleError{Message: "Return period of 7 days has expired"}, ErrIneligible},
		{"transition", &InvalidTransitionError{From: ReturnStatusPending, To: ReturnStatusCompleted}, ErrInvalidTransition},
		{"order transition", &OrderTransitionError{OrderID: "o1", From: OrderStatusCancelled, To: OrderStatusDelivered}, ErrInvalidTransition},
		{"access", &AccessDeniedError{ActorID: "u1", Action: "cancel return"}, ErrAccessDenied},
		{"not found", &NotFoundError{Entity: "order", ID: "o1"}, ErrNotFound},
		{"conflict", &ConcurrentModificationError{Entity: "return_request", ID: "r1"}, ErrConcurrentModification},
		{"validation", &ValidationError{Field: "notes", Message: "required"}, ErrValidation},
		{"settlement", &SettlementFailure{ReturnRequestID: "r1", Reason: "gateway timeout"}, ErrSettlementFailed},
		{"notification", &NotificationFailure{UserID: "u1", Err: errors.New("smtp down")}, ErrNotificationFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tc.err)
			if !errors.Is(wrapped, tc.sentinel) {
				t.Fatalf("expected %v to match sentinel %v", wrapped, tc.sentinel)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", &NotFoundError{Entity: "order", ID: "o1"})) {
		t.Fatal("IsNotFound must unwrap typed errors")
	}
	if !IsConcurrentModification(&ConcurrentModificationError{Entity: "order", ID: "o1"}) {
		t.Fatal("IsConcurrentModification must match typed error")
	}
	if IsNotFound(errors.New("boom")) {
		t.Fatal("plain error must not be reported as not found")
	}
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	err := &InvalidTransitionError{From: ReturnStatusRefundInitiated, To: ReturnStatusRefundProcessed, Reason: "refund settlement failed"}
	want := "cannot change status from refund_initiated to refund_processed: refund settlement failed"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestSettlementFailureUnwrap(t *testing.T) {
	cause := errors.New("card_declined")
	err := &SettlementFailure{ReturnRequestID: "r1", Reason: "gateway", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("settlement failure must unwrap its cause")
	}
}
