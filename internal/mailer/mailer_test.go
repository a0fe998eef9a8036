package mailer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/wneessen/go-mail"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type stubDialer struct {
	mu   sync.Mutex
	sent []*mail.Msg
	err  error
}

func (s *stubDialer) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, messages...)
	return s.err
}

func TestSMTPSender_Send(t *testing.T) {
	d := &stubDialer{}
	sender := &SMTPSender{client: d, from: "returns@shop.example", logger: NewLogSender(nil).logger}

	err := sender.Send(context.Background(), domain.EmailMessage{
		To:       "buyer@example.com",
		Subject:  "Your refund has been processed",
		HTMLBody: "<p>Refund of 50.00 USD</p>",
		TextBody: "Refund of 50.00 USD",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(d.sent))
	}

	var buf bytes.Buffer
	if _, err := d.sent[0].WriteTo(&buf); err != nil {
		t.Fatalf("render message: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"buyer@example.com", "returns@shop.example", "Your refund has been processed", "text/html", "text/plain"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("rendered message is missing %q:\n%s", want, raw)
		}
	}
}

func TestSMTPSender_SendErrors(t *testing.T) {
	d := &stubDialer{err: errors.New("connection refused")}
	sender := &SMTPSender{client: d, from: "returns@shop.example", logger: NewLogSender(nil).logger}

	if err := sender.Send(context.Background(), domain.EmailMessage{Subject: "x"}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected missing recipient error, got %v", err)
	}
	if err := sender.Send(context.Background(), domain.EmailMessage{To: "not an address", TextBody: "x"}); err == nil {
		t.Fatal("expected invalid recipient error")
	}
	if err := sender.Send(context.Background(), domain.EmailMessage{To: "buyer@example.com", TextBody: "x"}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNewSMTPSender_Validation(t *testing.T) {
	if _, err := NewSMTPSender(Config{From: "a@b.c"}, nil); err == nil {
		t.Fatal("expected missing host error")
	}
	if _, err := NewSMTPSender(Config{Host: "smtp.example.com"}, nil); err == nil {
		t.Fatal("expected missing from error")
	}
	if _, err := NewSMTPSender(Config{Host: "smtp.example.com", Port: 587, From: "returns@shop.example", Username: "u", Password: "p"}, nil); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(nil)
	if err := s.Send(context.Background(), domain.EmailMessage{To: "buyer@example.com"}); err != nil {
		t.Fatalf("log sender: %v", err)
	}
	if err := s.Send(context.Background(), domain.EmailMessage{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected missing recipient, got %v", err)
	}
}
