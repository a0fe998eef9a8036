package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/mailer"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
	"github.com/vladislavdragonenkov/returns/internal/service/payment"
)

func TestCreateOrchestrator_LocalFallbacks(t *testing.T) {
	logger := log.WithField("test", "orchestrator")
	cfg := validConfig()

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("init deps: %v", err)
	}

	orch, err := createOrchestrator(cfg, deps, metrics.NewReturnsMetrics(), logger)
	if err != nil {
		t.Fatalf("createOrchestrator: %v", err)
	}
	defer orch.hub.Close()

	if orch.returns == nil || orch.orderSync == nil || orch.notify == nil {
		t.Fatal("services must be wired")
	}
	if orch.dispatcher == nil || orch.events == nil || orch.hub == nil {
		t.Fatal("infrastructure must be wired")
	}
	if orch.redis != nil {
		t.Fatal("redis pusher must not be created without REDIS_ADDR")
	}

	// Без Redis runRealtime ничего не запускает.
	orch.runRealtime(t.Context(), logger)

	if err := orch.dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("dispatcher shutdown: %v", err)
	}
}

func TestCreateOrchestrator_WithRedisAddr(t *testing.T) {
	logger := log.WithField("test", "orchestrator-redis")
	cfg := validConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("init deps: %v", err)
	}

	orch, err := createOrchestrator(cfg, deps, metrics.NewReturnsMetrics(), logger)
	if err != nil {
		t.Fatalf("createOrchestrator: %v", err)
	}
	defer orch.hub.Close()

	if orch.redis == nil {
		t.Fatal("expected redis pusher when REDIS_ADDR is set")
	}
	if err := orch.redis.Close(); err != nil {
		t.Fatalf("close redis client: %v", err)
	}
}

func TestNewEmailSender(t *testing.T) {
	logger := log.WithField("test", "email")

	sender, err := newEmailSender(validConfig(), logger)
	if err != nil {
		t.Fatalf("log sender: %v", err)
	}
	if _, ok := sender.(*mailer.LogSender); !ok {
		t.Fatalf("expected log sender without SMTP, got %T", sender)
	}

	cfg := validConfig()
	cfg.SMTPHost = "smtp.example.com"
	sender, err = newEmailSender(cfg, logger)
	if err != nil {
		t.Fatalf("smtp sender: %v", err)
	}
	if _, ok := sender.(*mailer.SMTPSender); !ok {
		t.Fatalf("expected smtp sender, got %T", sender)
	}
}

func TestNewPaymentGateway(t *testing.T) {
	logger := log.WithField("test", "gateway")

	gateway, err := newPaymentGateway(validConfig(), logger)
	if err != nil {
		t.Fatalf("mock gateway: %v", err)
	}
	if _, ok := gateway.(*payment.MockGateway); !ok {
		t.Fatalf("expected mock gateway without stripe key, got %T", gateway)
	}

	cfg := validConfig()
	cfg.StripeSecretKey = "sk_test_123"
	gateway, err = newPaymentGateway(cfg, logger)
	if err != nil {
		t.Fatalf("stripe gateway: %v", err)
	}
	if _, ok := gateway.(*payment.BreakerGateway); !ok {
		t.Fatalf("expected breaker-wrapped gateway, got %T", gateway)
	}
}
