package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/returns/internal/health"
	"github.com/vladislavdragonenkov/returns/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.Service, version.GetVersion())
	srv := startMetricsServer(ctx, addr, logger, healthHandler)
	if srv == nil {
		t.Fatal("startMetricsServer should not return nil")
	}
	waitForServer(t, addr)

	for _, path := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatalf("failed to get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned status %d, expected 200", path, resp.StatusCode)
		}
		if path == "/livez" && string(body) != "ok" {
			t.Errorf("expected 'ok' from /livez, got %q", string(body))
		}
	}
}

func TestStartMetricsServer_ShutdownOnCancel(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	startMetricsServer(ctx, addr, logger, healthcheck.NewHandler(version.Service, version.GetVersion()))
	waitForServer(t, addr)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := http.Get("http://" + addr + "/livez"); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server should be stopped after context cancellation")
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func TestNewHealthHandler_Checks(t *testing.T) {
	cfg := validConfig()
	cfg.OutboxMaxPending = 1

	deps, err := initRuntimeDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("init deps: %v", err)
	}
	h := newHealthHandler(cfg, deps, &orchestrator{})

	status, checks := h.Run(context.Background())
	if status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy, got %s: %+v", status, checks)
	}
	if _, ok := checks["redis"]; ok {
		t.Fatal("redis check must not be registered without redis")
	}

	for i := 0; i < 2; i++ {
		if _, err := deps.outboxRepo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: domain.AggregateReturnRequest,
			AggregateID:   fmt.Sprintf("ret-%d", i),
			EventType:     "return.created",
			Payload:       []byte(`{}`),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	status, checks = h.Run(context.Background())
	if status != healthcheck.StatusDegraded {
		t.Fatalf("outbox backlog should degrade health, got %s", status)
	}
	if checks["outbox"].Status != healthcheck.StatusDegraded {
		t.Fatalf("unexpected outbox check %+v", checks["outbox"])
	}

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded service must stay ready, got %d", rec.Code)
	}
}

func TestNewHealthHandler_StorageFailureIsCritical(t *testing.T) {
	cfg := validConfig()
	deps, err := initRuntimeDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("init deps: %v", err)
	}
	deps.ping = func(context.Context) error { return errors.New("connection refused") }

	h := newHealthHandler(cfg, deps, &orchestrator{})
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when storage is down, got %d", rec.Code)
	}
}

func TestLogPublisher(t *testing.T) {
	p := newLogPublisher(log.WithField("test", "outbox"))
	if err := p.Publish(domain.OutboxMessage{ID: "evt-1", EventType: "return.created"}); err != nil {
		t.Fatalf("log publisher must not fail: %v", err)
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s did not start", addr)
}

// findFreePort находит свободный порт для тестов.
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}
