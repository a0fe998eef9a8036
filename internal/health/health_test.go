package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var resp Response
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return w, resp
}

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name     string
		checkers map[string]Checker
		code     int
		status   Status
	}{
		{
			name:     "all healthy",
			checkers: map[string]Checker{"storage": NewChecker("storage", ok)},
			code:     http.StatusOK,
			status:   StatusHealthy,
		},
		{
			name: "critical failure",
			checkers: map[string]Checker{
				"storage": NewChecker("storage", failing("connection refused")),
				"redis":   NewOptionalChecker("redis", ok),
			},
			code:   http.StatusServiceUnavailable,
			status: StatusUnhealthy,
		},
		{
			name: "optional failure degrades",
			checkers: map[string]Checker{
				"storage": NewChecker("storage", ok),
				"redis":   NewOptionalChecker("redis", failing("timeout")),
			},
			code:   http.StatusOK,
			status: StatusDegraded,
		},
		{
			name:   "no checkers",
			code:   http.StatusOK,
			status: StatusHealthy,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler("returns-service", "v1.0.0")
			for name, c := range tc.checkers {
				h.RegisterChecker(name, c)
			}
			w, resp := serve(t, h.ServeHTTP)
			if w.Code != tc.code {
				t.Fatalf("code = %d, want %d", w.Code, tc.code)
			}
			if resp.Status != tc.status {
				t.Fatalf("status = %s, want %s", resp.Status, tc.status)
			}
			if resp.Service != "returns-service" || resp.Version != "v1.0.0" {
				t.Fatalf("unexpected metadata: %+v", resp)
			}
			if len(resp.Checks) != len(tc.checkers) {
				t.Fatalf("checks = %d, want %d", len(resp.Checks), len(tc.checkers))
			}
		})
	}
}

func TestHealthHandler_CheckMessage(t *testing.T) {
	h := NewHandler("returns-service", "dev")
	h.RegisterChecker("storage", NewChecker("storage", failing("connection refused")))

	_, resp := serve(t, h.ServeHTTP)
	if got := resp.Checks["storage"].Message; got != "connection refused" {
		t.Fatalf("message = %q", got)
	}
}

func TestHandler_TimeoutCancelsSlowChecks(t *testing.T) {
	h := NewHandler("returns-service", "dev")
	h.SetTimeout(20 * time.Millisecond)
	h.RegisterChecker("slow", NewChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	status, checks := h.Run(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not applied")
	}
	if status != StatusUnhealthy || checks["slow"].Status != StatusUnhealthy {
		t.Fatalf("slow check must fail: %s %+v", status, checks)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response: %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler("returns-service", "dev")
	h.RegisterChecker("redis", NewOptionalChecker("redis", failing("down")))

	w := httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ready" {
		t.Fatalf("degraded service is still ready: %d %q", w.Code, w.Body.String())
	}

	h.RegisterChecker("storage", NewChecker("storage", failing("down")))
	w = httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "not ready" {
		t.Fatalf("unexpected readiness response: %d %q", w.Code, w.Body.String())
	}
}
