package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/storage/memory"
)

func newIdempotentHandler(repo domain.IdempotencyRepository) *Handler {
	return &Handler{
		idempotency:    repo,
		logger:         log.NewEntry(log.New()),
		idempotencyTTL: time.Hour,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func sendIdempotent(t *testing.T, handler http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/returns/ret-1/retry-refund", strings.NewReader(`{}`))
	req = req.WithContext(context.WithValue(req.Context(), actorKey{}, "admin-1"))
	req.Header.Set(idempotencyKeyHeader, key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotent_RetryAfterServerErrorReachesHandler(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	h := newIdempotentHandler(repo)

	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorPayload{Code: "internal_error", Message: "gateway down"}})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "refund_completed"})
	})
	handler := h.idempotent(next)

	first := sendIdempotent(t, handler, "retry-1")
	require.Equal(t, http.StatusInternalServerError, first.Code)

	_, err := repo.Get(context.Background(), domain.ScopedIdempotencyKey("admin-1", "retry-1"))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound, "5xx must not leave the key behind")

	second := sendIdempotent(t, handler, "retry-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(2), calls.Load())

	third := sendIdempotent(t, handler, "retry-1")
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotent_ClientErrorIsReplayed(t *testing.T) {
	h := newIdempotentHandler(memory.NewIdempotencyRepository())

	var calls atomic.Int32
	handler := h.idempotent(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusConflict, errorBody{Error: errorPayload{Code: "invalid_transition", Message: "nope"}})
	}))

	first := sendIdempotent(t, handler, "conflict-1")
	require.Equal(t, http.StatusConflict, first.Code)

	second := sendIdempotent(t, handler, "conflict-1")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}
