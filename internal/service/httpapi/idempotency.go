package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

// responseRecorder дублирует ответ, чтобы сохранить его под ключом идемпотентности.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotent сохраняет первый ответ на запрос с Idempotency-Key и повторяет его для
// такого же запроса. Тот же ключ с другим телом даёт 422, ключ в обработке даёт 409.
// Ответ 5xx не сохраняется: ключ освобождается и повтор снова доходит до обработчика.
// Запросы без заголовка проходят как есть.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if key == "" || h.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			h.writeError(w, r, &requestError{message: "failed to read request body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scoped := domain.ScopedIdempotencyKey(actorID(r.Context()), key)
		hash := domain.IdempotencyRequestHash(r.Method, r.URL.Path, body)
		logger := h.logger.WithFields(log.Fields{"idempotency_key": key, "path": r.URL.Path})

		ctx := r.Context()
		record, err := h.idempotency.CreateProcessing(ctx, scoped, hash, h.now().Add(h.idempotencyTTL))
		if err != nil {
			h.replay(w, r, logger, record, err)
			return
		}

		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		storeCtx := context.WithoutCancel(ctx)
		outcome, keep := domain.IdempotencyOutcome(status)
		if !keep {
			if err := h.idempotency.Release(storeCtx, scoped); err != nil {
				logger.WithError(err).Warn("failed to release idempotency key")
			}
			return
		}
		store := h.idempotency.MarkDone
		if outcome == domain.IdempotencyStatusFailed {
			store = h.idempotency.MarkFailed
		}
		if err := store(storeCtx, scoped, rec.body.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}
	})
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, err error) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: errorPayload{
			Code:    "idempotency_mismatch",
			Message: "idempotency key is already used with a different request payload",
		}})
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status == domain.IdempotencyStatusProcessing:
			writeJSON(w, http.StatusConflict, errorBody{Error: errorPayload{
				Code:    "idempotency_in_progress",
				Message: "request with the same idempotency key is already processing",
			}})
		case record.Replayable():
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(record.ReplayStatus())
			_, _ = w.Write(record.ResponseBody)
		default:
			h.writeError(w, r, errors.New("unknown idempotency record status"))
		}
	default:
		logger.WithError(err).Warn("failed to create idempotency record")
		h.writeError(w, r, err)
	}
}
