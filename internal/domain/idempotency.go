package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности мутирующего запроса.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone хранит успешный ответ для повтора.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed хранит ответ с ошибкой клиента (4xx) для повтора.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord хранит ответ на запрос, выполненный под ключом пользователя.
// Key уже включает область пользователя, см. ScopedIdempotencyKey.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Replayable сообщает, что запись содержит сохранённый ответ.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ReplayStatus возвращает HTTP-код сохранённого ответа.
func (r IdempotencyRecord) ReplayStatus() int {
	if r.HTTPStatus == 0 {
		return http.StatusOK
	}
	return r.HTTPStatus
}

// ScopedIdempotencyKey помещает клиентский ключ в пространство пользователя,
// чтобы одинаковые ключи разных покупателей не пересекались.
func ScopedIdempotencyKey(actorID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return strings.TrimSpace(actorID) + ":" + key
}

// IdempotencyRequestHash считает отпечаток запроса: метод, путь и тело без краевых пробелов.
func IdempotencyRequestHash(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(bytes.TrimSpace(body))
	return hex.EncodeToString(sum.Sum(nil))
}

// IdempotencyOutcome решает судьбу ответа: 2xx/3xx сохраняется как done, 4xx как failed.
// Ответ 5xx не сохраняется (store=false), ключ освобождается для повтора.
func IdempotencyOutcome(httpStatus int) (status IdempotencyStatus, store bool) {
	switch {
	case httpStatus >= http.StatusInternalServerError:
		return "", false
	case httpStatus >= http.StatusBadRequest:
		return IdempotencyStatusFailed, true
	default:
		return IdempotencyStatusDone, true
	}
}
