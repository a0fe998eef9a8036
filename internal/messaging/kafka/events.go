package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Топики по умолчанию.
const (
	TopicLifecycleEvents = "returns.lifecycle.events"
	TopicOrderEvents     = "returns.order.events"
	TopicDeadLetterQueue = "returns.dlq"
)

// Заголовки сообщений, которые consumer кладёт в DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ErrMalformedEvent — сообщение нельзя разобрать; повторять его бессмысленно.
var ErrMalformedEvent = errors.New("malformed event")

// LifecycleEvent — конверт события жизненного цикла, публикуемого из outbox.
type LifecycleEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OrderStatusEvent приходит от системы заказов. Если указан order_item_id,
// статус применяется к позиции, иначе к заказу целиком.
type OrderStatusEvent struct {
	OrderID     string `json:"order_id"`
	OrderItemID string `json:"order_item_id,omitempty"`
	Status      string `json:"status"`
}

// ItemLevel сообщает, адресовано ли событие позиции.
func (e OrderStatusEvent) ItemLevel() bool {
	return e.OrderItemID != ""
}

// ParseOrderStatusEvent разбирает и проверяет событие статуса заказа.
func ParseOrderStatusEvent(data []byte) (OrderStatusEvent, error) {
	var event OrderStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return OrderStatusEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	event.OrderItemID = strings.TrimSpace(event.OrderItemID)
	event.Status = strings.TrimSpace(event.Status)

	if event.Status == "" {
		return OrderStatusEvent{}, fmt.Errorf("%w: status is required", ErrMalformedEvent)
	}
	if event.OrderID == "" && event.OrderItemID == "" {
		return OrderStatusEvent{}, fmt.Errorf("%w: order_id or order_item_id is required", ErrMalformedEvent)
	}
	return event, nil
}
