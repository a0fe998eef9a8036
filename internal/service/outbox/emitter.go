package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
)

// Типы событий жизненного цикла, которые уходят в outbox.
const (
	EventReturnRequested     = "ReturnRequested"
	EventReturnStatusChanged = "ReturnStatusChanged"
	EventRefundCompleted     = "RefundCompleted"
	EventRefundPending       = "RefundPending"
	EventRefundFailed        = "RefundFailed"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventOrderItemStatus     = "OrderItemStatusChanged"
)

// Emitter сериализует событие в JSON и кладёт его в outbox.
// Ошибки только логируются: событие не должно ломать операцию, которая его породила.
type Emitter struct {
	repo    domain.OutboxRepository
	metrics *metrics.ReturnsMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewEmitter создаёт Emitter. repo может быть nil, тогда события отбрасываются.
func NewEmitter(repo domain.OutboxRepository, m *metrics.ReturnsMetrics, logger *log.Entry) *Emitter {
	if logger == nil {
		logger = log.New().WithField("component", "outbox-emitter")
	}
	return &Emitter{
		repo:    repo,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Emit добавляет aggregate_id и ts в payload и ставит событие в очередь.
func (e *Emitter) Emit(ctx context.Context, aggregateType, aggregateID, eventType string, payload map[string]any) {
	if e == nil || e.repo == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["aggregate_id"] = aggregateID
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = e.now().Format(time.RFC3339Nano)
	}

	fields := log.Fields{
		"aggregate_type": aggregateType,
		"aggregate_id":   aggregateID,
		"event":          eventType,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := e.repo.Enqueue(context.WithoutCancel(ctx), msg); err != nil {
		e.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		return
	}
	e.metrics.RecordOutboxEvent()
}
