package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReturnsMetrics собирает метрики жизненного цикла возвратов.
// Методы допускают nil-получатель, чтобы сервисы работали без метрик в тестах.
type ReturnsMetrics struct {
	returnsCreated      prometheus.Counter
	transitions         *prometheus.CounterVec
	transitionConflicts prometheus.Counter
	transitionDuration  prometheus.Histogram

	refundOutcomes         *prometheus.CounterVec
	notificationDeliveries *prometheus.CounterVec
	orderStatusChanges     *prometheus.CounterVec

	outboxEvents     prometheus.Counter
	dispatchInFlight prometheus.Gauge

	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewReturnsMetrics регистрирует метрики в DefaultRegisterer.
func NewReturnsMetrics() *ReturnsMetrics {
	return NewReturnsMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReturnsMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewReturnsMetricsWithRegisterer(registerer prometheus.Registerer) *ReturnsMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReturnsMetrics{
		returnsCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "returns_requests_created_total",
			Help: "Total number of return requests created",
		})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_transitions_total",
			Help: "Total number of return request transitions by target status",
		}, []string{"status"})),
		transitionConflicts: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "returns_transition_conflicts_total",
			Help: "Total number of transitions lost to a concurrent writer",
		})),
		transitionDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "returns_transition_duration_seconds",
			Help:    "Duration of return request transitions including settlement",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		})),
		refundOutcomes: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_refund_outcomes_total",
			Help: "Refund settlement outcomes by method and result",
		}, []string{"method", "result"})),
		notificationDeliveries: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_notification_deliveries_total",
			Help: "Notification deliveries by channel and result",
		}, []string{"channel", "result"})),
		orderStatusChanges: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_order_status_changes_total",
			Help: "Order status changes applied by the synchronizer",
		}, []string{"status"})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "returns_outbox_events_total",
			Help: "Total number of lifecycle events enqueued to the outbox",
		})),
		dispatchInFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "returns_dispatch_in_flight",
			Help: "Background side-effect tasks currently running",
		})),
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "returns_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"})),
		cleanupDeleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "returns_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		})),
		cleanupLastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "returns_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordReturnCreated увеличивает счётчик созданных заявок.
func (m *ReturnsMetrics) RecordReturnCreated() {
	if m == nil {
		return
	}
	m.returnsCreated.Inc()
}

// RecordTransition учитывает успешный переход и его длительность.
func (m *ReturnsMetrics) RecordTransition(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
	m.transitionDuration.Observe(duration.Seconds())
}

// RecordTransitionConflict учитывает проигрыш optimistic locking.
func (m *ReturnsMetrics) RecordTransitionConflict() {
	if m == nil {
		return
	}
	m.transitionConflicts.Inc()
}

// RecordRefund учитывает исход возмещения: completed, processing или failed.
func (m *ReturnsMetrics) RecordRefund(method, result string) {
	if m == nil {
		return
	}
	m.refundOutcomes.WithLabelValues(method, result).Inc()
}

// RecordNotification учитывает доставку по каналу (store, push, email).
func (m *ReturnsMetrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notificationDeliveries.WithLabelValues(channel, result).Inc()
}

// RecordOrderStatus учитывает изменение статуса заказа.
func (m *ReturnsMetrics) RecordOrderStatus(status string) {
	if m == nil {
		return
	}
	m.orderStatusChanges.WithLabelValues(status).Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReturnsMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// DispatchStarted увеличивает число фоновых задач.
func (m *ReturnsMetrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Inc()
}

// DispatchFinished уменьшает число фоновых задач.
func (m *ReturnsMetrics) DispatchFinished() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Dec()
}

// RecordCleanupBatch учитывает удалённые записи одной порции.
func (m *ReturnsMetrics) RecordCleanupBatch(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(deleted))
}

// RecordCleanupRun фиксирует итог прогона очистки idempotency-ключей.
func (m *ReturnsMetrics) RecordCleanupRun(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.cleanupLastDeleted.Set(float64(deleted))
}
