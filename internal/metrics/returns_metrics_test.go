package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewReturnsMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReturnsMetricsWithRegisterer(reg)

	if m.returnsCreated == nil || m.transitions == nil || m.transitionConflicts == nil {
		t.Fatal("lifecycle collectors should be initialised")
	}
	if m.refundOutcomes == nil || m.notificationDeliveries == nil || m.dispatchInFlight == nil {
		t.Fatal("side-effect collectors should be initialised")
	}

	m.RecordReturnCreated()
	m.RecordTransition("approved", 10*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestNewReturnsMetricsReusesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewReturnsMetricsWithRegisterer(reg)
	second := NewReturnsMetricsWithRegisterer(reg)

	first.RecordReturnCreated()
	second.RecordReturnCreated()

	if got := testutil.ToFloat64(first.returnsCreated); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestRecordTransitionByStatus(t *testing.T) {
	m := NewReturnsMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordTransition("approved", time.Millisecond)
	m.RecordTransition("approved", time.Millisecond)
	m.RecordTransition("rejected", time.Millisecond)
	m.RecordTransitionConflict()

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("approved")); got != 2 {
		t.Fatalf("approved transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("rejected transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transitionConflicts); got != 1 {
		t.Fatalf("conflicts = %v, want 1", got)
	}

	histogram := &dto.Metric{}
	if err := m.transitionDuration.Write(histogram); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 3 {
		t.Fatalf("expected 3 duration samples, got %d", histogram.Histogram.GetSampleCount())
	}
}

func TestRecordNotificationResult(t *testing.T) {
	m := NewReturnsMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordNotification("email", nil)
	m.RecordNotification("email", errors.New("smtp down"))
	m.RecordNotification("push", nil)

	if got := testutil.ToFloat64(m.notificationDeliveries.WithLabelValues("email", "error")); got != 1 {
		t.Fatalf("email errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.notificationDeliveries.WithLabelValues("push", "ok")); got != 1 {
		t.Fatalf("push ok = %v, want 1", got)
	}
}

func TestDispatchGauge(t *testing.T) {
	m := NewReturnsMetricsWithRegisterer(prometheus.NewRegistry())

	m.DispatchStarted()
	m.DispatchStarted()
	m.DispatchFinished()

	if got := testutil.ToFloat64(m.dispatchInFlight); got != 1 {
		t.Fatalf("in-flight = %v, want 1", got)
	}
}

func TestRecordCleanup(t *testing.T) {
	m := NewReturnsMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordCleanupBatch(3)
	m.RecordCleanupBatch(2)
	m.RecordCleanupRun(5, nil)
	m.RecordCleanupRun(0, errors.New("db down"))

	if got := testutil.ToFloat64(m.cleanupDeleted); got != 5 {
		t.Fatalf("deleted total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.cleanupLastDeleted); got != 5 {
		t.Fatalf("last deleted = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.cleanupRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("error runs = %v, want 1", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *ReturnsMetrics

	m.RecordReturnCreated()
	m.RecordTransition("approved", time.Second)
	m.RecordTransitionConflict()
	m.RecordRefund("wallet", "completed")
	m.RecordNotification("push", nil)
	m.RecordOrderStatus("cancelled")
	m.RecordOutboxEvent()
	m.DispatchStarted()
	m.DispatchFinished()
	m.RecordCleanupBatch(1)
	m.RecordCleanupRun(1, nil)
}
