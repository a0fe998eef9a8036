package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer(nil, logger)
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}

	producer, err = initKafkaProducer([]string{" ", ""}, logger)
	if err != nil || producer != nil {
		t.Errorf("blank brokers should disable kafka, got %v, %v", producer, err)
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer([]string{"invalid-broker:9999"}, logger)
	if err == nil {
		t.Error("expected error for invalid brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestInitKafka_UnreachableBrokersDisableKafka(t *testing.T) {
	logger := log.WithField("test", "kafka")
	cfg := DefaultConfig()
	cfg.KafkaBrokers = []string{"broker1:9092", "broker2:9092"}

	if rt := initKafka(cfg, nil, logger); rt != nil {
		t.Fatal("expected nil runtime when brokers are unreachable")
	}
}

func TestKafkaRuntime_NilSafe(t *testing.T) {
	var rt *kafkaRuntime
	logger := log.WithField("test", "kafka")

	rt.start(t.Context(), logger)
	if err := rt.close(logger); err != nil {
		t.Fatalf("close on nil runtime: %v", err)
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	closeKafka(nil, log.WithField("test", "kafka"))
}

func TestCleanBrokers(t *testing.T) {
	got := cleanBrokers([]string{" a:9092 ", "", "b:9092"})
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}
