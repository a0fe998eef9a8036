package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/messaging/kafka"
)

// kafkaRuntime — producer, publishers outbox и consumer событий заказа.
type kafkaRuntime struct {
	producer  *kafka.Producer
	lifecycle domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	consumer  *kafka.Consumer
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// Возвращает nil, nil, если брокеры не заданы.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	brokers = cleanBrokers(brokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initKafka поднимает producer и consumer событий статуса заказа.
// Ошибка подключения не фатальна: сервис продолжает работу без Kafka.
func initKafka(cfg Config, applier kafka.OrderStatusApplier, logger *log.Entry) *kafkaRuntime {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		return nil
	}

	rt := &kafkaRuntime{
		producer:  producer,
		lifecycle: kafka.NewOutboxPublisher(producer, cfg.KafkaLifecycleTopic),
		dlq:       kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic),
	}

	if applier != nil && cfg.KafkaOrderEventsTopic != "" {
		consumerLogger := logger.WithField("component", "kafka-consumer")
		consumer, err := kafka.NewConsumer(
			cleanBrokers(cfg.KafkaBrokers),
			cfg.KafkaConsumerGroup,
			[]string{cfg.KafkaOrderEventsTopic},
			kafka.NewOrderStatusHandler(applier, consumerLogger),
			kafka.WithDLQ(producer),
			kafka.WithConsumerLogger(consumerLogger),
		)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka consumer, order events are not consumed")
		} else {
			rt.consumer = consumer
		}
	}
	return rt
}

// start запускает consumer в фоне до отмены ctx.
func (rt *kafkaRuntime) start(ctx context.Context, logger *log.Entry) {
	if rt == nil || rt.consumer == nil {
		return
	}
	if err := rt.consumer.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start kafka consumer")
	}
}

// close останавливает consumer и закрывает producer.
func (rt *kafkaRuntime) close(logger *log.Entry) error {
	if rt == nil {
		return nil
	}
	var err error
	if rt.consumer != nil {
		if stopErr := rt.consumer.Stop(); stopErr != nil {
			logger.WithError(stopErr).Warn("failed to stop kafka consumer")
			err = stopErr
		}
	}
	closeKafka(rt.producer, logger)
	return err
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func cleanBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
