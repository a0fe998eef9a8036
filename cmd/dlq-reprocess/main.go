// Command dlq-reprocess читает DLQ сервиса возвратов и переигрывает сообщения:
// события заказов возвращаются в исходный топик consumer-а, события outbox
// публикуются заново в топик жизненного цикла. По умолчанию работает в dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "RETURNS_KAFKA_BROKERS"
)

// Виды сообщений в DLQ.
const (
	kindAll      = "all"
	kindConsumer = "consumer"
	kindOutbox   = "outbox"
)

type options struct {
	brokers        []string
	sourceTopic    string
	orderTopic     string
	lifecycleTopic string
	kind           string
	eventTypes     map[string]struct{}
	limit          int
	execute        bool
	fromNewest     bool
	idleTimeout    time.Duration
}

// dlqEntry — разобранное сообщение DLQ, готовое к повторной публикации.
type dlqEntry struct {
	kind      string
	eventType string
	topic     string
	key       string
	value     json.RawMessage
}

// consumerDLQBody пишет consumer при исчерпании retry.
type consumerDLQBody struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
}

// outboxDLQBody лежит в payload конверта outbox, отправленного в DLQ.
type outboxDLQBody struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

var errSkip = errors.New("not replayable")

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayPublisher реализуется kafka.Producer.
type replayPublisher interface {
	PublishEvent(topic, key string, event any) error
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s saramaSource) Close() error {
	return s.consumer.Close()
}

type replayDeps struct {
	client    offsetClient
	source    partitionSource
	publisher replayPublisher
}

func (d replayDeps) close() {
	if d.publisher != nil {
		_ = d.publisher.Close()
	}
	if d.source != nil {
		_ = d.source.Close()
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

var connect = func(opts options, logger *log.Entry) (replayDeps, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "returns-dlq-reprocess"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps := replayDeps{client: client, source: saramaSource{consumer: consumer}}
	if !opts.execute {
		return deps, nil
	}

	producer, err := kafka.NewProducer(opts.brokers, kafka.WithProducerLogger(logger))
	if err != nil {
		deps.close()
		return replayDeps{}, err
	}
	deps.publisher = producer
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()
	logger := log.WithField("component", "dlq-reprocess")

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		logger.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connect(opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("kafka is not available")
	}
	defer deps.close()

	if _, err := replay(ctx, opts, deps, logger); err != nil {
		logger.WithError(err).Fatal("dlq replay failed")
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		opts       options
		brokersRaw string
		eventTypes string
	)
	fs.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: "+brokersEnv+")")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.orderTopic, "order-topic", kafka.TopicOrderEvents, "target for consumer entries without original topic")
	fs.StringVar(&opts.lifecycleTopic, "lifecycle-topic", kafka.TopicLifecycleEvents, "target for outbox entries")
	fs.StringVar(&opts.kind, "kind", kindAll, "entries to replay: all|consumer|outbox")
	fs.StringVar(&eventTypes, "event-type", "", "comma-separated outbox event types to replay")
	fs.IntVar(&opts.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish replayed messages; default is dry-run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(brokersEnv)
	}
	opts.brokers = splitList(brokersRaw)
	if len(opts.brokers) == 0 {
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	}
	for name, topic := range map[string]string{
		"source-topic":    opts.sourceTopic,
		"order-topic":     opts.orderTopic,
		"lifecycle-topic": opts.lifecycleTopic,
	} {
		if strings.TrimSpace(topic) == "" {
			return options{}, fmt.Errorf("%s is required", name)
		}
	}
	switch opts.kind {
	case kindAll, kindConsumer, kindOutbox:
	default:
		return options{}, fmt.Errorf("unsupported kind %q", opts.kind)
	}
	if types := splitList(eventTypes); len(types) > 0 {
		opts.eventTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			opts.eventTypes[t] = struct{}{}
		}
	}
	if opts.limit <= 0 {
		return options{}, errors.New("limit must be > 0")
	}
	if opts.idleTimeout <= 0 {
		return options{}, errors.New("idle-timeout must be > 0")
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// replayStats — итог прохода по DLQ.
type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func replay(ctx context.Context, opts options, deps replayDeps, logger *log.Entry) (replayStats, error) {
	var total replayStats
	if deps.client == nil || deps.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if opts.execute && deps.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := deps.client.Partitions(opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", opts.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.scanned >= opts.limit {
			break
		}
		stats, err := replayPartition(ctx, opts, deps, partition, opts.limit-total.scanned, logger)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if opts.execute {
		mode = "execute"
	}
	logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func replayPartition(ctx context.Context, opts options, deps replayDeps, partition int32, limit int, logger *log.Entry) (replayStats, error) {
	var stats replayStats

	oldest, err := deps.client.GetOffset(opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := deps.client.GetOffset(opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}
	start := oldest
	if opts.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := deps.source.ConsumePartition(opts.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(opts.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(opts.idleTimeout)
			stats.scanned++

			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}
			entry, err := decodeEntry(msg.Value, opts)
			if err == nil && !opts.accepts(entry) {
				err = fmt.Errorf("%w: filtered out", errSkip)
			}
			if err != nil {
				stats.skipped++
				logger.WithFields(fields).WithError(err).Debug("skip dlq message")
				continue
			}

			fields["kind"] = entry.kind
			fields["target_topic"] = entry.topic
			fields["key"] = entry.key
			if opts.execute {
				if err := deps.publisher.PublishEvent(entry.topic, entry.key, entry.value); err != nil {
					return stats, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
				}
				logger.WithFields(fields).Info("dlq message replayed")
			} else {
				logger.WithFields(fields).Info("dlq replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (o options) accepts(e dlqEntry) bool {
	if o.kind != kindAll && o.kind != e.kind {
		return false
	}
	if len(o.eventTypes) == 0 || e.kind != kindOutbox {
		return true
	}
	_, ok := o.eventTypes[e.eventType]
	return ok
}

// decodeEntry распознаёт оба формата DLQ. Сообщения consumer-а с невалидным
// JSON не переигрываются: обработчик отклонит их снова.
func decodeEntry(raw []byte, opts options) (dlqEntry, error) {
	var body consumerDLQBody
	if err := json.Unmarshal(raw, &body); err == nil && body.OriginalValue != "" {
		if !json.Valid([]byte(body.OriginalValue)) {
			return dlqEntry{}, fmt.Errorf("%w: original value is not valid JSON", errSkip)
		}
		topic := strings.TrimSpace(body.OriginalTopic)
		if topic == "" {
			topic = opts.orderTopic
		}
		return dlqEntry{
			kind:  kindConsumer,
			topic: topic,
			key:   body.OriginalKey,
			value: json.RawMessage(body.OriginalValue),
		}, nil
	}

	var envelope kafka.LifecycleEvent
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Payload) == 0 {
		return dlqEntry{}, fmt.Errorf("%w: unknown message format", errSkip)
	}
	var inner outboxDLQBody
	if err := json.Unmarshal(envelope.Payload, &inner); err != nil {
		return dlqEntry{}, fmt.Errorf("decode outbox dlq body: %w", err)
	}
	if len(inner.Payload) == 0 {
		return dlqEntry{}, errors.New("outbox dlq body has no original payload")
	}

	event := kafka.LifecycleEvent{
		ID:            firstNonEmpty(inner.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(inner.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(inner.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(inner.EventType, envelope.EventType),
		Payload:       inner.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return dlqEntry{}, fmt.Errorf("encode lifecycle event: %w", err)
	}
	return dlqEntry{
		kind:      kindOutbox,
		eventType: event.EventType,
		topic:     opts.lifecycleTopic,
		key:       firstNonEmpty(event.AggregateID, event.ID),
		value:     value,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
