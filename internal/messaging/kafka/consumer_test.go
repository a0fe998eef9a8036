package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func TestNewConsumerErrors(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler); err == nil {
		t.Fatal("expected new consumer error")
	}
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler, WithMaxRetries(5)); err == nil {
		t.Fatal("expected new consumer with options error")
	}
}

func TestNewConsumerOptions(t *testing.T) {
	dlq := NewProducerWithSyncProducer(mocks.NewSyncProducer(t, nil))
	c := newConsumer(&mockConsumerGroup{}, []string{"topic"}, nil,
		WithDLQ(dlq), WithMaxRetries(7), WithRetryDelay(time.Second), WithConsumerLogger(log.WithField("test", "opts")))
	if c.dlqProducer != dlq || c.maxRetries != 7 || c.retryDelay != time.Second {
		t.Fatalf("options not applied: %+v", c)
	}

	defaults := newConsumer(&mockConsumerGroup{}, nil, nil, WithMaxRetries(0), WithRetryDelay(-1))
	if defaults.maxRetries != defaultMaxRetries || defaults.retryDelay != defaultRetryDelay {
		t.Fatalf("invalid options must keep defaults: %+v", defaults)
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := &Consumer{
		consumer:   group,
		topics:     []string{"topic-a"},
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "consumer"),
		maxRetries: 2,
	}

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:  log.WithField("test", "claim"),
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected one marked message, got %d", len(session.marked))
	}
}

func TestConsumeClaimFailedHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
		logger:     log.WithField("test", "claim-fail"),
		maxRetries: 1,
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message should not be marked, got %d", len(session.marked))
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "topic", Key: []byte("key"), Value: []byte(`{"a":1}`)}

	t.Run("success", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
			logger:     log.WithField("test", "retry-success"),
			maxRetries: 2,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("retry below limit", func(t *testing.T) {
		retryingMessage := &sarama.ConsumerMessage{
			Topic:   "topic",
			Key:     []byte("key"),
			Value:   []byte("{}"),
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("1")}},
		}
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("temporary")
			},
			logger:     log.WithField("test", "retry"),
			maxRetries: 3,
			retryDelay: 0,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), retryingMessage); err == nil {
			t.Fatal("expected retry error")
		}
		if attempts != 2 {
			t.Fatalf("expected 2 in-process attempts, got %d", attempts)
		}
	})

	t.Run("max retries without dlq", func(t *testing.T) {
		retryingMessage := &sarama.ConsumerMessage{
			Topic:   "topic",
			Key:     []byte("key"),
			Value:   []byte("{}"),
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("3")}},
		}
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			logger:     log.WithField("test", "max-no-dlq"),
			maxRetries: 3,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), retryingMessage); err == nil {
			t.Fatal("expected error when dlq is absent")
		}
	})

	t.Run("max retries with dlq success", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndSucceed()
		retryingMessage := &sarama.ConsumerMessage{
			Topic:   "topic",
			Key:     []byte("key"),
			Value:   []byte("{}"),
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("3")}},
		}
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: NewProducerWithSyncProducer(mockProducer, WithProducerLogger(log.WithField("test", "dlq"))),
			logger:      log.WithField("test", "max-dlq"),
			maxRetries:  3,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), retryingMessage); err != nil {
			t.Fatalf("unexpected error after dlq publish: %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("max retries with dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		retryingMessage := &sarama.ConsumerMessage{
			Topic:   "topic",
			Key:     []byte("key"),
			Value:   []byte("{}"),
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("3")}},
		}
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: NewProducerWithSyncProducer(mockProducer, WithProducerLogger(log.WithField("test", "dlq"))),
			logger:      log.WithField("test", "max-dlq-fail"),
			maxRetries:  3,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), retryingMessage); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := consumer.getRetryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}

	msgInvalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := consumer.getRetryCount(msgInvalid); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}

}

func TestSendToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	consumer := &Consumer{
		dlqProducer: NewProducerWithSyncProducer(mockProducer, WithProducerLogger(log.WithField("test", "send-dlq"))),
		logger:      log.WithField("test", "consumer-send-dlq"),
	}

	msg := &sarama.ConsumerMessage{Topic: TopicOrderEvents, Partition: 1, Offset: 42, Key: []byte("k"), Value: []byte("v")}
	if err := consumer.sendToDLQ(msg, errors.New("boom"), 3); err != nil {
		t.Fatalf("sendToDLQ failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "claim-stop"),
		maxRetries: 1,
	}
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestHandleMessageWithRetry_MalformedGoesStraightToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !strings.Contains(string(val), "malformed event") {
			return fmt.Errorf("dlq body without cause: %s", val)
		}
		return nil
	})

	attempts := 0
	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return fmt.Errorf("%w: bad json", ErrMalformedEvent)
		},
		dlqProducer: NewProducerWithSyncProducer(mockProducer),
		logger:      log.WithField("test", "malformed"),
		maxRetries:  5,
	}
	msg := &sarama.ConsumerMessage{Topic: TopicOrderEvents, Key: []byte("order-1"), Value: []byte("{")}
	if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
		t.Fatalf("malformed message should be acknowledged after DLQ: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("malformed message must not be retried, attempts=%d", attempts)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestParseOrderStatusEvent(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		item    bool
		wantErr bool
	}{
		{name: "order level", raw: `{"order_id":"o-1","status":"delivered"}`},
		{name: "item level", raw: `{"order_id":"o-1","order_item_id":" i-1 ","status":"returned"}`, item: true},
		{name: "item without order", raw: `{"order_item_id":"i-1","status":"returned"}`, item: true},
		{name: "invalid json", raw: `{`, wantErr: true},
		{name: "missing status", raw: `{"order_id":"o-1"}`, wantErr: true},
		{name: "missing ids", raw: `{"status":"delivered"}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := ParseOrderStatusEvent([]byte(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("expected malformed event error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event.ItemLevel() != tc.item {
				t.Fatalf("item level = %v, want %v", event.ItemLevel(), tc.item)
			}
			if tc.item && event.OrderItemID != "i-1" {
				t.Fatalf("item id not trimmed: %q", event.OrderItemID)
			}
		})
	}
}

type stubApplier struct {
	mu         sync.Mutex
	orderCalls []string
	itemCalls  []string
	orderErr   error
	itemErr    error
	lastStatus domain.OrderStatus
}

func (s *stubApplier) ChangeOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderCalls = append(s.orderCalls, orderID)
	s.lastStatus = status
	return domain.Order{ID: orderID, Status: status}, s.orderErr
}

func (s *stubApplier) ChangeItemStatus(_ context.Context, itemID string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemCalls = append(s.itemCalls, itemID)
	s.lastStatus = status
	return s.itemErr
}

func TestOrderStatusHandler_RoutesByLevel(t *testing.T) {
	applier := &stubApplier{}
	handler := NewOrderStatusHandler(applier, nil)

	orderMsg := &sarama.ConsumerMessage{Value: []byte(`{"order_id":"o-1","status":"delivered"}`)}
	if err := handler(context.Background(), orderMsg); err != nil {
		t.Fatalf("order level: %v", err)
	}
	itemMsg := &sarama.ConsumerMessage{Value: []byte(`{"order_id":"o-1","order_item_id":"i-1","status":"returned"}`)}
	if err := handler(context.Background(), itemMsg); err != nil {
		t.Fatalf("item level: %v", err)
	}

	if len(applier.orderCalls) != 1 || applier.orderCalls[0] != "o-1" {
		t.Fatalf("unexpected order calls: %v", applier.orderCalls)
	}
	if len(applier.itemCalls) != 1 || applier.itemCalls[0] != "i-1" {
		t.Fatalf("unexpected item calls: %v", applier.itemCalls)
	}
	if applier.lastStatus != domain.OrderStatusReturned {
		t.Fatalf("unexpected status: %s", applier.lastStatus)
	}
}

func TestOrderStatusHandler_Errors(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: []byte(`{"order_id":"o-1","status":"cancelled"}`)}

	t.Run("unknown status is malformed", func(t *testing.T) {
		handler := NewOrderStatusHandler(&stubApplier{}, nil)
		err := handler(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"order_id":"o-1","status":"lost"}`)})
		if !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected malformed event, got %v", err)
		}
	})

	t.Run("terminal order is acknowledged", func(t *testing.T) {
		applier := &stubApplier{orderErr: &domain.OrderTransitionError{OrderID: "o-1", From: domain.OrderStatusRefunded, To: domain.OrderStatusCancelled}}
		if err := NewOrderStatusHandler(applier, nil)(context.Background(), msg); err != nil {
			t.Fatalf("terminal order must not be retried: %v", err)
		}
	})

	t.Run("unknown order is malformed", func(t *testing.T) {
		applier := &stubApplier{orderErr: &domain.NotFoundError{Entity: "order", ID: "o-1"}}
		if err := NewOrderStatusHandler(applier, nil)(context.Background(), msg); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected malformed event, got %v", err)
		}
	})

	t.Run("storage failure is retried", func(t *testing.T) {
		applier := &stubApplier{orderErr: errors.New("db down")}
		err := NewOrderStatusHandler(applier, nil)(context.Background(), msg)
		if err == nil || errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})
}
