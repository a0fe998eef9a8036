package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type stubPublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (s *stubPublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
	if b, ok := message.([]byte); ok {
		s.payloads = append(s.payloads, b)
	}
	return redis.NewIntResult(1, s.err)
}

func TestRedisPusher_PublishesToUserChannel(t *testing.T) {
	pub := &stubPublisher{}
	p := NewRedisPusher(nil, NewHub(), WithChannelPrefix("test:"))
	p.pub = pub

	if err := p.Push(context.Background(), "buyer-1", domain.Notification{ID: "n-1", Title: "Refund completed"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(pub.channels) != 1 || pub.channels[0] != "test:buyer-1" {
		t.Fatalf("unexpected channels: %v", pub.channels)
	}
	var msg Message
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Notification.ID != "n-1" {
		t.Fatalf("unexpected payload: %s", pub.payloads[0])
	}
}

func TestRedisPusher_PublishError(t *testing.T) {
	p := NewRedisPusher(nil, NewHub())
	p.pub = &stubPublisher{err: errors.New("connection refused")}

	if err := p.Push(context.Background(), "buyer-1", domain.Notification{ID: "n-1"}); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestRedisPusher_DispatchRoutesByChannel(t *testing.T) {
	hub := NewHub()
	p := NewRedisPusher(nil, hub)

	if got := p.dispatch("other:buyer-1", "{}"); got != 0 {
		t.Fatalf("foreign channel must be ignored, delivered %d", got)
	}
	if got := p.dispatch(p.Channel("buyer-1"), "{}"); got != 0 {
		t.Fatalf("offline user has no connections, delivered %d", got)
	}
}

func TestRedisPusher_RunWithoutClient(t *testing.T) {
	p := NewRedisPusher(nil, NewHub())
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error without redis client")
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error without redis client")
	}
}
