package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

const defaultChannelPrefix = "returns:notifications:"

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPusher публикует уведомления в канал пользователя, а Run раздаёт
// сообщения всех экземпляров сервиса в локальный Hub.
type RedisPusher struct {
	client *redis.Client
	pub    publisher
	hub    *Hub
	prefix string
	logger *log.Entry
}

// RedisOption настраивает RedisPusher.
type RedisOption func(*RedisPusher)

// WithChannelPrefix задаёт префикс каналов.
func WithChannelPrefix(prefix string) RedisOption {
	return func(p *RedisPusher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithRedisLogger задаёт логгер.
func WithRedisLogger(logger *log.Entry) RedisOption {
	return func(p *RedisPusher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewRedisPusher связывает Redis-клиент с локальным Hub.
func NewRedisPusher(client *redis.Client, hub *Hub, opts ...RedisOption) *RedisPusher {
	p := &RedisPusher{
		client: client,
		pub:    client,
		hub:    hub,
		prefix: defaultChannelPrefix,
		logger: log.New().WithField("component", "realtime-redis"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel возвращает канал пользователя.
func (p *RedisPusher) Channel(userID string) string {
	return p.prefix + userID
}

// Push публикует уведомление; доставкой в соединения занимаются подписчики.
func (p *RedisPusher) Push(ctx context.Context, userID string, n domain.Notification) error {
	payload, err := json.Marshal(Message{Type: messageTypeNotification, Notification: n})
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}
	if err := p.pub.Publish(ctx, p.Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish realtime message: %w", err)
	}
	return nil
}

// Run подписывается на каналы всех пользователей и пересылает сообщения в Hub до отмены ctx.
func (p *RedisPusher) Run(ctx context.Context) error {
	if p.client == nil {
		return errors.New("redis client is not configured")
	}
	sub := p.client.PSubscribe(ctx, p.prefix+"*")
	defer func() {
		if err := sub.Close(); err != nil {
			p.logger.WithError(err).Warn("close redis subscription")
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe realtime channels: %w", err)
	}
	p.logger.WithField("pattern", p.prefix+"*").Info("realtime subscription started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p.dispatch(msg.Channel, msg.Payload)
		}
	}
}

func (p *RedisPusher) dispatch(channel, payload string) int {
	userID := strings.TrimPrefix(channel, p.prefix)
	if userID == "" || userID == channel {
		p.logger.WithField("channel", channel).Debug("ignoring message from foreign channel")
		return 0
	}
	return p.hub.Deliver(userID, []byte(payload))
}

// Ping проверяет доступность Redis.
func (p *RedisPusher) Ping(ctx context.Context) error {
	if p.client == nil {
		return errors.New("redis client is not configured")
	}
	return p.client.Ping(ctx).Err()
}

var _ domain.Pusher = (*RedisPusher)(nil)

// Close закрывает Redis-клиент.
func (p *RedisPusher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
