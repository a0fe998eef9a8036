// Package realtime доставляет уведомления в открытые websocket-соединения пользователей.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBuffer     = 16
)

// Message — кадр, который получает клиент.
type Message struct {
	Type         string              `json:"type"`
	Notification domain.Notification `json:"notification"`
}

const messageTypeNotification = "notification"

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub хранит соединения текущего процесса по пользователям.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *log.Entry
}

// HubOption настраивает Hub.
type HubOption func(*Hub)

// WithHubLogger задаёт логгер.
func WithHubLogger(logger *log.Entry) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAllowedOrigins ограничивает Origin при upgrade. Пустой список пропускает любой.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// NewHub создаёт пустой реестр соединений.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.New().WithField("component", "realtime-hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS переводит запрос в websocket и держит соединение до разрыва.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
	return nil
}

// Connections возвращает число открытых соединений пользователя.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Push отправляет уведомление во все соединения пользователя в этом процессе.
// Отсутствие соединений не ошибка.
func (h *Hub) Push(_ context.Context, userID string, n domain.Notification) error {
	payload, err := json.Marshal(Message{Type: messageTypeNotification, Notification: n})
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}
	h.Deliver(userID, payload)
	return nil
}

// Deliver кладёт готовый кадр в очереди соединений и возвращает число получателей.
// Медленное соединение с заполненной очередью закрывается.
func (h *Hub) Deliver(userID string, payload []byte) int {
	delivered := 0
	var slow []*client

	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithField("user_id", userID).Warn("realtime client is too slow, dropping connection")
		h.unregister(c)
	}
	return delivered
}

// Close закрывает все соединения.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			close(c.send)
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("user_id", c.userID).Debug("realtime client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	h.mu.Unlock()
	h.logger.WithField("user_id", c.userID).Debug("realtime client disconnected")
}

// readPump читает только служебные кадры; входящие сообщения клиента игнорируются.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("user_id", c.userID).Debug("realtime read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ domain.Pusher = (*Hub)(nil)
