// Package httpapi реализует HTTP-интерфейс жизненного цикла возвратов: заявки, переписка,
// статусы заказов, уведомления и кошелёк. Пользователь определяется по bearer-токену.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/eligibility"
	"github.com/vladislavdragonenkov/returns/internal/service/returns"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultRequestTimeout = 30 * time.Second
)

// ReturnsService — операции оркестратора возвратов.
type ReturnsService interface {
	Create(ctx context.Context, in returns.CreateInput) (domain.ReturnRequest, error)
	CheckEligibility(ctx context.Context, orderID, orderItemID string, requestType domain.RequestType) (eligibility.Result, error)
	GetDetails(ctx context.Context, returnID, viewerID string) (domain.ReturnDetails, error)
	ListEntries(ctx context.Context, viewerID string, filter domain.ReturnFilter) ([]domain.ReturnEntry, error)
	UpdateStatus(ctx context.Context, returnID, actorID string, target domain.ReturnStatus, notes string) (domain.ReturnRequest, error)
	Cancel(ctx context.Context, returnID, actorID, reason string) (domain.ReturnRequest, error)
	AddReturnTracking(ctx context.Context, returnID, actorID string, tracking domain.Tracking) (domain.ReturnRequest, error)
	AddReplacementTracking(ctx context.Context, returnID, actorID string, tracking domain.Tracking) (domain.ReturnRequest, error)
	MarkReceived(ctx context.Context, returnID, actorID string, condition domain.ItemCondition, notes string) (domain.ReturnRequest, error)
	Complete(ctx context.Context, returnID, actorID, notes string) (domain.ReturnRequest, error)
	RetryRefund(ctx context.Context, returnID, actorID string) (domain.ReturnRequest, error)
	PostMessage(ctx context.Context, returnID, senderID, text string, media []string) (domain.ReturnMessage, error)
	MarkThreadRead(ctx context.Context, returnID, readerID string) (int, error)
	MarkOrderForReturn(ctx context.Context, buyerID, orderID string, in returns.BulkInput) (returns.BulkResult, error)
}

// OrderStatusService — синхронизатор статусов заказа.
type OrderStatusService interface {
	ChangeOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	ChangeItemStatus(ctx context.Context, itemID string, status domain.OrderStatus) error
}

// NotificationService — входящие уведомления пользователя.
type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// RealtimeServer держит websocket-соединение пользователя.
type RealtimeServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string) error
}

// Deps — зависимости HTTP-слоя.
type Deps struct {
	Returns       ReturnsService
	OrderStatus   OrderStatusService
	Notifications NotificationService
	Orders        domain.OrderRepository
	Users         domain.UserRepository
	Wallets       domain.WalletRepository
	Idempotency   domain.IdempotencyRepository
	Realtime      RealtimeServer
	JWTSecret     []byte
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotencyTTL задаёт срок хранения ответов по Idempotency-Key.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler собирает маршруты HTTP API.
type Handler struct {
	returns        ReturnsService
	orderStatus    OrderStatusService
	notifications  NotificationService
	orders         domain.OrderRepository
	users          domain.UserRepository
	wallets        domain.WalletRepository
	idempotency    domain.IdempotencyRepository
	realtime       RealtimeServer
	secret         []byte
	validate       *validator.Validate
	logger         *log.Entry
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewHandler проверяет обязательные зависимости и создаёт Handler.
func NewHandler(deps Deps, opts ...Option) (*Handler, error) {
	if deps.Returns == nil || deps.Users == nil || deps.Orders == nil {
		return nil, errors.New("returns service, users and orders are required")
	}
	if len(deps.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	h := &Handler{
		returns:        deps.Returns,
		orderStatus:    deps.OrderStatus,
		notifications:  deps.Notifications,
		orders:         deps.Orders,
		users:          deps.Users,
		wallets:        deps.Wallets,
		idempotency:    deps.Idempotency,
		realtime:       deps.Realtime,
		secret:         deps.JWTSecret,
		validate:       newValidator(),
		logger:         log.New().WithField("component", "httpapi"),
		idempotencyTTL: defaultIdempotencyTTL,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes возвращает корневой роутер.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/ws", h.serveWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultRequestTimeout))

			r.Route("/returns", func(r chi.Router) {
				r.With(h.idempotent).Post("/request", h.createReturn)
				r.Get("/", h.listReturns)
				r.Get("/check-eligibility/{orderId}/{orderItemId}", h.checkEligibility)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.getReturn)
					r.Post("/status", h.updateStatus)
					r.Post("/cancel", h.cancelReturn)
					r.Post("/return-tracking", h.addReturnTracking)
					r.Post("/replacement-tracking", h.addReplacementTracking)
					r.Post("/mark-received", h.markReceived)
					r.Post("/complete", h.completeReturn)
					r.Post("/retry-refund", h.retryRefund)
					r.Post("/messages", h.postMessage)
					r.Post("/messages/read", h.markThreadRead)
				})
			})

			r.With(h.idempotent).Post("/orders/{orderId}/mark-for-return", h.markOrderForReturn)
			r.Post("/orders/{orderId}/status", h.changeOrderStatus)
			r.Post("/order-items/{itemId}/status", h.changeItemStatus)

			r.Get("/notifications", h.listNotifications)
			r.Post("/notifications/read-all", h.markAllNotificationsRead)
			r.Post("/notifications/{id}/read", h.markNotificationRead)

			r.Get("/wallet", h.getWallet)
		})
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
