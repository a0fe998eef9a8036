// Package returns управляет жизненным циклом заявок на возврат: создание, переходы
// по машине состояний, переписка и запуск возмещений и уведомлений.
package returns

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
	"github.com/vladislavdragonenkov/returns/internal/service/dispatch"
	"github.com/vladislavdragonenkov/returns/internal/service/eligibility"
	"github.com/vladislavdragonenkov/returns/internal/service/notify"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
	"github.com/vladislavdragonenkov/returns/internal/service/settlement"
)

const defaultBulkParallelism = 4

// Settler проводит возмещение по заявке.
type Settler interface {
	ProcessRefund(ctx context.Context, returnID string, amountMinor int64, method domain.RefundMethod) settlement.Result
	Confirm(ctx context.Context, returnID string) (domain.ReturnRefund, error)
}

// Notifier сохраняет и доставляет уведомления.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) (domain.Notification, error)
}

// OrderSync меняет статусы заказа и его позиций.
type OrderSync interface {
	ChangeOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	ChangeItemStatus(ctx context.Context, itemID string, status domain.OrderStatus) error
}

// Repositories собирает хранилища, нужные оркестратору.
type Repositories struct {
	Returns  domain.ReturnRepository
	Messages domain.MessageRepository
	Refunds  domain.RefundRepository
	Orders   domain.OrderRepository
	Users    domain.UserRepository
	Reasons  domain.ReasonRepository
}

// Service — оркестратор жизненного цикла заявки.
type Service struct {
	returns  domain.ReturnRepository
	messages domain.MessageRepository
	refunds  domain.RefundRepository
	orders   domain.OrderRepository
	users    domain.UserRepository
	reasons  domain.ReasonRepository

	eligibility *eligibility.Evaluator
	settlement  Settler
	notifier    Notifier
	orderSync   OrderSync
	dispatcher  *dispatch.Dispatcher
	events      *outbox.Emitter
	metrics     *metrics.ReturnsMetrics
	logger      *log.Entry
	now         func() time.Time

	bulkParallelism int
}

// Option настраивает Service.
type Option func(*Service)

// WithDispatcher выносит уведомления в фоновые задачи. Без него они выполняются синхронно.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithOrderSync подключает синхронизатор заказа для закрытия позиций и массовой отметки.
func WithOrderSync(o OrderSync) Option {
	return func(s *Service) { s.orderSync = o }
}

// WithEvents подключает outbox.
func WithEvents(e *outbox.Emitter) Option {
	return func(s *Service) { s.events = e }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.ReturnsMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBulkParallelism ограничивает параллелизм массовой отметки заказа.
func WithBulkParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkParallelism = n
		}
	}
}

// NewService создаёт оркестратор.
func NewService(repos Repositories, evaluator *eligibility.Evaluator, settler Settler, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		returns:         repos.Returns,
		messages:        repos.Messages,
		refunds:         repos.Refunds,
		orders:          repos.Orders,
		users:           repos.Users,
		reasons:         repos.Reasons,
		eligibility:     evaluator,
		settlement:      settler,
		notifier:        notifier,
		logger:          log.New().WithField("component", "returns"),
		now:             func() time.Time { return time.Now().UTC() },
		bulkParallelism: defaultBulkParallelism,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckEligibility проверяет позицию заказа без изменения состояния.
func (s *Service) CheckEligibility(ctx context.Context, orderID, orderItemID string, requestType domain.RequestType) (eligibility.Result, error) {
	return s.eligibility.Check(ctx, orderID, orderItemID, requestType)
}

// actor загружает пользователя и его отношение к заявке.
// Неизвестный пользователь не имеет прав.
func (s *Service) actor(ctx context.Context, userID string, req domain.ReturnRequest, action string) (domain.User, domain.Party, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.User{}, domain.PartyNone, &domain.AccessDeniedError{ActorID: userID, Action: action}
		}
		return domain.User{}, domain.PartyNone, err
	}
	party := user.RelationTo(req)
	if party == domain.PartyNone {
		return user, party, &domain.AccessDeniedError{ActorID: userID, Action: action}
	}
	return user, party, nil
}

// notifyAsync отправляет уведомления в фоне; сбои только логируются.
func (s *Service) notifyAsync(ctx context.Context, name string, events ...notify.Event) {
	if s.notifier == nil || len(events) == 0 {
		return
	}
	task := func(ctx context.Context) error {
		var errs error
		for _, ev := range events {
			if _, err := s.notifier.Notify(ctx, ev); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}
	if s.dispatcher == nil {
		if err := task(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).WithField("task", name).Warn("notification failed")
		}
		return
	}
	s.dispatcher.Go(ctx, name, task)
}

func (s *Service) emit(ctx context.Context, req domain.ReturnRequest, eventType string, extra map[string]any) {
	payload := map[string]any{
		"return_id":     req.ID,
		"order_id":      req.OrderID,
		"order_item_id": req.OrderItemID,
		"buyer_id":      req.BuyerID,
		"seller_id":     req.SellerID,
		"request_type":  req.RequestType,
		"status":        req.Status,
		"version":       req.Version,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.events.Emit(ctx, domain.AggregateReturnRequest, req.ID, eventType, payload)
}
