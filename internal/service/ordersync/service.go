// Package ordersync синхронизирует статусы заказа, подзаказов продавцов и позиций:
// каскад при отмене, восходящее продвижение и возврат монет кошелька.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
	"github.com/vladislavdragonenkov/returns/internal/service/dispatch"
	"github.com/vladislavdragonenkov/returns/internal/service/notify"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
)

const (
	saveRetries   = 3
	saveBaseDelay = 10 * time.Millisecond
)

// Notifier рассылает уведомление нескольким получателям.
type Notifier interface {
	NotifyAll(ctx context.Context, userIDs []string, ev notify.Event) int
	AdminIDs(ctx context.Context) ([]string, error)
}

// Service — синхронизатор статусов заказа.
type Service struct {
	orders     domain.OrderRepository
	wallets    domain.WalletRepository
	notifier   Notifier
	dispatcher *dispatch.Dispatcher
	events     *outbox.Emitter
	metrics    *metrics.ReturnsMetrics
	logger     *log.Entry
	now        func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithDispatcher выносит уведомления в фон.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
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

// NewService создаёт синхронизатор.
func NewService(orders domain.OrderRepository, wallets domain.WalletRepository, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		orders:   orders,
		wallets:  wallets,
		notifier: notifier,
		logger:   log.New().WithField("component", "ordersync"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CancellationReference — ссылка проводки возврата монет при отмене заказа.
func CancellationReference(orderID string) string {
	return domain.WalletReasonOrderCancellation + ":" + orderID
}

// ChangeOrderStatus меняет статус заказа. При отмене сначала возвращает монеты кошелька,
// затем каскадно отменяет подзаказы и позиции. Терминальный заказ не меняется.
func (s *Service) ChangeOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if _, err := domain.ParseOrderStatus(string(status)); err != nil {
		return domain.Order{}, err
	}
	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "status": status})

	var (
		order    domain.Order
		previous domain.OrderStatus
	)
	for attempt := 0; ; attempt++ {
		var err error
		order, err = s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == status {
			return order, nil
		}
		if order.Status.IsTerminal() {
			return domain.Order{}, &domain.OrderTransitionError{OrderID: orderID, From: order.Status, To: status}
		}

		if status == domain.OrderStatusCancelled && attempt == 0 {
			s.refundCoins(ctx, logger, order)
		}

		previous = order.Status
		order.Status = status
		if status == domain.OrderStatusDelivered && order.DeliveredAt == nil {
			now := s.now()
			order.DeliveredAt = &now
		}

		err = s.orders.Save(ctx, order)
		if err == nil {
			break
		}
		if !domain.IsConcurrentModification(err) || attempt+1 >= saveRetries {
			return domain.Order{}, fmt.Errorf("save order status: %w", err)
		}
		logger.WithField("attempt", attempt+1).Warn("order version conflict detected, retrying")
		time.Sleep(saveBaseDelay * time.Duration(1<<uint(attempt)))
	}

	if status == domain.OrderStatusCancelled {
		s.cascade(ctx, logger, order, status)
	}

	if fresh, err := s.orders.Get(ctx, orderID); err == nil {
		order = fresh
	}

	s.metrics.RecordOrderStatus(string(status))
	logger.WithField("from", previous).Info("order status changed")
	s.events.Emit(ctx, domain.AggregateOrder, order.ID, outbox.EventOrderStatusChanged, map[string]any{
		"order_id":        order.ID,
		"buyer_id":        order.BuyerID,
		"previous_status": previous,
		"status":          order.Status,
	})
	s.notifyParties(ctx, order)
	return order, nil
}

// refundCoins возвращает покупателю монеты, списанные при оплате. Ошибка не блокирует отмену.
func (s *Service) refundCoins(ctx context.Context, logger *log.Entry, order domain.Order) {
	if order.WalletCoinsUsed <= 0 || s.wallets == nil {
		return
	}
	_, err := s.wallets.Adjust(ctx, order.BuyerID, order.WalletCoinsUsed, order.Currency,
		domain.WalletReasonOrderCancellation, CancellationReference(order.ID))
	switch {
	case err == nil:
		logger.WithField("amount", order.WalletCoinsUsed).Info("wallet coins refunded on cancellation")
	case errors.Is(err, domain.ErrDuplicateWalletEntry):
		logger.Debug("wallet coins already refunded")
	default:
		logger.WithError(err).Error("wallet coin refund failed")
	}
}

func (s *Service) cascade(ctx context.Context, logger *log.Entry, order domain.Order, status domain.OrderStatus) {
	for _, so := range order.SellerOrders {
		if so.Status == status {
			continue
		}
		if err := s.orders.UpdateSellerOrderStatus(ctx, so.ID, status); err != nil {
			logger.WithError(err).WithField("seller_order_id", so.ID).Error("seller order cascade failed")
		}
	}
	for _, item := range order.Items {
		if item.Status == status {
			continue
		}
		if err := s.orders.UpdateItemStatus(ctx, item.ID, status); err != nil {
			logger.WithError(err).WithField("item_id", item.ID).Error("order item cascade failed")
		}
	}
}

// ChangeItemStatus меняет статус позиции и продвигает статус вверх: подзаказ получает статус,
// когда все его позиции в нём; заказ, когда в нём все подзаказы.
func (s *Service) ChangeItemStatus(ctx context.Context, itemID string, status domain.OrderStatus) error {
	if _, err := domain.ParseOrderStatus(string(status)); err != nil {
		return err
	}
	item, err := s.orders.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.orders.UpdateItemStatus(ctx, itemID, status); err != nil {
		return fmt.Errorf("update order item status: %w", err)
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id": item.OrderID,
		"item_id":  itemID,
		"status":   status,
	})
	logger.Info("order item status changed")
	s.events.Emit(ctx, domain.AggregateOrder, item.OrderID, outbox.EventOrderItemStatus, map[string]any{
		"order_id":        item.OrderID,
		"order_item_id":   itemID,
		"previous_status": item.Status,
		"status":          status,
	})

	return s.promote(ctx, logger, item, status)
}

func (s *Service) promote(ctx context.Context, logger *log.Entry, item domain.OrderItem, status domain.OrderStatus) error {
	order, err := s.orders.Get(ctx, item.OrderID)
	if err != nil {
		return fmt.Errorf("load order for promotion: %w", err)
	}

	if item.SellerOrderID != "" {
		if allItems(order.Items, item.SellerOrderID, status) {
			if err := s.orders.UpdateSellerOrderStatus(ctx, item.SellerOrderID, status); err != nil {
				return fmt.Errorf("promote seller order: %w", err)
			}
			logger.WithField("seller_order_id", item.SellerOrderID).Info("seller order promoted")
			if order, err = s.orders.Get(ctx, item.OrderID); err != nil {
				return fmt.Errorf("reload order for promotion: %w", err)
			}
		}
	}

	if order.Status == status || !allSellerOrders(order, status) {
		return nil
	}
	if order.Status.IsTerminal() {
		logger.WithField("order_status", order.Status).Debug("order is terminal, promotion skipped")
		return nil
	}
	if _, err := s.ChangeOrderStatus(ctx, order.ID, status); err != nil {
		return fmt.Errorf("promote order: %w", err)
	}
	return nil
}

// allItems проверяет позиции одного подзаказа.
func allItems(items []domain.OrderItem, sellerOrderID string, status domain.OrderStatus) bool {
	found := false
	for _, item := range items {
		if item.SellerOrderID != sellerOrderID {
			continue
		}
		found = true
		if item.Status != status {
			return false
		}
	}
	return found
}

// allSellerOrders проверяет подзаказы; заказ без подзаказов сравнивается по позициям.
func allSellerOrders(order domain.Order, status domain.OrderStatus) bool {
	if len(order.SellerOrders) == 0 {
		if len(order.Items) == 0 {
			return false
		}
		for _, item := range order.Items {
			if item.Status != status {
				return false
			}
		}
		return true
	}
	for _, so := range order.SellerOrders {
		if so.Status != status {
			return false
		}
	}
	return true
}

// notifyParties уведомляет покупателя, всех продавцов заказа и администраторов.
func (s *Service) notifyParties(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	task := func(ctx context.Context) error {
		admins, err := s.notifier.AdminIDs(ctx)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("admin lookup failed, notifying order parties only")
		}
		recipients := append([]string{order.BuyerID}, order.SellerIDs()...)
		recipients = append(recipients, admins...)

		ev := notify.Event{
			Type:    domain.NotificationOrderStatus,
			Title:   "Order " + statusLabel(order.Status),
			Message: fmt.Sprintf("Order %s is now %s.", order.ID, statusLabel(order.Status)),
			Link:    "/orders/" + order.ID,
			Metadata: map[string]string{
				"order_id": order.ID,
				"status":   string(order.Status),
			},
			Email: order.Status == domain.OrderStatusCancelled,
		}
		if order.Status == domain.OrderStatusMarkedForReturn {
			ev.Type = domain.NotificationOrderMarkedReturn
		}
		s.notifier.NotifyAll(ctx, recipients, ev)
		return nil
	}

	if s.dispatcher == nil {
		_ = task(context.WithoutCancel(ctx))
		return
	}
	s.dispatcher.Go(ctx, "order-status-"+order.ID, task)
}

func statusLabel(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusMarkedForReturn:
		return "marked for return"
	default:
		return string(status)
	}
}
