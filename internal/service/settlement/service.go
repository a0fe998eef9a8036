// Package settlement переводит деньги покупателю по заявке на возврат:
// зачислением на кошелёк или возвратом на исходный платёжный инструмент.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
)

const (
	defaultGatewayTimeout = 10 * time.Second

	stateRetries   = 3
	stateBaseDelay = 10 * time.Millisecond
)

// Result — структурированный ответ ProcessRefund. Ошибки наружу не пробрасываются.
type Result struct {
	Success bool
	Refund  domain.ReturnRefund
	Message string
	// Failure заполнен, если попытка не удалась; тип *domain.SettlementFailure.
	Failure error
	// InProgress: возмещение уже ведёт другой вызов, новая попытка не создавалась.
	InProgress bool
}

func inProgress(refund domain.ReturnRefund) Result {
	return Result{Refund: refund, Message: "Refund is already being processed", InProgress: true}
}

// Service выполняет возмещение и ведёт журнал попыток ReturnRefund.
type Service struct {
	returns        domain.ReturnRepository
	refunds        domain.RefundRepository
	orders         domain.OrderRepository
	wallets        domain.WalletRepository
	gateway        domain.PaymentGateway
	events         *outbox.Emitter
	metrics        *metrics.ReturnsMetrics
	logger         *log.Entry
	gatewayTimeout time.Duration
	now            func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithGatewayTimeout ограничивает вызов платёжного шлюза.
func WithGatewayTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.gatewayTimeout = timeout
		}
	}
}

// WithEvents подключает outbox для событий о возмещении.
func WithEvents(events *outbox.Emitter) Option {
	return func(s *Service) { s.events = events }
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

// NewService создаёт сервис возмещений. gateway может быть nil: тогда original_method
// недоступен и такие попытки завершаются failed.
func NewService(
	returns domain.ReturnRepository,
	refunds domain.RefundRepository,
	orders domain.OrderRepository,
	wallets domain.WalletRepository,
	gateway domain.PaymentGateway,
	opts ...Option,
) *Service {
	s := &Service{
		returns:        returns,
		refunds:        refunds,
		orders:         orders,
		wallets:        wallets,
		gateway:        gateway,
		logger:         log.New().WithField("component", "settlement"),
		gatewayTimeout: defaultGatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessRefund создаёт попытку возмещения и проводит её.
// Повторный вызов после успешной попытки не зачисляет деньги второй раз.
func (s *Service) ProcessRefund(ctx context.Context, returnID string, amountMinor int64, method domain.RefundMethod) Result {
	// Учёт попытки не должен обрываться вместе с запросом клиента, иначе строка останется processing.
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.WithField("return_id", returnID)

	req, err := s.returns.Get(ctx, returnID)
	if err != nil {
		return s.fail(logger, returnID, "load return request", err)
	}

	attempt := 1
	latest, err := s.refunds.Latest(ctx, returnID)
	switch {
	case err == nil && latest.Status == domain.RefundStatusCompleted:
		logger.WithField("refund_id", latest.ID).Info("refund already completed, skipping")
		return Result{Success: true, Refund: latest, Message: "Refund already completed"}
	case err == nil && latest.Status == domain.RefundStatusProcessing:
		return inProgress(latest)
	case err == nil:
		attempt = latest.Attempt + 1
	case !domain.IsNotFound(err):
		return s.fail(logger, returnID, "load latest refund", err)
	}

	if amountMinor <= 0 {
		return s.failAttempt(ctx, logger, attempt, domain.ReturnRefund{ReturnRequestID: returnID, Method: method},
			"refund amount must be positive", nil)
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return s.failAttempt(ctx, logger, attempt, domain.ReturnRefund{ReturnRequestID: returnID, AmountMinor: amountMinor, Method: method},
			"load order", err)
	}

	effective, notes := resolveMethod(order, method)
	refund := domain.ReturnRefund{
		ID:              uuid.NewString(),
		ReturnRequestID: returnID,
		Attempt:         attempt,
		AmountMinor:     amountMinor,
		Currency:        order.Currency,
		Method:          effective,
		Status:          domain.RefundStatusProcessing,
		Notes:           notes,
		CreatedAt:       s.now(),
	}
	if err := s.refunds.Create(ctx, refund); err != nil {
		if errors.Is(err, domain.ErrRefundInProgress) {
			logger.WithField("attempt", attempt).Info("another refund attempt won the race, skipping")
			return inProgress(domain.ReturnRefund{ReturnRequestID: returnID, Attempt: attempt})
		}
		return s.fail(logger, returnID, "create refund attempt", err)
	}
	s.recordState(ctx, logger, returnID, amountMinor, effective, domain.RefundStatusProcessing)

	logger = logger.WithFields(log.Fields{"refund_id": refund.ID, "method": effective})
	var execErr error
	switch effective {
	case domain.RefundMethodWallet:
		execErr = s.creditWallet(ctx, req, &refund)
	default:
		execErr = s.refundGateway(ctx, req, order, &refund)
	}

	if refund.Status != domain.RefundStatusProcessing {
		processed := s.now()
		refund.ProcessedAt = &processed
	}
	if err := s.refunds.Update(ctx, refund); err != nil {
		logger.WithError(err).Error("failed to persist refund outcome")
	}
	s.recordState(ctx, logger, returnID, amountMinor, effective, refund.Status)
	s.metrics.RecordRefund(string(effective), string(refund.Status))
	s.emit(ctx, refund)

	switch refund.Status {
	case domain.RefundStatusCompleted:
		logger.Info("refund completed")
		return Result{Success: true, Refund: refund, Message: "Refund completed"}
	case domain.RefundStatusProcessing:
		logger.Info("refund accepted by gateway, awaiting confirmation")
		return Result{Success: true, Refund: refund, Message: "Refund is being processed by the payment provider"}
	default:
		failure := &domain.SettlementFailure{ReturnRequestID: returnID, Reason: refund.Notes, Err: execErr}
		logger.WithError(failure).Warn("refund failed")
		return Result{Refund: refund, Message: "Refund failed: " + refund.Notes, Failure: failure}
	}
}

// Confirm подтверждает последнюю попытку, ожидающую ответа шлюза.
// Завершённая попытка возвращается как есть; для неудачной или отсутствующей возвращается ошибка.
func (s *Service) Confirm(ctx context.Context, returnID string) (domain.ReturnRefund, error) {
	latest, err := s.refunds.Latest(ctx, returnID)
	if err != nil {
		return domain.ReturnRefund{}, err
	}
	switch latest.Status {
	case domain.RefundStatusCompleted:
		return latest, nil
	case domain.RefundStatusProcessing:
	default:
		return latest, &domain.SettlementFailure{ReturnRequestID: returnID, Reason: "latest refund attempt failed"}
	}

	processed := s.now()
	latest.Status = domain.RefundStatusCompleted
	latest.ProcessedAt = &processed
	if err := s.refunds.Update(ctx, latest); err != nil {
		return domain.ReturnRefund{}, fmt.Errorf("confirm refund: %w", err)
	}

	logger := s.logger.WithFields(log.Fields{"return_id": returnID, "refund_id": latest.ID})
	s.recordState(ctx, logger, returnID, latest.AmountMinor, latest.Method, domain.RefundStatusCompleted)
	s.metrics.RecordRefund(string(latest.Method), string(domain.RefundStatusCompleted))
	s.emit(ctx, latest)
	logger.Info("refund confirmed")
	return latest, nil
}

// resolveMethod выбирает фактический канал возмещения. Наложенный платёж, оплата кошельком
// и заказ без транзакции не имеют инструмента для возврата, поэтому деньги идут на кошелёк.
func resolveMethod(order domain.Order, requested domain.RefundMethod) (domain.RefundMethod, string) {
	if requested == domain.RefundMethodWallet {
		return domain.RefundMethodWallet, ""
	}
	switch {
	case order.PaymentMethod == domain.PaymentMethodCOD:
		return domain.RefundMethodWallet, "cash on delivery order refunded to wallet"
	case order.PaymentMethod == domain.PaymentMethodWallet:
		return domain.RefundMethodWallet, "wallet payment refunded to wallet"
	case order.PaymentTransactionID == "":
		return domain.RefundMethodWallet, "no original transaction, refunded to wallet"
	default:
		return domain.RefundMethodOriginal, ""
	}
}

// WalletReference связывает проводку кошелька с заявкой. На одну заявку приходится одно зачисление.
func WalletReference(returnID string) string {
	return domain.WalletReasonReturnRefund + ":" + returnID
}

func (s *Service) creditWallet(ctx context.Context, req domain.ReturnRequest, refund *domain.ReturnRefund) error {
	tx, err := s.wallets.Adjust(ctx, req.BuyerID, refund.AmountMinor, refund.Currency, domain.WalletReasonReturnRefund, WalletReference(req.ID))
	switch {
	case err == nil:
		refund.Status = domain.RefundStatusCompleted
		refund.ExternalRefundID = tx.ID
		return nil
	case errors.Is(err, domain.ErrDuplicateWalletEntry):
		// Зачисление уже есть в журнале кошелька: повтор после сбоя записи статуса.
		refund.Status = domain.RefundStatusCompleted
		refund.Notes = joinNotes(refund.Notes, "wallet already credited")
		return nil
	default:
		refund.Status = domain.RefundStatusFailed
		refund.Notes = joinNotes(refund.Notes, "wallet credit failed")
		return err
	}
}

func (s *Service) refundGateway(ctx context.Context, req domain.ReturnRequest, order domain.Order, refund *domain.ReturnRefund) error {
	if s.gateway == nil {
		refund.Status = domain.RefundStatusFailed
		refund.Notes = "payment gateway is not configured"
		return domain.ErrGatewayUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	res, err := s.gateway.Refund(callCtx, domain.GatewayRefundRequest{
		TransactionID:  order.PaymentTransactionID,
		AmountMinor:    refund.AmountMinor,
		Currency:       refund.Currency,
		IdempotencyKey: refund.GatewayIdempotencyKey(),
		Reason:         "return " + req.ID,
	})
	if err != nil {
		refund.Status = domain.RefundStatusFailed
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			refund.Notes = "payment gateway timed out"
		case errors.Is(err, domain.ErrGatewayUnavailable):
			refund.Notes = "payment gateway unavailable"
		default:
			refund.Notes = "payment gateway error"
		}
		return err
	}

	refund.ExternalRefundID = res.ExternalID
	switch res.Status {
	case domain.GatewayRefundSucceeded:
		refund.Status = domain.RefundStatusCompleted
	case domain.GatewayRefundPending:
		refund.Status = domain.RefundStatusProcessing
	default:
		refund.Status = domain.RefundStatusFailed
		refund.Notes = joinNotes("payment gateway declined refund", res.Message)
		return errors.New(refund.Notes)
	}
	return nil
}

// recordState копирует состояние возмещения в заявку. Конфликт версий с параллельным
// переходом разрешается перечитыванием, как при сохранении статуса заказа.
func (s *Service) recordState(ctx context.Context, logger *log.Entry, returnID string, amount int64, method domain.RefundMethod, status domain.RefundStatus) {
	for attempt := 0; attempt < stateRetries; attempt++ {
		req, err := s.returns.Get(ctx, returnID)
		if err != nil {
			logger.WithError(err).Error("failed to reload return request for refund state")
			return
		}
		req.RefundAmountMinor = amount
		req.RefundMethod = method
		req.RefundStatus = status

		_, err = s.returns.UpdateRefundState(ctx, req)
		if err == nil {
			return
		}
		if !domain.IsConcurrentModification(err) {
			logger.WithError(err).Error("failed to record refund state on return request")
			return
		}
		logger.WithField("attempt", attempt+1).Warn("refund state conflict detected, retrying")
		time.Sleep(stateBaseDelay * time.Duration(1<<uint(attempt)))
	}
	logger.Error("refund state not recorded after retries")
}

func (s *Service) emit(ctx context.Context, refund domain.ReturnRefund) {
	eventType := outbox.EventRefundFailed
	switch refund.Status {
	case domain.RefundStatusCompleted:
		eventType = outbox.EventRefundCompleted
	case domain.RefundStatusProcessing:
		eventType = outbox.EventRefundPending
	}
	s.events.Emit(ctx, domain.AggregateReturnRequest, refund.ReturnRequestID, eventType, map[string]any{
		"refund_id":          refund.ID,
		"amount_minor":       refund.AmountMinor,
		"currency":           refund.Currency,
		"method":             refund.Method,
		"status":             refund.Status,
		"external_refund_id": refund.ExternalRefundID,
	})
}

// failAttempt сохраняет попытку, сорвавшуюся до перевода денег, как failed,
// чтобы сбой был виден в журнале возмещений и разрешал retryRefund.
func (s *Service) failAttempt(ctx context.Context, logger *log.Entry, attempt int, refund domain.ReturnRefund, reason string, cause error) Result {
	processed := s.now()
	refund.ID = uuid.NewString()
	refund.Attempt = attempt
	refund.AmountMinor = max(refund.AmountMinor, 0)
	refund.Status = domain.RefundStatusFailed
	refund.Notes = reason
	refund.CreatedAt = processed
	refund.ProcessedAt = &processed

	if err := s.refunds.Create(ctx, refund); err != nil {
		if errors.Is(err, domain.ErrRefundInProgress) {
			return inProgress(domain.ReturnRefund{ReturnRequestID: refund.ReturnRequestID, Attempt: attempt})
		}
		logger.WithError(err).Error("failed to record failed refund attempt")
	}
	s.recordState(ctx, logger, refund.ReturnRequestID, refund.AmountMinor, refund.Method, domain.RefundStatusFailed)
	s.metrics.RecordRefund(string(refund.Method), string(domain.RefundStatusFailed))
	s.emit(ctx, refund)

	failure := &domain.SettlementFailure{ReturnRequestID: refund.ReturnRequestID, Reason: reason, Err: cause}
	logger.WithError(failure).Warn("refund failed before execution")
	return Result{Refund: refund, Message: "Refund failed: " + reason, Failure: failure}
}

func (s *Service) fail(logger *log.Entry, returnID, reason string, err error) Result {
	failure := &domain.SettlementFailure{ReturnRequestID: returnID, Reason: reason, Err: err}
	logger.WithError(failure).Warn("refund not started")
	return Result{Message: "Refund failed: " + reason, Failure: failure}
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
