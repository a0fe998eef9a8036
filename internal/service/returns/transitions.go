package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
	"github.com/vladislavdragonenkov/returns/internal/service/settlement"
)

// change описывает один переход: кто может его выполнить и что меняется в заявке.
type change struct {
	actorID string
	target  domain.ReturnStatus
	notes   string
	action  string
	allowed func(party domain.Party, current domain.ReturnStatus) bool
	// from дополнительно сужает таблицу переходов для конкретной операции.
	from []domain.ReturnStatus
	// mutate равен nil у переходов без новых данных; тогда трекинг должен уже быть в заявке.
	mutate func(req *domain.ReturnRequest, now time.Time)
}

func sellerSide(p domain.Party, _ domain.ReturnStatus) bool {
	return p == domain.PartySeller || p == domain.PartyAdmin
}

func buyerSide(p domain.Party, _ domain.ReturnStatus) bool {
	return p == domain.PartyBuyer || p == domain.PartyAdmin
}

// canCancel: покупатель отменяет только до отправки товара, админ на любом нетерминальном шаге.
func canCancel(p domain.Party, current domain.ReturnStatus) bool {
	switch p {
	case domain.PartyAdmin:
		return true
	case domain.PartyBuyer:
		return current == domain.ReturnStatusPending || current == domain.ReturnStatusApproved
	default:
		return false
	}
}

// UpdateStatus выполняет переход, инициированный продавцом, покупателем или админом.
func (s *Service) UpdateStatus(ctx context.Context, returnID, actorID string, target domain.ReturnStatus, notes string) (domain.ReturnRequest, error) {
	if !target.Valid() {
		return domain.ReturnRequest{}, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown return status %q", target)}
	}

	c := change{
		actorID: actorID,
		target:  target,
		notes:   strings.TrimSpace(notes),
		action:  "change return status to " + string(target),
		allowed: sellerSide,
	}
	switch target {
	case domain.ReturnStatusCancelled:
		c.allowed = canCancel
		c.mutate = func(req *domain.ReturnRequest, now time.Time) {
			req.CancelReason = c.notes
			req.CancelledAt = &now
		}
	case domain.ReturnStatusItemInTransit:
		c.allowed = buyerSide
	}
	return s.transition(ctx, returnID, c)
}

// Cancel отменяет заявку в pending или approved. Доступно покупателю и админу.
func (s *Service) Cancel(ctx context.Context, returnID, actorID, reason string) (domain.ReturnRequest, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, returnID, change{
		actorID: actorID,
		target:  domain.ReturnStatusCancelled,
		notes:   reason,
		action:  "cancel return request",
		allowed: buyerSide,
		from:    []domain.ReturnStatus{domain.ReturnStatusPending, domain.ReturnStatusApproved},
		mutate: func(req *domain.ReturnRequest, now time.Time) {
			req.CancelReason = reason
			req.CancelledAt = &now
		},
	})
}

// AddReturnTracking сохраняет трекинг обратной отправки и переводит заявку в item_in_transit.
func (s *Service) AddReturnTracking(ctx context.Context, returnID, actorID string, tracking domain.Tracking) (domain.ReturnRequest, error) {
	if err := tracking.Validate(); err != nil {
		return domain.ReturnRequest{}, err
	}
	return s.transition(ctx, returnID, change{
		actorID: actorID,
		target:  domain.ReturnStatusItemInTransit,
		notes:   fmt.Sprintf("Return shipped via %s, tracking %s", tracking.CourierName, tracking.TrackingNumber),
		action:  "add return tracking",
		allowed: buyerSide,
		from:    []domain.ReturnStatus{domain.ReturnStatusApproved},
		mutate: func(req *domain.ReturnRequest, now time.Time) {
			t := normalizeTracking(tracking, now)
			req.ReturnTracking = &t
		},
	})
}

// AddReplacementTracking сохраняет трекинг замены и переводит заявку в replacement_in_transit.
func (s *Service) AddReplacementTracking(ctx context.Context, returnID, actorID string, tracking domain.Tracking) (domain.ReturnRequest, error) {
	if err := tracking.Validate(); err != nil {
		return domain.ReturnRequest{}, err
	}
	return s.transition(ctx, returnID, change{
		actorID: actorID,
		target:  domain.ReturnStatusReplacementInTransit,
		notes:   fmt.Sprintf("Replacement shipped via %s, tracking %s", tracking.CourierName, tracking.TrackingNumber),
		action:  "add replacement tracking",
		allowed: sellerSide,
		from:    []domain.ReturnStatus{domain.ReturnStatusItemReceived},
		mutate: func(req *domain.ReturnRequest, now time.Time) {
			t := normalizeTracking(tracking, now)
			req.ReplacementTracking = &t
		},
	})
}

func normalizeTracking(t domain.Tracking, now time.Time) domain.Tracking {
	t.TrackingNumber = strings.TrimSpace(t.TrackingNumber)
	t.CourierName = strings.TrimSpace(t.CourierName)
	t.TrackingURL = strings.TrimSpace(t.TrackingURL)
	if t.ShippedAt.IsZero() {
		t.ShippedAt = now
	}
	return t
}

// MarkReceived фиксирует приёмку товара продавцом и его состояние.
func (s *Service) MarkReceived(ctx context.Context, returnID, actorID string, condition domain.ItemCondition, notes string) (domain.ReturnRequest, error) {
	if _, err := domain.ParseItemCondition(string(condition)); err != nil {
		return domain.ReturnRequest{}, err
	}
	notes = strings.TrimSpace(notes)
	return s.transition(ctx, returnID, change{
		actorID: actorID,
		target:  domain.ReturnStatusItemReceived,
		notes:   joinNotes(fmt.Sprintf("Item received in %s condition", condition), notes),
		action:  "mark item received",
		allowed: sellerSide,
		from:    []domain.ReturnStatus{domain.ReturnStatusItemInTransit},
		mutate: func(req *domain.ReturnRequest, _ time.Time) {
			req.ItemCondition = condition
			req.ConditionNotes = notes
		},
	})
}

// Complete закрывает заявку после подтверждённого возмещения или доставленной замены.
func (s *Service) Complete(ctx context.Context, returnID, actorID, notes string) (domain.ReturnRequest, error) {
	return s.transition(ctx, returnID, change{
		actorID: actorID,
		target:  domain.ReturnStatusCompleted,
		notes:   strings.TrimSpace(notes),
		action:  "complete return request",
		allowed: sellerSide,
		from:    []domain.ReturnStatus{domain.ReturnStatusRefundProcessed, domain.ReturnStatusReplacementInTransit},
	})
}

// RetryRefund повторяет возмещение после неудачной попытки. Статус заявки не меняется.
func (s *Service) RetryRefund(ctx context.Context, returnID, actorID string) (domain.ReturnRequest, error) {
	req, err := s.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	_, party, err := s.actor(ctx, actorID, req, "retry refund")
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if !sellerSide(party, req.Status) {
		return domain.ReturnRequest{}, &domain.AccessDeniedError{ActorID: actorID, Action: "retry refund"}
	}
	if req.Status != domain.ReturnStatusRefundInitiated {
		return domain.ReturnRequest{}, &domain.InvalidTransitionError{
			From:   req.Status,
			To:     domain.ReturnStatusRefundInitiated,
			Reason: "refund can only be retried while the refund is initiated",
		}
	}

	latest, err := s.refunds.Latest(ctx, returnID)
	switch {
	case err == nil && latest.Status != domain.RefundStatusFailed:
		return domain.ReturnRequest{}, &domain.InvalidTransitionError{
			From:   req.Status,
			To:     domain.ReturnStatusRefundInitiated,
			Reason: fmt.Sprintf("latest refund attempt is %s", latest.Status),
		}
	case err != nil && !domain.IsNotFound(err):
		return domain.ReturnRequest{}, err
	}

	updated, result := s.settle(ctx, req, actorID)
	if result.InProgress {
		return updated, &domain.ConcurrentModificationError{Entity: "return_refund", ID: req.ID}
	}
	return updated, nil
}

// transition — общий путь всех переходов: авторизация, проверка таблицы, CAS-запись
// заявки вместе с журналом, затем побочные эффекты.
func (s *Service) transition(ctx context.Context, returnID string, c change) (domain.ReturnRequest, error) {
	start := time.Now()

	req, err := s.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	_, party, err := s.actor(ctx, c.actorID, req, c.action)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if !c.allowed(party, req.Status) {
		return domain.ReturnRequest{}, &domain.AccessDeniedError{ActorID: c.actorID, Action: c.action}
	}

	from := req.Status
	if err := s.precheck(ctx, req, c); err != nil {
		return domain.ReturnRequest{}, err
	}

	now := s.now()
	if c.mutate != nil {
		c.mutate(&req, now)
	}
	req.Status = c.target
	req.StatusUpdatedAt = now
	if c.target == domain.ReturnStatusCompleted {
		req.CompletedAt = &now
	}

	entry := domain.StatusHistory{
		ID:              uuid.NewString(),
		ReturnRequestID: req.ID,
		PreviousStatus:  &from,
		NewStatus:       c.target,
		ChangedByID:     c.actorID,
		Notes:           c.notes,
		CreatedAt:       now,
	}
	updated, err := s.returns.Transition(ctx, req, from, entry)
	if err != nil {
		if domain.IsConcurrentModification(err) {
			s.metrics.RecordTransitionConflict()
			s.logger.WithFields(log.Fields{
				"return_id": returnID,
				"status":    c.target,
				"user_id":   c.actorID,
			}).Warn("return transition lost to a concurrent writer")
			return domain.ReturnRequest{}, err
		}
		return domain.ReturnRequest{}, fmt.Errorf("transition return request: %w", err)
	}

	s.metrics.RecordTransition(string(c.target), time.Since(start))
	s.logger.WithFields(log.Fields{
		"return_id": updated.ID,
		"from":      from,
		"status":    updated.Status,
		"user_id":   c.actorID,
		"party":     party,
	}).Info("return status changed")
	s.emit(ctx, updated, outbox.EventReturnStatusChanged, map[string]any{
		"previous_status": from,
		"changed_by":      c.actorID,
		"notes":           c.notes,
	})

	switch c.target {
	case domain.ReturnStatusRefundInitiated:
		settled, _ := s.settle(ctx, updated, c.actorID)
		return settled, nil
	case domain.ReturnStatusRefundProcessed:
		if _, err := s.settlement.Confirm(ctx, updated.ID); err != nil {
			s.logger.WithError(err).WithField("return_id", updated.ID).Error("refund confirmation failed")
		}
		updated = s.reload(ctx, updated)
	case domain.ReturnStatusCompleted:
		s.closeOrderItem(ctx, updated)
	}

	s.notifyAsync(ctx, "return-"+string(c.target), transitionEvents(updated, party, c.notes)...)
	return updated, nil
}

// precheck проверяет таблицу переходов и условия конкретного целевого статуса.
// Ничего не пишет: отказ не оставляет следов в заявке и журнале.
func (s *Service) precheck(ctx context.Context, req domain.ReturnRequest, c change) error {
	if !req.Status.CanTransition(c.target) {
		return &domain.InvalidTransitionError{From: req.Status, To: c.target}
	}
	if len(c.from) > 0 && !containsStatus(c.from, req.Status) {
		return &domain.InvalidTransitionError{
			From:   req.Status,
			To:     c.target,
			Reason: "operation is only allowed from " + joinStatuses(c.from),
		}
	}

	switch c.target {
	case domain.ReturnStatusRejected:
		if c.notes == "" {
			return &domain.ValidationError{Field: "notes", Message: "a reason is required to reject a return request"}
		}
	case domain.ReturnStatusItemInTransit:
		if c.mutate == nil && req.ReturnTracking == nil {
			return &domain.ValidationError{Field: "trackingNumber", Message: "return tracking must be provided"}
		}
	case domain.ReturnStatusReplacementInTransit:
		if c.mutate == nil && req.ReplacementTracking == nil {
			return &domain.ValidationError{Field: "trackingNumber", Message: "replacement tracking must be provided"}
		}
	case domain.ReturnStatusRefundInitiated:
		if !req.EligibleForRefund {
			return &domain.InvalidTransitionError{From: req.Status, To: c.target, Reason: "request is not eligible for a refund"}
		}
	case domain.ReturnStatusRefundProcessed:
		latest, err := s.refunds.Latest(ctx, req.ID)
		if err != nil {
			if domain.IsNotFound(err) {
				return &domain.InvalidTransitionError{From: req.Status, To: c.target, Reason: "no refund attempt exists"}
			}
			return err
		}
		if latest.Status == domain.RefundStatusFailed {
			return &domain.InvalidTransitionError{From: req.Status, To: c.target, Reason: "latest refund attempt failed"}
		}
	}
	return nil
}

// settle запускает возмещение на сумму позиции и возвращает заявку с обновлёнными полями возмещения.
// Неудача фиксируется в ReturnRefund и логируется; заявка остаётся в refund_initiated.
func (s *Service) settle(ctx context.Context, req domain.ReturnRequest, actorID string) (domain.ReturnRequest, settlement.Result) {
	amount := req.RefundAmountMinor
	method := req.RefundMethod
	if order, err := s.orders.Get(ctx, req.OrderID); err == nil {
		if item, ok := order.Item(req.OrderItemID); ok {
			amount = RefundAmount(order, item)
		}
		if method == "" {
			method = defaultRefundMethod(order)
		}
	} else {
		s.logger.WithError(err).WithField("return_id", req.ID).Warn("order lookup failed, using stored refund amount")
	}
	if method == "" {
		method = domain.RefundMethodOriginal
	}

	result := s.settlement.ProcessRefund(ctx, req.ID, amount, method)
	logger := s.logger.WithFields(log.Fields{
		"return_id": req.ID,
		"user_id":   actorID,
		"amount":    amount,
		"method":    result.Refund.Method,
	})
	switch {
	case result.InProgress:
		logger.Info("refund attempt already in progress, nothing to do")
		return s.reload(ctx, req), result
	case result.Failure != nil:
		logger.WithError(result.Failure).Warn("refund attempt failed, request stays in refund_initiated")
	default:
		logger.WithField("refund_status", result.Refund.Status).Info("refund attempt finished")
	}

	updated := s.reload(ctx, req)
	s.notifyAsync(ctx, "refund-outcome", refundEvent(updated, result.Refund, result.Message))
	return updated, result
}

// closeOrderItem переводит позицию заказа в returned/replaced/refunded.
func (s *Service) closeOrderItem(ctx context.Context, req domain.ReturnRequest) {
	status := req.RequestType.CompletedItemStatus()
	var err error
	if s.orderSync != nil {
		err = s.orderSync.ChangeItemStatus(ctx, req.OrderItemID, status)
	} else {
		err = s.orders.UpdateItemStatus(ctx, req.OrderItemID, status)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"return_id": req.ID,
			"item_id":   req.OrderItemID,
			"status":    status,
		}).Error("order item status update failed")
	}
}

// reload перечитывает заявку; при ошибке возвращает переданную версию.
func (s *Service) reload(ctx context.Context, req domain.ReturnRequest) domain.ReturnRequest {
	fresh, err := s.returns.Get(context.WithoutCancel(ctx), req.ID)
	if err != nil {
		s.logger.WithError(err).WithField("return_id", req.ID).Warn("return request reload failed")
		return req
	}
	return fresh
}

func containsStatus(list []domain.ReturnStatus, s domain.ReturnStatus) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func joinStatuses(list []domain.ReturnStatus) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + ". " + b
	}
}
