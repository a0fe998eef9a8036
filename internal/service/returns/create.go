package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/eligibility"
	"github.com/vladislavdragonenkov/returns/internal/service/notify"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
)

const msgDuplicateRequest = "A return request already exists for this item"

// CreateInput — данные новой заявки от покупателя.
type CreateInput struct {
	BuyerID     string
	OrderID     string
	OrderItemID string
	RequestType domain.RequestType
	ReasonID    string
	Description string
	MediaURLs   []string
}

// Create проверяет допустимость и сохраняет заявку в pending вместе с первой строкой журнала.
// Уведомления уходят в фоне и не влияют на результат.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.ReturnRequest, error) {
	if _, err := domain.ParseRequestType(string(in.RequestType)); err != nil {
		return domain.ReturnRequest{}, err
	}
	if err := s.checkReason(ctx, in.ReasonID, in.MediaURLs); err != nil {
		return domain.ReturnRequest{}, err
	}

	facts, err := s.eligibility.Gather(ctx, in.OrderID, in.OrderItemID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	if facts.Order.BuyerID != in.BuyerID {
		return domain.ReturnRequest{}, &domain.AccessDeniedError{ActorID: in.BuyerID, Action: "request a return for order " + in.OrderID}
	}

	now := s.now()
	result := eligibility.Evaluate(facts, now)
	if !result.Eligible {
		return domain.ReturnRequest{}, &domain.IneligibleError{Message: result.Message}
	}

	sellerID := facts.Item.SellerID
	if sellerID == "" {
		sellerID = facts.Product.SellerID
	}

	req := domain.ReturnRequest{
		ID:                uuid.NewString(),
		OrderID:           in.OrderID,
		OrderItemID:       in.OrderItemID,
		BuyerID:           in.BuyerID,
		SellerID:          sellerID,
		RequestType:       in.RequestType,
		ReasonID:          in.ReasonID,
		Description:       strings.TrimSpace(in.Description),
		Status:            domain.ReturnStatusPending,
		MediaURLs:         append([]string(nil), in.MediaURLs...),
		EligibleForRefund: in.RequestType != domain.RequestTypeReplacement,
		Policy:            result.Policy.Snapshot(),
		RefundAmountMinor: RefundAmount(facts.Order, facts.Item),
		RefundMethod:      defaultRefundMethod(facts.Order),
		CreatedAt:         now,
		StatusUpdatedAt:   now,
	}
	entry := domain.StatusHistory{
		ID:              uuid.NewString(),
		ReturnRequestID: req.ID,
		NewStatus:       domain.ReturnStatusPending,
		ChangedByID:     in.BuyerID,
		Notes:           "Return request created",
		CreatedAt:       now,
	}

	if err := s.returns.Create(ctx, req, entry); err != nil {
		if errors.Is(err, domain.ErrActiveReturnExists) {
			return domain.ReturnRequest{}, &domain.IneligibleError{Message: msgDuplicateRequest}
		}
		return domain.ReturnRequest{}, fmt.Errorf("create return request: %w", err)
	}

	s.metrics.RecordReturnCreated()
	s.logger.WithFields(log.Fields{
		"return_id": req.ID,
		"order_id":  req.OrderID,
		"user_id":   req.BuyerID,
		"type":      req.RequestType,
	}).Info("return request created")

	s.emit(ctx, req, outbox.EventReturnRequested, map[string]any{
		"reason_id":           req.ReasonID,
		"refund_amount_minor": req.RefundAmountMinor,
		"remaining_days":      result.RemainingDays,
	})
	s.notifyAsync(ctx, "return-created", createdEvents(req)...)

	return req, nil
}

func (s *Service) checkReason(ctx context.Context, reasonID string, media []string) error {
	if strings.TrimSpace(reasonID) == "" {
		return &domain.ValidationError{Field: "reasonId", Message: "reason is required"}
	}
	reason, err := s.reasons.Get(ctx, reasonID)
	if err != nil {
		return err
	}
	if !reason.Active {
		return &domain.NotFoundError{Entity: "return reason", ID: reasonID}
	}
	if reason.RequiresMedia && len(media) == 0 {
		return &domain.ValidationError{Field: "mediaUrls", Message: fmt.Sprintf("reason %q requires photos or video", reason.Title)}
	}
	return nil
}

// RefundAmount возвращает сумму возмещения позиции: цена x количество минус доля скидки заказа.
// Доля считается в decimal и округляется до целых минимальных единиц по банковскому правилу.
func RefundAmount(order domain.Order, item domain.OrderItem) int64 {
	total := item.TotalMinor()
	if total <= 0 {
		return 0
	}
	if order.DiscountMinor <= 0 || order.SubtotalMinor <= 0 {
		return total
	}

	discount := order.DiscountMinor
	if discount > order.SubtotalMinor {
		discount = order.SubtotalMinor
	}
	share := decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(order.SubtotalMinor - discount)).
		Div(decimal.NewFromInt(order.SubtotalMinor)).
		RoundBank(0).
		IntPart()

	switch {
	case share < 0:
		return 0
	case share > total:
		return total
	default:
		return share
	}
}

func defaultRefundMethod(order domain.Order) domain.RefundMethod {
	if order.PaymentMethod == domain.PaymentMethodWallet {
		return domain.RefundMethodWallet
	}
	return domain.RefundMethodOriginal
}

// BulkInput — параметры массовой отметки заказа к возврату.
type BulkInput struct {
	// ItemIDs — выбранные позиции; пустой список означает все позиции заказа.
	ItemIDs     []string
	RequestType domain.RequestType
	ReasonID    string
	Description string
}

// ItemOutcome — результат создания заявки по одной позиции.
type ItemOutcome struct {
	OrderItemID string
	Request     *domain.ReturnRequest
	Err         error
}

// BulkResult — итог массовой отметки.
type BulkResult struct {
	Order domain.Order
	Items []ItemOutcome
}

// Created возвращает число созданных заявок.
func (r BulkResult) Created() int {
	n := 0
	for _, item := range r.Items {
		if item.Request != nil {
			n++
		}
	}
	return n
}

// MarkOrderForReturn переводит заказ в marked_for_return и создаёт заявки по позициям
// с ограниченным параллелизмом. Ошибки по позициям возвращаются в результате;
// сам вызов падает, только если не удалось отметить заказ.
func (s *Service) MarkOrderForReturn(ctx context.Context, buyerID, orderID string, in BulkInput) (BulkResult, error) {
	if s.orderSync == nil {
		return BulkResult{}, errors.New("order synchronizer is not configured")
	}
	if _, err := domain.ParseRequestType(string(in.RequestType)); err != nil {
		return BulkResult{}, err
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return BulkResult{}, err
	}
	if order.BuyerID != buyerID {
		return BulkResult{}, &domain.AccessDeniedError{ActorID: buyerID, Action: "mark order " + orderID + " for return"}
	}
	if !order.Status.IsFulfilled() {
		return BulkResult{}, &domain.IneligibleError{Message: "Order has not been delivered yet"}
	}

	itemIDs, err := selectItems(order, in.ItemIDs)
	if err != nil {
		return BulkResult{}, err
	}

	if order.Status != domain.OrderStatusMarkedForReturn {
		order, err = s.orderSync.ChangeOrderStatus(ctx, orderID, domain.OrderStatusMarkedForReturn)
		if err != nil {
			return BulkResult{}, fmt.Errorf("mark order for return: %w", err)
		}
	}

	outcomes := make([]ItemOutcome, len(itemIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkParallelism)
	for i, itemID := range itemIDs {
		g.Go(func() error {
			req, err := s.Create(gctx, CreateInput{
				BuyerID:     buyerID,
				OrderID:     orderID,
				OrderItemID: itemID,
				RequestType: in.RequestType,
				ReasonID:    in.ReasonID,
				Description: in.Description,
			})
			outcomes[i] = ItemOutcome{OrderItemID: itemID, Err: err}
			if err == nil {
				outcomes[i].Request = &req
			}
			return nil
		})
	}
	_ = g.Wait()

	result := BulkResult{Order: order, Items: outcomes}
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"user_id":  buyerID,
		"items":    len(itemIDs),
		"created":  result.Created(),
	}).Info("order marked for return")
	return result, nil
}

func selectItems(order domain.Order, requested []string) ([]string, error) {
	if len(requested) == 0 {
		ids := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ID)
		}
		return ids, nil
	}

	seen := make(map[string]struct{}, len(requested))
	ids := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		if _, ok := order.Item(id); !ok {
			return nil, &domain.NotFoundError{Entity: "order item", ID: id}
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func createdEvents(req domain.ReturnRequest) []notify.Event {
	meta := metadata(req)
	return []notify.Event{
		{
			UserID:   req.BuyerID,
			Type:     domain.NotificationReturnRequested,
			Title:    "Return request received",
			Message:  fmt.Sprintf("We received your %s request for order %s. The seller will review it shortly.", req.RequestType, req.OrderID),
			Link:     link(req),
			Metadata: meta,
			Email:    true,
		},
		{
			UserID:   req.SellerID,
			Type:     domain.NotificationReturnRequested,
			Title:    "New return request",
			Message:  fmt.Sprintf("A buyer opened a %s request for order %s.", req.RequestType, req.OrderID),
			Link:     link(req),
			Metadata: meta,
		},
	}
}
