package returns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/notify"
)

const (
	maxMessageLength   = 4000
	pendingOrdersLimit = 100
)

// PostMessage добавляет сообщение в переписку по заявке и уведомляет другую сторону.
func (s *Service) PostMessage(ctx context.Context, returnID, senderID, text string, media []string) (domain.ReturnMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(media) == 0 {
		return domain.ReturnMessage{}, &domain.ValidationError{Field: "message", Message: "message is required"}
	}
	if len(text) > maxMessageLength {
		return domain.ReturnMessage{}, &domain.ValidationError{Field: "message", Message: fmt.Sprintf("message must not exceed %d characters", maxMessageLength)}
	}

	req, err := s.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnMessage{}, err
	}
	sender, party, err := s.actor(ctx, senderID, req, "post a message")
	if err != nil {
		return domain.ReturnMessage{}, err
	}

	msg := domain.ReturnMessage{
		ID:              uuid.NewString(),
		ReturnRequestID: req.ID,
		SenderID:        senderID,
		SenderRole:      sender.Role,
		Message:         text,
		MediaURLs:       append([]string(nil), media...),
		ReadByBuyer:     party == domain.PartyBuyer,
		ReadBySeller:    party == domain.PartySeller,
		CreatedAt:       s.now(),
	}
	if err := s.messages.Add(ctx, msg); err != nil {
		return domain.ReturnMessage{}, fmt.Errorf("store return message: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"return_id": req.ID,
		"user_id":   senderID,
		"party":     party,
	}).Debug("return message posted")

	var recipients []string
	switch party {
	case domain.PartyBuyer:
		recipients = []string{req.SellerID}
	case domain.PartySeller:
		recipients = []string{req.BuyerID}
	default:
		recipients = []string{req.BuyerID, req.SellerID}
	}
	events := make([]notify.Event, 0, len(recipients))
	for _, id := range recipients {
		if id == "" || id == senderID {
			continue
		}
		events = append(events, notify.Event{
			UserID:   id,
			Type:     domain.NotificationReturnMessage,
			Title:    "New message about your return",
			Message:  preview(text),
			Link:     link(req),
			Metadata: metadata(req),
		})
	}
	s.notifyAsync(ctx, "return-message", events...)

	return msg, nil
}

func preview(text string) string {
	const limit = 140
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// MarkThreadRead отмечает прочитанными сообщения, отправленные не читателем.
// Для админа флагов прочтения нет, вызов ничего не меняет.
func (s *Service) MarkThreadRead(ctx context.Context, returnID, readerID string) (int, error) {
	req, err := s.returns.Get(ctx, returnID)
	if err != nil {
		return 0, err
	}
	_, party, err := s.actor(ctx, readerID, req, "read the return thread")
	if err != nil {
		return 0, err
	}
	if party == domain.PartyAdmin {
		return 0, nil
	}
	return s.messages.MarkRead(ctx, returnID, readerID, party)
}

// GetDetails возвращает заявку с журналом, перепиской и попытками возмещения.
func (s *Service) GetDetails(ctx context.Context, returnID, viewerID string) (domain.ReturnDetails, error) {
	req, err := s.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnDetails{}, err
	}
	if _, _, err := s.actor(ctx, viewerID, req, "view return request"); err != nil {
		return domain.ReturnDetails{}, err
	}

	history, err := s.returns.History(ctx, returnID)
	if err != nil {
		return domain.ReturnDetails{}, fmt.Errorf("load history: %w", err)
	}
	messages, err := s.messages.List(ctx, returnID)
	if err != nil {
		return domain.ReturnDetails{}, fmt.Errorf("load messages: %w", err)
	}
	refunds, err := s.refunds.List(ctx, returnID)
	if err != nil {
		return domain.ReturnDetails{}, fmt.Errorf("load refunds: %w", err)
	}

	return domain.ReturnDetails{
		Request:  req,
		History:  history,
		Messages: messages,
		Refunds:  refunds,
	}, nil
}

// ListEntries возвращает видимые пользователю записи, новые первыми.
// Покупатель дополнительно видит свои заказы в marked_for_return, по позициям которых
// ещё нет активных заявок.
func (s *Service) ListEntries(ctx context.Context, viewerID string, filter domain.ReturnFilter) ([]domain.ReturnEntry, error) {
	viewer, err := s.users.Get(ctx, viewerID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, &domain.AccessDeniedError{ActorID: viewerID, Action: "list return requests"}
		}
		return nil, err
	}

	switch {
	case viewer.Role.IsAdmin():
	case viewer.Role == domain.RoleSeller:
		filter.SellerID = viewer.ID
		filter.BuyerID = ""
	default:
		filter.BuyerID = viewer.ID
		filter.SellerID = ""
	}

	requests, err := s.returns.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list return requests: %w", err)
	}
	entries := make([]domain.ReturnEntry, 0, len(requests))
	for _, req := range requests {
		entries = append(entries, domain.RealRequest{Request: req})
	}

	if filter.BuyerID != "" && filter.Status == "" {
		marks, err := s.pendingMarks(ctx, filter.BuyerID, filter.OrderID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, marks...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EntryCreatedAt().After(entries[j].EntryCreatedAt())
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func (s *Service) pendingMarks(ctx context.Context, buyerID, orderID string) ([]domain.ReturnEntry, error) {
	orders, err := s.orders.ListByBuyer(ctx, buyerID, pendingOrdersLimit)
	if err != nil {
		return nil, fmt.Errorf("list buyer orders: %w", err)
	}

	var marks []domain.ReturnEntry
	for _, order := range orders {
		if order.Status != domain.OrderStatusMarkedForReturn {
			continue
		}
		if orderID != "" && order.ID != orderID {
			continue
		}
		var pending []string
		for _, item := range order.Items {
			blocking, err := s.returns.HasBlockingForItem(ctx, item.ID)
			if err != nil {
				return nil, fmt.Errorf("check item %s: %w", item.ID, err)
			}
			if !blocking {
				pending = append(pending, item.ID)
			}
		}
		if len(pending) == 0 {
			continue
		}
		marks = append(marks, domain.PendingOrderMark{
			OrderID:        order.ID,
			BuyerID:        order.BuyerID,
			PendingItemIDs: pending,
			MarkedAt:       order.UpdatedAt,
		})
	}
	return marks, nil
}
