package returns

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/notify"
)

type statusCopy struct {
	title   string
	message string
	email   bool
}

// buyerCopy — тексты для покупателя по целевому статусу.
var buyerCopy = map[domain.ReturnStatus]statusCopy{
	domain.ReturnStatusApproved: {
		title:   "Return request approved",
		message: "Your return request for order %s was approved. Please ship the item back and add the tracking number.",
		email:   true,
	},
	domain.ReturnStatusRejected: {
		title:   "Return request rejected",
		message: "Your return request for order %s was rejected.",
		email:   true,
	},
	domain.ReturnStatusItemReceived: {
		title:   "Returned item received",
		message: "The seller received the item you returned from order %s.",
	},
	domain.ReturnStatusReplacementInTransit: {
		title:   "Replacement shipped",
		message: "A replacement for your item from order %s is on its way.",
		email:   true,
	},
	domain.ReturnStatusRefundProcessed: {
		title:   "Refund processed",
		message: "The refund for your return on order %s has been processed.",
		email:   true,
	},
	domain.ReturnStatusCompleted: {
		title:   "Return completed",
		message: "Your return request for order %s is complete.",
		email:   true,
	},
	domain.ReturnStatusCancelled: {
		title:   "Return request cancelled",
		message: "The return request for order %s was cancelled.",
	},
}

// sellerCopy — тексты для продавца по целевому статусу.
var sellerCopy = map[domain.ReturnStatus]statusCopy{
	domain.ReturnStatusItemInTransit: {
		title:   "Returned item shipped",
		message: "The buyer shipped the item from order %s back to you.",
	},
	domain.ReturnStatusCancelled: {
		title:   "Return request cancelled",
		message: "The return request for order %s was cancelled.",
	},
}

func link(req domain.ReturnRequest) string {
	return "/returns/" + req.ID
}

func metadata(req domain.ReturnRequest) map[string]string {
	return map[string]string{
		"return_id": req.ID,
		"order_id":  req.OrderID,
		"status":    string(req.Status),
	}
}

// transitionEvents выбирает получателей перехода. Действия покупателя адресуются продавцу,
// действия продавца покупателю; если действовал админ, уведомляются обе стороны, для которых есть текст.
func transitionEvents(req domain.ReturnRequest, actor domain.Party, notes string) []notify.Event {
	var events []notify.Event
	notifyType := domain.NotificationReturnStatus
	switch req.Status {
	case domain.ReturnStatusCancelled:
		notifyType = domain.NotificationReturnCancelled
	case domain.ReturnStatusItemInTransit, domain.ReturnStatusReplacementInTransit:
		notifyType = domain.NotificationReturnTracking
	}

	build := func(userID string, c statusCopy) notify.Event {
		msg := fmt.Sprintf(c.message, req.OrderID)
		if notes != "" {
			msg += " Note: " + notes
		}
		return notify.Event{
			UserID:   userID,
			Type:     notifyType,
			Title:    c.title,
			Message:  msg,
			Link:     link(req),
			Metadata: metadata(req),
			Email:    c.email,
		}
	}

	if c, ok := buyerCopy[req.Status]; ok && actor != domain.PartyBuyer {
		events = append(events, build(req.BuyerID, c))
	}
	if c, ok := sellerCopy[req.Status]; ok && actor != domain.PartySeller {
		events = append(events, build(req.SellerID, c))
	}
	return events
}

// refundEvent сообщает покупателю итог попытки возмещения.
func refundEvent(req domain.ReturnRequest, refund domain.ReturnRefund, message string) notify.Event {
	meta := metadata(req)
	meta["refund_status"] = string(refund.Status)
	if refund.ID != "" {
		meta["refund_id"] = refund.ID
	}

	ev := notify.Event{
		UserID:   req.BuyerID,
		Type:     domain.NotificationRefundUpdate,
		Link:     link(req),
		Metadata: meta,
	}
	switch refund.Status {
	case domain.RefundStatusCompleted:
		ev.Title = "Refund issued"
		ev.Message = fmt.Sprintf("%s has been refunded to your %s for order %s.", formatMinor(refund.AmountMinor, refund.Currency), methodLabel(refund.Method), req.OrderID)
		ev.Email = true
	case domain.RefundStatusProcessing:
		ev.Title = "Refund initiated"
		ev.Message = fmt.Sprintf("A refund of %s for order %s is being processed.", formatMinor(refund.AmountMinor, refund.Currency), req.OrderID)
	default:
		ev.Title = "Refund delayed"
		ev.Message = fmt.Sprintf("We could not complete the refund for order %s yet. Our team will retry it.", req.OrderID)
		if message != "" {
			meta["reason"] = message
		}
	}
	return ev
}

func methodLabel(m domain.RefundMethod) string {
	if m == domain.RefundMethodWallet {
		return "wallet"
	}
	return "original payment method"
}

func formatMinor(amount int64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return decimal.New(amount, -2).StringFixed(2) + " " + currency
}
