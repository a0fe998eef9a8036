package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/service/eligibility"
	"github.com/vladislavdragonenkov/returns/internal/service/returns"
)

type trackingDTO struct {
	TrackingNumber string    `json:"trackingNumber"`
	CourierName    string    `json:"courierName"`
	TrackingURL    string    `json:"trackingUrl,omitempty"`
	ShippedAt      time.Time `json:"shippedAt"`
}

type returnRequestDTO struct {
	ID                  string                `json:"id"`
	OrderID             string                `json:"orderId"`
	OrderItemID         string                `json:"orderItemId"`
	BuyerID             string                `json:"buyerId"`
	SellerID            string                `json:"sellerId"`
	RequestType         domain.RequestType    `json:"requestType"`
	ReasonID            string                `json:"reasonId"`
	Description         string                `json:"description"`
	Status              domain.ReturnStatus   `json:"status"`
	MediaURLs           []string              `json:"mediaUrls"`
	EligibleForRefund   bool                  `json:"eligibleForRefund"`
	Policy              domain.PolicySnapshot `json:"policy"`
	RefundAmountMinor   int64                 `json:"refundAmountMinor"`
	RefundMethod        domain.RefundMethod   `json:"refundMethod"`
	RefundStatus        domain.RefundStatus   `json:"refundStatus,omitempty"`
	ReturnTracking      *trackingDTO          `json:"returnTracking,omitempty"`
	ReplacementTracking *trackingDTO          `json:"replacementTracking,omitempty"`
	ItemCondition       domain.ItemCondition  `json:"itemCondition,omitempty"`
	ConditionNotes      string                `json:"conditionNotes,omitempty"`
	CancelReason        string                `json:"cancelReason,omitempty"`
	NextStatuses        []domain.ReturnStatus `json:"nextStatuses"`
	CreatedAt           time.Time             `json:"createdAt"`
	StatusUpdatedAt     time.Time             `json:"statusUpdatedAt"`
	CompletedAt         *time.Time            `json:"completedAt,omitempty"`
	CancelledAt         *time.Time            `json:"cancelledAt,omitempty"`
}

func toTracking(t *domain.Tracking) *trackingDTO {
	if t == nil {
		return nil
	}
	return &trackingDTO{
		TrackingNumber: t.TrackingNumber,
		CourierName:    t.CourierName,
		TrackingURL:    t.TrackingURL,
		ShippedAt:      t.ShippedAt,
	}
}

func toReturnRequest(req domain.ReturnRequest) returnRequestDTO {
	media := req.MediaURLs
	if media == nil {
		media = []string{}
	}
	next := req.Status.NextStatuses()
	if next == nil {
		next = []domain.ReturnStatus{}
	}
	return returnRequestDTO{
		ID:                  req.ID,
		OrderID:             req.OrderID,
		OrderItemID:         req.OrderItemID,
		BuyerID:             req.BuyerID,
		SellerID:            req.SellerID,
		RequestType:         req.RequestType,
		ReasonID:            req.ReasonID,
		Description:         req.Description,
		Status:              req.Status,
		MediaURLs:           media,
		EligibleForRefund:   req.EligibleForRefund,
		Policy:              req.Policy,
		RefundAmountMinor:   req.RefundAmountMinor,
		RefundMethod:        req.RefundMethod,
		RefundStatus:        req.RefundStatus,
		ReturnTracking:      toTracking(req.ReturnTracking),
		ReplacementTracking: toTracking(req.ReplacementTracking),
		ItemCondition:       req.ItemCondition,
		ConditionNotes:      req.ConditionNotes,
		CancelReason:        req.CancelReason,
		NextStatuses:        next,
		CreatedAt:           req.CreatedAt,
		StatusUpdatedAt:     req.StatusUpdatedAt,
		CompletedAt:         req.CompletedAt,
		CancelledAt:         req.CancelledAt,
	}
}

type historyDTO struct {
	ID             string               `json:"id"`
	PreviousStatus *domain.ReturnStatus `json:"previousStatus"`
	NewStatus      domain.ReturnStatus  `json:"newStatus"`
	ChangedByID    string               `json:"changedById"`
	Notes          string               `json:"notes,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

type messageDTO struct {
	ID           string      `json:"id"`
	SenderID     string      `json:"senderId"`
	SenderRole   domain.Role `json:"senderRole"`
	Message      string      `json:"message"`
	MediaURLs    []string    `json:"mediaUrls,omitempty"`
	ReadByBuyer  bool        `json:"readByBuyer"`
	ReadBySeller bool        `json:"readBySeller"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func toMessage(m domain.ReturnMessage) messageDTO {
	return messageDTO{
		ID:           m.ID,
		SenderID:     m.SenderID,
		SenderRole:   m.SenderRole,
		Message:      m.Message,
		MediaURLs:    m.MediaURLs,
		ReadByBuyer:  m.ReadByBuyer,
		ReadBySeller: m.ReadBySeller,
		CreatedAt:    m.CreatedAt,
	}
}

type refundDTO struct {
	ID               string              `json:"id"`
	AmountMinor      int64               `json:"amountMinor"`
	Currency         string              `json:"currency"`
	Method           domain.RefundMethod `json:"method"`
	Status           domain.RefundStatus `json:"status"`
	ExternalRefundID string              `json:"externalRefundId,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	ProcessedAt      *time.Time          `json:"processedAt,omitempty"`
}

type detailsDTO struct {
	returnRequestDTO
	History  []historyDTO `json:"history"`
	Messages []messageDTO `json:"messages"`
	Refunds  []refundDTO  `json:"refunds"`
}

func toDetails(d domain.ReturnDetails) detailsDTO {
	out := detailsDTO{
		returnRequestDTO: toReturnRequest(d.Request),
		History:          make([]historyDTO, 0, len(d.History)),
		Messages:         make([]messageDTO, 0, len(d.Messages)),
		Refunds:          make([]refundDTO, 0, len(d.Refunds)),
	}
	for _, h := range d.History {
		out.History = append(out.History, historyDTO{
			ID:             h.ID,
			PreviousStatus: h.PreviousStatus,
			NewStatus:      h.NewStatus,
			ChangedByID:    h.ChangedByID,
			Notes:          h.Notes,
			CreatedAt:      h.CreatedAt,
		})
	}
	for _, m := range d.Messages {
		out.Messages = append(out.Messages, toMessage(m))
	}
	for _, r := range d.Refunds {
		out.Refunds = append(out.Refunds, refundDTO{
			ID:               r.ID,
			AmountMinor:      r.AmountMinor,
			Currency:         r.Currency,
			Method:           r.Method,
			Status:           r.Status,
			ExternalRefundID: r.ExternalRefundID,
			Notes:            r.Notes,
			CreatedAt:        r.CreatedAt,
			ProcessedAt:      r.ProcessedAt,
		})
	}
	return out
}

type eligibilityDTO struct {
	Eligible      bool   `json:"eligible"`
	Message       string `json:"message,omitempty"`
	RemainingDays int    `json:"remainingDays"`
	WindowDays    int    `json:"windowDays"`
	PolicyID      string `json:"policyId,omitempty"`
}

func toEligibility(res eligibility.Result) eligibilityDTO {
	out := eligibilityDTO{
		Eligible:      res.Eligible,
		Message:       res.Message,
		RemainingDays: res.RemainingDays,
		WindowDays:    res.WindowDays,
	}
	if res.Policy != nil {
		out.PolicyID = res.Policy.ID
	}
	return out
}

// entryDTO — элемент списка: kind = request или pending_order_mark.
type entryDTO struct {
	Kind           string            `json:"kind"`
	Request        *returnRequestDTO `json:"request,omitempty"`
	OrderID        string            `json:"orderId"`
	PendingItemIDs []string          `json:"pendingItemIds,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func toEntry(e domain.ReturnEntry) entryDTO {
	switch v := e.(type) {
	case domain.RealRequest:
		req := toReturnRequest(v.Request)
		return entryDTO{Kind: "request", Request: &req, OrderID: v.EntryOrderID(), CreatedAt: v.EntryCreatedAt()}
	case domain.PendingOrderMark:
		return entryDTO{Kind: "pending_order_mark", OrderID: v.OrderID, PendingItemIDs: v.PendingItemIDs, CreatedAt: v.MarkedAt}
	default:
		return entryDTO{Kind: "unknown", OrderID: e.EntryOrderID(), CreatedAt: e.EntryCreatedAt()}
	}
}

type itemOutcomeDTO struct {
	OrderItemID string            `json:"orderItemId"`
	Request     *returnRequestDTO `json:"request,omitempty"`
	Error       *errorPayload     `json:"error,omitempty"`
}

type bulkResultDTO struct {
	OrderID     string             `json:"orderId"`
	OrderStatus domain.OrderStatus `json:"orderStatus"`
	Created     int                `json:"created"`
	Items       []itemOutcomeDTO   `json:"items"`
}

func toBulkResult(res returns.BulkResult) bulkResultDTO {
	out := bulkResultDTO{
		OrderID:     res.Order.ID,
		OrderStatus: res.Order.Status,
		Created:     res.Created(),
		Items:       make([]itemOutcomeDTO, 0, len(res.Items)),
	}
	for _, item := range res.Items {
		dto := itemOutcomeDTO{OrderItemID: item.OrderItemID}
		if item.Request != nil {
			req := toReturnRequest(*item.Request)
			dto.Request = &req
		}
		if item.Err != nil {
			_, code := statusFor(item.Err)
			dto.Error = &errorPayload{Code: code, Message: item.Err.Error()}
		}
		out.Items = append(out.Items, dto)
	}
	return out
}

type orderItemDTO struct {
	ID         string             `json:"id"`
	ProductID  string             `json:"productId"`
	SellerID   string             `json:"sellerId"`
	Qty        int32              `json:"qty"`
	PriceMinor int64              `json:"priceMinor"`
	Status     domain.OrderStatus `json:"status"`
}

type orderDTO struct {
	ID          string             `json:"id"`
	BuyerID     string             `json:"buyerId"`
	Status      domain.OrderStatus `json:"status"`
	Currency    string             `json:"currency"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`
	Items       []orderItemDTO     `json:"items"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func toOrder(o domain.Order) orderDTO {
	out := orderDTO{
		ID:          o.ID,
		BuyerID:     o.BuyerID,
		Status:      o.Status,
		Currency:    o.Currency,
		DeliveredAt: o.DeliveredAt,
		Items:       make([]orderItemDTO, 0, len(o.Items)),
		UpdatedAt:   o.UpdatedAt,
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, orderItemDTO{
			ID:         item.ID,
			ProductID:  item.ProductID,
			SellerID:   item.SellerID,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			Status:     item.Status,
		})
	}
	return out
}

type notificationDTO struct {
	ID        string                  `json:"id"`
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Read      bool                    `json:"read"`
	Link      string                  `json:"link,omitempty"`
	Metadata  map[string]string       `json:"metadata,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

func toNotification(n domain.Notification) notificationDTO {
	return notificationDTO{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Read:      n.Read,
		Link:      n.Link,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
}

type walletTransactionDTO struct {
	ID           string    `json:"id"`
	AmountMinor  int64     `json:"amountMinor"`
	BalanceAfter int64     `json:"balanceAfter"`
	Reason       string    `json:"reason"`
	Reference    string    `json:"reference"`
	CreatedAt    time.Time `json:"createdAt"`
}

type walletDTO struct {
	UserID       string                 `json:"userId"`
	BalanceMinor int64                  `json:"balanceMinor"`
	Currency     string                 `json:"currency"`
	Transactions []walletTransactionDTO `json:"transactions"`
}

func toWallet(w domain.Wallet, txs []domain.WalletTransaction) walletDTO {
	out := walletDTO{
		UserID:       w.UserID,
		BalanceMinor: w.BalanceMinor,
		Currency:     w.Currency,
		Transactions: make([]walletTransactionDTO, 0, len(txs)),
	}
	for _, tx := range txs {
		out.Transactions = append(out.Transactions, walletTransactionDTO{
			ID:           tx.ID,
			AmountMinor:  tx.AmountMinor,
			BalanceAfter: tx.BalanceAfter,
			Reason:       tx.Reason,
			Reference:    tx.Reference,
			CreatedAt:    tx.CreatedAt,
		})
	}
	return out
}
