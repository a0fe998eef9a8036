package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReturnStatus описывает состояние заявки на возврат.
type ReturnStatus string

const (
	// ReturnStatusPending — заявка создана покупателем и ждёт решения продавца.
	ReturnStatusPending ReturnStatus = "pending"
	// ReturnStatusApproved — продавец (или админ) одобрил заявку.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusRejected — заявка отклонена, терминальный статус.
	ReturnStatusRejected ReturnStatus = "rejected"
	// ReturnStatusItemInTransit — покупатель отправил товар обратно.
	ReturnStatusItemInTransit ReturnStatus = "item_in_transit"
	// ReturnStatusItemReceived — продавец получил товар.
	ReturnStatusItemReceived ReturnStatus = "item_received"
	// ReturnStatusReplacementInTransit — продавец отправил замену.
	ReturnStatusReplacementInTransit ReturnStatus = "replacement_in_transit"
	// ReturnStatusRefundInitiated — запущено возмещение средств.
	ReturnStatusRefundInitiated ReturnStatus = "refund_initiated"
	// ReturnStatusRefundProcessed — возмещение подтверждено.
	ReturnStatusRefundProcessed ReturnStatus = "refund_processed"
	// ReturnStatusCompleted — заявка закрыта, терминальный статус.
	ReturnStatusCompleted ReturnStatus = "completed"
	// ReturnStatusCancelled — заявка отменена, терминальный статус.
	ReturnStatusCancelled ReturnStatus = "cancelled"
)

// validTransitions — единственный источник правды о допустимых переходах.
var validTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusPending:              {ReturnStatusApproved, ReturnStatusRejected, ReturnStatusCancelled},
	ReturnStatusApproved:             {ReturnStatusItemInTransit, ReturnStatusCancelled},
	ReturnStatusItemInTransit:        {ReturnStatusItemReceived, ReturnStatusCancelled},
	ReturnStatusItemReceived:         {ReturnStatusReplacementInTransit, ReturnStatusRefundInitiated, ReturnStatusCancelled},
	ReturnStatusReplacementInTransit: {ReturnStatusCompleted, ReturnStatusCancelled},
	ReturnStatusRefundInitiated:      {ReturnStatusRefundProcessed, ReturnStatusCancelled},
	ReturnStatusRefundProcessed:      {ReturnStatusCompleted},
	ReturnStatusCompleted:            nil,
	ReturnStatusCancelled:            nil,
	ReturnStatusRejected:             nil,
}

// ParseReturnStatus приводит строку к ReturnStatus и отклоняет неизвестные значения.
func ParseReturnStatus(raw string) (ReturnStatus, error) {
	status := ReturnStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown return status %q", raw)}
	}
	return status, nil
}

// Valid сообщает, известен ли статус.
func (s ReturnStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s ReturnStatus) IsTerminal() bool {
	return s.Valid() && len(validTransitions[s]) == 0
}

// BlocksNewRequest сообщает, мешает ли заявка в этом статусе создать новую по той же позиции.
func (s ReturnStatus) BlocksNewRequest() bool {
	return s != ReturnStatusCancelled && s != ReturnStatusRejected
}

// CanTransition проверяет переход по таблице validTransitions.
func (s ReturnStatus) CanTransition(to ReturnStatus) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses возвращает копию списка допустимых следующих статусов.
func (s ReturnStatus) NextStatuses() []ReturnStatus {
	next := validTransitions[s]
	out := make([]ReturnStatus, len(next))
	copy(out, next)
	return out
}

// RequestType — тип заявки покупателя.
type RequestType string

const (
	RequestTypeReturn      RequestType = "return"
	RequestTypeRefund      RequestType = "refund"
	RequestTypeReplacement RequestType = "replacement"
)

// ParseRequestType приводит строку к RequestType.
func ParseRequestType(raw string) (RequestType, error) {
	t := RequestType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case RequestTypeReturn, RequestTypeRefund, RequestTypeReplacement:
		return t, nil
	default:
		return "", &ValidationError{Field: "requestType", Message: fmt.Sprintf("unknown request type %q", raw)}
	}
}

// CompletedItemStatus возвращает статус позиции заказа после закрытия заявки.
func (t RequestType) CompletedItemStatus() OrderStatus {
	switch t {
	case RequestTypeReplacement:
		return OrderStatusReplaced
	case RequestTypeRefund:
		return OrderStatusRefunded
	default:
		return OrderStatusReturned
	}
}

// ItemCondition фиксирует состояние товара при приёмке.
type ItemCondition string

const (
	ItemConditionNew       ItemCondition = "new"
	ItemConditionGood      ItemCondition = "good"
	ItemConditionDamaged   ItemCondition = "damaged"
	ItemConditionDefective ItemCondition = "defective"
)

// ParseItemCondition приводит строку к ItemCondition.
func ParseItemCondition(raw string) (ItemCondition, error) {
	c := ItemCondition(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case ItemConditionNew, ItemConditionGood, ItemConditionDamaged, ItemConditionDefective:
		return c, nil
	default:
		return "", &ValidationError{Field: "condition", Message: fmt.Sprintf("unknown item condition %q", raw)}
	}
}

// Tracking описывает отправку товара (возврат или замена).
type Tracking struct {
	TrackingNumber string
	CourierName    string
	TrackingURL    string
	ShippedAt      time.Time
}

// Validate проверяет обязательные поля трекинга.
func (t Tracking) Validate() error {
	if strings.TrimSpace(t.TrackingNumber) == "" {
		return &ValidationError{Field: "trackingNumber", Message: "tracking number is required"}
	}
	if strings.TrimSpace(t.CourierName) == "" {
		return &ValidationError{Field: "courierName", Message: "courier name is required"}
	}
	return nil
}

// ReturnRequest — заявка на возврат одной позиции заказа.
type ReturnRequest struct {
	ID                  string
	OrderID             string
	OrderItemID         string
	BuyerID             string
	SellerID            string
	RequestType         RequestType
	ReasonID            string
	Description         string
	Status              ReturnStatus
	MediaURLs           []string
	EligibleForRefund   bool
	Policy              PolicySnapshot
	RefundAmountMinor   int64
	RefundMethod        RefundMethod
	RefundStatus        RefundStatus
	ReturnTracking      *Tracking
	ReplacementTracking *Tracking
	ItemCondition       ItemCondition
	ConditionNotes      string
	CancelReason        string
	Version             int64
	CreatedAt           time.Time
	StatusUpdatedAt     time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
}

// StatusHistory — строка журнала переходов.
type StatusHistory struct {
	ID              string
	ReturnRequestID string
	PreviousStatus  *ReturnStatus
	NewStatus       ReturnStatus
	ChangedByID     string
	Notes           string
	CreatedAt       time.Time
}

// ReturnMessage — сообщение в переписке по заявке.
type ReturnMessage struct {
	ID              string
	ReturnRequestID string
	SenderID        string
	SenderRole      Role
	Message         string
	MediaURLs       []string
	ReadByBuyer     bool
	ReadBySeller    bool
	CreatedAt       time.Time
}

// ReturnDetails собирает заявку вместе с журналом, перепиской и попытками возмещения.
type ReturnDetails struct {
	Request  ReturnRequest
	History  []StatusHistory
	Messages []ReturnMessage
	Refunds  []ReturnRefund
}

// ReturnFilter ограничивает выборку заявок.
type ReturnFilter struct {
	BuyerID  string
	SellerID string
	OrderID  string
	Status   ReturnStatus
	Limit    int
}
