package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus общий для заказа, подзаказа продавца и позиции заказа,
// иначе восходящее продвижение статусов было бы невозможно сравнить.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusConfirmed       OrderStatus = "confirmed"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusMarkedForReturn OrderStatus = "marked_for_return"
	OrderStatusReturned        OrderStatus = "returned"
	OrderStatusReplaced        OrderStatus = "replaced"
	OrderStatusRefunded        OrderStatus = "refunded"
)

// ParseOrderStatus приводит строку к OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusMarkedForReturn,
		OrderStatusReturned, OrderStatusReplaced, OrderStatusRefunded:
		return s, nil
	default:
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %q", raw)}
	}
}

// IsFulfilled сообщает, что заказ доставлен и по нему можно оформлять возврат.
func (s OrderStatus) IsFulfilled() bool {
	return s == OrderStatusDelivered || s == OrderStatusMarkedForReturn
}

// IsTerminal сообщает, что заказ больше не меняет статус.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusReturned, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodWallet PaymentMethod = "wallet"
)

// OrderItem — позиция заказа.
type OrderItem struct {
	ID            string
	OrderID       string
	SellerOrderID string
	ProductID     string
	SellerID      string
	Qty           int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TotalMinor возвращает стоимость позиции без учёта скидки заказа.
func (i OrderItem) TotalMinor() int64 {
	return int64(i.Qty) * i.PriceMinor
}

// SellerOrder — часть заказа одного продавца.
type SellerOrder struct {
	ID        string
	OrderID   string
	SellerID  string
	Status    OrderStatus
	UpdatedAt time.Time
}

// Order агрегирует заказ, его подзаказы и позиции.
type Order struct {
	ID                   string
	BuyerID              string
	Status               OrderStatus
	PaymentMethod        PaymentMethod
	PaymentTransactionID string
	Currency             string
	SubtotalMinor        int64
	DiscountMinor        int64
	WalletCoinsUsed      int64
	DeliveredAt          *time.Time
	Items                []OrderItem
	SellerOrders         []SellerOrder
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Item ищет позицию заказа по идентификатору.
func (o Order) Item(itemID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// SellerIDs возвращает уникальных продавцов заказа в порядке появления.
func (o Order) SellerIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, so := range o.SellerOrders {
		add(so.SellerID)
	}
	for _, item := range o.Items {
		add(item.SellerID)
	}
	return ids
}

// HasSeller сообщает, участвует ли продавец в заказе.
func (o Order) HasSeller(sellerID string) bool {
	for _, id := range o.SellerIDs() {
		if id == sellerID {
			return true
		}
	}
	return false
}
