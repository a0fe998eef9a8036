package domain

import "time"

// ReturnEntry — элемент списка возвратов: реальная заявка или отметка заказа,
// по позициям которого заявки ещё не созданы.
type ReturnEntry interface {
	EntryOrderID() string
	EntryCreatedAt() time.Time
	isReturnEntry()
}

// RealRequest — заявка по конкретной позиции.
type RealRequest struct {
	Request ReturnRequest
}

func (e RealRequest) EntryOrderID() string      { return e.Request.OrderID }
func (e RealRequest) EntryCreatedAt() time.Time { return e.Request.CreatedAt }
func (RealRequest) isReturnEntry()              {}

// PendingOrderMark — заказ в статусе marked_for_return без активных заявок по позициям.
type PendingOrderMark struct {
	OrderID        string
	BuyerID        string
	PendingItemIDs []string
	MarkedAt       time.Time
}

func (e PendingOrderMark) EntryOrderID() string      { return e.OrderID }
func (e PendingOrderMark) EntryCreatedAt() time.Time { return e.MarkedAt }
func (PendingOrderMark) isReturnEntry()              {}

var (
	_ ReturnEntry = RealRequest{}
	_ ReturnEntry = PendingOrderMark{}
)
