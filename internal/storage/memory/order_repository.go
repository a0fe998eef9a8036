package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Позиции и подзаказы хранятся внутри агрегата, для поиска по ID ведутся индексы.
type orderRepositoryInMemory struct {
	mu           sync.RWMutex
	orders       map[string]domain.Order
	itemIndex    map[string]string
	sellerOrders map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		orders:       make(map[string]domain.Order),
		itemIndex:    make(map[string]string),
		sellerOrders: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return &domain.ConcurrentModificationError{Entity: "order", ID: order.ID}
	}
	r.orders[order.ID] = cloneOrder(order)
	for _, item := range order.Items {
		r.itemIndex[item.ID] = order.ID
	}
	for _, so := range order.SellerOrders {
		r.sellerOrders[so.ID] = order.ID
	}
	return nil
}

// Get возвращает заказ или NotFoundError.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) GetItem(_ context.Context, itemID string) (domain.OrderItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, ok := r.itemIndex[itemID]
	if !ok {
		return domain.OrderItem{}, &domain.NotFoundError{Entity: "order item", ID: itemID}
	}
	item, _ := r.orders[orderID].Item(itemID)
	return item, nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает поля заказа, проверяя версию (optimistic locking).
// Позиции и подзаказы меняются только через UpdateItemStatus и UpdateSellerOrderStatus.
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "order", ID: order.ID}
	}
	if current.Version != order.Version {
		return &domain.ConcurrentModificationError{Entity: "order", ID: order.ID}
	}

	current.Status = order.Status
	current.DeliveredAt = order.DeliveredAt
	current.WalletCoinsUsed = order.WalletCoinsUsed
	current.UpdatedAt = time.Now().UTC()
	current.Version++
	r.orders[order.ID] = current
	return nil
}

func (r *orderRepositoryInMemory) UpdateItemStatus(_ context.Context, itemID string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderID, ok := r.itemIndex[itemID]
	if !ok {
		return &domain.NotFoundError{Entity: "order item", ID: itemID}
	}
	order := r.orders[orderID]
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			order.Items[i].Status = status
			order.Items[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (r *orderRepositoryInMemory) UpdateSellerOrderStatus(_ context.Context, sellerOrderID string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderID, ok := r.sellerOrders[sellerOrderID]
	if !ok {
		return &domain.NotFoundError{Entity: "seller order", ID: sellerOrderID}
	}
	order := r.orders[orderID]
	for i := range order.SellerOrders {
		if order.SellerOrders[i].ID == sellerOrderID {
			order.SellerOrders[i].Status = status
			order.SellerOrders[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	dst.SellerOrders = append([]domain.SellerOrder(nil), src.SellerOrders...)
	if src.DeliveredAt != nil {
		ts := *src.DeliveredAt
		dst.DeliveredAt = &ts
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
