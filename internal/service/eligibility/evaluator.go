// Package eligibility решает, может ли позиция заказа войти в жизненный цикл возврата.
package eligibility

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

const day = 24 * time.Hour

// Сообщения для покупателя. Тексты видны в API как есть.
const (
	msgOrderNotFulfilled = "Order has not been delivered yet"
	msgActiveRequest     = "A return request already exists for this item"
	msgNoPolicy          = "No return policy applies to this item"
	msgExcluded          = "This item is not eligible for return"
	msgNoDeliveryDate    = "Delivery date is unknown for this order"
	msgEligible          = "Item is eligible for return"
)

// Facts — всё, что нужно для решения. Собирается Evaluator.Check или тестом.
type Facts struct {
	Order       domain.Order
	Item        domain.OrderItem
	HasBlocking bool
	Product     domain.Product
	// Policy равна nil, если ни одна политика не подошла.
	Policy *domain.ReturnPolicy
}

// Result — ответ проверки допустимости.
type Result struct {
	Eligible      bool
	Message       string
	RemainingDays int
	WindowDays    int
	Policy        *domain.ReturnPolicy
}

// Evaluate применяет правила по порядку; первое нарушенное правило определяет ответ.
// Функция чистая: время передаётся явно, состояние не меняется.
func Evaluate(f Facts, now time.Time) Result {
	if !f.Order.Status.IsFulfilled() {
		return Result{Message: msgOrderNotFulfilled}
	}
	if f.HasBlocking {
		return Result{Message: msgActiveRequest}
	}
	if f.Policy == nil {
		return Result{Message: msgNoPolicy}
	}

	policy := *f.Policy
	if policy.Excludes(f.Product.ID, f.Product.CategoryID) {
		return Result{Message: msgExcluded, Policy: &policy}
	}
	if f.Order.DeliveredAt == nil {
		return Result{Message: msgNoDeliveryDate, Policy: &policy}
	}

	window := policy.ReturnWindowDays
	elapsed := now.Sub(*f.Order.DeliveredAt)
	if elapsed < 0 {
		elapsed = 0
	}
	days := int(elapsed / day)
	if days > window {
		return Result{
			Message:    fmt.Sprintf("Return period of %d days has expired", window),
			WindowDays: window,
			Policy:     &policy,
		}
	}

	return Result{
		Eligible:      true,
		Message:       msgEligible,
		RemainingDays: window - days,
		WindowDays:    window,
		Policy:        &policy,
	}
}

// Evaluator собирает факты из хранилищ и вызывает Evaluate.
type Evaluator struct {
	orders   domain.OrderRepository
	returns  domain.ReturnRepository
	products domain.ProductRepository
	policies domain.PolicyRepository
	now      func() time.Time
	logger   *log.Entry
}

// Option настраивает Evaluator.
type Option func(*Evaluator)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator создаёт Evaluator поверх репозиториев.
func NewEvaluator(
	orders domain.OrderRepository,
	returns domain.ReturnRepository,
	products domain.ProductRepository,
	policies domain.PolicyRepository,
	opts ...Option,
) *Evaluator {
	e := &Evaluator{
		orders:   orders,
		returns:  returns,
		products: products,
		policies: policies,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.New().WithField("component", "eligibility"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check проверяет позицию заказа. Отсутствующие заказ, позиция или товар дают NotFoundError,
// нарушения политики возвращаются как Result с Eligible=false.
func (e *Evaluator) Check(ctx context.Context, orderID, orderItemID string, requestType domain.RequestType) (Result, error) {
	facts, err := e.Gather(ctx, orderID, orderItemID)
	if err != nil {
		return Result{}, err
	}

	result := Evaluate(facts, e.now())
	e.logger.WithFields(log.Fields{
		"order_id":      orderID,
		"order_item_id": orderItemID,
		"request_type":  requestType,
		"eligible":      result.Eligible,
	}).Debug("eligibility evaluated")
	return result, nil
}

// Gather загружает факты для Evaluate. Правила, не требующие дальнейших данных,
// прерывают загрузку: политика не ищется для недоставленного заказа.
func (e *Evaluator) Gather(ctx context.Context, orderID, orderItemID string) (Facts, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return Facts{}, err
	}
	item, ok := order.Item(orderItemID)
	if !ok {
		return Facts{}, &domain.NotFoundError{Entity: "order item", ID: orderItemID}
	}

	facts := Facts{Order: order, Item: item}
	if !order.Status.IsFulfilled() {
		return facts, nil
	}

	blocking, err := e.returns.HasBlockingForItem(ctx, orderItemID)
	if err != nil {
		return Facts{}, fmt.Errorf("check active returns: %w", err)
	}
	facts.HasBlocking = blocking
	if blocking {
		return facts, nil
	}

	product, err := e.products.Get(ctx, item.ProductID)
	if err != nil {
		return Facts{}, err
	}
	if product.SellerID == "" {
		return Facts{}, &domain.NotFoundError{Entity: "seller for product", ID: product.ID}
	}
	facts.Product = product

	policy, err := e.ResolvePolicy(ctx, product.SellerID, product.CategoryID)
	if err != nil {
		return Facts{}, err
	}
	facts.Policy = policy
	return facts, nil
}

// ResolvePolicy ищет политику по приоритету: (продавец, категория), (продавец, любая),
// системная по умолчанию. Возвращает nil, если ничего не нашлось.
func (e *Evaluator) ResolvePolicy(ctx context.Context, sellerID, categoryID string) (*domain.ReturnPolicy, error) {
	scopes := make([][2]string, 0, 3)
	if categoryID != "" {
		scopes = append(scopes, [2]string{sellerID, categoryID})
	}
	scopes = append(scopes, [2]string{sellerID, ""}, [2]string{"", ""})

	for _, scope := range scopes {
		policy, err := e.policies.Find(ctx, scope[0], scope[1])
		if err == nil {
			return &policy, nil
		}
		if !domain.IsNotFound(err) {
			return nil, fmt.Errorf("find return policy: %w", err)
		}
	}
	return nil, nil
}
