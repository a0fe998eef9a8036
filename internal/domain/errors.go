package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — общий признак отсутствующей сущности.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification — запись изменил конкурентный писатель.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrIneligible — заявку нельзя создать по правилам политики.
	ErrIneligible = errors.New("not eligible for return")
	// ErrInvalidTransition — переход запрещён машиной состояний.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAccessDenied — у пользователя нет прав на операцию.
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("validation failed")
	// ErrSettlementFailed — попытка возмещения не удалась (не фатально для жизненного цикла).
	ErrSettlementFailed = errors.New("refund settlement failed")
	// ErrNotificationFailed — доставка уведомления не удалась (только логируется).
	ErrNotificationFailed = errors.New("notification delivery failed")

	// ErrActiveReturnExists возвращает хранилище, если по позиции уже есть активная заявка.
	ErrActiveReturnExists = errors.New("an active return request already exists for this item")
	// ErrInsufficientFunds — списание сделало бы баланс кошелька отрицательным.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	// ErrDuplicateWalletEntry — проводка с такой ссылкой уже записана.
	ErrDuplicateWalletEntry = errors.New("wallet entry with this reference already exists")
	// ErrRefundInProgress возвращает хранилище, если у заявки уже есть незавершённая
	// или успешная попытка возмещения либо попытка с тем же номером.
	ErrRefundInProgress = errors.New("refund attempt already in progress")
	// ErrGatewayUnavailable — шлюз временно недоступен (открыт circuit breaker).
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IneligibleError — создание заявки заблокировано окном, политикой или дубликатом.
type IneligibleError struct {
	Message string
}

func (e *IneligibleError) Error() string        { return e.Message }
func (e *IneligibleError) Is(target error) bool { return target == ErrIneligible }

// InvalidTransitionError — нарушение машины состояний.
type InvalidTransitionError struct {
	From   ReturnStatus
	To     ReturnStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot change status from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot change status from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// OrderTransitionError — попытка вывести заказ из терминального статуса.
type OrderTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *OrderTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot change status from %s to %s", e.OrderID, e.From, e.To)
}

func (e *OrderTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// AccessDeniedError — проверка роли или владения не пройдена.
type AccessDeniedError struct {
	ActorID string
	Action  string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.ActorID, e.Action)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// NotFoundError — отсутствует заказ, позиция, заявка, причина или политика.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConcurrentModificationError — проигрыш оптимистической блокировки; вызывающий повторяет запрос.
type ConcurrentModificationError struct {
	Entity string
	ID     string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// ValidationError — некорректное поле запроса.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SettlementFailure описывает неудачную попытку возмещения. Наружу не пробрасывается.
type SettlementFailure struct {
	ReturnRequestID string
	Reason          string
	Err             error
}

func (e *SettlementFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("refund for return %s failed: %s: %v", e.ReturnRequestID, e.Reason, e.Err)
	}
	return fmt.Sprintf("refund for return %s failed: %s", e.ReturnRequestID, e.Reason)
}

func (e *SettlementFailure) Unwrap() error        { return e.Err }
func (e *SettlementFailure) Is(target error) bool { return target == ErrSettlementFailed }

// NotificationFailure описывает неудачную доставку по одному или нескольким каналам.
type NotificationFailure struct {
	UserID string
	Err    error
}

func (e *NotificationFailure) Error() string {
	return fmt.Sprintf("notification to user %s failed: %v", e.UserID, e.Err)
}

func (e *NotificationFailure) Unwrap() error        { return e.Err }
func (e *NotificationFailure) Is(target error) bool { return target == ErrNotificationFailed }

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConcurrentModification проверяет, является ли ошибка конфликтом версий.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
