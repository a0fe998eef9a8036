package domain

import (
	"context"
	"time"
)

// ReturnRepository хранит заявки и их журнал переходов.
type ReturnRepository interface {
	// Create атомарно сохраняет заявку и первую строку журнала.
	// Возвращает ErrActiveReturnExists, если по позиции уже есть блокирующая заявка.
	Create(ctx context.Context, req ReturnRequest, entry StatusHistory) error
	// Get возвращает заявку или NotFoundError.
	Get(ctx context.Context, id string) (ReturnRequest, error)
	// Transition атомарно сохраняет новое состояние заявки и строку журнала при условии,
	// что статус всё ещё равен from, а версия равна req.Version. Иначе ConcurrentModificationError.
	Transition(ctx context.Context, req ReturnRequest, from ReturnStatus, entry StatusHistory) (ReturnRequest, error)
	// UpdateRefundState обновляет поля возмещения с проверкой версии.
	UpdateRefundState(ctx context.Context, req ReturnRequest) (ReturnRequest, error)
	// History возвращает журнал по возрастанию времени.
	History(ctx context.Context, id string) ([]StatusHistory, error)
	// HasBlockingForItem сообщает, есть ли по позиции заявка не в cancelled/rejected.
	HasBlockingForItem(ctx context.Context, orderItemID string) (bool, error)
	// List возвращает заявки по фильтру, новые первыми.
	List(ctx context.Context, filter ReturnFilter) ([]ReturnRequest, error)
}

// MessageRepository хранит переписку по заявкам.
type MessageRepository interface {
	Add(ctx context.Context, msg ReturnMessage) error
	List(ctx context.Context, returnRequestID string) ([]ReturnMessage, error)
	// MarkRead отмечает прочитанными для стороны party сообщения, отправленные не readerID.
	MarkRead(ctx context.Context, returnRequestID, readerID string, party Party) (int, error)
}

// RefundRepository хранит попытки возмещения.
type RefundRepository interface {
	// Create атомарно проверяет, что новой попытке ничто не мешает, иначе ErrRefundInProgress.
	Create(ctx context.Context, refund ReturnRefund) error
	Update(ctx context.Context, refund ReturnRefund) error
	// Latest возвращает последнюю попытку или NotFoundError.
	Latest(ctx context.Context, returnRequestID string) (ReturnRefund, error)
	List(ctx context.Context, returnRequestID string) ([]ReturnRefund, error)
}

// PolicyRepository ищет политику возвратов по точному совпадению (пустая строка = NULL).
type PolicyRepository interface {
	Find(ctx context.Context, sellerID, categoryID string) (ReturnPolicy, error)
}

// ReasonRepository — справочник причин возврата.
type ReasonRepository interface {
	Get(ctx context.Context, id string) (ReturnReason, error)
	List(ctx context.Context) ([]ReturnReason, error)
}

// ProductRepository даёт доступ к каталогу только на чтение.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
}

// UserRepository даёт доступ к профилям пользователей.
type UserRepository interface {
	Get(ctx context.Context, id string) (User, error)
	ListByRoles(ctx context.Context, roles ...Role) ([]User, error)
}

// OrderRepository — узкий контракт записи в подсистему заказов.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetItem(ctx context.Context, itemID string) (OrderItem, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// Save сохраняет статус заказа с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	UpdateItemStatus(ctx context.Context, itemID string, status OrderStatus) error
	UpdateSellerOrderStatus(ctx context.Context, sellerOrderID string, status OrderStatus) error
}

// WalletRepository — кошельки и их журнал.
type WalletRepository interface {
	// Get возвращает кошелёк; отсутствующий кошелёк возвращается с нулевым балансом.
	Get(ctx context.Context, userID string) (Wallet, error)
	// Adjust — единственная операция изменения баланса, сериализованная по пользователю.
	Adjust(ctx context.Context, userID string, deltaMinor int64, currency, reason, reference string) (WalletTransaction, error)
	Transactions(ctx context.Context, userID string, limit int) ([]WalletTransaction, error)
}

// NotificationRepository хранит уведомления.
type NotificationRepository interface {
	Create(ctx context.Context, n Notification) error
	List(ctx context.Context, userID string, filter NotificationFilter) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// GatewayRefundRequest — запрос возврата на исходную транзакцию.
type GatewayRefundRequest struct {
	TransactionID  string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Reason         string
}

// PaymentGateway возвращает средства на исходный платёжный инструмент.
type PaymentGateway interface {
	Refund(ctx context.Context, req GatewayRefundRequest) (GatewayRefund, error)
}

// EmailSender отправляет письма по принципу best effort.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// Pusher доставляет уведомление в живое соединение пользователя, если оно есть.
type Pusher interface {
	Push(ctx context.Context, userID string, n Notification) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ, пока он в статусе processing; сохранённые ответы не трогает.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

const (
	AggregateReturnRequest = "return_request"
	AggregateOrder         = "order"
)
