package domain

import "time"

// NotificationType — вид события для получателя.
type NotificationType string

const (
	NotificationReturnRequested   NotificationType = "return_requested"
	NotificationReturnStatus      NotificationType = "return_status_changed"
	NotificationReturnCancelled   NotificationType = "return_cancelled"
	NotificationReturnTracking    NotificationType = "return_tracking_added"
	NotificationReturnMessage     NotificationType = "return_message"
	NotificationRefundUpdate      NotificationType = "refund_update"
	NotificationOrderStatus       NotificationType = "order_status_changed"
	NotificationOrderMarkedReturn NotificationType = "order_marked_for_return"
)

// Notification — сохранённое уведомление пользователя. Источник правды для всех каналов.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Read      bool
	Link      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// EmailMessage — письмо для EmailSender.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// NotificationFilter ограничивает выборку уведомлений.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}
