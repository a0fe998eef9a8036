package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type notificationRepositoryInMemory struct {
	mu    sync.RWMutex
	inbox map[string][]domain.Notification
}

// NewNotificationRepository создаёт in-memory хранилище уведомлений.
func NewNotificationRepository() domain.NotificationRepository {
	return &notificationRepositoryInMemory{inbox: make(map[string][]domain.Notification)}
}

func (r *notificationRepositoryInMemory) Create(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n.Metadata = maps.Clone(n.Metadata)
	r.inbox[n.UserID] = append(r.inbox[n.UserID], n)
	return nil
}

// List возвращает уведомления пользователя, новые первыми.
func (r *notificationRepositoryInMemory) List(_ context.Context, userID string, filter domain.NotificationFilter) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.inbox[userID]
	result := make([]domain.Notification, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		n := rows[i]
		if filter.UnreadOnly && n.Read {
			continue
		}
		n.Metadata = maps.Clone(n.Metadata)
		result = append(result, n)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (r *notificationRepositoryInMemory) MarkRead(_ context.Context, userID, notificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.inbox[userID]
	for i := range rows {
		if rows[i].ID == notificationID {
			rows[i].Read = true
			return nil
		}
	}
	return &domain.NotFoundError{Entity: "notification", ID: notificationID}
}

func (r *notificationRepositoryInMemory) MarkAllRead(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	rows := r.inbox[userID]
	for i := range rows {
		if !rows[i].Read {
			rows[i].Read = true
			updated++
		}
	}
	return updated, nil
}

var _ domain.NotificationRepository = (*notificationRepositoryInMemory)(nil)
