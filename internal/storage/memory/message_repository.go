package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type messageRepositoryInMemory struct {
	mu       sync.RWMutex
	messages map[string][]domain.ReturnMessage
}

// NewMessageRepository создаёт in-memory хранилище переписки.
func NewMessageRepository() domain.MessageRepository {
	return &messageRepositoryInMemory{messages: make(map[string][]domain.ReturnMessage)}
}

func (r *messageRepositoryInMemory) Add(_ context.Context, msg domain.ReturnMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.MediaURLs = append([]string(nil), msg.MediaURLs...)
	r.messages[msg.ReturnRequestID] = append(r.messages[msg.ReturnRequestID], msg)
	return nil
}

func (r *messageRepositoryInMemory) List(_ context.Context, returnRequestID string) ([]domain.ReturnMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.messages[returnRequestID]
	result := make([]domain.ReturnMessage, 0, len(src))
	for _, msg := range src {
		msg.MediaURLs = append([]string(nil), msg.MediaURLs...)
		result = append(result, msg)
	}
	return result, nil
}

func (r *messageRepositoryInMemory) MarkRead(_ context.Context, returnRequestID, readerID string, party domain.Party) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	thread := r.messages[returnRequestID]
	for i := range thread {
		if thread[i].SenderID == readerID {
			continue
		}
		switch party {
		case domain.PartyBuyer:
			if !thread[i].ReadByBuyer {
				thread[i].ReadByBuyer = true
				updated++
			}
		case domain.PartySeller:
			if !thread[i].ReadBySeller {
				thread[i].ReadBySeller = true
				updated++
			}
		}
	}
	return updated, nil
}

var _ domain.MessageRepository = (*messageRepositoryInMemory)(nil)
