package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

// returnRepositoryInMemory хранит заявки и журнал под одной блокировкой,
// поэтому запись заявки и строки журнала атомарна.
type returnRepositoryInMemory struct {
	mu       sync.RWMutex
	requests map[string]domain.ReturnRequest
	history  map[string][]domain.StatusHistory
}

// NewReturnRepository возвращает in-memory репозиторий заявок для локальной разработки и тестов.
func NewReturnRepository() domain.ReturnRepository {
	return &returnRepositoryInMemory{
		requests: make(map[string]domain.ReturnRequest),
		history:  make(map[string][]domain.StatusHistory),
	}
}

func (r *returnRepositoryInMemory) Create(_ context.Context, req domain.ReturnRequest, entry domain.StatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return &domain.ConcurrentModificationError{Entity: "return_request", ID: req.ID}
	}
	for _, existing := range r.requests {
		if existing.OrderItemID == req.OrderItemID && existing.Status.BlocksNewRequest() {
			return domain.ErrActiveReturnExists
		}
	}

	r.requests[req.ID] = cloneReturnRequest(req)
	r.history[req.ID] = append(r.history[req.ID], cloneHistory(entry))
	return nil
}

func (r *returnRepositoryInMemory) Get(_ context.Context, id string) (domain.ReturnRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return domain.ReturnRequest{}, &domain.NotFoundError{Entity: "return request", ID: id}
	}
	return cloneReturnRequest(req), nil
}

func (r *returnRepositoryInMemory) Transition(_ context.Context, req domain.ReturnRequest, from domain.ReturnStatus, entry domain.StatusHistory) (domain.ReturnRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.requests[req.ID]
	if !ok {
		return domain.ReturnRequest{}, &domain.NotFoundError{Entity: "return request", ID: req.ID}
	}
	if current.Status != from || current.Version != req.Version {
		return domain.ReturnRequest{}, &domain.ConcurrentModificationError{Entity: "return_request", ID: req.ID}
	}

	// Поля возмещения принадлежат UpdateRefundState.
	req.RefundAmountMinor = current.RefundAmountMinor
	req.RefundMethod = current.RefundMethod
	req.RefundStatus = current.RefundStatus
	req.Version = current.Version + 1

	r.requests[req.ID] = cloneReturnRequest(req)
	r.history[req.ID] = append(r.history[req.ID], cloneHistory(entry))
	return cloneReturnRequest(req), nil
}

func (r *returnRepositoryInMemory) UpdateRefundState(_ context.Context, req domain.ReturnRequest) (domain.ReturnRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.requests[req.ID]
	if !ok {
		return domain.ReturnRequest{}, &domain.NotFoundError{Entity: "return request", ID: req.ID}
	}
	if current.Version != req.Version {
		return domain.ReturnRequest{}, &domain.ConcurrentModificationError{Entity: "return_request", ID: req.ID}
	}

	current.RefundAmountMinor = req.RefundAmountMinor
	current.RefundMethod = req.RefundMethod
	current.RefundStatus = req.RefundStatus
	current.Version++
	r.requests[req.ID] = current
	return cloneReturnRequest(current), nil
}

func (r *returnRepositoryInMemory) History(_ context.Context, id string) ([]domain.StatusHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.history[id]
	result := make([]domain.StatusHistory, 0, len(rows))
	for _, row := range rows {
		result = append(result, cloneHistory(row))
	}
	return result, nil
}

func (r *returnRepositoryInMemory) HasBlockingForItem(_ context.Context, orderItemID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, req := range r.requests {
		if req.OrderItemID == orderItemID && req.Status.BlocksNewRequest() {
			return true, nil
		}
	}
	return false, nil
}

func (r *returnRepositoryInMemory) List(_ context.Context, filter domain.ReturnFilter) ([]domain.ReturnRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.ReturnRequest, 0)
	for _, req := range r.requests {
		if filter.BuyerID != "" && req.BuyerID != filter.BuyerID {
			continue
		}
		if filter.SellerID != "" && req.SellerID != filter.SellerID {
			continue
		}
		if filter.OrderID != "" && req.OrderID != filter.OrderID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		result = append(result, cloneReturnRequest(req))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func cloneReturnRequest(src domain.ReturnRequest) domain.ReturnRequest {
	dst := src
	dst.MediaURLs = append([]string(nil), src.MediaURLs...)
	if src.ReturnTracking != nil {
		t := *src.ReturnTracking
		dst.ReturnTracking = &t
	}
	if src.ReplacementTracking != nil {
		t := *src.ReplacementTracking
		dst.ReplacementTracking = &t
	}
	if src.CompletedAt != nil {
		ts := *src.CompletedAt
		dst.CompletedAt = &ts
	}
	if src.CancelledAt != nil {
		ts := *src.CancelledAt
		dst.CancelledAt = &ts
	}
	if src.Policy.ConditionalRules != nil {
		rules := make(map[string]string, len(src.Policy.ConditionalRules))
		for k, v := range src.Policy.ConditionalRules {
			rules[k] = v
		}
		dst.Policy.ConditionalRules = rules
	}
	return dst
}

func cloneHistory(src domain.StatusHistory) domain.StatusHistory {
	dst := src
	if src.PreviousStatus != nil {
		prev := *src.PreviousStatus
		dst.PreviousStatus = &prev
	}
	return dst
}

var _ domain.ReturnRepository = (*returnRepositoryInMemory)(nil)
