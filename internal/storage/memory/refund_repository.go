package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type refundRepositoryInMemory struct {
	mu      sync.RWMutex
	refunds map[string][]domain.ReturnRefund
	byID    map[string]string
}

// NewRefundRepository создаёт in-memory хранилище попыток возмещения.
func NewRefundRepository() domain.RefundRepository {
	return &refundRepositoryInMemory{
		refunds: make(map[string][]domain.ReturnRefund),
		byID:    make(map[string]string),
	}
}

// Create повторяет ограничения PostgreSQL: номер попытки уникален в пределах заявки,
// незавершённая или успешная попытка может быть только одна.
func (r *refundRepositoryInMemory) Create(_ context.Context, refund domain.ReturnRefund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[refund.ID]; exists {
		return &domain.ConcurrentModificationError{Entity: "return_refund", ID: refund.ID}
	}
	for _, row := range r.refunds[refund.ReturnRequestID] {
		if row.Attempt == refund.Attempt || row.Status == domain.RefundStatusProcessing || row.Status == domain.RefundStatusCompleted {
			return domain.ErrRefundInProgress
		}
	}
	r.byID[refund.ID] = refund.ReturnRequestID
	r.refunds[refund.ReturnRequestID] = append(r.refunds[refund.ReturnRequestID], cloneRefund(refund))
	return nil
}

func (r *refundRepositoryInMemory) Update(_ context.Context, refund domain.ReturnRefund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	returnID, ok := r.byID[refund.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "return refund", ID: refund.ID}
	}
	rows := r.refunds[returnID]
	for i := range rows {
		if rows[i].ID == refund.ID {
			rows[i] = cloneRefund(refund)
			return nil
		}
	}
	return &domain.NotFoundError{Entity: "return refund", ID: refund.ID}
}

func (r *refundRepositoryInMemory) Latest(_ context.Context, returnRequestID string) (domain.ReturnRefund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.refunds[returnRequestID]
	if len(rows) == 0 {
		return domain.ReturnRefund{}, &domain.NotFoundError{Entity: "return refund"}
	}
	return cloneRefund(rows[len(rows)-1]), nil
}

func (r *refundRepositoryInMemory) List(_ context.Context, returnRequestID string) ([]domain.ReturnRefund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.refunds[returnRequestID]
	result := make([]domain.ReturnRefund, 0, len(rows))
	for _, row := range rows {
		result = append(result, cloneRefund(row))
	}
	return result, nil
}

func cloneRefund(src domain.ReturnRefund) domain.ReturnRefund {
	dst := src
	if src.ProcessedAt != nil {
		ts := *src.ProcessedAt
		dst.ProcessedAt = &ts
	}
	return dst
}

var _ domain.RefundRepository = (*refundRepositoryInMemory)(nil)
