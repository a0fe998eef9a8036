package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для локального запуска и тестов.
type MockGateway struct {
	mu sync.Mutex

	Status domain.GatewayRefundStatus
	Err    error
	// Delay имитирует медленный шлюз; отмена контекста прерывает ожидание.
	Delay time.Duration

	calls    int
	requests []domain.GatewayRefundRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{Status: domain.GatewayRefundSucceeded}
}

// Refund возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) Refund(ctx context.Context, req domain.GatewayRefundRequest) (domain.GatewayRefund, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	status, err, delay := m.Status, m.Err, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.GatewayRefund{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return domain.GatewayRefund{}, err
	}
	return domain.GatewayRefund{ExternalID: "re_" + uuid.NewString(), Status: status}, nil
}

// Configure меняет сценарий под мьютексом.
func (m *MockGateway) Configure(status domain.GatewayRefundStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = status
	m.Err = err
}

// Calls возвращает число вызовов Refund.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests возвращает копию полученных запросов.
func (m *MockGateway) Requests() []domain.GatewayRefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GatewayRefundRequest(nil), m.requests...)
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
