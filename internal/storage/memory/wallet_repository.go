package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

// walletRepositoryInMemory сериализует изменения балансов одной блокировкой.
// Журнал хранится в порядке записи, ссылки проводок уникальны.
type walletRepositoryInMemory struct {
	mu           sync.Mutex
	wallets      map[string]domain.Wallet
	transactions map[string][]domain.WalletTransaction
	references   map[string]struct{}
}

// NewWalletRepository создаёт in-memory кошельки.
func NewWalletRepository() domain.WalletRepository {
	return &walletRepositoryInMemory{
		wallets:      make(map[string]domain.Wallet),
		transactions: make(map[string][]domain.WalletTransaction),
		references:   make(map[string]struct{}),
	}
}

func (r *walletRepositoryInMemory) Get(_ context.Context, userID string) (domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[userID]
	if !ok {
		return domain.Wallet{UserID: userID}, nil
	}
	return w, nil
}

func (r *walletRepositoryInMemory) Adjust(_ context.Context, userID string, deltaMinor int64, currency, reason, reference string) (domain.WalletTransaction, error) {
	if userID == "" {
		return domain.WalletTransaction{}, &domain.ValidationError{Field: "user_id", Message: "is required"}
	}
	if deltaMinor == 0 {
		return domain.WalletTransaction{}, &domain.ValidationError{Field: "amount", Message: "must not be zero"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reference != "" {
		if _, dup := r.references[reference]; dup {
			return domain.WalletTransaction{}, domain.ErrDuplicateWalletEntry
		}
	}

	w, ok := r.wallets[userID]
	if !ok {
		w = domain.Wallet{UserID: userID, Currency: currency}
	}
	if w.BalanceMinor+deltaMinor < 0 {
		return domain.WalletTransaction{}, domain.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	w.BalanceMinor += deltaMinor
	if w.Currency == "" {
		w.Currency = currency
	}
	w.Version++
	w.UpdatedAt = now

	tx := domain.WalletTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		AmountMinor:  deltaMinor,
		BalanceAfter: w.BalanceMinor,
		Reason:       reason,
		Reference:    reference,
		CreatedAt:    now,
	}

	r.wallets[userID] = w
	r.transactions[userID] = append(r.transactions[userID], tx)
	if reference != "" {
		r.references[reference] = struct{}{}
	}
	return tx, nil
}

// Transactions возвращает журнал кошелька, новые проводки первыми.
func (r *walletRepositoryInMemory) Transactions(_ context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.transactions[userID]
	result := make([]domain.WalletTransaction, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		result = append(result, rows[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

var _ domain.WalletRepository = (*walletRepositoryInMemory)(nil)
