package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type walletRepository struct {
	db *sql.DB
}

// NewWalletRepository создаёт PostgreSQL-реализацию WalletRepository.
// Изменения баланса сериализуются блокировкой строки кошелька (SELECT ... FOR UPDATE).
func NewWalletRepository(store *Store) domain.WalletRepository {
	return &walletRepository{db: store.DB()}
}

func (r *walletRepository) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	w := domain.Wallet{UserID: userID}
	err := r.db.QueryRowContext(ctx, `
		SELECT balance_minor, currency, version, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.BalanceMinor, &w.Currency, &w.Version, &w.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

func (r *walletRepository) Adjust(ctx context.Context, userID string, deltaMinor int64, currency, reason, reference string) (domain.WalletTransaction, error) {
	if userID == "" {
		return domain.WalletTransaction{}, &domain.ValidationError{Field: "user_id", Message: "is required"}
	}
	if deltaMinor == 0 {
		return domain.WalletTransaction{}, &domain.ValidationError{Field: "amount", Message: "must not be zero"}
	}

	var entry domain.WalletTransaction
	err := inTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance_minor, currency, version, updated_at)
			VALUES ($1, 0, $2, 0, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, currency, now); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		var balance int64
		if err := tx.QueryRowContext(ctx, `SELECT balance_minor FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if balance+deltaMinor < 0 {
			return domain.ErrInsufficientFunds
		}
		balance += deltaMinor

		if _, err := tx.ExecContext(ctx, `
			UPDATE wallets
			SET balance_minor = $1,
			    currency = CASE WHEN currency = '' THEN $2 ELSE currency END,
			    version = version + 1,
			    updated_at = $3
			WHERE user_id = $4
		`, balance, currency, now, userID); err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}

		entry = domain.WalletTransaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			AmountMinor:  deltaMinor,
			BalanceAfter: balance,
			Reason:       reason,
			Reference:    reference,
			CreatedAt:    now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions (id, user_id, amount_minor, balance_after, reason, reference, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, userID, deltaMinor, balance, reason, nullString(reference), now); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateWalletEntry
			}
			return fmt.Errorf("insert wallet transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	return entry, nil
}

func (r *walletRepository) Transactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, user_id, amount_minor, balance_after, reason, COALESCE(reference, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query wallet transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.WalletTransaction, 0)
	for rows.Next() {
		var tx domain.WalletTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.AmountMinor, &tx.BalanceAfter, &tx.Reason, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return result, nil
}

var _ domain.WalletRepository = (*walletRepository)(nil)
