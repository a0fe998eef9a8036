package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type refundRepository struct {
	db *sql.DB
}

// NewRefundRepository создаёт PostgreSQL-реализацию RefundRepository.
func NewRefundRepository(store *Store) domain.RefundRepository {
	return &refundRepository{db: store.DB()}
}

const refundColumns = `id, return_request_id, attempt, amount_minor, currency, method, status, external_refund_id, notes, created_at, processed_at`

// Create опирается на уникальные индексы uq_return_refunds_attempt и uq_return_refunds_active,
// поэтому две параллельные попытки по одной заявке не пройдут обе.
func (r *refundRepository) Create(ctx context.Context, refund domain.ReturnRefund) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO return_refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		refund.ID, refund.ReturnRequestID, refund.Attempt, refund.AmountMinor, refund.Currency, string(refund.Method),
		string(refund.Status), refund.ExternalRefundID, refund.Notes, refund.CreatedAt, nullTime(refund.ProcessedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			switch constraintName(err) {
			case "uq_return_refunds_attempt", "uq_return_refunds_active":
				return domain.ErrRefundInProgress
			}
			return &domain.ConcurrentModificationError{Entity: "return_refund", ID: refund.ID}
		}
		return fmt.Errorf("insert return refund: %w", err)
	}
	return nil
}

func (r *refundRepository) Update(ctx context.Context, refund domain.ReturnRefund) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE return_refunds
		SET status = $1,
		    external_refund_id = $2,
		    notes = $3,
		    processed_at = $4
		WHERE id = $5
	`, string(refund.Status), refund.ExternalRefundID, refund.Notes, nullTime(refund.ProcessedAt), refund.ID)
	if err != nil {
		return fmt.Errorf("update return refund: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Entity: "return refund", ID: refund.ID}
	}
	return nil
}

func (r *refundRepository) Latest(ctx context.Context, returnRequestID string) (domain.ReturnRefund, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	refund, err := scanRefund(r.db.QueryRowContext(ctx, `
		SELECT `+refundColumns+`
		FROM return_refunds
		WHERE return_request_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, returnRequestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnRefund{}, &domain.NotFoundError{Entity: "return refund"}
		}
		return domain.ReturnRefund{}, fmt.Errorf("select latest refund: %w", err)
	}
	return refund, nil
}

func (r *refundRepository) List(ctx context.Context, returnRequestID string) ([]domain.ReturnRefund, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM return_refunds
		WHERE return_request_id = $1
		ORDER BY seq ASC
	`, returnRequestID)
	if err != nil {
		return nil, fmt.Errorf("query return refunds: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReturnRefund, 0)
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return refund: %w", err)
		}
		result = append(result, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return refunds: %w", err)
	}
	return result, nil
}

func scanRefund(row rowScanner) (domain.ReturnRefund, error) {
	var (
		refund         domain.ReturnRefund
		method, status string
		processedAt    sql.NullTime
	)
	if err := row.Scan(&refund.ID, &refund.ReturnRequestID, &refund.Attempt, &refund.AmountMinor, &refund.Currency, &method,
		&status, &refund.ExternalRefundID, &refund.Notes, &refund.CreatedAt, &processedAt); err != nil {
		return domain.ReturnRefund{}, err
	}
	refund.Method = domain.RefundMethod(method)
	refund.Status = domain.RefundStatus(status)
	refund.ProcessedAt = timePtr(processedAt)
	return refund, nil
}

var _ domain.RefundRepository = (*refundRepository)(nil)
