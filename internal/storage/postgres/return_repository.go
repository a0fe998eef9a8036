package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type returnRepository struct {
	db *sql.DB
}

// NewReturnRepository создаёт PostgreSQL-реализацию ReturnRepository.
// Единственность блокирующей заявки на позицию обеспечивает частичный уникальный индекс.
func NewReturnRepository(store *Store) domain.ReturnRepository {
	return &returnRepository{db: store.DB()}
}

const returnColumns = `id, order_id, order_item_id, buyer_id, seller_id, request_type, reason_id, description,
	status, media_urls, eligible_for_refund, policy_snapshot, refund_amount_minor, refund_method, refund_status,
	return_tracking, replacement_tracking, item_condition, condition_notes, cancel_reason, version,
	created_at, status_updated_at, completed_at, cancelled_at`

const blockingItemIndex = "uq_return_requests_blocking_item"

type trackingJSON struct {
	TrackingNumber string    `json:"tracking_number"`
	CourierName    string    `json:"courier_name"`
	TrackingURL    string    `json:"tracking_url,omitempty"`
	ShippedAt      time.Time `json:"shipped_at"`
}

func encodeTracking(t *domain.Tracking) (any, error) {
	if t == nil {
		return nil, nil
	}
	raw, err := json.Marshal(trackingJSON(*t))
	if err != nil {
		return nil, fmt.Errorf("encode tracking: %w", err)
	}
	return string(raw), nil
}

func decodeTracking(raw []byte) (*domain.Tracking, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var dto trackingJSON
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("decode tracking: %w", err)
	}
	t := domain.Tracking(dto)
	return &t, nil
}

func (r *returnRepository) Create(ctx context.Context, req domain.ReturnRequest, entry domain.StatusHistory) error {
	media, err := jsonValue(req.MediaURLs, "[]")
	if err != nil {
		return err
	}
	policy, err := jsonValue(req.Policy, "{}")
	if err != nil {
		return err
	}

	return inTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO return_requests (
				id, order_id, order_item_id, buyer_id, seller_id, request_type, reason_id, description,
				status, media_urls, eligible_for_refund, policy_snapshot, refund_amount_minor, refund_method,
				refund_status, version, created_at, status_updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`,
			req.ID, req.OrderID, req.OrderItemID, req.BuyerID, req.SellerID, string(req.RequestType),
			req.ReasonID, req.Description, string(req.Status), media, req.EligibleForRefund, policy,
			req.RefundAmountMinor, string(req.RefundMethod), string(req.RefundStatus), req.Version,
			req.CreatedAt, req.StatusUpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				if constraintName(err) == blockingItemIndex {
					return domain.ErrActiveReturnExists
				}
				return &domain.ConcurrentModificationError{Entity: "return_request", ID: req.ID}
			}
			return fmt.Errorf("insert return request: %w", err)
		}
		return insertHistory(ctx, tx, entry)
	})
}

func (r *returnRepository) Get(ctx context.Context, id string) (domain.ReturnRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	req, err := scanReturnRequest(r.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnRequest{}, &domain.NotFoundError{Entity: "return request", ID: id}
		}
		return domain.ReturnRequest{}, fmt.Errorf("select return request: %w", err)
	}
	return req, nil
}

// Transition применяет новое состояние через compare-and-swap по статусу и версии.
// Поля возмещения здесь не пишутся, ими владеет UpdateRefundState.
func (r *returnRepository) Transition(ctx context.Context, req domain.ReturnRequest, from domain.ReturnStatus, entry domain.StatusHistory) (domain.ReturnRequest, error) {
	returnTracking, err := encodeTracking(req.ReturnTracking)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	replacementTracking, err := encodeTracking(req.ReplacementTracking)
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	var saved domain.ReturnRequest
	err = inTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE return_requests
			SET status = $1,
			    return_tracking = $2,
			    replacement_tracking = $3,
			    item_condition = $4,
			    condition_notes = $5,
			    cancel_reason = $6,
			    status_updated_at = $7,
			    completed_at = $8,
			    cancelled_at = $9,
			    version = version + 1
			WHERE id = $10
			  AND status = $11
			  AND version = $12
			RETURNING `+returnColumns,
			string(req.Status), returnTracking, replacementTracking, string(req.ItemCondition),
			req.ConditionNotes, req.CancelReason, req.StatusUpdatedAt, nullTime(req.CompletedAt),
			nullTime(req.CancelledAt), req.ID, string(from), req.Version,
		)
		var err error
		saved, err = scanReturnRequest(row)
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := rowExistsTx(ctx, tx, `SELECT 1 FROM return_requests WHERE id = $1`, req.ID)
			if existsErr != nil {
				return existsErr
			}
			if !exists {
				return &domain.NotFoundError{Entity: "return request", ID: req.ID}
			}
			return &domain.ConcurrentModificationError{Entity: "return_request", ID: req.ID}
		}
		if err != nil {
			return fmt.Errorf("update return request: %w", err)
		}
		return insertHistory(ctx, tx, entry)
	})
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return saved, nil
}

func (r *returnRepository) UpdateRefundState(ctx context.Context, req domain.ReturnRequest) (domain.ReturnRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	saved, err := scanReturnRequest(r.db.QueryRowContext(ctx, `
		UPDATE return_requests
		SET refund_amount_minor = $1,
		    refund_method = $2,
		    refund_status = $3,
		    version = version + 1
		WHERE id = $4
		  AND version = $5
		RETURNING `+returnColumns,
		req.RefundAmountMinor, string(req.RefundMethod), string(req.RefundStatus), req.ID, req.Version,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.Get(ctx, req.ID); getErr != nil {
				return domain.ReturnRequest{}, getErr
			}
			return domain.ReturnRequest{}, &domain.ConcurrentModificationError{Entity: "return_request", ID: req.ID}
		}
		return domain.ReturnRequest{}, fmt.Errorf("update refund state: %w", err)
	}
	return saved, nil
}

func (r *returnRepository) History(ctx context.Context, id string) ([]domain.StatusHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, return_request_id, previous_status, new_status, changed_by_id, notes, created_at
		FROM return_status_history
		WHERE return_request_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query return history: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StatusHistory, 0)
	for rows.Next() {
		var (
			h        domain.StatusHistory
			previous sql.NullString
			next     string
		)
		if err := rows.Scan(&h.ID, &h.ReturnRequestID, &previous, &next, &h.ChangedByID, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan return history: %w", err)
		}
		h.NewStatus = domain.ReturnStatus(next)
		if previous.Valid {
			prev := domain.ReturnStatus(previous.String)
			h.PreviousStatus = &prev
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return history: %w", err)
	}
	return result, nil
}

func (r *returnRepository) HasBlockingForItem(ctx context.Context, orderItemID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM return_requests
			WHERE order_item_id = $1
			  AND status NOT IN ('cancelled', 'rejected')
		)
	`, orderItemID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check blocking return request: %w", err)
	}
	return exists, nil
}

func (r *returnRepository) List(ctx context.Context, filter domain.ReturnFilter) ([]domain.ReturnRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("buyer_id", filter.BuyerID)
	add("seller_id", filter.SellerID)
	add("order_id", filter.OrderID)
	add("status", string(filter.Status))

	query := `SELECT ` + returnColumns + ` FROM return_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list return requests: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReturnRequest, 0)
	for rows.Next() {
		req, err := scanReturnRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return request: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return requests: %w", err)
	}
	return result, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry domain.StatusHistory) error {
	var previous sql.NullString
	if entry.PreviousStatus != nil {
		previous = sql.NullString{String: string(*entry.PreviousStatus), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO return_status_history (id, return_request_id, previous_status, new_status, changed_by_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ReturnRequestID, previous, string(entry.NewStatus), entry.ChangedByID, entry.Notes, entry.CreatedAt); err != nil {
		return fmt.Errorf("insert return history: %w", err)
	}
	return nil
}

func scanReturnRequest(row rowScanner) (domain.ReturnRequest, error) {
	var (
		req                                 domain.ReturnRequest
		requestType, status                 string
		refundMethod, refundStatus          string
		itemCondition                       string
		media, policy                       []byte
		returnTracking, replacementTracking []byte
		completedAt, cancelledAt            sql.NullTime
	)
	if err := row.Scan(
		&req.ID, &req.OrderID, &req.OrderItemID, &req.BuyerID, &req.SellerID, &requestType, &req.ReasonID,
		&req.Description, &status, &media, &req.EligibleForRefund, &policy, &req.RefundAmountMinor,
		&refundMethod, &refundStatus, &returnTracking, &replacementTracking, &itemCondition,
		&req.ConditionNotes, &req.CancelReason, &req.Version, &req.CreatedAt, &req.StatusUpdatedAt,
		&completedAt, &cancelledAt,
	); err != nil {
		return domain.ReturnRequest{}, err
	}

	req.RequestType = domain.RequestType(requestType)
	req.Status = domain.ReturnStatus(status)
	req.RefundMethod = domain.RefundMethod(refundMethod)
	req.RefundStatus = domain.RefundStatus(refundStatus)
	req.ItemCondition = domain.ItemCondition(itemCondition)
	req.CompletedAt = timePtr(completedAt)
	req.CancelledAt = timePtr(cancelledAt)

	if err := json.Unmarshal(media, &req.MediaURLs); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode media urls: %w", err)
	}
	if err := json.Unmarshal(policy, &req.Policy); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode policy snapshot: %w", err)
	}
	var err error
	if req.ReturnTracking, err = decodeTracking(returnTracking); err != nil {
		return domain.ReturnRequest{}, err
	}
	if req.ReplacementTracking, err = decodeTracking(replacementTracking); err != nil {
		return domain.ReturnRequest{}, err
	}
	return req, nil
}

var _ domain.ReturnRepository = (*returnRepository)(nil)
