package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `id, buyer_id, status, payment_method, payment_transaction_id, currency,
	subtotal_minor, discount_minor, wallet_coins_used, delivered_at, version, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return inTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			order.ID, order.BuyerID, string(order.Status), string(order.PaymentMethod), order.PaymentTransactionID,
			order.Currency, order.SubtotalMinor, order.DiscountMinor, order.WalletCoinsUsed,
			nullTime(order.DeliveredAt), order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConcurrentModificationError{Entity: "order", ID: order.ID}
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, so := range order.SellerOrders {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO seller_orders (id, order_id, seller_id, status, updated_at)
				VALUES ($1,$2,$3,$4,$5)
			`, so.ID, order.ID, so.SellerID, string(so.Status), order.UpdatedAt); err != nil {
				return fmt.Errorf("insert seller order: %w", err)
			}
		}

		for _, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, seller_order_id, product_id, seller_id, qty, price_minor, status, created_at, updated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`,
				item.ID, order.ID, item.SellerOrderID, item.ProductID, item.SellerID,
				item.Qty, item.PriceMinor, string(item.Status), item.CreatedAt, item.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) GetItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanOrderItem(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, seller_order_id, product_id, seller_id, qty, price_minor, status, created_at, updated_at
		FROM order_items
		WHERE id = $1
	`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderItem{}, &domain.NotFoundError{Entity: "order item", ID: itemID}
		}
		return domain.OrderItem{}, fmt.Errorf("select order item: %w", err)
	}
	return item, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save обновляет поля заказа с проверкой версии. Позиции и подзаказы не трогает.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	return inTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    delivered_at = $2,
			    wallet_coins_used = $3,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $5
			  AND version = $6
		`,
			string(order.Status), nullTime(order.DeliveredAt), order.WalletCoinsUsed,
			time.Now().UTC(), order.ID, order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := rowExistsTx(ctx, tx, `SELECT 1 FROM orders WHERE id = $1`, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return &domain.NotFoundError{Entity: "order", ID: order.ID}
			}
			return &domain.ConcurrentModificationError{Entity: "order", ID: order.ID}
		}
		return nil
	})
}

func (r *orderRepository) UpdateItemStatus(ctx context.Context, itemID string, status domain.OrderStatus) error {
	return r.updateStatus(ctx, `UPDATE order_items SET status = $1, updated_at = $2 WHERE id = $3`, "order item", itemID, status)
}

func (r *orderRepository) UpdateSellerOrderStatus(ctx context.Context, sellerOrderID string, status domain.OrderStatus) error {
	return r.updateStatus(ctx, `UPDATE seller_orders SET status = $1, updated_at = $2 WHERE id = $3`, "seller order", sellerOrderID, status)
}

func (r *orderRepository) updateStatus(ctx context.Context, query, entity, id string, status domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update %s status: %w", entity, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return &domain.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, seller_order_id, product_id, seller_id, qty, price_minor, status, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	order.Items = make([]domain.OrderItem, 0)
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}

	soRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, seller_id, status, updated_at
		FROM seller_orders
		WHERE order_id = $1
		ORDER BY id ASC
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load seller orders: %w", err)
	}
	defer soRows.Close()

	order.SellerOrders = make([]domain.SellerOrder, 0)
	for soRows.Next() {
		var (
			so     domain.SellerOrder
			status string
		)
		if err := soRows.Scan(&so.ID, &so.OrderID, &so.SellerID, &status, &so.UpdatedAt); err != nil {
			return fmt.Errorf("scan seller order: %w", err)
		}
		so.Status = domain.OrderStatus(status)
		order.SellerOrders = append(order.SellerOrders, so)
	}
	if err := soRows.Err(); err != nil {
		return fmt.Errorf("iterate seller orders: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentMethod string
		deliveredAt   sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.BuyerID, &status, &paymentMethod, &order.PaymentTransactionID, &order.Currency,
		&order.SubtotalMinor, &order.DiscountMinor, &order.WalletCoinsUsed, &deliveredAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(paymentMethod)
	order.DeliveredAt = timePtr(deliveredAt)
	return order, nil
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item   domain.OrderItem
		status string
	)
	if err := row.Scan(
		&item.ID, &item.OrderID, &item.SellerOrderID, &item.ProductID, &item.SellerID,
		&item.Qty, &item.PriceMinor, &status, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return domain.OrderItem{}, err
	}
	item.Status = domain.OrderStatus(status)
	return item, nil
}

func rowExistsTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
