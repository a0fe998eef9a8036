package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

// Catalog даёт доступ к справочникам: пользователи, товары, политики и причины возврата.
// Upsert-методы используются при загрузке seed-данных и в интеграционных тестах.
type Catalog struct {
	db *sql.DB
}

// NewCatalog создаёт справочник поверх Store.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{db: store.DB()}
}

func (c *Catalog) Users() domain.UserRepository       { return catalogUsers{c.db} }
func (c *Catalog) Products() domain.ProductRepository { return catalogProducts{c.db} }
func (c *Catalog) Policies() domain.PolicyRepository  { return catalogPolicies{c.db} }
func (c *Catalog) Reasons() domain.ReasonRepository   { return catalogReasons{c.db} }

func (c *Catalog) UpsertUser(ctx context.Context, u domain.User) error {
	return c.exec(ctx, "upsert user", `
		INSERT INTO users (id, email, name, role) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role
	`, u.ID, u.Email, u.Name, string(u.Role))
}

func (c *Catalog) UpsertProduct(ctx context.Context, p domain.Product) error {
	return c.exec(ctx, "upsert product", `
		INSERT INTO products (id, seller_id, category_id, name) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, category_id = EXCLUDED.category_id, name = EXCLUDED.name
	`, p.ID, p.SellerID, p.CategoryID, p.Name)
}

func (c *Catalog) UpsertReason(ctx context.Context, r domain.ReturnReason) error {
	return c.exec(ctx, "upsert reason", `
		INSERT INTO return_reasons (id, title, requires_media, active) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, requires_media = EXCLUDED.requires_media, active = EXCLUDED.active
	`, r.ID, r.Title, r.RequiresMedia, r.Active)
}

func (c *Catalog) UpsertPolicy(ctx context.Context, p domain.ReturnPolicy) error {
	products, err := jsonValue(p.NonReturnableProducts, "[]")
	if err != nil {
		return err
	}
	categories, err := jsonValue(p.NonReturnableCategories, "[]")
	if err != nil {
		return err
	}
	rules, err := jsonValue(p.ConditionalRules, "{}")
	if err != nil {
		return err
	}
	shipping := string(p.ShippingPaidBy)
	if shipping == "" {
		shipping = string(domain.ShippingPaidByBuyer)
	}

	return c.exec(ctx, "upsert policy", `
		INSERT INTO return_policies (
			id, seller_id, category_id, return_window_days, replacement_window_days, refund_window_days,
			non_returnable_products, non_returnable_categories, shipping_paid_by, conditional_rules
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			return_window_days = EXCLUDED.return_window_days,
			replacement_window_days = EXCLUDED.replacement_window_days,
			refund_window_days = EXCLUDED.refund_window_days,
			non_returnable_products = EXCLUDED.non_returnable_products,
			non_returnable_categories = EXCLUDED.non_returnable_categories,
			shipping_paid_by = EXCLUDED.shipping_paid_by,
			conditional_rules = EXCLUDED.conditional_rules
	`,
		p.ID, nullString(p.SellerID), nullString(p.CategoryID), p.ReturnWindowDays, p.ReplacementWindowDays,
		p.RefundWindowDays, products, categories, shipping, rules,
	)
}

func (c *Catalog) exec(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type catalogUsers struct{ db *sql.DB }

func (v catalogUsers) Get(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		u    domain.User
		role string
	)
	err := v.db.QueryRowContext(ctx, `SELECT id, email, name, role FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.Name, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, &domain.NotFoundError{Entity: "user", ID: id}
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

func (v catalogUsers) ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error) {
	if len(roles) == 0 {
		return []domain.User{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw := make([]string, 0, len(roles))
	for _, r := range roles {
		raw = append(raw, string(r))
	}
	filter, err := jsonValue(raw, "[]")
	if err != nil {
		return nil, err
	}

	rows, err := v.db.QueryContext(ctx, `
		SELECT id, email, name, role
		FROM users
		WHERE role IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY id
	`, filter)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	result := make([]domain.User, 0)
	for rows.Next() {
		var (
			u    domain.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = domain.Role(role)
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return result, nil
}

type catalogProducts struct{ db *sql.DB }

func (v catalogProducts) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := v.db.QueryRowContext(ctx, `SELECT id, seller_id, category_id, name FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SellerID, &p.CategoryID, &p.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.NotFoundError{Entity: "product", ID: id}
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

type catalogPolicies struct{ db *sql.DB }

// Find ищет политику по точному совпадению; пустая строка сопоставляется с NULL.
func (v catalogPolicies) Find(ctx context.Context, sellerID, categoryID string) (domain.ReturnPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		p                    domain.ReturnPolicy
		seller, category     sql.NullString
		shipping             string
		products, categories []byte
		rules                []byte
	)
	err := v.db.QueryRowContext(ctx, `
		SELECT id, seller_id, category_id, return_window_days, replacement_window_days, refund_window_days,
		       non_returnable_products, non_returnable_categories, shipping_paid_by, conditional_rules
		FROM return_policies
		WHERE COALESCE(seller_id, '') = $1
		  AND COALESCE(category_id, '') = $2
	`, sellerID, categoryID).Scan(
		&p.ID, &seller, &category, &p.ReturnWindowDays, &p.ReplacementWindowDays, &p.RefundWindowDays,
		&products, &categories, &shipping, &rules,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnPolicy{}, &domain.NotFoundError{Entity: "return policy"}
		}
		return domain.ReturnPolicy{}, fmt.Errorf("select return policy: %w", err)
	}

	p.SellerID = seller.String
	p.CategoryID = category.String
	p.ShippingPaidBy = domain.ShippingPayer(shipping)
	if err := json.Unmarshal(products, &p.NonReturnableProducts); err != nil {
		return domain.ReturnPolicy{}, fmt.Errorf("decode non-returnable products: %w", err)
	}
	if err := json.Unmarshal(categories, &p.NonReturnableCategories); err != nil {
		return domain.ReturnPolicy{}, fmt.Errorf("decode non-returnable categories: %w", err)
	}
	if err := json.Unmarshal(rules, &p.ConditionalRules); err != nil {
		return domain.ReturnPolicy{}, fmt.Errorf("decode conditional rules: %w", err)
	}
	return p, nil
}

type catalogReasons struct{ db *sql.DB }

func (v catalogReasons) Get(ctx context.Context, id string) (domain.ReturnReason, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var r domain.ReturnReason
	err := v.db.QueryRowContext(ctx, `SELECT id, title, requires_media, active FROM return_reasons WHERE id = $1`, id).
		Scan(&r.ID, &r.Title, &r.RequiresMedia, &r.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReturnReason{}, &domain.NotFoundError{Entity: "return reason", ID: id}
		}
		return domain.ReturnReason{}, fmt.Errorf("select return reason: %w", err)
	}
	return r, nil
}

func (v catalogReasons) List(ctx context.Context) ([]domain.ReturnReason, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := v.db.QueryContext(ctx, `SELECT id, title, requires_media, active FROM return_reasons WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list return reasons: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReturnReason, 0)
	for rows.Next() {
		var r domain.ReturnReason
		if err := rows.Scan(&r.ID, &r.Title, &r.RequiresMedia, &r.Active); err != nil {
			return nil, fmt.Errorf("scan return reason: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return reasons: %w", err)
	}
	return result, nil
}

var (
	_ domain.UserRepository    = catalogUsers{}
	_ domain.ProductRepository = catalogProducts{}
	_ domain.PolicyRepository  = catalogPolicies{}
	_ domain.ReasonRepository  = catalogReasons{}
)
