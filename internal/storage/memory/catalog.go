package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

// Catalog — in-memory справочники: пользователи, товары, политики и причины возврата.
// Put-методы нужны для seed-данных в dev-режиме и тестах.
type Catalog struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	products map[string]domain.Product
	policies map[policyKey]domain.ReturnPolicy
	reasons  map[string]domain.ReturnReason
}

type policyKey struct {
	sellerID   string
	categoryID string
}

// NewCatalog создаёт пустой справочник.
func NewCatalog() *Catalog {
	return &Catalog{
		users:    make(map[string]domain.User),
		products: make(map[string]domain.Product),
		policies: make(map[policyKey]domain.ReturnPolicy),
		reasons:  make(map[string]domain.ReturnReason),
	}
}

func (c *Catalog) PutUser(u domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
}

func (c *Catalog) PutProduct(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) PutPolicy(p domain.ReturnPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[policyKey{sellerID: p.SellerID, categoryID: p.CategoryID}] = p
}

func (c *Catalog) PutReason(r domain.ReturnReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons[r.ID] = r
}

// Users возвращает представление справочника как UserRepository.
func (c *Catalog) Users() domain.UserRepository { return catalogUsers{c} }

// Products возвращает представление справочника как ProductRepository.
func (c *Catalog) Products() domain.ProductRepository { return catalogProducts{c} }

// Policies возвращает представление справочника как PolicyRepository.
func (c *Catalog) Policies() domain.PolicyRepository { return catalogPolicies{c} }

// Reasons возвращает представление справочника как ReasonRepository.
func (c *Catalog) Reasons() domain.ReasonRepository { return catalogReasons{c} }

type catalogUsers struct{ c *Catalog }

func (v catalogUsers) Get(_ context.Context, id string) (domain.User, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()

	u, ok := v.c.users[id]
	if !ok {
		return domain.User{}, &domain.NotFoundError{Entity: "user", ID: id}
	}
	return u, nil
}

func (v catalogUsers) ListByRoles(_ context.Context, roles ...domain.Role) ([]domain.User, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()

	result := make([]domain.User, 0)
	for _, u := range v.c.users {
		if slices.Contains(roles, u.Role) {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type catalogProducts struct{ c *Catalog }

func (v catalogProducts) Get(_ context.Context, id string) (domain.Product, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()

	p, ok := v.c.products[id]
	if !ok {
		return domain.Product{}, &domain.NotFoundError{Entity: "product", ID: id}
	}
	return p, nil
}

type catalogPolicies struct{ c *Catalog }

func (v catalogPolicies) Find(_ context.Context, sellerID, categoryID string) (domain.ReturnPolicy, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()

	p, ok := v.c.policies[policyKey{sellerID: sellerID, categoryID: categoryID}]
	if !ok {
		return domain.ReturnPolicy{}, &domain.NotFoundError{Entity: "return policy"}
	}
	return p, nil
}

type catalogReasons struct{ c *Catalog }

func (v catalogReasons) Get(_ context.Context, id string) (domain.ReturnReason, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()

	r, ok := v.c.reasons[id]
	if !ok {
		return domain.ReturnReason{}, &domain.NotFoundError{Entity: "return reason", ID: id}
	}
	return r, nil
}

func (v catalogReasons) List(_ context.Context) ([]domain.ReturnReason, error) {
	v.c.mu.RLock()
	defer v.c.mu.RUnlock()

	result := make([]domain.ReturnReason, 0, len(v.c.reasons))
	for _, r := range v.c.reasons {
		if r.Active {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var (
	_ domain.UserRepository    = catalogUsers{}
	_ domain.ProductRepository = catalogProducts{}
	_ domain.PolicyRepository  = catalogPolicies{}
	_ domain.ReasonRepository  = catalogReasons{}
)
