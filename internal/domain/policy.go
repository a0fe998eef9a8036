package domain

import "slices"

// ShippingPayer указывает, кто оплачивает обратную доставку.
type ShippingPayer string

const (
	ShippingPaidByBuyer  ShippingPayer = "buyer"
	ShippingPaidBySeller ShippingPayer = "seller"
)

// ReturnPolicy — настройка возвратов продавца или категории.
// SellerID и CategoryID пустые у системной политики по умолчанию.
// Допустимость любой заявки считается по ReturnWindowDays; окна замены
// и возмещения справочные и попадают в снимок политики.
type ReturnPolicy struct {
	ID                      string
	SellerID                string
	CategoryID              string
	ReturnWindowDays        int
	ReplacementWindowDays   int
	RefundWindowDays        int
	NonReturnableProducts   []string
	NonReturnableCategories []string
	ShippingPaidBy          ShippingPayer
	ConditionalRules        map[string]string
}

// Excludes сообщает, что товар не подлежит возврату по этой политике.
func (p ReturnPolicy) Excludes(productID, categoryID string) bool {
	if slices.Contains(p.NonReturnableProducts, productID) {
		return true
	}
	return categoryID != "" && slices.Contains(p.NonReturnableCategories, categoryID)
}

// Snapshot фиксирует политику на момент создания заявки.
func (p ReturnPolicy) Snapshot() PolicySnapshot {
	rules := make(map[string]string, len(p.ConditionalRules))
	for k, v := range p.ConditionalRules {
		rules[k] = v
	}
	return PolicySnapshot{
		PolicyID:              p.ID,
		SellerID:              p.SellerID,
		CategoryID:            p.CategoryID,
		ReturnWindowDays:      p.ReturnWindowDays,
		ReplacementWindowDays: p.ReplacementWindowDays,
		RefundWindowDays:      p.RefundWindowDays,
		ShippingPaidBy:        p.ShippingPaidBy,
		ConditionalRules:      rules,
	}
}

// PolicySnapshot — неизменяемая копия политики внутри заявки.
type PolicySnapshot struct {
	PolicyID              string            `json:"policy_id"`
	SellerID              string            `json:"seller_id,omitempty"`
	CategoryID            string            `json:"category_id,omitempty"`
	ReturnWindowDays      int               `json:"return_window_days"`
	ReplacementWindowDays int               `json:"replacement_window_days"`
	RefundWindowDays      int               `json:"refund_window_days"`
	ShippingPaidBy        ShippingPayer     `json:"shipping_paid_by,omitempty"`
	ConditionalRules      map[string]string `json:"conditional_rules,omitempty"`
}

// ReturnReason — справочник причин возврата.
type ReturnReason struct {
	ID            string
	Title         string
	RequiresMedia bool
	Active        bool
}
