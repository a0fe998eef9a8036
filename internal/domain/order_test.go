package domain

import "testing"

func TestOrderSellerIDs_UniqueInOrder(t *testing.T) {
	order := Order{
		SellerOrders: []SellerOrder{{ID: "so-1", SellerID: "seller-a"}},
		Items: []OrderItem{
			{ID: "i1", SellerID: "seller-a"},
			{ID: "i2", SellerID: "seller-b"},
			{ID: "i3", SellerID: "seller-b"},
			{ID: "i4"},
		},
	}

	got := order.SellerIDs()
	if len(got) != 2 || got[0] != "seller-a" || got[1] != "seller-b" {
		t.Fatalf("unexpected seller ids: %v", got)
	}
	if !order.HasSeller("seller-b") || order.HasSeller("seller-c") {
		t.Fatal("HasSeller mismatch")
	}
}

func TestOrderItemLookupAndTotal(t *testing.T) {
	order := Order{Items: []OrderItem{{ID: "i1", Qty: 3, PriceMinor: 1250}}}

	item, ok := order.Item("i1")
	if !ok {
		t.Fatal("expected item i1")
	}
	if item.TotalMinor() != 3750 {
		t.Fatalf("unexpected total: %d", item.TotalMinor())
	}
	if _, ok := order.Item("missing"); ok {
		t.Fatal("unexpected item for missing id")
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	if !OrderStatusDelivered.IsFulfilled() || !OrderStatusMarkedForReturn.IsFulfilled() {
		t.Fatal("delivered and marked_for_return must be fulfilled")
	}
	if OrderStatusShipped.IsFulfilled() {
		t.Fatal("shipped must not be fulfilled")
	}
	if !OrderStatusCancelled.IsTerminal() || OrderStatusDelivered.IsTerminal() {
		t.Fatal("terminal predicate mismatch")
	}
	if _, err := ParseOrderStatus("lost"); err == nil {
		t.Fatal("expected error for unknown order status")
	}
}

func TestPolicyExclusions(t *testing.T) {
	policy := ReturnPolicy{
		ReturnWindowDays:        7,
		NonReturnableProducts:   []string{"p-food"},
		NonReturnableCategories: []string{"c-hygiene"},
	}

	if !policy.Excludes("p-food", "") || !policy.Excludes("p-1", "c-hygiene") {
		t.Fatal("expected exclusions to match")
	}
	if policy.Excludes("p-1", "c-books") {
		t.Fatal("unexpected exclusion")
	}
}

func TestPolicySnapshotIsDetached(t *testing.T) {
	policy := ReturnPolicy{ID: "pol-1", ReturnWindowDays: 7, ConditionalRules: map[string]string{"tags": "required"}}
	snap := policy.Snapshot()
	policy.ConditionalRules["tags"] = "optional"

	if snap.ConditionalRules["tags"] != "required" {
		t.Fatal("snapshot must not share rule map with policy")
	}
	if snap.PolicyID != "pol-1" || snap.ReturnWindowDays != 7 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
