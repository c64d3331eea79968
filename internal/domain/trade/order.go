package trade

import (
	"sort"
	"strings"
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of a synchronized sales order
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusInvoiced  OrderStatus = "invoiced"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus maps a canonical status string. Unknown values report false.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case OrderStatusDraft, OrderStatusConfirmed, OrderStatusInvoiced,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return st, true
	}
	return "", false
}

// Order is a sales order with its line items. OrderCode is unique per tenant
// and is the legacy key for orders created before external ids were tracked.
//
// Items are not reconciled one by one: every resync of an order replaces its
// item set with the items seen in the source.
type Order struct {
	shared.TenantEntity
	shared.SourceTracking
	OrderCode        string
	CustomerID       *uuid.UUID
	RepresentativeID *uuid.UUID
	Status           OrderStatus
	OrderDate        *time.Time
	DeliveryDate     *time.Time
	PaymentTerms     string
	Notes            string
	DiscountAmount   decimal.Decimal
	FreightAmount    decimal.Decimal
	TotalAmount      decimal.Decimal
	Items            []OrderItem
}

// OrderItem is a line of an order, identified within the order by ItemKey
type OrderItem struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	OrderID     uuid.UUID
	ItemKey     string
	LineNumber  int
	ProductID   *uuid.UUID
	ProductCode string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOrder creates an empty confirmed order for tenantID
func NewOrder(tenantID uuid.UUID) *Order {
	return &Order{
		TenantEntity:   shared.NewTenantEntity(tenantID),
		Status:         OrderStatusConfirmed,
		DiscountAmount: decimal.Zero,
		FreightAmount:  decimal.Zero,
		TotalAmount:    decimal.Zero,
	}
}

// SetOrderCode sets the order code, trimmed
func (o *Order) SetOrderCode(code string) {
	o.OrderCode = strings.TrimSpace(code)
}

// LegacyKey returns the key used to match records without an external id
func (o *Order) LegacyKey() string {
	return o.OrderCode
}

// AssignCustomer links the order to a customer
func (o *Order) AssignCustomer(id uuid.UUID) {
	o.CustomerID = &id
}

// AssignRepresentative links the order to a representative
func (o *Order) AssignRepresentative(id uuid.UUID) {
	o.RepresentativeID = &id
}

// NewOrderItem creates an item for the order. Quantity must not be negative.
func (o *Order) NewOrderItem(itemKey string) (*OrderItem, error) {
	itemKey = strings.TrimSpace(itemKey)
	if itemKey == "" {
		return nil, shared.NewDomainError("INVALID_ITEM_KEY", "Order item key cannot be empty")
	}
	now := time.Now()
	return &OrderItem{
		ID:        uuid.New(),
		TenantID:  o.TenantID,
		OrderID:   o.ID,
		ItemKey:   itemKey,
		Quantity:  decimal.Zero,
		UnitPrice: decimal.Zero,
		Discount:  decimal.Zero,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ReplaceItems sets the order's item set. Items that keep their key keep
// their identity; duplicate keys keep the last occurrence. When the order has
// no explicit total the items' totals are summed.
func (o *Order) ReplaceItems(items []OrderItem) {
	existing := make(map[string]OrderItem, len(o.Items))
	for _, it := range o.Items {
		existing[it.ItemKey] = it
	}

	byKey := make(map[string]int, len(items))
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		it.OrderID = o.ID
		it.TenantID = o.TenantID
		if prev, ok := existing[it.ItemKey]; ok {
			it.ID = prev.ID
			it.CreatedAt = prev.CreatedAt
		}
		if it.Total.IsZero() && !it.Quantity.IsZero() {
			it.Total = it.Quantity.Mul(it.UnitPrice).Sub(it.Discount)
		}
		if idx, dup := byKey[it.ItemKey]; dup {
			out[idx] = it
			continue
		}
		byKey[it.ItemKey] = len(out)
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	o.Items = out
}

// ItemsTotal sums the item totals
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Total)
	}
	return total
}

// ItemKeys returns the keys of the current item set
func (o *Order) ItemKeys() []string {
	keys := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		keys = append(keys, it.ItemKey)
	}
	return keys
}

// Clone returns a deep copy including items
func (o *Order) Clone() *Order {
	cp := *o
	cp.CustomerID = cloneID(o.CustomerID)
	cp.RepresentativeID = cloneID(o.RepresentativeID)
	cp.OrderDate = cloneTime(o.OrderDate)
	cp.DeliveryDate = cloneTime(o.DeliveryDate)
	cp.SourceUpdatedAt = cloneTime(o.SourceUpdatedAt)
	cp.LastSyncedAt = cloneTime(o.LastSyncedAt)
	cp.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.ProductID = cloneID(it.ProductID)
		cp.Items[i] = it
	}
	return &cp
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
