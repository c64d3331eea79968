package syncapp

import (
	"context"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order relations
const (
	RelationCustomer = "customer"
	RelationProduct  = "product"
)

// ItemKeyField identifies an item within its order
const ItemKeyField = "item_key"

// OrderStrategy synchronizes orders and their items from a flattened source
// where the header repeats on every item row. Legacy key: order code.
type OrderStrategy struct{}

var _ Strategy[*trade.Order] = OrderStrategy{}

func (OrderStrategy) Kind() integration.EntityKind { return integration.EntityKindOrders }

// Target is empty: nothing references orders
func (OrderStrategy) Target() integration.LookupTarget { return "" }

func (OrderStrategy) RequiredFields() []string { return []string{"order_code"} }

func (OrderStrategy) Relations() []RelationSpec {
	return []RelationSpec{
		{Name: RelationCustomer, Target: integration.LookupCustomers},
		{Name: RelationRepresentative, Target: integration.LookupRepresentatives},
		{Name: RelationProduct, Target: integration.LookupProducts, Items: true},
	}
}

func (s OrderStrategy) Validate(cfg *mapping.Config) error {
	if err := validateMapping(cfg, s.RequiredFields(), s.Relations()); err != nil {
		return err
	}
	if cfg.Items == nil {
		return nil
	}
	if cfg.ParentKey == "" {
		return shared.NewConfigurationError("parent_key", "item mapping requires the column grouping item rows by order")
	}
	if _, ok := cfg.Items.Fields[ItemKeyField]; !ok {
		return shared.NewConfigurationError("items.fields."+ItemKeyField, "required field mapping is absent")
	}
	return nil
}

func (OrderStrategy) New(tenantID uuid.UUID) *trade.Order {
	return trade.NewOrder(tenantID)
}

func (OrderStrategy) LegacyKey(values mapping.Values) string {
	s, _ := mapping.AsString(values["order_code"])
	return s
}

func (OrderStrategy) Apply(rc *RunContext, o *trade.Order, u *Unit, res *Resolution) {
	f := fieldsOf(rc, u)
	f.str("order_code", o.SetOrderCode)
	f.enum("status", func(s string) bool {
		st, ok := trade.ParseOrderStatus(s)
		if ok {
			o.Status = st
		}
		return ok
	})
	f.date("order_date", func(t time.Time) { o.OrderDate = &t })
	f.date("delivery_date", func(t time.Time) { o.DeliveryDate = &t })
	f.str("payment_terms", func(s string) { o.PaymentTerms = s })
	f.str("notes", func(s string) { o.Notes = s })
	f.dec("discount_amount", func(d decimal.Decimal) { o.DiscountAmount = d })
	f.dec("freight_amount", func(d decimal.Decimal) { o.FreightAmount = d })
	f.dec("total_amount", func(d decimal.Decimal) { o.TotalAmount = d })
	f.ref(res, RelationCustomer, o.AssignCustomer)
	f.ref(res, RelationRepresentative, o.AssignRepresentative)

	if rc.Config.Items == nil {
		return
	}

	items := make([]trade.OrderItem, 0, len(u.Items))
	for i, values := range u.Items {
		key, ok := mapping.AsString(values[ItemKeyField])
		if !ok {
			rc.missingRequired(u.ExternalID, "items."+ItemKeyField)
			continue
		}
		it, err := o.NewOrderItem(key)
		if err != nil {
			f.item(values).invalid(ItemKeyField)
			continue
		}
		it.LineNumber = i + 1

		itf := f.item(values)
		itf.integer("line_number", func(n int64) { it.LineNumber = int(n) })
		itf.ref(res, RelationProduct, func(id uuid.UUID) { it.ProductID = &id })
		itf.str("product_code", func(s string) { it.ProductCode = s })
		itf.str("description", func(s string) { it.Description = s })
		itf.dec("quantity", func(d decimal.Decimal) { it.Quantity = d })
		itf.dec("unit_price", func(d decimal.Decimal) { it.UnitPrice = d })
		itf.dec("discount", func(d decimal.Decimal) { it.Discount = d })
		itf.dec("total", func(d decimal.Decimal) { it.Total = d })
		items = append(items, *it)
	}
	o.ReplaceItems(items)

	if !u.Values.Has("total_amount") {
		o.TotalAmount = o.ItemsTotal()
	}
}

// OrderItemsWriter replaces an order's stored item set, and stamps the
// header's source hash, after the header is written. Mappings without items
// leave stored items alone.
func OrderItemsWriter(store integration.OrderStore) ChildWriter[*trade.Order] {
	return orderItemsWriter{store: store}
}

type orderItemsWriter struct {
	store integration.OrderStore
}

func (w orderItemsWriter) Active(rc *RunContext) bool {
	return rc.Config.Items != nil
}

func (w orderItemsWriter) Write(ctx context.Context, _ *RunContext, o *trade.Order) (integration.ItemReplaceResult, error) {
	return w.store.ReplaceItems(ctx, o)
}
