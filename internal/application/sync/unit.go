package syncapp

import (
	"sort"
	"strconv"
	"time"

	"github.com/erp/datasync/internal/domain/mapping"
)

// Unit is what the engine reconciles as one entity: a single source row, or
// for parent plans every row that shares the parent key.
type Unit struct {
	// ExternalID is the evaluated external_id, empty when it did not resolve
	ExternalID string
	// Values holds the evaluated canonical fields (first row of a group)
	Values mapping.Values
	// Items holds the evaluated item fields, one per row, for parent plans
	Items []mapping.Values
	// ChangedAt is the latest watermark column value among the unit's rows
	ChangedAt *time.Time
	// Rows is the number of source rows folded into the unit
	Rows int
}

// BuildUnits evaluates a page of rows into units. Rows sharing cfg.ParentKey
// are folded into one unit, in order of first appearance, with items sorted
// by item key. A row without a parent key becomes a unit of its own with no
// external id.
func BuildUnits(cfg *mapping.Config, rows []mapping.Row) []*Unit {
	watermark := cfg.Watermark()

	if cfg.ParentKey == "" {
		units := make([]*Unit, 0, len(rows))
		for _, row := range rows {
			u := newUnit(cfg.EvaluateAll(row))
			u.observe(row, watermark)
			units = append(units, u)
		}
		return units
	}

	var units []*Unit
	byParent := make(map[string]*Unit)
	for _, row := range rows {
		raw, _ := row.Get(cfg.ParentKey)
		parent, ok := mapping.AsString(raw)
		if !ok {
			orphan := &Unit{Values: cfg.EvaluateAll(row)}
			orphan.observe(row, watermark)
			units = append(units, orphan)
			continue
		}
		u, seen := byParent[parent]
		if !seen {
			u = newUnit(cfg.EvaluateAll(row))
			byParent[parent] = u
			units = append(units, u)
		}
		if cfg.Items != nil {
			u.Items = append(u.Items, cfg.Items.EvaluateAll(row))
		}
		u.observe(row, watermark)
	}
	for _, u := range units {
		sortItems(u.Items)
	}
	return units
}

// sortItems orders items by item key, numerically when both keys are
// integers. Items without a key keep their relative order at the end.
func sortItems(items []mapping.Values) {
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := mapping.AsString(items[i][ItemKeyField])
		b, bok := mapping.AsString(items[j][ItemKeyField])
		if !aok || !bok {
			return aok && !bok
		}
		an, aerr := strconv.ParseInt(a, 10, 64)
		bn, berr := strconv.ParseInt(b, 10, 64)
		if aerr == nil && berr == nil {
			return an < bn
		}
		return a < b
	})
}

func newUnit(values mapping.Values) *Unit {
	id, _ := mapping.AsString(values[mapping.ExternalIDField])
	return &Unit{ExternalID: id, Values: values}
}

func (u *Unit) observe(row mapping.Row, watermark string) {
	u.Rows++
	raw, _ := row.Get(watermark)
	ts, ok := mapping.AsTime(raw)
	if !ok {
		return
	}
	if u.ChangedAt == nil || ts.After(*u.ChangedAt) {
		u.ChangedAt = &ts
	}
}
