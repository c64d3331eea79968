package integration

import (
	"fmt"
	"strings"
)

// EntityKind identifies a synchronized entity kind
type EntityKind string

const (
	EntityKindCustomers       EntityKind = "customers"
	EntityKindRepresentatives EntityKind = "representatives"
	EntityKindProducts        EntityKind = "products"
	EntityKindOrders          EntityKind = "orders"
)

// AllEntityKinds lists the kinds in dependency order: representatives before
// the customers that reference them, products and customers before orders.
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		EntityKindRepresentatives,
		EntityKindCustomers,
		EntityKindProducts,
		EntityKindOrders,
	}
}

// IsValid returns true if the kind is known
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityKindCustomers, EntityKindRepresentatives, EntityKindProducts, EntityKindOrders:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityKind
func (k EntityKind) String() string {
	return string(k)
}

// ParseEntityKind parses a kind name, accepting singular forms
func ParseEntityKind(s string) (EntityKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasSuffix(s, "s") {
		s += "s"
	}
	k := EntityKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}
