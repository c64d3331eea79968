package partner

import (
	"strings"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomerStatus represents the status of a customer
type CustomerStatus string

const (
	CustomerStatusActive    CustomerStatus = "active"
	CustomerStatusInactive  CustomerStatus = "inactive"
	CustomerStatusSuspended CustomerStatus = "suspended" // Suspended due to credit issues
)

// ParseCustomerStatus maps a canonical status string. Unknown values report false.
func ParseCustomerStatus(s string) (CustomerStatus, bool) {
	switch st := CustomerStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case CustomerStatusActive, CustomerStatusInactive, CustomerStatusSuspended:
		return st, true
	}
	return "", false
}

// Customer is a tenant's customer as kept in the canonical store.
//
// Legacy key: customers created before external ids were tracked are matched
// by TaxID (digits only).
type Customer struct {
	shared.TenantEntity
	shared.SourceTracking
	Code             string
	Name             string
	NameKey          string
	TradeName        string
	TaxID            string
	Email            string
	Phone            string
	Address          string
	City             string
	State            string
	PostalCode       string
	Status           CustomerStatus
	CreditLimit      decimal.Decimal
	Notes            string
	RepresentativeID *uuid.UUID
	GroupID          *uuid.UUID
}

// NewCustomer creates an empty active customer for tenantID
func NewCustomer(tenantID uuid.UUID) *Customer {
	return &Customer{
		TenantEntity: shared.NewTenantEntity(tenantID),
		Status:       CustomerStatusActive,
		CreditLimit:  decimal.Zero,
	}
}

// SetName sets the name and its comparison key
func (c *Customer) SetName(name string) {
	c.Name = strings.TrimSpace(name)
	c.NameKey = shared.NameKey(c.Name)
}

// SetTaxID stores the tax id in digits-only form
func (c *Customer) SetTaxID(taxID string) {
	c.TaxID = shared.DigitsOnly(taxID)
}

// LegacyKey returns the key used to match records without an external id
func (c *Customer) LegacyKey() string {
	return c.TaxID
}

// AssignRepresentative links the customer to a representative
func (c *Customer) AssignRepresentative(id uuid.UUID) {
	c.RepresentativeID = &id
}

// AssignGroup links the customer to a customer group
func (c *Customer) AssignGroup(id uuid.UUID) {
	c.GroupID = &id
}

// Clone returns a deep copy
func (c *Customer) Clone() *Customer {
	cp := *c
	cp.RepresentativeID = cloneID(c.RepresentativeID)
	cp.GroupID = cloneID(c.GroupID)
	cp.SourceUpdatedAt = cloneTime(c.SourceUpdatedAt)
	cp.LastSyncedAt = cloneTime(c.LastSyncedAt)
	return &cp
}
