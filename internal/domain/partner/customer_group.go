package partner

import (
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
)

// CustomerGroup classifies customers. Groups are maintained in the canonical
// store and are only referenced by synchronized customers.
type CustomerGroup struct {
	shared.TenantEntity
	ExternalID string
	Code       string
	Name       string
	NameKey    string
	Category   string
}

// NewCustomerGroup creates a customer group
func NewCustomerGroup(tenantID uuid.UUID, code, name, category string) *CustomerGroup {
	return &CustomerGroup{
		TenantEntity: shared.NewTenantEntity(tenantID),
		Code:         code,
		Name:         name,
		NameKey:      shared.NameKey(name),
		Category:     category,
	}
}
