package partner

import (
	"strings"
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RepresentativeStatus represents the status of a sales representative
type RepresentativeStatus string

const (
	RepresentativeStatusActive   RepresentativeStatus = "active"
	RepresentativeStatusInactive RepresentativeStatus = "inactive"
)

// ParseRepresentativeStatus maps a canonical status string. Unknown values report false.
func ParseRepresentativeStatus(s string) (RepresentativeStatus, bool) {
	switch st := RepresentativeStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case RepresentativeStatusActive, RepresentativeStatusInactive:
		return st, true
	}
	return "", false
}

// Representative is a sales representative. Representatives form a hierarchy
// through SupervisorID.
//
// Legacy key: the case-insensitive, accent-folded name.
type Representative struct {
	shared.TenantEntity
	shared.SourceTracking
	Code           string
	Name           string
	NameKey        string
	Document       string
	Email          string
	Phone          string
	Region         string
	CommissionRate decimal.Decimal
	Status         RepresentativeStatus
	SupervisorID   *uuid.UUID
}

// NewRepresentative creates an empty active representative for tenantID
func NewRepresentative(tenantID uuid.UUID) *Representative {
	return &Representative{
		TenantEntity:   shared.NewTenantEntity(tenantID),
		Status:         RepresentativeStatusActive,
		CommissionRate: decimal.Zero,
	}
}

// SetName sets the name and its comparison key
func (r *Representative) SetName(name string) {
	r.Name = strings.TrimSpace(name)
	r.NameKey = shared.NameKey(r.Name)
}

// SetDocument stores the document number in digits-only form
func (r *Representative) SetDocument(doc string) {
	r.Document = shared.DigitsOnly(doc)
}

// LegacyKey returns the key used to match records without an external id
func (r *Representative) LegacyKey() string {
	return r.NameKey
}

// AssignSupervisor links the representative to its supervisor. A
// representative cannot supervise itself.
func (r *Representative) AssignSupervisor(id uuid.UUID) error {
	if id == r.ID {
		return shared.NewDomainError("INVALID_SUPERVISOR", "Representative cannot supervise itself")
	}
	r.SupervisorID = &id
	return nil
}

// Clone returns a deep copy
func (r *Representative) Clone() *Representative {
	cp := *r
	cp.SupervisorID = cloneID(r.SupervisorID)
	cp.SourceUpdatedAt = cloneTime(r.SourceUpdatedAt)
	cp.LastSyncedAt = cloneTime(r.LastSyncedAt)
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
