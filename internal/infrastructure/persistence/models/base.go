package models

import (
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
// It maps to the domain's BaseEntity.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ToDomain converts BaseModel to domain BaseEntity
func (m *BaseModel) ToDomain() shared.BaseEntity {
	return shared.BaseEntity{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomainBaseEntity populates BaseModel from domain BaseEntity
func (m *BaseModel) FromDomainBaseEntity(e shared.BaseEntity) {
	m.ID = e.ID
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// SourceModel holds the columns that track where a synchronized row came
// from. The external id column is declared on each model so it can share a
// unique index with tenant_id.
type SourceModel struct {
	SourceHash      string     `gorm:"type:varchar(32)"`
	SourceUpdatedAt *time.Time `gorm:"index"`
	LastSyncedAt    *time.Time
}

// ToDomain converts SourceModel to domain SourceTracking
func (m *SourceModel) ToDomain(externalID *string) shared.SourceTracking {
	st := shared.SourceTracking{
		SourceHash:      m.SourceHash,
		SourceUpdatedAt: m.SourceUpdatedAt,
		LastSyncedAt:    m.LastSyncedAt,
	}
	if externalID != nil {
		st.ExternalID = *externalID
	}
	return st
}

// FromDomainSourceTracking populates SourceModel from domain SourceTracking
// and returns the nullable external id column value.
func (m *SourceModel) FromDomainSourceTracking(s shared.SourceTracking) *string {
	m.SourceHash = s.SourceHash
	m.SourceUpdatedAt = s.SourceUpdatedAt
	m.LastSyncedAt = s.LastSyncedAt
	return nullableString(s.ExternalID)
}

// tenantEntity rebuilds a domain TenantEntity from persisted columns
func tenantEntity(base BaseModel, tenantID uuid.UUID, version int) shared.TenantEntity {
	return shared.TenantEntity{
		BaseEntity: base.ToDomain(),
		TenantID:   tenantID,
		Version:    version,
	}
}

// nullableString maps "" to NULL so unique indexes ignore unset values
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
