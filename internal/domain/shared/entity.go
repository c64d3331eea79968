package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity provides common fields for all entities
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetID returns the entity ID
func (e *BaseEntity) GetID() uuid.UUID {
	return e.ID
}

// GetCreatedAt returns the creation timestamp
func (e *BaseEntity) GetCreatedAt() time.Time {
	return e.CreatedAt
}

// GetUpdatedAt returns the last update timestamp
func (e *BaseEntity) GetUpdatedAt() time.Time {
	return e.UpdatedAt
}

// NewBaseEntity creates a new base entity with generated ID
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TenantEntity is a tenant-scoped entity with an optimistic version counter
type TenantEntity struct {
	BaseEntity
	TenantID uuid.UUID
	Version  int
}

// NewTenantEntity creates a new tenant-scoped entity
func NewTenantEntity(tenantID uuid.UUID) TenantEntity {
	return TenantEntity{
		BaseEntity: NewBaseEntity(),
		TenantID:   tenantID,
		Version:    1,
	}
}

// GetTenantID returns the owning tenant
func (t *TenantEntity) GetTenantID() uuid.UUID {
	return t.TenantID
}

// Touch bumps UpdatedAt and the version
func (t *TenantEntity) Touch() {
	t.UpdatedAt = time.Now()
	t.Version++
}

// SourceTracking records where a synchronized entity came from.
//
// ExternalID is the identifier of the record in the tenant source. Records
// created before external ids were tracked have an empty ExternalID and are
// matched by their legacy key instead. SourceHash fingerprints the last applied
// source values so unchanged records are not rewritten.
type SourceTracking struct {
	ExternalID      string
	SourceHash      string
	SourceUpdatedAt *time.Time
	LastSyncedAt    *time.Time
}

// GetExternalID returns the source identifier
func (s *SourceTracking) GetExternalID() string {
	return s.ExternalID
}

// SetExternalID sets the source identifier
func (s *SourceTracking) SetExternalID(id string) {
	s.ExternalID = id
}

// GetSourceHash returns the fingerprint of the last applied source values
func (s *SourceTracking) GetSourceHash() string {
	return s.SourceHash
}

// SetSourceHash replaces the fingerprint alone. An empty hash marks the record
// stale so the next run applies its source values again.
func (s *SourceTracking) SetSourceHash(hash string) {
	s.SourceHash = hash
}

// MarkSynced records the applied fingerprint and source change time
func (s *SourceTracking) MarkSynced(hash string, sourceUpdatedAt *time.Time, at time.Time) {
	s.SourceHash = hash
	if sourceUpdatedAt != nil {
		ts := sourceUpdatedAt.UTC()
		s.SourceUpdatedAt = &ts
	}
	synced := at.UTC()
	s.LastSyncedAt = &synced
}
