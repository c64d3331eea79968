package integration

import (
	"context"
	"time"

	"github.com/erp/datasync/internal/domain/catalog"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/domain/trade"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Canonical store contract
// ---------------------------------------------------------------------------
//
// Store implementations translate storage errors into three shapes the engine
// tells apart:
//   - shared.ErrConstraintConflict for unique key races
//   - *shared.ConfigurationError for missing tables or columns
//   - anything else, classified as transient or fatal by the resilience package

// Record is the part of a synchronized entity the engine handles generically
type Record interface {
	GetID() uuid.UUID
	GetTenantID() uuid.UUID
	Touch()
	GetExternalID() string
	SetExternalID(id string)
	GetSourceHash() string
	SetSourceHash(hash string)
	MarkSynced(hash string, sourceUpdatedAt *time.Time, at time.Time)
	LegacyKey() string
}

// EntityStore persists one entity kind
type EntityStore[E Record] interface {
	// FindByExternalIDs returns existing entities keyed by external id
	FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]E, error)
	// FindByLegacyKeys returns existing entities keyed by their legacy key.
	// When several records share a key the oldest wins.
	FindByLegacyKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]E, error)
	// SaveBatch inserts or updates (by id) every entity in one statement.
	SaveBatch(ctx context.Context, entities []E) error
}

// CustomerStore persists customers
type CustomerStore interface {
	EntityStore[*partner.Customer]
}

// RepresentativeStore persists representatives
type RepresentativeStore interface {
	EntityStore[*partner.Representative]
}

// ProductStore persists products
type ProductStore interface {
	EntityStore[*catalog.Product]
}

// ItemReplaceResult reports what replacing an order's items changed
type ItemReplaceResult struct {
	Deleted  int
	Upserted int
}

// OrderStore persists orders and their items
type OrderStore interface {
	EntityStore[*trade.Order]
	// ReplaceItems deletes the order's items whose key is not in order.Items
	// and upserts order.Items by (order_id, item_key). In the same
	// transaction it stores order.SourceHash on the header, so the header
	// only claims a fingerprint once its items match it.
	ReplaceItems(ctx context.Context, order *trade.Order) (ItemReplaceResult, error)
}

// LookupStore resolves references to canonical entities
type LookupStore interface {
	// Lookup returns the ids of target entities whose field matches one of
	// keys. Keys and the returned map use NormalizeLookupKey form.
	Lookup(ctx context.Context, tenantID uuid.UUID, target LookupTarget, field string, keys []string) (map[string]uuid.UUID, error)
}

// IntegrationStore reads tenant configuration and persists watermarks
type IntegrationStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*TenantIntegration, error)
	ListEnabled(ctx context.Context) ([]uuid.UUID, error)
	Save(ctx context.Context, ti *TenantIntegration) error
	// AdvanceWatermark stores ts for kind only if it is strictly later than
	// the stored value. It reports whether the value was written.
	AdvanceWatermark(ctx context.Context, tenantID uuid.UUID, kind EntityKind, ts time.Time) (bool, error)
	// ResetWatermark clears the watermark of kind
	ResetWatermark(ctx context.Context, tenantID uuid.UUID, kind EntityKind) error
}

// RunLock prevents two runs for the same tenant and kind from overlapping
type RunLock interface {
	// Acquire returns ok=false when another holder owns key
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
