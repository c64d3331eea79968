package syncapp

import (
	"fmt"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LookupCache memoizes relation lookups for one Sync invocation. Hits and
// misses are both remembered; see RunContext.cacheable for the exception.
type LookupCache struct {
	entries map[lookupCacheKey]lookupEntry
}

type lookupCacheKey struct {
	target integration.LookupTarget
	field  string
	key    string
}

type lookupEntry struct {
	id    uuid.UUID
	found bool
}

// NewLookupCache creates an empty cache
func NewLookupCache() *LookupCache {
	return &LookupCache{entries: make(map[lookupCacheKey]lookupEntry)}
}

func (c *LookupCache) get(target integration.LookupTarget, field, key string) (lookupEntry, bool) {
	e, ok := c.entries[lookupCacheKey{target, field, key}]
	return e, ok
}

func (c *LookupCache) put(target integration.LookupTarget, field, key string, id uuid.UUID, found bool) {
	c.entries[lookupCacheKey{target, field, key}] = lookupEntry{id: id, found: found}
}

// Len returns the number of memoized keys
func (c *LookupCache) Len() int {
	return len(c.entries)
}

// RunContext carries the state of one entity kind run: the immutable mapping,
// the counters and the memo caches shared by the reconciler, resolver and
// writer.
type RunContext struct {
	TenantID uuid.UUID
	Kind     integration.EntityKind
	Config   *mapping.Config
	Summary  *integration.SyncSummary
	Logger   *zap.Logger
	Cache    *LookupCache

	// OwnTarget is the lookup target backed by the kind being synchronized.
	// Misses against it are not memoized because the entity may be written
	// by a later batch of the same run.
	OwnTarget integration.LookupTarget

	now func() time.Time
}

// NewRunContext creates the context of one kind run
func NewRunContext(tenantID uuid.UUID, kind integration.EntityKind, cfg *mapping.Config, cache *LookupCache, logger *zap.Logger) *RunContext {
	if cache == nil {
		cache = NewLookupCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunContext{
		TenantID: tenantID,
		Kind:     kind,
		Config:   cfg,
		Summary:  integration.NewSyncSummary(kind),
		Logger: logger.With(
			zap.String("tenant_id", tenantID.String()),
			zap.String("kind", kind.String()),
		),
		Cache: cache,
		now:   time.Now,
	}
}

// Now returns the current time of the run clock
func (rc *RunContext) Now() time.Time {
	return rc.now()
}

func (rc *RunContext) cacheable(target integration.LookupTarget, found bool) bool {
	return found || target != rc.OwnTarget
}

// ---------------------------------------------------------------------------
// Anomaly accounting
// ---------------------------------------------------------------------------

func (rc *RunContext) record(code, externalID, field, message string) {
	rc.Summary.Record(integration.Anomaly{
		Code:       code,
		ExternalID: externalID,
		Field:      field,
		Message:    message,
	})
}

func (rc *RunContext) missingExternalID(row int) {
	rc.Summary.SkippedMissingExternalID++
	rc.record(integration.AnomalyMissingExternalID, "", mapping.ExternalIDField,
		fmt.Sprintf("unit %d has no external id", row))
}

func (rc *RunContext) duplicatedExternalID(externalID string) {
	rc.Summary.DuplicatedExternalIDInBatch++
	rc.record(integration.AnomalyDuplicatedExternalID, externalID, mapping.ExternalIDField,
		"external id repeated in batch, first occurrence kept")
}

func (rc *RunContext) externalIDConflict(externalID, legacyKey, stored string) {
	rc.Summary.SkippedExternalIDConflicts++
	rc.record(integration.AnomalyExternalIDConflict, externalID, "",
		fmt.Sprintf("legacy key %q already belongs to external id %q", legacyKey, stored))
}

func (rc *RunContext) missingRequired(externalID, field string) {
	rc.Summary.MissingRequiredField[field]++
	rc.record(integration.AnomalyMissingRequiredField, externalID, field, "required field did not resolve")
}

func (rc *RunContext) invalidValue(externalID, field string, raw any) {
	rc.Summary.InvalidValues[field]++
	rc.record(integration.AnomalyInvalidValue, externalID, field, fmt.Sprintf("cannot use value %v", raw))
}

func (rc *RunContext) unresolvedRelation(externalID, relation, key string) {
	rc.Summary.UnresolvedRelations[relation]++
	rc.record(integration.AnomalyUnresolvedRelation, externalID, relation,
		fmt.Sprintf("no match for %q", key))
}

func (rc *RunContext) conflictUnresolved(externalID string, err error) {
	rc.Summary.ConflictsUnresolved++
	rc.record(integration.AnomalyConflictUnresolved, externalID, "", err.Error())
}
