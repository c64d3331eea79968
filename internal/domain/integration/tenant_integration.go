package integration

import (
	"encoding/json"
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
)

// SourceDriver identifies the dialect of a tenant source
type SourceDriver string

const (
	SourceDriverPostgres  SourceDriver = "postgres"
	SourceDriverSQLServer SourceDriver = "sqlserver"
)

// IsValid returns true if the driver is supported
func (d SourceDriver) IsValid() bool {
	return d == SourceDriverPostgres || d == SourceDriverSQLServer
}

// TenantIntegration is a tenant's persisted synchronization configuration
type TenantIntegration struct {
	// TenantID is the tenant the configuration belongs to
	TenantID uuid.UUID
	// Name is a human label for the source system
	Name string
	// SourceDriver selects the SQL dialect used against the source
	SourceDriver SourceDriver
	// SourceDSN is the connection string of the tenant source
	SourceDSN string
	// Enabled turns scheduled runs on or off
	Enabled bool
	// Mappings holds the raw mapping document of each entity kind
	Mappings map[EntityKind]json.RawMessage
	// Watermarks holds the last durably synchronized source change per kind
	Watermarks map[EntityKind]time.Time
	// UpdatedAt is when this configuration was last changed
	UpdatedAt time.Time
}

// Mapping returns the raw mapping document for kind
func (t *TenantIntegration) Mapping(kind EntityKind) (json.RawMessage, error) {
	raw, ok := t.Mappings[kind]
	if !ok || len(raw) == 0 {
		return nil, shared.NewConfigurationError("mappings."+kind.String(), "no mapping configured for entity kind")
	}
	return raw, nil
}

// Watermark returns the stored watermark for kind, if any
func (t *TenantIntegration) Watermark(kind EntityKind) *Watermark {
	ts, ok := t.Watermarks[kind]
	if !ok || ts.IsZero() {
		return nil
	}
	return &Watermark{TenantID: t.TenantID, Kind: kind, LastProcessedAt: ts}
}

// Watermark marks the latest source change durably written for a tenant and kind
type Watermark struct {
	TenantID        uuid.UUID
	Kind            EntityKind
	LastProcessedAt time.Time
}

// Allows reports whether candidate may replace the stored value: watermarks
// only move forward.
func (w *Watermark) Allows(candidate time.Time) bool {
	if candidate.IsZero() {
		return false
	}
	return w == nil || candidate.After(w.LastProcessedAt)
}

// FormatWatermark renders a watermark for storage in the configuration blob
func FormatWatermark(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// ParseWatermark reads a stored watermark
func ParseWatermark(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
