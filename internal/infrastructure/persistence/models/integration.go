package models

import (
	"encoding/json"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TenantIntegrationModel is the persistence model for a tenant's
// synchronization configuration. Mapping documents and watermarks are kept
// as JSON objects keyed by entity kind.
type TenantIntegrationModel struct {
	TenantID     uuid.UUID                             `gorm:"type:uuid;primary_key"`
	Name         string                                `gorm:"type:varchar(200)"`
	SourceDriver integration.SourceDriver              `gorm:"type:varchar(20);not null"`
	SourceDSN    string                                `gorm:"column:source_dsn;type:text;not null"`
	Enabled      bool                                  `gorm:"not null;index"`
	Mappings     datatypes.JSON                        `gorm:"type:jsonb"`
	Watermarks   datatypes.JSONType[map[string]string] `gorm:"type:jsonb"`
	CreatedAt    time.Time                             `gorm:"not null"`
	UpdatedAt    time.Time                             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TenantIntegrationModel) TableName() string {
	return "tenant_integrations"
}

// ToDomain converts the persistence model to a domain TenantIntegration.
// Unreadable watermark entries are dropped, which turns the next run of that
// kind into a full resync.
func (m *TenantIntegrationModel) ToDomain() (*integration.TenantIntegration, error) {
	ti := &integration.TenantIntegration{
		TenantID:     m.TenantID,
		Name:         m.Name,
		SourceDriver: m.SourceDriver,
		SourceDSN:    m.SourceDSN,
		Enabled:      m.Enabled,
		Mappings:     map[integration.EntityKind]json.RawMessage{},
		Watermarks:   map[integration.EntityKind]time.Time{},
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.Mappings) > 0 {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(m.Mappings, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			ti.Mappings[integration.EntityKind(k)] = v
		}
	}
	for k, v := range m.Watermarks.Data() {
		ts, err := integration.ParseWatermark(v)
		if err != nil {
			continue
		}
		ti.Watermarks[integration.EntityKind(k)] = ts
	}
	return ti, nil
}

// FromDomain populates the persistence model from a domain TenantIntegration.
func (m *TenantIntegrationModel) FromDomain(ti *integration.TenantIntegration) error {
	m.TenantID = ti.TenantID
	m.Name = ti.Name
	m.SourceDriver = ti.SourceDriver
	m.SourceDSN = ti.SourceDSN
	m.Enabled = ti.Enabled
	m.UpdatedAt = ti.UpdatedAt

	raw := make(map[string]json.RawMessage, len(ti.Mappings))
	for k, v := range ti.Mappings {
		raw[k.String()] = v
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	m.Mappings = datatypes.JSON(b)
	m.Watermarks = datatypes.NewJSONType(EncodeWatermarks(ti.Watermarks))
	return nil
}

// EncodeWatermarks renders watermarks in their stored form
func EncodeWatermarks(w map[integration.EntityKind]time.Time) map[string]string {
	out := make(map[string]string, len(w))
	for k, ts := range w {
		if ts.IsZero() {
			continue
		}
		out[k.String()] = integration.FormatWatermark(ts)
	}
	return out
}
