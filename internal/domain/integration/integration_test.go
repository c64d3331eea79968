package integration

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityKind(t *testing.T) {
	k, err := ParseEntityKind("Order")
	require.NoError(t, err)
	assert.Equal(t, EntityKindOrders, k)

	k, err = ParseEntityKind("representatives")
	require.NoError(t, err)
	assert.Equal(t, EntityKindRepresentatives, k)

	_, err = ParseEntityKind("invoices")
	assert.Error(t, err)
}

func TestAllEntityKinds_DependencyOrder(t *testing.T) {
	kinds := AllEntityKinds()
	index := func(k EntityKind) int {
		for i, v := range kinds {
			if v == k {
				return i
			}
		}
		return -1
	}
	assert.Less(t, index(EntityKindRepresentatives), index(EntityKindCustomers))
	assert.Less(t, index(EntityKindCustomers), index(EntityKindOrders))
	assert.Less(t, index(EntityKindProducts), index(EntityKindOrders))
}

func TestWatermark_Allows(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := &Watermark{LastProcessedAt: base}

	assert.True(t, w.Allows(base.Add(time.Nanosecond)))
	assert.False(t, w.Allows(base))
	assert.False(t, w.Allows(base.Add(-time.Hour)))
	assert.False(t, w.Allows(time.Time{}))

	var none *Watermark
	assert.True(t, none.Allows(base))
}

func TestWatermark_FormatParse(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("BRT", -3*3600))
	parsed, err := ParseWatermark(FormatWatermark(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestTenantIntegration(t *testing.T) {
	ti := &TenantIntegration{
		TenantID:   uuid.New(),
		Mappings:   map[EntityKind]json.RawMessage{EntityKindCustomers: json.RawMessage(`{"table":"c"}`)},
		Watermarks: map[EntityKind]time.Time{EntityKindCustomers: time.Unix(100, 0)},
	}

	raw, err := ti.Mapping(EntityKindCustomers)
	require.NoError(t, err)
	assert.JSONEq(t, `{"table":"c"}`, string(raw))

	_, err = ti.Mapping(EntityKindOrders)
	var cfgErr *shared.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "mappings.orders", cfgErr.Key)

	require.NotNil(t, ti.Watermark(EntityKindCustomers))
	assert.Nil(t, ti.Watermark(EntityKindProducts))
}

func TestNormalizeLookupKey(t *testing.T) {
	tests := []struct {
		field string
		raw   any
		want  string
		ok    bool
	}{
		{LookupFieldCode, "00042", "42", true},
		{LookupFieldCode, int64(42), "42", true},
		{LookupFieldDocument, "123.456.789-00", "12345678900", true},
		{LookupFieldTaxID, "12.345.678/0001-90", "12345678000190", true},
		{LookupFieldName, "  JOSÉ  Silva", "jose silva", true},
		{LookupFieldExternalID, " ABC ", "ABC", true},
		{LookupFieldDocument, "n/a", "", false},
		{LookupFieldExternalID, nil, "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeLookupKey(tt.field, tt.raw)
		assert.Equal(t, tt.ok, ok, "%s %v", tt.field, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateLookupField(t *testing.T) {
	assert.NoError(t, ValidateLookupField("representative", LookupRepresentatives, LookupFieldCode))
	assert.NoError(t, ValidateLookupField("group", LookupCustomerGroups, LookupFieldCategory))

	err := ValidateLookupField("product", LookupProducts, LookupFieldTaxID)
	var cfgErr *shared.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "lookups.product", cfgErr.Key)
}

func TestSyncSummary(t *testing.T) {
	s := NewSyncSummary(EntityKindCustomers)
	s.Created = 2
	s.Updated = 3
	s.SkippedMissingExternalID = 1
	s.DuplicatedExternalIDInBatch = 1
	s.SkippedExternalIDConflicts = 1
	s.ConflictsRecovered = 2

	assert.Equal(t, 5, s.Upserted())
	assert.Equal(t, 3, s.Skipped())
	assert.Equal(t, 3, s.Conflicts())

	for i := 0; i < MaxAnomalySamples+10; i++ {
		s.Record(Anomaly{Code: AnomalyMissingExternalID})
	}
	assert.Len(t, s.Anomalies, MaxAnomalySamples)

	s.Finish(errors.New("boom"))
	assert.Equal(t, "boom", s.Error)
	assert.False(t, s.FinishedAt.IsZero())

	run := &RunSummary{}
	run.Add(s)
	other := NewSyncSummary(EntityKindOrders)
	other.Created = 1
	run.Add(other)
	assert.Equal(t, 6, run.Upserted())
	assert.Equal(t, 3, run.Skipped())
	assert.Same(t, other, run.Kind(EntityKindOrders))
	assert.Nil(t, run.Kind(EntityKindProducts))
}
