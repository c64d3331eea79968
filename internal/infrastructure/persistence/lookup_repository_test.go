package persistence

import (
	"context"
	"testing"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormLookupRepository_Lookup(t *testing.T) {
	db := setupSyncTestDB(t)
	ctx := context.Background()
	tenantID := uuid.New()
	lookups := NewGormLookupRepository(db)
	reps := NewGormRepresentativeRepository(db)

	joao := partner.NewRepresentative(tenantID)
	joao.SetExternalID("R1")
	joao.SetName("João Pereira")
	joao.Code = "007"
	joao.SetDocument("111.222.333-44")
	maria := partner.NewRepresentative(tenantID)
	maria.SetExternalID("R2")
	maria.SetName("Maria")
	maria.Code = "12"
	require.NoError(t, reps.SaveBatch(ctx, []*partner.Representative{joao, maria}))

	group := partner.NewCustomerGroup(tenantID, "G01", "Varejo", "retail")
	gm := &models.CustomerGroupModel{}
	gm.FromDomain(group)
	require.NoError(t, db.Create(gm).Error)

	tests := []struct {
		name   string
		target integration.LookupTarget
		field  string
		keys   []string
		want   map[string]uuid.UUID
	}{
		{"by external id", integration.LookupRepresentatives, "external_id", []string{"R1", "R9"}, map[string]uuid.UUID{"R1": joao.ID}},
		{"by code ignoring leading zeros", integration.LookupRepresentatives, "code", []string{"7", "12"}, map[string]uuid.UUID{"7": joao.ID, "12": maria.ID}},
		{"by document digits", integration.LookupRepresentatives, "document", []string{"11122233344"}, map[string]uuid.UUID{"11122233344": joao.ID}},
		{"by folded name", integration.LookupRepresentatives, "name", []string{"joao pereira"}, map[string]uuid.UUID{"joao pereira": joao.ID}},
		{"group by category", integration.LookupCustomerGroups, "category", []string{"retail"}, map[string]uuid.UUID{"retail": group.ID}},
		{"group by code", integration.LookupCustomerGroups, "code", []string{"G01"}, map[string]uuid.UUID{"G01": group.ID}},
		{"no candidates", integration.LookupCustomers, "tax_id", nil, map[string]uuid.UUID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lookups.Lookup(ctx, tenantID, tt.target, tt.field, tt.keys)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unsupported field", func(t *testing.T) {
		_, err := lookups.Lookup(ctx, tenantID, integration.LookupProducts, "tax_id", []string{"1"})
		assert.True(t, shared.IsConfigurationError(err))
	})
}
