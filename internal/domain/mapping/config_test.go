package mapping

import (
	"testing"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customerMappingDoc = `{
  "table": "clientes",
  "watermark_column": "dt_alteracao",
  "lookups": {"representative": "code"},
  "fields": {
    "external_id": "id",
    "name": {"tratamento": "usar_um_ou_outro", "field": "fantasia", "options": {"fallback": "razao_social"}},
    "tax_id": {"tratamento": "limpeza_regex", "field": "cnpj", "options": {"pattern": "[^0-9]", "replacement": ""}},
    "status": {"tratamento": "mapear_valores", "field": "situacao", "options": {"values": {"A": "active", "I": "inactive"}, "strict": true}},
    "contact": {"tratamento": "mapear_json", "field": "extra", "options": {"key": "contato.nome", "fields": {"email": "contato.email", "phone": "contato.fone"}}},
    "address": {"tratamento": "concatenar_campos", "field": "{rua}, {numero}"},
    "days_since_signup": {"tratamento": "diferenca_entre_datas", "field": "dt_cadastro", "options": {"end": "dt_alteracao"}},
    "credit_limit": {"tratamento": "formula_matematica", "field": "{limite} * 2"},
    "representative": "cod_vendedor",
    "ignored": null
  }
}`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(customerMappingDoc))
	require.NoError(t, err)

	assert.Equal(t, "clientes", cfg.Table)
	assert.Equal(t, "dt_alteracao", cfg.Watermark())
	assert.Equal(t, "code", cfg.LookupField("representative", "external_id"))
	assert.Equal(t, "external_id", cfg.LookupField("group", "external_id"))

	assert.Equal(t, Column{Name: "id"}, cfg.Fields["external_id"])
	assert.Equal(t, Fallback{Primary: "fantasia", Secondary: "razao_social"}, cfg.Fields["name"])
	assert.Equal(t, DateDiff{Start: "dt_cadastro", End: "dt_alteracao"}, cfg.Fields["days_since_signup"])
	assert.Equal(t, Formula{Template: "{limite} * 2"}, cfg.Fields["credit_limit"])
	assert.Equal(t, Concatenate{Template: "{rua}, {numero}"}, cfg.Fields["address"])
	assert.NotContains(t, cfg.Fields, "ignored")

	vt, ok := cfg.Fields["status"].(ValueTable)
	require.True(t, ok)
	assert.True(t, vt.Strict)
	assert.Equal(t, "active", vt.Values["A"])

	rc, ok := cfg.Fields["tax_id"].(RegexCleanup)
	require.True(t, ok)
	assert.Equal(t, "cnpj", rc.Column)
	assert.Equal(t, "[^0-9]", rc.Pattern)
}

func TestParse_LegacyShapes(t *testing.T) {
	doc := `{
	  "table": "t",
	  "fields": {
	    "external_id": {"field": "id"},
	    "status": {"tratamento": "mapear_valores", "field": "sit", "options": {"A": "active", "default": "inactive"}},
	    "document": {"tratamento": "limpeza_regex", "field": "", "options": {"campo": "cpf", "pattern": "\\D"}},
	    "full_name": {"tratamento": "concatenar_campos", "options": {"fields": ["nome", "sobrenome"]}},
	    "quantity": {"tratamento": "mapear_valores", "field": "qtd", "options": {"values": {"1": 10}}}
	  }
	}`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, Column{Name: "id"}, cfg.Fields["external_id"])

	vt := cfg.Fields["status"].(ValueTable)
	assert.Equal(t, map[string]any{"A": "active"}, vt.Values)
	assert.Equal(t, "inactive", vt.Default)

	rc := cfg.Fields["document"].(RegexCleanup)
	assert.Equal(t, "cpf", rc.Column)
	assert.Equal(t, "11122233344", Evaluate(rc, Row{"cpf": "111.222.333-44"}))

	concat := cfg.Fields["full_name"].(Concatenate)
	assert.Equal(t, "{nome} {sobrenome}", concat.Template)

	qty := cfg.Fields["quantity"].(ValueTable)
	assert.Equal(t, int64(10), qty.Values["1"])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"empty document", ``, "mapping"},
		{"invalid json", `{"table":`, "mapping"},
		{"unknown treatment", `{"table":"t","fields":{"x":{"tratamento":"magia","field":"a"}}}`, "fields.x"},
		{"unknown item treatment", `{"table":"t","fields":{},"items":{"fields":{"y":{"tratamento":"magia"}}}}`, "items.fields.y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			var cfgErr *shared.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("missing table", func(t *testing.T) {
		cfg := &Config{Fields: map[string]FieldMapping{"external_id": Column{Name: "id"}}}
		err := cfg.Validate(ExternalIDField)
		assert.True(t, shared.IsConfigurationError(err))
		assert.Contains(t, err.Error(), "table")
	})

	t.Run("missing required field names the key", func(t *testing.T) {
		cfg := &Config{Table: "t", Fields: map[string]FieldMapping{}}
		err := cfg.Validate(ExternalIDField)
		var cfgErr *shared.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "fields.external_id", cfgErr.Key)
	})

	t.Run("valid", func(t *testing.T) {
		cfg := &Config{Table: "t", Fields: map[string]FieldMapping{"external_id": Column{Name: "id"}}}
		assert.NoError(t, cfg.Validate(ExternalIDField))
	})
}

func TestConfig_EvaluateAll(t *testing.T) {
	cfg, err := Parse([]byte(customerMappingDoc))
	require.NoError(t, err)

	row := Row{
		"id":           int64(77),
		"fantasia":     "",
		"razao_social": "ACME LTDA",
		"cnpj":         "12.345.678/0001-90",
		"situacao":     "X",
		"extra":        `{"contato":{"nome":"Bia","email":"bia@acme.com"}}`,
		"rua":          "Rua A",
		"numero":       "10",
		"dt_cadastro":  "2024-01-01",
		"dt_alteracao": "2024-01-31 10:00:00",
		"limite":       "150.5",
		"cod_vendedor": "007",
	}
	values := cfg.EvaluateAll(row)

	assert.Equal(t, int64(77), values["external_id"])
	assert.Equal(t, "ACME LTDA", values["name"])
	assert.Equal(t, "12345678000190", values["tax_id"])
	assert.Nil(t, values["status"], "strict table drops unknown status")
	assert.Equal(t, "Bia", values["contact"])
	assert.Equal(t, "bia@acme.com", values["email"])
	assert.Nil(t, values["phone"])
	assert.Contains(t, values, "phone")
	assert.Equal(t, "Rua A, 10", values["address"])
	assert.Equal(t, int64(30), values["days_since_signup"])
	assert.Equal(t, "301", values["credit_limit"].(interface{ String() string }).String())
	assert.Equal(t, "007", values["representative"])

	assert.True(t, values.Has("name"))
	assert.False(t, values.Has("status"))

	assert.Equal(t, []string{
		"address", "contact", "credit_limit", "days_since_signup", "email", "external_id",
		"name", "phone", "representative", "status", "tax_id",
	}, cfg.MappedFields())
}
