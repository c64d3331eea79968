package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/erp/datasync/internal/domain/shared"
)

// DefaultWatermarkColumn is used when a mapping does not name one
const DefaultWatermarkColumn = "updated_at"

// ExternalIDField is the canonical field every entity mapping must declare
const ExternalIDField = "external_id"

// Config is a tenant's mapping for one entity kind: where to read from and how
// each canonical field is computed from a source row.
type Config struct {
	Table           string
	WatermarkColumn string
	// ParentKey groups flattened rows (order header repeated on every item
	// line) into one unit. Empty for flat entities.
	ParentKey string
	// Lookups selects, per relation name, which field of the target entity
	// the mapped reference is compared with.
	Lookups map[string]string
	Fields  map[string]FieldMapping
	// Items maps child rows. Only used by orders.
	Items *Config
}

type rawConfig struct {
	Table           string                     `json:"table"`
	WatermarkColumn string                     `json:"watermark_column"`
	ParentKey       string                     `json:"parent_key"`
	Lookups         map[string]string          `json:"lookups"`
	Fields          map[string]json.RawMessage `json:"fields"`
	Items           *rawConfig                 `json:"items"`
}

type rawField struct {
	Tratamento string         `json:"tratamento"`
	Field      string         `json:"field"`
	Campo      string         `json:"campo"`
	Options    map[string]any `json:"options"`
}

// Parse decodes a mapping document
func Parse(raw []byte) (*Config, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, shared.NewConfigurationError("mapping", "mapping document is empty")
	}
	var rc rawConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rc); err != nil {
		return nil, shared.WrapConfigurationError("mapping", "mapping document is not valid JSON", err)
	}
	return rc.build("")
}

func (rc *rawConfig) build(prefix string) (*Config, error) {
	cfg := &Config{
		Table:           strings.TrimSpace(rc.Table),
		WatermarkColumn: strings.TrimSpace(rc.WatermarkColumn),
		ParentKey:       strings.TrimSpace(rc.ParentKey),
		Lookups:         make(map[string]string, len(rc.Lookups)),
		Fields:          make(map[string]FieldMapping, len(rc.Fields)),
	}
	for relation, field := range rc.Lookups {
		cfg.Lookups[relation] = strings.TrimSpace(field)
	}
	for name, raw := range rc.Fields {
		fm, err := parseField(raw)
		if err != nil {
			return nil, shared.WrapConfigurationError(prefix+"fields."+name, "invalid field mapping", err)
		}
		if fm != nil {
			cfg.Fields[name] = fm
		}
	}
	if rc.Items != nil {
		items, err := rc.Items.build(prefix + "items.")
		if err != nil {
			return nil, err
		}
		cfg.Items = items
	}
	return cfg, nil
}

// parseField decodes one field entry: a bare string is a column reference,
// an object carries a treatment tag. A null or empty entry is ignored.
func parseField(raw json.RawMessage) (FieldMapping, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var col string
		if err := json.Unmarshal(raw, &col); err != nil {
			return nil, err
		}
		col = strings.TrimSpace(col)
		if col == "" {
			return nil, nil
		}
		return Column{Name: col}, nil
	}

	var rf rawField
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rf); err != nil {
		return nil, err
	}
	field := strings.TrimSpace(rf.Field)
	if field == "" {
		field = strings.TrimSpace(rf.Campo)
	}
	opts := rf.Options

	switch strings.TrimSpace(rf.Tratamento) {
	case "":
		if field == "" {
			return nil, nil
		}
		return Column{Name: field}, nil
	case TagValueTable:
		return parseValueTable(field, opts), nil
	case TagRegexCleanup:
		if field == "" {
			field = optString(opts, "campo", "field")
		}
		rc := NewRegexCleanup(field, optString(opts, "pattern", "regex", "padrao"),
			optString(opts, "replacement", "substituicao"),
			optString(opts, "fallback_field", "campo", "field"))
		if rc.FallbackColumn == rc.Column {
			rc.FallbackColumn = ""
		}
		return rc, nil
	case TagJSONLookup:
		jl := JSONLookup{
			Column: field,
			Key:    optString(opts, "key", "chave"),
			Fields: optStringMap(opts, "fields", "campos"),
		}
		return jl, nil
	case TagConcatenate:
		fields := optStrings(opts, "fields", "campos")
		template := field
		if template == "" {
			template = optString(opts, "template")
		}
		if !strings.Contains(template, "{") && len(fields) > 0 {
			sep := optString(opts, "separator", "separador")
			if sep == "" {
				sep = " "
			}
			parts := make([]string, 0, len(fields))
			for _, f := range fields {
				parts = append(parts, "{"+f+"}")
			}
			template = strings.Join(parts, sep)
		}
		return Concatenate{Template: template, Fields: fields}, nil
	case TagFallback:
		primary := field
		if primary == "" {
			primary = optString(opts, "primary", "primario")
		}
		return Fallback{Primary: primary, Secondary: optString(opts, "fallback", "secondary", "secundario")}, nil
	case TagDateDiff:
		start := optString(opts, "start", "inicio")
		if start == "" {
			start = field
		}
		return DateDiff{Start: start, End: optString(opts, "end", "fim")}, nil
	case TagFormula:
		template := field
		if template == "" {
			template = optString(opts, "formula", "template")
		}
		return Formula{Template: template, Fields: optStrings(opts, "fields", "campos")}, nil
	default:
		return nil, fmt.Errorf("unknown tratamento %q", rf.Tratamento)
	}
}

var valueTableReserved = map[string]bool{"values": true, "valores": true, "default": true, "padrao": true, "strict": true}

func parseValueTable(field string, opts map[string]any) ValueTable {
	vt := ValueTable{Column: field, Values: map[string]any{}}
	table, ok := opts["values"].(map[string]any)
	if !ok {
		table, ok = opts["valores"].(map[string]any)
	}
	if !ok {
		// legacy documents put the table directly under options
		table = map[string]any{}
		for k, v := range opts {
			if !valueTableReserved[k] {
				table[k] = v
			}
		}
	}
	for k, v := range table {
		vt.Values[k] = jsonScalar(v)
	}
	if def, ok := opts["default"]; ok {
		vt.Default = jsonScalar(def)
	} else if def, ok := opts["padrao"]; ok {
		vt.Default = jsonScalar(def)
	}
	if strict, ok := AsBool(opts["strict"]); ok {
		vt.Strict = strict
	}
	return vt
}

// jsonScalar unwraps json.Number produced by UseNumber
func jsonScalar(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func optString(opts map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := AsString(jsonScalar(opts[k])); ok {
			return s
		}
	}
	return ""
}

func optStrings(opts map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := opts[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := AsString(jsonScalar(item)); ok {
					out = append(out, s)
				}
			}
			return out
		case string:
			var out []string
			for _, part := range strings.Split(v, ",") {
				if s := strings.TrimSpace(part); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}

func optStringMap(opts map[string]any, keys ...string) map[string]string {
	for _, k := range keys {
		m, ok := opts[k].(map[string]any)
		if !ok {
			continue
		}
		out := make(map[string]string, len(m))
		for name, path := range m {
			if s, ok := AsString(path); ok {
				out[name] = s
			}
		}
		return out
	}
	return nil
}

// Watermark returns the watermark column, defaulting to updated_at
func (c *Config) Watermark() string {
	if c.WatermarkColumn != "" {
		return c.WatermarkColumn
	}
	return DefaultWatermarkColumn
}

// LookupField returns the configured lookup field for relation, or def
func (c *Config) LookupField(relation, def string) string {
	if f, ok := c.Lookups[relation]; ok && f != "" {
		return f
	}
	return def
}

// Validate checks that the mapping can drive a sync: a source table and every
// required canonical field must be declared.
func (c *Config) Validate(required ...string) error {
	if c.Table == "" {
		return shared.NewConfigurationError("table", "mapping does not declare a source table")
	}
	for _, field := range required {
		if _, ok := c.Fields[field]; !ok {
			return shared.NewConfigurationError("fields."+field, "required field mapping is absent")
		}
	}
	return nil
}

// EvaluateAll evaluates every mapped field of the row. JSON lookups with
// sub-field maps expand into their own canonical fields without overriding a
// field that is mapped explicitly.
func (c *Config) EvaluateAll(row Row) Values {
	out := make(Values, len(c.Fields))
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		out[name] = Evaluate(c.Fields[name], row)
	}
	for _, name := range names {
		jl, ok := asJSONLookup(c.Fields[name])
		if !ok || len(jl.Fields) == 0 {
			continue
		}
		obj := jsonObject(row, jl.Column)
		for target, path := range jl.Fields {
			if _, explicit := c.Fields[target]; explicit {
				continue
			}
			if obj == nil {
				out[target] = nil
				continue
			}
			out[target] = jsonPath(obj, path)
		}
	}
	return out
}

// MappedFields lists every canonical field the mapping can produce, including
// JSON lookup expansions.
func (c *Config) MappedFields() []string {
	seen := make(map[string]bool, len(c.Fields))
	for name, fm := range c.Fields {
		seen[name] = true
		if jl, ok := asJSONLookup(fm); ok {
			for target := range jl.Fields {
				seen[target] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func asJSONLookup(fm FieldMapping) (JSONLookup, bool) {
	switch v := fm.(type) {
	case JSONLookup:
		return v, true
	case *JSONLookup:
		return *v, true
	}
	return JSONLookup{}, false
}
