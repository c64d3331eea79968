package mapping

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Row is one record read from a tenant source. Column names are whatever the
// source driver reports; values are driver-native scalars.
type Row map[string]any

// Get returns the value of column, falling back to a case-insensitive match
// since SQL Server and PostgreSQL report identifier case differently.
func (r Row) Get(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// Values holds evaluated canonical field values. A nil value means the field
// could not be resolved for the row.
type Values map[string]any

// Has reports whether field resolved to a non-nil value
func (v Values) Has(field string) bool {
	val, ok := v[field]
	return ok && val != nil
}

// Treatment tags as stored in tenant mapping documents
const (
	TagValueTable   = "mapear_valores"
	TagRegexCleanup = "limpeza_regex"
	TagJSONLookup   = "mapear_json"
	TagConcatenate  = "concatenar_campos"
	TagFallback     = "usar_um_ou_outro"
	TagDateDiff     = "diferenca_entre_datas"
	TagFormula      = "formula_matematica"
)

// FieldMapping is the closed set of treatments a canonical field can be mapped
// with. The unexported method keeps the set closed to this package.
type FieldMapping interface {
	// Tag returns the treatment tag, empty for a plain column reference
	Tag() string
	isFieldMapping()
}

// Column maps a canonical field directly to a source column
type Column struct {
	Name string
}

// ValueTable translates raw source values through a literal table
type ValueTable struct {
	Column  string
	Values  map[string]any
	Default any
	// Strict makes unmapped raw values resolve to Default (nil when unset)
	// instead of passing through unchanged.
	Strict bool
}

// RegexCleanup replaces every match of Pattern in the column value
type RegexCleanup struct {
	Column      string
	Pattern     string
	Replacement string
	// FallbackColumn is read when Column is absent from the row. Older mapping
	// documents stored the real column under options instead of field.
	FallbackColumn string

	re *regexp.Regexp
}

// JSONLookup reads a JSON object from Column. Key selects the value of the
// field itself; Fields expands further canonical fields from the same object.
type JSONLookup struct {
	Column string
	Key    string
	Fields map[string]string
}

// Concatenate renders Template, replacing {column} placeholders
type Concatenate struct {
	Template string
	Fields   []string
}

// Fallback uses Primary when it is non-empty, else Secondary
type Fallback struct {
	Primary   string
	Secondary string
}

// DateDiff yields the number of days from Start to End
type DateDiff struct {
	Start string
	End   string
}

// Formula evaluates an arithmetic template over {column} placeholders
type Formula struct {
	Template string
	Fields   []string
}

func (Column) Tag() string       { return "" }
func (ValueTable) Tag() string   { return TagValueTable }
func (RegexCleanup) Tag() string { return TagRegexCleanup }
func (JSONLookup) Tag() string   { return TagJSONLookup }
func (Concatenate) Tag() string  { return TagConcatenate }
func (Fallback) Tag() string     { return TagFallback }
func (DateDiff) Tag() string     { return TagDateDiff }
func (Formula) Tag() string      { return TagFormula }

func (Column) isFieldMapping()       {}
func (ValueTable) isFieldMapping()   {}
func (RegexCleanup) isFieldMapping() {}
func (JSONLookup) isFieldMapping()   {}
func (Concatenate) isFieldMapping()  {}
func (Fallback) isFieldMapping()     {}
func (DateDiff) isFieldMapping()     {}
func (Formula) isFieldMapping()      {}

// NewRegexCleanup builds a RegexCleanup with its pattern compiled. An invalid
// pattern is kept so the mapping still evaluates (to nil).
func NewRegexCleanup(column, pattern, replacement, fallbackColumn string) RegexCleanup {
	rc := RegexCleanup{
		Column:         column,
		Pattern:        pattern,
		Replacement:    replacement,
		FallbackColumn: fallbackColumn,
	}
	if re, err := regexp.Compile(pattern); err == nil {
		rc.re = re
	}
	return rc
}

func (r RegexCleanup) regexp() *regexp.Regexp {
	if r.re != nil {
		return r.re
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return nil
	}
	return re
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// placeholders returns the column names referenced as {name} in template
func placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Evaluate resolves m against row. It never panics and never fails: any input
// it cannot interpret yields nil.
func Evaluate(m FieldMapping, row Row) (result any) {
	defer func() {
		if recover() != nil {
			result = nil
		}
	}()

	switch fm := m.(type) {
	case Column:
		return columnValue(row, fm.Name)
	case *Column:
		return columnValue(row, fm.Name)
	case ValueTable:
		return evalValueTable(fm, row)
	case *ValueTable:
		return evalValueTable(*fm, row)
	case RegexCleanup:
		return evalRegexCleanup(fm, row)
	case *RegexCleanup:
		return evalRegexCleanup(*fm, row)
	case JSONLookup:
		return evalJSONLookup(fm, row)
	case *JSONLookup:
		return evalJSONLookup(*fm, row)
	case Concatenate:
		return evalConcatenate(fm, row)
	case *Concatenate:
		return evalConcatenate(*fm, row)
	case Fallback:
		return evalFallback(fm, row)
	case *Fallback:
		return evalFallback(*fm, row)
	case DateDiff:
		return evalDateDiff(fm, row)
	case *DateDiff:
		return evalDateDiff(*fm, row)
	case Formula:
		return evalFormula(fm, row)
	case *Formula:
		return evalFormula(*fm, row)
	default:
		return nil
	}
}

// columnValue returns the normalized column value: []byte becomes string,
// strings are trimmed and empty strings become nil.
func columnValue(row Row, column string) any {
	if column == "" {
		return nil
	}
	v, ok := row.Get(column)
	if !ok {
		return nil
	}
	return normalizeScalar(v)
}

func normalizeScalar(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return normalizeScalar(string(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		return s
	case *string:
		if val == nil {
			return nil
		}
		return normalizeScalar(*val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	default:
		return v
	}
}

func evalValueTable(vt ValueTable, row Row) any {
	raw := columnValue(row, vt.Column)
	if raw == nil {
		return vt.Default
	}
	key, ok := AsString(raw)
	if !ok {
		return nil
	}
	if mapped, found := vt.Values[key]; found {
		return normalizeScalar(mapped)
	}
	if vt.Strict || vt.Default != nil {
		return vt.Default
	}
	return raw
}

func evalRegexCleanup(rc RegexCleanup, row Row) any {
	raw, ok := row.Get(rc.Column)
	if (!ok || rc.Column == "") && rc.FallbackColumn != "" {
		raw, ok = row.Get(rc.FallbackColumn)
	}
	if !ok {
		return nil
	}
	s, isStr := AsString(normalizeScalar(raw))
	if !isStr {
		return nil
	}
	re := rc.regexp()
	if re == nil {
		return nil
	}
	return normalizeScalar(re.ReplaceAllString(s, rc.Replacement))
}

func evalJSONLookup(jl JSONLookup, row Row) any {
	if jl.Key == "" {
		return nil
	}
	obj := jsonObject(row, jl.Column)
	if obj == nil {
		return nil
	}
	return jsonPath(obj, jl.Key)
}

// jsonObject returns row[column] as a decoded JSON object
func jsonObject(row Row, column string) map[string]any {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	case Row:
		return v
	case []byte:
		return decodeObject(v)
	case string:
		return decodeObject([]byte(v))
	case json.RawMessage:
		return decodeObject(v)
	}
	return nil
}

func decodeObject(b []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	return obj
}

// jsonPath walks a dot separated path through nested objects
func jsonPath(obj map[string]any, path string) any {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	switch cur.(type) {
	case map[string]any, []any:
		// only scalars are valid field values
		return nil
	}
	return normalizeScalar(cur)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func evalConcatenate(c Concatenate, row Row) any {
	out := placeholderPattern.ReplaceAllStringFunc(c.Template, func(ph string) string {
		name := strings.TrimSpace(ph[1 : len(ph)-1])
		s, _ := AsString(columnValue(row, name))
		return s
	})
	out = strings.TrimSpace(whitespaceRun.ReplaceAllString(out, " "))
	if out == "" {
		return nil
	}
	return out
}

func evalFallback(f Fallback, row Row) any {
	if v := columnValue(row, f.Primary); v != nil {
		return v
	}
	return columnValue(row, f.Secondary)
}

func evalDateDiff(d DateDiff, row Row) any {
	start, ok := AsDate(columnValue(row, d.Start))
	if !ok {
		return nil
	}
	end, ok := AsDate(columnValue(row, d.End))
	if !ok {
		return nil
	}
	return int64(end.Sub(start).Hours() / 24)
}

func evalFormula(f Formula, row Row) any {
	d, ok := evaluateFormula(f.Template, row)
	if !ok {
		return nil
	}
	return d
}
