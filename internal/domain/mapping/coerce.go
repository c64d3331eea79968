package mapping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AsString converts a scalar to its string form. Empty strings report false.
func AsString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case []byte:
		return AsString(string(val))
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return AsString(val.String())
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case [16]byte:
		return uuid.UUID(val).String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// AsDecimal converts a scalar to a decimal. Strings in Brazilian format
// ("1.234,56") are accepted as well as plain "1234.56".
func AsDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return val, true
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero, false
		}
		return *val, true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt32(val), true
	case int64:
		return decimal.NewFromInt(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(val), true
	case []byte:
		return AsDecimal(string(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Zero, false
		}
		s = strings.ReplaceAll(s, " ", "")
		if strings.Contains(s, ",") {
			if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
				s = strings.ReplaceAll(s, ".", "")
				s = strings.Replace(s, ",", ".", 1)
			} else {
				s = strings.ReplaceAll(s, ",", "")
			}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// AsInt converts a scalar to int64, truncating decimals
func AsInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	d, ok := AsDecimal(v)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// AsBool interprets common truthy/falsy encodings (S/N, sim/nao, 1/0, true/false)
func AsBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case int, int32, int64, float64:
		n, _ := AsInt(val)
		return n != 0, true
	}
	s, ok := AsString(v)
	if !ok {
		return false, false
	}
	switch strings.ToLower(s) {
	case "1", "true", "t", "s", "sim", "y", "yes", "a", "ativo", "active":
		return true, true
	case "0", "false", "f", "n", "nao", "não", "no", "i", "inativo", "inactive":
		return false, true
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// AsTime converts a scalar to a UTC time. Timestamps without zone are taken as UTC.
func AsTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return val.UTC(), true
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return AsTime(*val)
	}
	s, ok := AsString(v)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// AsDate parses a YYYY-MM-DD calendar date. Longer timestamps are accepted when
// their first ten characters form a valid date.
func AsDate(v any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	s, ok := AsString(v)
	if !ok || len(s) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return time.Time{}, false
	}
	if len(s) > 10 && s[10] != 'T' && s[10] != ' ' {
		return time.Time{}, false
	}
	return t, true
}
