package syncapp

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	nilMarker = "\x00"
)

// Fingerprint hashes everything a unit would write: its canonical values, its
// items in the order BuildUnits sorted them and the ids its relations
// resolved to. Equal
// fingerprints mean applying the unit again changes nothing.
func Fingerprint(u *Unit, specs []RelationSpec, res *Resolution) string {
	var b strings.Builder
	writeValues(&b, u.Values)
	for _, item := range u.Items {
		b.WriteString(recordSep)
		writeValues(&b, item)
	}

	if res != nil {
		for _, spec := range specs {
			if spec.Items {
				for _, item := range u.Items {
					writeRef(&b, spec.Name, res, item[spec.Name])
				}
				continue
			}
			writeRef(&b, spec.Name, res, u.Values[spec.Name])
		}
	}
	return strconv.FormatUint(xxh3.HashString(b.String()), 16)
}

func writeValues(b *strings.Builder, values mapping.Values) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonical(values[k]))
		b.WriteString(fieldSep)
	}
}

func writeRef(b *strings.Builder, relation string, res *Resolution, raw any) {
	b.WriteString(recordSep)
	b.WriteString(relation)
	b.WriteByte('>')
	if id, ok := res.ID(relation, raw); ok {
		b.WriteString(id.String())
		return
	}
	b.WriteString(nilMarker)
}

func canonical(v any) string {
	switch val := v.(type) {
	case nil:
		return nilMarker
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return val.String()
	}
	s, ok := mapping.AsString(v)
	if !ok {
		return nilMarker
	}
	return s
}
