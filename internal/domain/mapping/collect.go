package mapping

import (
	"regexp"
	"sort"
	"strings"
)

// Columns returns the source columns a single mapping reads, in the order
// they appear.
func Columns(m FieldMapping) []string {
	switch fm := m.(type) {
	case Column:
		return nonEmpty(fm.Name)
	case *Column:
		return nonEmpty(fm.Name)
	case ValueTable:
		return nonEmpty(fm.Column)
	case *ValueTable:
		return nonEmpty(fm.Column)
	case RegexCleanup:
		return nonEmpty(fm.Column, fm.FallbackColumn)
	case *RegexCleanup:
		return nonEmpty(fm.Column, fm.FallbackColumn)
	case JSONLookup:
		return nonEmpty(fm.Column)
	case *JSONLookup:
		return nonEmpty(fm.Column)
	case Concatenate:
		return nonEmpty(append(placeholders(fm.Template), fm.Fields...)...)
	case *Concatenate:
		return nonEmpty(append(placeholders(fm.Template), fm.Fields...)...)
	case Fallback:
		return nonEmpty(fm.Primary, fm.Secondary)
	case *Fallback:
		return nonEmpty(fm.Primary, fm.Secondary)
	case DateDiff:
		return nonEmpty(fm.Start, fm.End)
	case *DateDiff:
		return nonEmpty(fm.Start, fm.End)
	case Formula:
		return nonEmpty(append(formulaColumns(fm.Template), fm.Fields...)...)
	case *Formula:
		return nonEmpty(append(formulaColumns(fm.Template), fm.Fields...)...)
	}
	return nil
}

var formulaIdentifier = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*`)

// formulaColumns returns placeholders plus bare identifiers of a formula
func formulaColumns(template string) []string {
	cols := placeholders(template)
	bare := placeholderPattern.ReplaceAllString(template, " ")
	return append(cols, formulaIdentifier.FindAllString(bare, -1)...)
}

func nonEmpty(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// CollectColumns derives the minimal set of source columns needed to evaluate
// cfg: every column referenced by any field (items included), the watermark
// column, the parent key and any extra mandatory columns. The result is sorted.
func CollectColumns(cfg *Config, mandatory ...string) []string {
	set := map[string]struct{}{}
	add := func(names ...string) {
		for _, n := range nonEmpty(names...) {
			set[n] = struct{}{}
		}
	}

	var walk func(c *Config)
	walk = func(c *Config) {
		if c == nil {
			return
		}
		for _, fm := range c.Fields {
			add(Columns(fm)...)
		}
		walk(c.Items)
	}
	walk(cfg)

	if cfg != nil {
		add(cfg.Watermark(), cfg.ParentKey)
	}
	add(mandatory...)

	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CollectFromRaw parses raw and collects its columns. ok is false when the
// document cannot be read, in which case callers fall back to selecting all
// columns.
func CollectFromRaw(raw []byte, mandatory ...string) (columns []string, ok bool) {
	cfg, err := Parse(raw)
	if err != nil {
		return nil, false
	}
	return CollectColumns(cfg, mandatory...), true
}
