package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/shared"
)

// DefaultPageSize is used when a Plan leaves PageSize unset
const DefaultPageSize = 1000

// Plan describes one incremental read of a source table
type Plan struct {
	Table string
	// Columns to select; empty selects every column
	Columns         []string
	WatermarkColumn string
	// KeyColumns break ties between rows sharing a watermark value
	KeyColumns []string
	// ParentKey groups rows into units (order header + item rows). Pages
	// are cut over distinct parent keys so a unit never straddles batches.
	ParentKey string
	// ItemKeyColumns order the rows of one parent
	ItemKeyColumns []string
	// Since excludes rows whose watermark is not strictly greater
	Since    *time.Time
	PageSize int
}

// Extractor pages through a source table in watermark order
type Extractor struct {
	conn     Conn
	plan     Plan
	pageSize int

	selectList string
	table      string
	watermark  string
	parent     string
	keys       []string
	itemKeys   []string

	offset int
	done   bool
}

// NewExtractor validates plan against the connection's dialect
func NewExtractor(conn Conn, plan Plan) (*Extractor, error) {
	if strings.TrimSpace(plan.Table) == "" {
		return nil, shared.NewConfigurationError("table", "source table is not configured")
	}
	if strings.TrimSpace(plan.WatermarkColumn) == "" {
		return nil, shared.NewConfigurationError("watermark_column", "watermark column is not configured")
	}
	d := conn.Dialect()

	table, err := d.QuoteIdent(plan.Table)
	if err != nil {
		return nil, relabel(err, "table")
	}
	watermark, err := d.QuoteIdent(plan.WatermarkColumn)
	if err != nil {
		return nil, relabel(err, "watermark_column")
	}
	keys, err := quoteAll(d, "fields.external_id", plan.KeyColumns)
	if err != nil {
		return nil, err
	}

	selectList := "*"
	if len(plan.Columns) > 0 {
		cols, err := quoteAll(d, "fields", plan.Columns)
		if err != nil {
			return nil, err
		}
		selectList = strings.Join(cols, ", ")
	}

	e := &Extractor{
		conn:       conn,
		plan:       plan,
		pageSize:   plan.PageSize,
		selectList: selectList,
		table:      table,
		watermark:  watermark,
		keys:       keys,
	}
	if e.pageSize <= 0 {
		e.pageSize = DefaultPageSize
	}
	if plan.ParentKey != "" {
		parent, err := d.QuoteIdent(plan.ParentKey)
		if err != nil {
			return nil, relabel(err, "parent_key")
		}
		e.parent = parent
		e.itemKeys, err = quoteAll(d, "items.fields.item_key", plan.ItemKeyColumns)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Done reports whether the last page was short
func (e *Extractor) Done() bool { return e.done }

// Next returns the next batch of rows. An empty batch means the source is
// exhausted.
func (e *Extractor) Next(ctx context.Context) ([]mapping.Row, error) {
	if e.done {
		return nil, nil
	}
	if e.parent != "" {
		return e.nextByParent(ctx)
	}

	query, args := e.flatQuery()
	rows, err := e.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	e.advance(len(rows))
	return rows, nil
}

func (e *Extractor) advance(n int) {
	e.offset += n
	if n < e.pageSize {
		e.done = true
	}
}

func (e *Extractor) where(prefix string) (string, []any) {
	if e.plan.Since == nil {
		return "", nil
	}
	clause := fmt.Sprintf(" %s %s > %s", prefix, e.watermark, e.conn.Dialect().Placeholder(1))
	return clause, []any{e.plan.Since.UTC()}
}

func (e *Extractor) flatQuery() (string, []any) {
	d := e.conn.Dialect()
	where, args := e.where("WHERE")
	query := fmt.Sprintf("SELECT %s FROM %s%s", e.selectList, e.table, where)
	orderBy := strings.Join(append([]string{e.watermark}, e.keys...), ", ")
	return d.Paginate(query, orderBy, e.pageSize, e.offset), args
}

func (e *Extractor) parentPageQuery() (string, []any) {
	d := e.conn.Dialect()
	where, args := e.where("WHERE")
	query := fmt.Sprintf(
		"SELECT %s AS parent_key, MAX(%s) AS max_watermark FROM %s%s GROUP BY %s",
		e.parent, e.watermark, e.table, where, e.parent,
	)
	orderBy := fmt.Sprintf("MAX(%s), %s", e.watermark, e.parent)
	return d.Paginate(query, orderBy, e.pageSize, e.offset), args
}

// parentRowsQuery selects every row of parents. Rows without a parent key
// come back as one NULL group and are fetched when withNull is set.
func (e *Extractor) parentRowsQuery(parents []any, withNull bool) (string, []any) {
	d := e.conn.Dialect()
	args := append([]any(nil), parents...)

	var cond []string
	if len(parents) > 0 {
		ph := make([]string, len(parents))
		for i := range parents {
			ph[i] = d.Placeholder(i + 1)
		}
		cond = append(cond, fmt.Sprintf("%s IN (%s)", e.parent, strings.Join(ph, ", ")))
	}
	if withNull {
		orphans := e.parent + " IS NULL"
		if e.plan.Since != nil {
			args = append(args, e.plan.Since.UTC())
			orphans = fmt.Sprintf("(%s AND %s > %s)", orphans, e.watermark, d.Placeholder(len(args)))
		}
		cond = append(cond, orphans)
	}

	orderBy := distinct(append(append([]string{e.parent}, e.itemKeys...), e.keys...))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		e.selectList, e.table, strings.Join(cond, " OR "), strings.Join(orderBy, ", "))
	return query, args
}

func distinct(cols []string) []string {
	seen := make(map[string]bool, len(cols))
	out := cols[:0]
	for _, c := range cols {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func (e *Extractor) nextByParent(ctx context.Context) ([]mapping.Row, error) {
	query, args := e.parentPageQuery()
	page, err := e.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	e.advance(len(page))
	if len(page) == 0 {
		return nil, nil
	}

	parents := make([]any, 0, len(page))
	withNull := false
	for _, r := range page {
		if v, _ := r.Get("parent_key"); v != nil {
			parents = append(parents, v)
		} else {
			withNull = true
		}
	}
	query, args = e.parentRowsQuery(parents, withNull)
	return e.conn.Query(ctx, query, args...)
}

// EstimateCount counts the rows (or parent units) the run will visit
func (e *Extractor) EstimateCount(ctx context.Context) (int64, error) {
	var query string
	var args []any
	if e.parent != "" {
		var where string
		where, args = e.where("AND")
		query = fmt.Sprintf("SELECT COUNT(DISTINCT %s) AS total FROM %s WHERE %s IS NOT NULL%s",
			e.parent, e.table, e.parent, where)
	} else {
		var where string
		where, args = e.where("WHERE")
		query = fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", e.table, where)
	}
	rows, err := e.conn.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, _ := rows[0].Get("total")
	n, ok := mapping.AsInt(v)
	if !ok {
		return 0, fmt.Errorf("unexpected count value %v", v)
	}
	return n, nil
}
