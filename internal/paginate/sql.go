package paginate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// SQLiteTimeLayout is the fixed-width UTC layout timestamps are stored with
// in SQLite, so lexical order equals chronological order.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TimeValue converts t into the form d stores timestamps in.
func (d Dialect) TimeValue(t time.Time) any {
	if d == SQLite {
		return t.UTC().Format(SQLiteTimeLayout)
	}
	return t.UTC()
}

// Arg converts v into the form d binds it with.
func (d Dialect) Arg(v any) any {
	if d != SQLite {
		return v
	}
	switch x := v.(type) {
	case time.Time:
		return d.TimeValue(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

// SQLExecutor compiles queries to a single SELECT over the base table with
// one LEFT JOIN per lookup.
type SQLExecutor struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLExecutor(db *sql.DB, d Dialect) *SQLExecutor {
	return &SQLExecutor{db: db, dialect: d}
}

type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, b.dialect.Arg(v))
	if b.dialect == Postgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

func tableAlias(lookup int) string {
	if lookup < 0 {
		return "t0"
	}
	return "j" + strconv.Itoa(lookup+1)
}

func column(ref FieldRef) string {
	return tableAlias(ref.Lookup) + "." + ref.Field.Column
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// writeFrom emits the FROM, JOIN and WHERE clauses shared by count and find.
func (b *builder) writeFrom(q *Query) {
	fmt.Fprintf(&b.sb, " FROM %s AS t0", quoteIdent(q.Base.Table))
	for i, l := range q.Lookups {
		a := tableAlias(i)
		fmt.Fprintf(&b.sb, " LEFT JOIN %s AS %s ON %s.%s = t0.%s",
			quoteIdent(l.From.Table), a, a, l.From.Fields[l.ForeignField].Column, q.Base.Fields[l.LocalField].Column)
	}
	for i, c := range q.Conditions {
		if i == 0 {
			b.sb.WriteString(" WHERE ")
		} else {
			b.sb.WriteString(" AND ")
		}
		b.writeCondition(c)
	}
}

func (b *builder) writeCondition(c Condition) {
	col := column(c.Ref)
	switch c.Op {
	case In:
		vals := c.Value.([]any)
		if len(vals) == 0 {
			b.sb.WriteString("1 = 0")
			return
		}
		phs := make([]string, len(vals))
		for i, v := range vals {
			phs[i] = b.bind(v)
		}
		fmt.Fprintf(&b.sb, "%s IN (%s)", col, strings.Join(phs, ", "))
	case Contains:
		like := "LIKE"
		if b.dialect == Postgres {
			like = "ILIKE"
		}
		fmt.Fprintf(&b.sb, `%s %s %s ESCAPE '\'`, col, like, b.bind("%"+escapeLike(c.Value.(string))+"%"))
	default:
		fmt.Fprintf(&b.sb, "%s %s %s", col, sqlOps[c.Op], b.bind(c.Value))
	}
}

var sqlOps = map[Op]string{Eq: "=", Ne: "<>", Gt: ">", Gte: ">=", Lt: "<", Lte: "<="}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type selected struct {
	alias string
	ref   FieldRef
}

func selectList(q *Query) []selected {
	var out []selected
	names := make([]string, 0, len(q.Base.Fields))
	for n := range q.Base.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, selected{alias: n, ref: FieldRef{Name: n, Lookup: -1, Field: q.Base.Fields[n]}})
	}
	for i, l := range q.Lookups {
		for _, f := range l.Fields {
			name := l.As + "." + f
			out = append(out, selected{alias: name, ref: FieldRef{Name: name, Lookup: i, Field: l.From.Fields[f]}})
		}
	}
	return out
}

func (e *SQLExecutor) Count(ctx context.Context, q *Query) (int64, error) {
	b := &builder{dialect: e.dialect}
	b.sb.WriteString("SELECT COUNT(*)")
	b.writeFrom(q)

	var n int64
	if err := e.db.QueryRowContext(ctx, b.sb.String(), b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}

func (e *SQLExecutor) Find(ctx context.Context, q *Query, offset, limit int) ([]Document, error) {
	cols := selectList(q)
	b := &builder{dialect: e.dialect}
	b.sb.WriteString("SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		fmt.Fprintf(&b.sb, "%s AS %s", column(c.ref), quoteIdent(c.alias))
	}
	b.writeFrom(q)
	b.sb.WriteString(" ORDER BY ")
	for i, o := range q.Orders {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		// nil sorts lowest, as in the memory executor
		if o.Desc {
			fmt.Fprintf(&b.sb, "%s DESC NULLS LAST", column(o.Ref))
		} else {
			fmt.Fprintf(&b.sb, "%s ASC NULLS FIRST", column(o.Ref))
		}
	}
	fmt.Fprintf(&b.sb, " LIMIT %s OFFSET %s", b.bind(int64(limit)), b.bind(int64(offset)))

	rows, err := e.db.QueryContext(ctx, b.sb.String(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("find query: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		doc, err := assemble(q, cols, vals)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return docs, nil
}

func assemble(q *Query, cols []selected, vals []any) (Document, error) {
	doc := make(Document, len(q.Base.Fields)+len(q.Lookups))
	for i, l := range q.Lookups {
		sub := Document{}
		matched := false
		for j, c := range cols {
			if c.ref.Lookup != i {
				continue
			}
			v, err := normalize(vals[j], c.ref.Field.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.alias, err)
			}
			_, field, _ := strings.Cut(c.alias, ".")
			sub[field] = v
			matched = matched || v != nil
		}
		if matched {
			doc[l.As] = sub
		} else {
			doc[l.As] = nil
		}
	}
	for j, c := range cols {
		if c.ref.Lookup >= 0 {
			continue
		}
		v, err := normalize(vals[j], c.ref.Field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.alias, err)
		}
		doc[c.alias] = v
	}
	return doc, nil
}

// normalize maps driver values onto the Go types the memory executor uses.
func normalize(v any, t FieldType) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch t {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case Int:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case Time:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			for _, layout := range []string{SQLiteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, x); err == nil {
					return ts.UTC(), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("unexpected value %v (%T)", v, v)
}
