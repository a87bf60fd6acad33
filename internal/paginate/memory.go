package paginate

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Source hands out the documents of a collection for in-memory evaluation.
// Returned documents must not be mutated by the source afterwards.
type Source interface {
	Documents(ctx context.Context, collection string) ([]Document, error)
}

// MemoryExecutor evaluates queries in process. It backs the memory store.
type MemoryExecutor struct {
	src Source
}

func NewMemoryExecutor(src Source) *MemoryExecutor {
	return &MemoryExecutor{src: src}
}

func (m *MemoryExecutor) Count(ctx context.Context, q *Query) (int64, error) {
	docs, err := m.run(ctx, q, false)
	return int64(len(docs)), err
}

func (m *MemoryExecutor) Find(ctx context.Context, q *Query, offset, limit int) ([]Document, error) {
	docs, err := m.run(ctx, q, true)
	if err != nil {
		return nil, err
	}
	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := min(offset+limit, len(docs))
	return docs[offset:end], nil
}

func (m *MemoryExecutor) run(ctx context.Context, q *Query, ordered bool) ([]Document, error) {
	base, err := m.src.Documents(ctx, q.Base.Name)
	if err != nil {
		return nil, err
	}

	joined := make([][]Document, len(q.Lookups))
	for i, l := range q.Lookups {
		if joined[i], err = m.src.Documents(ctx, l.From.Name); err != nil {
			return nil, err
		}
	}

	out := make([]Document, 0, len(base))
	for _, src := range base {
		doc := project(src, q.Base)
		for i, l := range q.Lookups {
			doc[l.As] = lookupOne(src[l.LocalField], joined[i], l)
		}
		if matchesAll(doc, q.Conditions) {
			out = append(out, doc)
		}
	}

	if ordered {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Orders {
				c := compare(valueOf(out[i], o.Ref.Name), valueOf(out[j], o.Ref.Name))
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	return out, nil
}

func project(src Document, s Schema) Document {
	doc := make(Document, len(s.Fields))
	for name := range s.Fields {
		doc[name] = src[name]
	}
	return doc
}

func lookupOne(local any, candidates []Document, l Lookup) any {
	if local == nil {
		return nil
	}
	for _, c := range candidates {
		if compare(c[l.ForeignField], local) == 0 {
			sub := make(Document, len(l.Fields))
			for _, f := range l.Fields {
				sub[f] = c[f]
			}
			return sub
		}
	}
	return nil
}

func valueOf(doc Document, name string) any {
	if alias, field, nested := strings.Cut(name, "."); nested {
		sub, ok := doc[alias].(Document)
		if !ok {
			return nil
		}
		return sub[field]
	}
	return doc[name]
}

func matchesAll(doc Document, conds []Condition) bool {
	for _, c := range conds {
		if !matches(valueOf(doc, c.Ref.Name), c) {
			return false
		}
	}
	return true
}

// matches treats a missing value like SQL NULL: no comparison holds.
func matches(v any, c Condition) bool {
	if v == nil {
		return false
	}
	switch c.Op {
	case Eq:
		return compare(v, c.Value) == 0
	case Ne:
		return compare(v, c.Value) != 0
	case Gt:
		return compare(v, c.Value) > 0
	case Gte:
		return compare(v, c.Value) >= 0
	case Lt:
		return compare(v, c.Value) < 0
	case Lte:
		return compare(v, c.Value) <= 0
	case In:
		for _, want := range c.Value.([]any) {
			if compare(v, want) == 0 {
				return true
			}
		}
		return false
	case Contains:
		s, ok := v.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(c.Value.(string)))
	}
	return false
}

// compare orders nil before every value, matching NULLS FIRST ascending.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	default:
		if xi, ok := toInt64(a); ok {
			if yi, ok := toInt64(b); ok {
				switch {
				case xi < yi:
					return -1
				case xi > yi:
					return 1
				}
				return 0
			}
		}
	}
	return 0
}
