package paginate

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/example/reelhub/internal/apperr"
)

// Document is one result row. Joined collections appear as nested Documents
// under their Lookup alias.
type Document map[string]any

type FieldType int

const (
	String FieldType = iota
	Int
	Bool
	Time
)

type Field struct {
	Column string
	Type   FieldType
}

// Schema declares a collection. Only declared fields can be filtered, joined,
// sorted or returned, so caller input never reaches SQL as an identifier.
type Schema struct {
	Name  string
	Table string
	// Key names a field whose values are unique. It is the final sort key.
	Key    string
	Fields map[string]Field
}

type Op string

const (
	Eq       Op = "eq"
	Ne       Op = "ne"
	Gt       Op = "gt"
	Gte      Op = "gte"
	Lt       Op = "lt"
	Lte      Op = "lte"
	In       Op = "in"
	Contains Op = "contains"
)

// Stage is one step of a Pipeline: Match, Lookup or Sort.
type Stage interface {
	stage()
}

// Match keeps documents whose Field satisfies Op against Value. Fields of a
// preceding Lookup are addressed as "alias.field".
type Match struct {
	Field string
	Op    Op
	Value any
}

// Lookup left-joins From on LocalField = ForeignField and exposes the listed
// Fields of the joined document under As. ForeignField must be From's key.
type Lookup struct {
	From         Schema
	LocalField   string
	ForeignField string
	As           string
	Fields       []string
}

type SortKey struct {
	Field string
	Desc  bool
}

type Sort struct {
	Keys []SortKey
}

func (Match) stage()  {}
func (Lookup) stage() {}
func (Sort) stage()   {}

type Pipeline []Stage

// FieldRef is a resolved field: Lookup is -1 for the base collection.
type FieldRef struct {
	Name   string
	Lookup int
	Field  Field
}

type Condition struct {
	Ref   FieldRef
	Op    Op
	Value any
}

type Order struct {
	Ref  FieldRef
	Desc bool
}

// Query is a validated pipeline. Count and Find of an executor evaluate the
// same Query, so totals and pages describe the same dataset.
type Query struct {
	Base       Schema
	Lookups    []Lookup
	Conditions []Condition
	Orders     []Order
}

func invalid(format string, args ...any) error {
	return apperr.New(apperr.Validation, fmt.Sprintf(format, args...))
}

// Compile validates p against base and appends the base key as the final
// sort key unless the caller already sorts by it.
func Compile(base Schema, p Pipeline) (*Query, error) {
	if _, ok := base.Fields[base.Key]; !ok {
		return nil, apperr.Internalf(nil, "schema %s: key %q is not a declared field", base.Name, base.Key)
	}
	q := &Query{Base: base}
	sorted := false

	for _, st := range p {
		switch s := st.(type) {
		case Lookup:
			if err := q.addLookup(s); err != nil {
				return nil, err
			}
		case Match:
			c, err := q.condition(s)
			if err != nil {
				return nil, err
			}
			q.Conditions = append(q.Conditions, c)
		case Sort:
			if sorted {
				return nil, invalid("pipeline may contain only one sort stage")
			}
			sorted = true
			for _, k := range s.Keys {
				ref, err := q.resolve(k.Field)
				if err != nil {
					return nil, err
				}
				q.Orders = append(q.Orders, Order{Ref: ref, Desc: k.Desc})
			}
		default:
			return nil, invalid("unsupported pipeline stage %T", st)
		}
	}

	for _, o := range q.Orders {
		if o.Ref.Lookup < 0 && o.Ref.Name == base.Key {
			return q, nil
		}
	}
	q.Orders = append(q.Orders, Order{Ref: FieldRef{Name: base.Key, Lookup: -1, Field: base.Fields[base.Key]}})
	return q, nil
}

func (q *Query) addLookup(l Lookup) error {
	if l.As == "" || strings.Contains(l.As, ".") {
		return invalid("lookup alias %q is invalid", l.As)
	}
	if _, clash := q.Base.Fields[l.As]; clash {
		return invalid("lookup alias %q shadows a field", l.As)
	}
	for _, prev := range q.Lookups {
		if prev.As == l.As {
			return invalid("duplicate lookup alias %q", l.As)
		}
	}
	if _, ok := q.Base.Fields[l.LocalField]; !ok {
		return invalid("unknown field %q", l.LocalField)
	}
	if _, ok := l.From.Fields[l.ForeignField]; !ok {
		return invalid("unknown field %q in %s", l.ForeignField, l.From.Name)
	}
	// a lookup attaches at most one document, so it must join on the key
	if l.ForeignField != l.From.Key {
		return invalid("lookup %q must join on %s.%s", l.As, l.From.Name, l.From.Key)
	}
	for _, f := range l.Fields {
		if _, ok := l.From.Fields[f]; !ok {
			return invalid("unknown field %q in %s", f, l.From.Name)
		}
	}
	q.Lookups = append(q.Lookups, l)
	return nil
}

func (q *Query) resolve(name string) (FieldRef, error) {
	if alias, field, nested := strings.Cut(name, "."); nested {
		for i, l := range q.Lookups {
			if l.As != alias {
				continue
			}
			for _, f := range l.Fields {
				if f == field {
					return FieldRef{Name: name, Lookup: i, Field: l.From.Fields[f]}, nil
				}
			}
		}
		return FieldRef{}, invalid("unknown field %q", name)
	}
	f, ok := q.Base.Fields[name]
	if !ok {
		return FieldRef{}, invalid("unknown field %q", name)
	}
	return FieldRef{Name: name, Lookup: -1, Field: f}, nil
}

func (q *Query) condition(m Match) (Condition, error) {
	ref, err := q.resolve(m.Field)
	if err != nil {
		return Condition{}, err
	}
	c := Condition{Ref: ref, Op: m.Op}
	switch m.Op {
	case Eq, Ne, Gt, Gte, Lt, Lte:
		c.Value, err = coerce(m.Value, ref.Field.Type)
	case In:
		c.Value, err = coerceList(m.Value, ref.Field.Type)
	case Contains:
		s, ok := m.Value.(string)
		if !ok || ref.Field.Type != String {
			return Condition{}, invalid("contains requires a string field and value")
		}
		c.Value = s
	default:
		return Condition{}, invalid("unsupported operator %q", m.Op)
	}
	if err != nil {
		return Condition{}, invalid("field %q: %v", m.Field, err)
	}
	return c, nil
}

func coerce(v any, t FieldType) (any, error) {
	switch t {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Int:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Time:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	}
	return nil, fmt.Errorf("value %v has the wrong type", v)
}

func coerceList(v any, t FieldType) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("in requires a list")
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		c, err := coerce(rv.Index(i).Interface(), t)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
