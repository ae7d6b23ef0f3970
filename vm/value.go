package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Kind int

const (
	VoidKind Kind = iota
	NumberKind
	StringKind
	BoolKind
	ArrayKind
	DictKind
	LambdaKind
	DistKind
	DomainKind
	TableKind
	CalculatorKind
)

func (k Kind) String() string {
	switch k {
	case VoidKind:
		return "Void"
	case NumberKind:
		return "Number"
	case StringKind:
		return "String"
	case BoolKind:
		return "Bool"
	case ArrayKind:
		return "List"
	case DictKind:
		return "Dict"
	case LambdaKind:
		return "Lambda"
	case DistKind:
		return "Dist"
	case DomainKind:
		return "Domain"
	case TableKind:
		return "Table"
	case CalculatorKind:
		return "Calculator"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a runtime value. All implementations are pointers, so identity
// is pointer identity; tagging produces a copy.
type Value interface {
	Kind() Kind
	Tags() *Tags
	WithTags(t *Tags) Value
	String() string
	isValue()
}

type tagged struct {
	tags *Tags
}

func (t tagged) Tags() *Tags {
	return t.tags
}

type Void struct {
	tagged
}

type Number struct {
	tagged
	V float64
}

type String struct {
	tagged
	V string
}

type Bool struct {
	tagged
	V bool
}

type Array struct {
	tagged
	Items []Value
}

// Dict keeps insertion order.
type Dict struct {
	tagged
	keys   []string
	values map[string]Value
}

func NewVoid() *Void                { return &Void{} }
func NewNumber(v float64) *Number   { return &Number{V: v} }
func NewString(v string) *String    { return &String{V: v} }
func NewBool(v bool) *Bool          { return &Bool{V: v} }
func NewArray(items []Value) *Array { return &Array{Items: items} }

// NewDict builds a dict from parallel key/value slices. Later duplicates win
// but keep the first key position.
func NewDict(keys []string, values []Value) *Dict {
	d := &Dict{values: make(map[string]Value, len(keys))}
	for i, k := range keys {
		if _, ok := d.values[k]; !ok {
			d.keys = append(d.keys, k)
		}
		d.values[k] = values[i]
	}
	return d
}

func (*Void) Kind() Kind   { return VoidKind }
func (*Number) Kind() Kind { return NumberKind }
func (*String) Kind() Kind { return StringKind }
func (*Bool) Kind() Kind   { return BoolKind }
func (*Array) Kind() Kind  { return ArrayKind }
func (*Dict) Kind() Kind   { return DictKind }

func (*Void) isValue()   {}
func (*Number) isValue() {}
func (*String) isValue() {}
func (*Bool) isValue()   {}
func (*Array) isValue()  {}
func (*Dict) isValue()   {}

func (v *Void) WithTags(t *Tags) Value   { c := *v; c.tags = t; return &c }
func (v *Number) WithTags(t *Tags) Value { c := *v; c.tags = t; return &c }
func (v *String) WithTags(t *Tags) Value { c := *v; c.tags = t; return &c }
func (v *Bool) WithTags(t *Tags) Value   { c := *v; c.tags = t; return &c }
func (v *Array) WithTags(t *Tags) Value  { c := *v; c.tags = t; return &c }
func (v *Dict) WithTags(t *Tags) Value   { c := *v; c.tags = t; return &c }

func (*Void) String() string { return "()" }

func (v *Number) String() string {
	return FormatNumber(v.V)
}

func (v *String) String() string {
	return strconv.Quote(v.V)
}

func (v *Bool) String() string {
	return strconv.FormatBool(v.V)
}

func (v *Array) String() string {
	parts := make([]string, len(v.Items))
	for i, item := range v.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *Dict) String() string {
	parts := make([]string, len(v.keys))
	for i, k := range v.keys {
		parts[i] = k + ": " + v.values[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

func (d *Dict) Len() int {
	return len(d.keys)
}

// Values returns values in key order.
func (d *Dict) Values() []Value {
	out := make([]Value, len(d.keys))
	for i, k := range d.keys {
		out[i] = d.values[k]
	}
	return out
}

// SortedKeys is used where a deterministic order independent of insertion is wanted.
func (d *Dict) SortedKeys() []string {
	keys := d.Keys()
	sort.Strings(keys)
	return keys
}

func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
