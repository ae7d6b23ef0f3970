package vm

import (
	"math"
	"slices"
)

// Equal compares values structurally, ignoring tags. Closures compare by
// shape and captures, builtins by name.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case *Void:
		return true
	case *Number:
		bv := b.(*Number).V
		return a.V == bv || (math.IsNaN(a.V) && math.IsNaN(bv))
	case *String:
		return a.V == b.(*String).V
	case *Bool:
		return a.V == b.(*Bool).V
	case *Array:
		bb := b.(*Array)
		return slices.EqualFunc(a.Items, bb.Items, Equal)
	case *Dict:
		bb := b.(*Dict)
		if !slices.Equal(a.keys, bb.keys) {
			return false
		}
		for _, k := range a.keys {
			if !Equal(a.values[k], bb.values[k]) {
				return false
			}
		}
		return true
	case *SampleSet:
		return slices.Equal(a.Samples, b.(*SampleSet).Samples)
	case *Domain:
		bb := b.(*Domain)
		return a.Min == bb.Min && a.Max == bb.Max
	case *Table:
		bb := b.(*Table)
		return slices.EqualFunc(a.Data, bb.Data, Equal) &&
			slices.EqualFunc(a.Columns, bb.Columns, func(x, y TableColumn) bool {
				return x.Name == y.Name && Equal(x.Fn, y.Fn)
			})
	case *Calculator:
		bb := b.(*Calculator)
		return a.Title == bb.Title && a.Description == bb.Description &&
			a.Autorun == bb.Autorun && a.SampleCount == bb.SampleCount &&
			Equal(a.Fn, bb.Fn) &&
			slices.EqualFunc(a.Inputs, bb.Inputs, func(x, y CalculatorInput) bool {
				return x.Name == y.Name && Equal(x.Default, y.Default)
			})
	case *BuiltinLambda:
		bb, ok := b.(*BuiltinLambda)
		return ok && a.Name == bb.Name
	case *UserDefinedLambda:
		bb, ok := b.(*UserDefinedLambda)
		if !ok || a.Name != bb.Name || a.Body != bb.Body || len(a.Params) != len(bb.Params) {
			return false
		}
		for i, p := range a.Params {
			q := bb.Params[i]
			if p.Name != q.Name || (p.Domain == nil) != (q.Domain == nil) {
				return false
			}
			if p.Domain != nil && !Equal(p.Domain, q.Domain) {
				return false
			}
		}
		if (a.Program == nil) != (bb.Program == nil) {
			return false
		}
		if a.Program != nil && len(a.Program.Exprs) != len(bb.Program.Exprs) {
			return false
		}
		return slices.EqualFunc(a.Captures, bb.Captures, Equal)
	}
	return false
}

// EqualTagged is Equal plus equal tags on the top-level values and on dict and list members.
func EqualTagged(a, b Value) bool {
	if !Equal(a, b) || !a.Tags().Equal(b.Tags()) {
		return false
	}
	switch a := a.(type) {
	case *Array:
		return slices.EqualFunc(a.Items, b.(*Array).Items, EqualTagged)
	case *Dict:
		bb := b.(*Dict)
		for _, k := range a.keys {
			if !EqualTagged(a.values[k], bb.values[k]) {
				return false
			}
		}
	}
	return true
}

func Truthy(v Value) (bool, bool) {
	b, ok := v.(*Bool)
	if !ok {
		return false, false
	}
	return b.V, true
}

func NumbersOf(items []Value) ([]float64, bool) {
	out := make([]float64, len(items))
	for i, item := range items {
		n, ok := item.(*Number)
		if !ok {
			return nil, false
		}
		out[i] = n.V
	}
	return out, true
}
