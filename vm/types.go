package vm

import (
	"slices"
	"strings"
)

// Type is a static or runtime type. Static checks use Compatible, runtime
// checks use Check.
type Type interface {
	String() string
	Check(v Value) bool
	isType()
}

type anyType struct{}

type kindType struct {
	kind Kind
}

type ArrayType struct {
	Elem Type
}

// DictType is structural. A DictType without Keys matches any dict.
type DictType struct {
	Keys   []string
	Fields map[string]Type
}

// LambdaType with nil Inputs accepts any arity.
type LambdaType struct {
	Inputs []Type
	Output Type
}

type UnionType struct {
	Members []Type
}

var (
	TAny    Type = anyType{}
	TVoid   Type = kindType{VoidKind}
	TNumber Type = kindType{NumberKind}
	TString Type = kindType{StringKind}
	TBool   Type = kindType{BoolKind}
	TDist   Type = kindType{DistKind}
	TDomain Type = kindType{DomainKind}
	TTable  Type = kindType{TableKind}
	TCalc   Type = kindType{CalculatorKind}
	// TAnyDict matches any dict.
	TAnyDict Type = &DictType{}
	// TAnyArray matches any list.
	TAnyArray Type = &ArrayType{Elem: TAny}
	// TAnyLambda matches any function.
	TAnyLambda Type = &LambdaType{Output: TAny}
)

func (anyType) isType()     {}
func (kindType) isType()    {}
func (*ArrayType) isType()  {}
func (*DictType) isType()   {}
func (*LambdaType) isType() {}
func (*UnionType) isType()  {}

func (anyType) String() string    { return "Any" }
func (t kindType) String() string { return t.kind.String() }

func (t *ArrayType) String() string {
	return "List(" + t.Elem.String() + ")"
}

func (t *DictType) String() string {
	if len(t.Keys) == 0 {
		return "Dict"
	}
	parts := make([]string, len(t.Keys))
	for i, k := range t.Keys {
		parts[i] = k + ": " + t.Fields[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (t *LambdaType) String() string {
	if t.Inputs == nil {
		return "Function"
	}
	parts := make([]string, len(t.Inputs))
	for i, in := range t.Inputs {
		parts[i] = in.String()
	}
	return "(" + strings.Join(parts, ", ") + ") => " + t.Output.String()
}

func (t *UnionType) String() string {
	parts := make([]string, len(t.Members))
	for i, m := range t.Members {
		parts[i] = m.String()
	}
	return strings.Join(parts, "|")
}

func (anyType) Check(Value) bool { return true }

func (t kindType) Check(v Value) bool {
	return v.Kind() == t.kind
}

func (t *ArrayType) Check(v Value) bool {
	arr, ok := v.(*Array)
	if !ok {
		return false
	}
	if _, isAny := t.Elem.(anyType); isAny {
		return true
	}
	for _, item := range arr.Items {
		if !t.Elem.Check(item) {
			return false
		}
	}
	return true
}

func (t *DictType) Check(v Value) bool {
	d, ok := v.(*Dict)
	if !ok {
		return false
	}
	for _, k := range t.Keys {
		field, ok := d.Get(k)
		if !ok || !t.Fields[k].Check(field) {
			return false
		}
	}
	return true
}

func (t *LambdaType) Check(v Value) bool {
	l, ok := v.(Lambda)
	if !ok {
		return false
	}
	if t.Inputs == nil {
		return true
	}
	return slices.Contains(l.ParameterCounts(), len(t.Inputs))
}

func (t *UnionType) Check(v Value) bool {
	for _, m := range t.Members {
		if m.Check(v) {
			return true
		}
	}
	return false
}

// Union collapses duplicates; a single member is returned unwrapped.
func Union(types ...Type) Type {
	var members []Type
	seen := map[string]bool{}
	for _, t := range types {
		if _, isAny := t.(anyType); isAny {
			return TAny
		}
		if u, ok := t.(*UnionType); ok {
			for _, m := range u.Members {
				if !seen[m.String()] {
					seen[m.String()] = true
					members = append(members, m)
				}
			}
			continue
		}
		if !seen[t.String()] {
			seen[t.String()] = true
			members = append(members, t)
		}
	}
	switch len(members) {
	case 0:
		return TAny
	case 1:
		return members[0]
	}
	return &UnionType{Members: members}
}

// Compatible reports whether a value of static type arg may satisfy param.
// Unknown types are optimistically compatible; the runtime check decides.
func Compatible(param, arg Type) bool {
	if _, ok := param.(anyType); ok {
		return true
	}
	if _, ok := arg.(anyType); ok {
		return true
	}
	if u, ok := arg.(*UnionType); ok {
		for _, m := range u.Members {
			if Compatible(param, m) {
				return true
			}
		}
		return false
	}
	switch p := param.(type) {
	case *UnionType:
		for _, m := range p.Members {
			if Compatible(m, arg) {
				return true
			}
		}
		return false
	case kindType:
		a, ok := arg.(kindType)
		return ok && a.kind == p.kind
	case *ArrayType:
		a, ok := arg.(*ArrayType)
		return ok && Compatible(p.Elem, a.Elem)
	case *DictType:
		a, ok := arg.(*DictType)
		if !ok {
			return false
		}
		if len(a.Keys) == 0 {
			return true
		}
		for _, k := range p.Keys {
			f, ok := a.Fields[k]
			if !ok || !Compatible(p.Fields[k], f) {
				return false
			}
		}
		return true
	case *LambdaType:
		a, ok := arg.(*LambdaType)
		if !ok {
			return false
		}
		return p.Inputs == nil || a.Inputs == nil || len(p.Inputs) == len(a.Inputs)
	}
	return false
}

// TypeOf infers the type of a runtime value.
func TypeOf(v Value) Type {
	switch v := v.(type) {
	case *Array:
		if len(v.Items) == 0 {
			return TAnyArray
		}
		elems := make([]Type, len(v.Items))
		for i, item := range v.Items {
			elems[i] = TypeOf(item)
		}
		return &ArrayType{Elem: Union(elems...)}
	case *Dict:
		t := &DictType{Keys: v.Keys(), Fields: make(map[string]Type, v.Len())}
		for _, k := range t.Keys {
			field, _ := v.Get(k)
			t.Fields[k] = TypeOf(field)
		}
		return t
	case *BuiltinLambda:
		if len(v.Definitions) == 1 {
			d := v.Definitions[0]
			return &LambdaType{Inputs: d.Inputs, Output: d.output()}
		}
		outputs := make([]Type, len(v.Definitions))
		for i, d := range v.Definitions {
			outputs[i] = d.output()
		}
		return &LambdaType{Output: Union(outputs...)}
	case *UserDefinedLambda:
		inputs := make([]Type, len(v.Params))
		for i := range inputs {
			inputs[i] = TAny
		}
		return &LambdaType{Inputs: inputs, Output: TAny}
	}
	return kindType{v.Kind()}
}
