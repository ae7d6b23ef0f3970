package codec

import (
	"fmt"
	"math"
	"slices"

	"fortio.org/safecast"
	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/vm"
)

const (
	KindValue   = "value"
	KindLambda  = "lambda"
	KindProgram = "program"
	KindTags    = "tags"
)

// Builtins resolves builtin lambdas by name on the receiving side.
type Builtins interface {
	Builtin(name string) (*vm.BuiltinLambda, bool)
}

// NewTable builds the entity table for quill values. Builtins are written by
// name and looked up in lib when read back.
func NewTable(lib Builtins) Table {
	return Table{
		KindValue:   {Serialize: serializeValue, Deserialize: deserializeValue},
		KindLambda:  {Serialize: serializeLambda, Deserialize: lambdaDeserializer(lib)},
		KindProgram: {Serialize: serializeProgram, Deserialize: deserializeProgram},
		KindTags:    {Serialize: serializeTags, Deserialize: deserializeTags},
	}
}

func (s *Serializer) tags(t *vm.Tags) (Entrypoint, error) {
	if t.IsEmpty() {
		return Entrypoint{}, nil
	}
	return s.Serialize(KindTags, t)
}

func (d *Deserializer) tags(ep Entrypoint) (*vm.Tags, error) {
	if ep.IsZero() {
		return nil, nil
	}
	return Get[*vm.Tags](d, ep)
}

func serializeTags(_ *Serializer, v any) (Node, error) {
	t := v.(*vm.Tags)
	n := Node{Kind: "tags", Text: t.Name, Texts: []string{t.Doc}}
	if ed := t.ExportData; ed != nil {
		n.Flag = true
		n.Source = ed.SourceID
		n.Texts = append(n.Texts, ed.Path...)
	}
	return n, nil
}

func deserializeTags(_ *Deserializer, n Node) (any, error) {
	if len(n.Texts) < 1 {
		return nil, corrupt("tags node without doc")
	}
	t := &vm.Tags{Name: n.Text, Doc: n.Texts[0]}
	if n.Flag {
		t.ExportData = &vm.ExportData{SourceID: n.Source, Path: append([]string{}, n.Texts[1:]...)}
	}
	return t, nil
}

func serializeValue(s *Serializer, v any) (Node, error) {
	val, ok := v.(vm.Value)
	if !ok {
		return Node{}, fmt.Errorf("not a value: %T", v)
	}
	var n Node
	switch val := val.(type) {
	case *vm.Void:
		n.Kind = "void"
	case *vm.Number:
		n.Kind, n.Number = "number", val.V
	case *vm.String:
		n.Kind, n.Text = "string", val.V
	case *vm.Bool:
		n.Kind, n.Flag = "bool", val.V
	case *vm.Array:
		n.Kind = "array"
		for _, item := range val.Items {
			ep, err := s.Serialize(KindValue, item)
			if err != nil {
				return Node{}, err
			}
			n.Refs = append(n.Refs, ep)
		}
	case *vm.Dict:
		n.Kind = "dict"
		n.Texts = val.Keys()
		for _, item := range val.Values() {
			ep, err := s.Serialize(KindValue, item)
			if err != nil {
				return Node{}, err
			}
			n.Refs = append(n.Refs, ep)
		}
	case *vm.Domain:
		n.Kind, n.Floats = "domain", []float64{val.Min, val.Max}
	case *vm.SampleSet:
		n.Kind, n.Floats = "sampleset", val.Samples
	case *vm.Table:
		// Refs: one lambda per column, then the rows.
		n.Kind = "table"
		for _, c := range val.Columns {
			ep, err := s.Serialize(KindValue, c.Fn)
			if err != nil {
				return Node{}, err
			}
			n.Texts = append(n.Texts, c.Name)
			n.Refs = append(n.Refs, ep)
		}
		for _, row := range val.Data {
			ep, err := s.Serialize(KindValue, row)
			if err != nil {
				return Node{}, err
			}
			n.Refs = append(n.Refs, ep)
		}
	case *vm.Calculator:
		// Texts: title, description, input names. Refs: fn, input defaults.
		n.Kind, n.Flag, n.Number = "calculator", val.Autorun, float64(val.SampleCount)
		n.Texts = []string{val.Title, val.Description}
		fn, err := s.Serialize(KindValue, val.Fn)
		if err != nil {
			return Node{}, err
		}
		n.Refs = []Entrypoint{fn}
		for _, in := range val.Inputs {
			var ep Entrypoint
			if in.Default != nil {
				if ep, err = s.Serialize(KindValue, in.Default); err != nil {
					return Node{}, err
				}
			}
			n.Texts = append(n.Texts, in.Name)
			n.Refs = append(n.Refs, ep)
		}
	case vm.Lambda:
		ep, err := s.Serialize(KindLambda, val)
		if err != nil {
			return Node{}, err
		}
		// Lambda nodes carry their own tags.
		return Node{Kind: "lambda", Refs: []Entrypoint{ep}}, nil
	default:
		return Node{}, fmt.Errorf("can't serialize %T", val)
	}
	tags, err := s.tags(val.Tags())
	if err != nil {
		return Node{}, err
	}
	n.Tags = tags
	return n, nil
}

func deserializeValue(d *Deserializer, n Node) (any, error) {
	var v vm.Value
	switch n.Kind {
	case "void":
		v = vm.NewVoid()
	case "number":
		v = vm.NewNumber(n.Number)
	case "string":
		v = vm.NewString(n.Text)
	case "bool":
		v = vm.NewBool(n.Flag)
	case "array":
		items, err := d.values(n.Refs)
		if err != nil {
			return nil, err
		}
		v = vm.NewArray(items)
	case "dict":
		if len(n.Texts) != len(n.Refs) {
			return nil, corrupt("dict with %d keys and %d values", len(n.Texts), len(n.Refs))
		}
		values, err := d.values(n.Refs)
		if err != nil {
			return nil, err
		}
		v = vm.NewDict(n.Texts, values)
	case "domain":
		if len(n.Floats) != 2 {
			return nil, corrupt("domain needs two bounds")
		}
		dom, err := vm.NewDomain(n.Floats[0], n.Floats[1])
		if err != nil {
			return nil, corrupt("%v", err)
		}
		v = dom
	case "sampleset":
		v = vm.NewSampleSet(n.Floats)
	case "table":
		if len(n.Refs) < len(n.Texts) {
			return nil, corrupt("table with %d columns and %d references", len(n.Texts), len(n.Refs))
		}
		columns := make([]vm.TableColumn, len(n.Texts))
		for i, name := range n.Texts {
			fn, err := d.lambdaValue(n.Refs[i])
			if err != nil {
				return nil, err
			}
			columns[i] = vm.TableColumn{Name: name, Fn: fn}
		}
		rows, err := d.values(n.Refs[len(n.Texts):])
		if err != nil {
			return nil, err
		}
		t, err := vm.NewTable(rows, columns)
		if err != nil {
			return nil, corrupt("%v", err)
		}
		v = t
	case "calculator":
		if len(n.Texts) < 2 || len(n.Refs) != len(n.Texts)-1 {
			return nil, corrupt("malformed calculator")
		}
		sampleCount, err := safecast.Conv[int](n.Number)
		if err != nil {
			return nil, corrupt("calculator sample count %v", n.Number)
		}
		fn, err := d.lambdaValue(n.Refs[0])
		if err != nil {
			return nil, err
		}
		c := &vm.Calculator{
			Fn:          fn,
			Title:       n.Texts[0],
			Description: n.Texts[1],
			Autorun:     n.Flag,
			SampleCount: sampleCount,
		}
		for i, name := range n.Texts[2:] {
			in := vm.CalculatorInput{Name: name}
			if ep := n.Refs[1+i]; !ep.IsZero() {
				if in.Default, err = Get[vm.Value](d, ep); err != nil {
					return nil, err
				}
			}
			c.Inputs = append(c.Inputs, in)
		}
		if err := c.Validate(); err != nil {
			return nil, corrupt("%v", err)
		}
		v = c
	case "lambda":
		if len(n.Refs) != 1 {
			return nil, corrupt("lambda value without a lambda reference")
		}
		return Get[vm.Lambda](d, n.Refs[0])
	default:
		return nil, corrupt("unknown value kind %q", n.Kind)
	}
	tags, err := d.tags(n.Tags)
	if err != nil {
		return nil, err
	}
	if tags != nil {
		v = v.WithTags(tags)
	}
	return v, nil
}

func (d *Deserializer) lambdaValue(ep Entrypoint) (vm.Lambda, error) {
	v, err := Get[vm.Value](d, ep)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(vm.Lambda)
	if !ok {
		return nil, corrupt("expected a lambda, got %s", v.Kind())
	}
	return fn, nil
}

func (d *Deserializer) values(refs []Entrypoint) ([]vm.Value, error) {
	out := make([]vm.Value, len(refs))
	for i, ep := range refs {
		v, err := Get[vm.Value](d, ep)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func serializeLambda(s *Serializer, v any) (Node, error) {
	var n Node
	switch l := v.(type) {
	case *vm.BuiltinLambda:
		n = Node{Kind: "builtin", Text: l.Name}
	case *vm.UserDefinedLambda:
		n = Node{Kind: "user", Text: l.Name}
		n.Source, n.Span = location(l.Location)
		prog, err := s.Serialize(KindProgram, l.Program)
		if err != nil {
			return Node{}, err
		}
		n.Refs = append(n.Refs, prog)
		for _, p := range l.Params {
			n.Texts = append(n.Texts, p.Name)
			var dom Entrypoint
			if p.Domain != nil {
				if dom, err = s.Serialize(KindValue, p.Domain); err != nil {
					return Node{}, err
				}
			}
			n.Refs = append(n.Refs, dom)
		}
		for _, c := range l.Captures {
			ep, err := s.Serialize(KindValue, c)
			if err != nil {
				return Node{}, err
			}
			n.Refs = append(n.Refs, ep)
		}
		n.Ints = []int64{int64(l.Body)}
	default:
		return Node{}, fmt.Errorf("can't serialize lambda %T", v)
	}
	tags, err := s.tags(v.(vm.Value).Tags())
	if err != nil {
		return Node{}, err
	}
	n.Tags = tags
	return n, nil
}

func lambdaDeserializer(lib Builtins) func(d *Deserializer, n Node) (any, error) {
	return func(d *Deserializer, n Node) (any, error) {
		var l vm.Value
		switch n.Kind {
		case "builtin":
			if lib == nil {
				return nil, corrupt("no builtins to resolve %s", n.Text)
			}
			b, ok := lib.Builtin(n.Text)
			if !ok {
				return nil, corrupt("unknown builtin %s", n.Text)
			}
			l = b
		case "user":
			if len(n.Refs) < 1+len(n.Texts) || len(n.Ints) != 1 {
				return nil, corrupt("malformed lambda %s", n.Text)
			}
			prog, err := Get[*vm.Program](d, n.Refs[0])
			if err != nil {
				return nil, err
			}
			body, err := exprID(n.Ints[0], prog)
			if err != nil {
				return nil, err
			}
			if body == vm.NoExpr {
				return nil, corrupt("lambda %s without a body", n.Text)
			}
			fn := &vm.UserDefinedLambda{
				Name:     n.Text,
				Program:  prog,
				Body:     body,
				Location: fromSpan(n.Source, n.Span),
			}
			for i, name := range n.Texts {
				p := vm.Param{Name: name}
				if ep := n.Refs[1+i]; !ep.IsZero() {
					dv, err := Get[vm.Value](d, ep)
					if err != nil {
						return nil, err
					}
					dom, ok := dv.(*vm.Domain)
					if !ok {
						return nil, corrupt("parameter %s domain is %s", name, dv.Kind())
					}
					p.Domain = dom
				}
				fn.Params = append(fn.Params, p)
			}
			if fn.Captures, err = d.values(n.Refs[1+len(n.Texts):]); err != nil {
				return nil, err
			}
			l = fn
		default:
			return nil, corrupt("unknown lambda kind %q", n.Kind)
		}
		tags, err := d.tags(n.Tags)
		if err != nil {
			return nil, err
		}
		if tags != nil {
			l = l.WithTags(tags)
		}
		return l, nil
	}
}

func location(loc ast.Location) (string, []int64) {
	return loc.Source, []int64{
		int64(loc.Start.Line), int64(loc.Start.Column), int64(loc.Start.Offset),
		int64(loc.End.Line), int64(loc.End.Column), int64(loc.End.Offset),
	}
}

func fromSpan(source string, span []int64) ast.Location {
	loc := ast.Location{Source: source}
	if len(span) == 6 {
		loc.Start = ast.Position{Line: int(span[0]), Column: int(span[1]), Offset: int(span[2])}
		loc.End = ast.Position{Line: int(span[3]), Column: int(span[4]), Offset: int(span[5])}
	}
	return loc
}

func exprID(v int64, prog *vm.Program) (vm.ExprID, error) {
	if v == int64(vm.NoExpr) {
		return vm.NoExpr, nil
	}
	id, err := safecast.Conv[uint32](v)
	if err != nil || int(id) >= len(prog.Exprs) {
		return vm.NoExpr, corrupt("expression %d out of range (%d exprs)", v, len(prog.Exprs))
	}
	return vm.ExprID(id), nil
}

func exprIDs(vs []int64, prog *vm.Program) ([]vm.ExprID, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([]vm.ExprID, len(vs))
	for i, v := range vs {
		id, err := exprID(v, prog)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func ids(in []vm.ExprID) []int64 {
	out := make([]int64, len(in))
	for i, id := range in {
		out[i] = int64(id)
	}
	return out
}

// Program nodes hold a header, the bindings and then one child per expression.
func serializeProgram(s *Serializer, v any) (Node, error) {
	p, ok := v.(*vm.Program)
	if !ok || p == nil {
		return Node{}, fmt.Errorf("not a program: %T", v)
	}
	header := Node{Kind: "header", Ints: append([]int64{int64(p.Result)}, ids(p.Statements)...), Texts: p.Exports}
	bindings := Node{Kind: "bindings"}
	for _, b := range p.Bindings {
		bindings.Texts = append(bindings.Texts, b.Name)
		bindings.Ints = append(bindings.Ints, int64(b.Slot))
	}
	n := Node{Kind: "program", Text: p.SourceID, Children: []Node{header, bindings}}
	for _, e := range p.Exprs {
		en := Node{
			Kind: "expr",
			Text: e.Name,
			Ints: append([]int64{int64(e.Code), int64(e.Offset), int64(e.Body)}, ids(e.Args)...),
		}
		en.Source, en.Span = location(e.Location)
		if e.Value != nil {
			ep, err := s.Serialize(KindValue, e.Value)
			if err != nil {
				return Node{}, err
			}
			en.Refs = []Entrypoint{ep}
		}
		for _, param := range e.Params {
			en.Children = append(en.Children, Node{Kind: "param", Text: param.Name, Ints: []int64{int64(param.Annotation)}})
		}
		for _, c := range e.Captures {
			en.Children = append(en.Children, Node{Kind: "capture", Ints: []int64{int64(c.Op), int64(c.Offset)}})
		}
		n.Children = append(n.Children, en)
	}
	return n, nil
}

// checkOperands rejects expressions the reducer could not evaluate.
func checkOperands(i int, e *vm.Expr) error {
	bad := func(format string, args ...any) error {
		return corrupt("expression %d (%s): %s", i, e.Code, fmt.Sprintf(format, args...))
	}
	switch e.Code {
	case vm.VALUE:
		if e.Value == nil {
			return bad("no value")
		}
	case vm.STACK_REF, vm.CAPTURE_REF:
		if e.Offset < 0 {
			return bad("negative offset %d", e.Offset)
		}
	case vm.BLOCK, vm.ASSIGN, vm.CALL:
		if e.Body == vm.NoExpr {
			return bad("no body")
		}
	case vm.LAMBDA:
		if e.Body == vm.NoExpr {
			return bad("no body")
		}
		for _, c := range e.Captures {
			if (c.Op != vm.STACK_REF && c.Op != vm.CAPTURE_REF) || c.Offset < 0 {
				return bad("invalid capture %s %d", c.Op, c.Offset)
			}
		}
	case vm.TERNARY:
		if len(e.Args) != 3 {
			return bad("%d operands, want 3", len(e.Args))
		}
	case vm.BUILD_LIST:
	case vm.BUILD_DICT:
		if len(e.Args)%2 != 0 {
			return bad("odd number of operands")
		}
	default:
		return bad("unknown opcode")
	}
	if slices.Contains(e.Args, vm.NoExpr) {
		return bad("empty operand")
	}
	return nil
}

func deserializeProgram(d *Deserializer, n Node) (any, error) {
	if n.Kind != "program" || len(n.Children) < 2 {
		return nil, corrupt("malformed program node")
	}
	header, bindings := n.Children[0], n.Children[1]
	if len(header.Ints) < 1 || len(bindings.Texts) != len(bindings.Ints) {
		return nil, corrupt("malformed program header")
	}
	p := vm.NewProgram(n.Text)
	p.Exprs = make([]vm.Expr, len(n.Children)-2)
	var err error
	if p.Result, err = exprID(header.Ints[0], p); err != nil {
		return nil, err
	}
	if p.Statements, err = exprIDs(header.Ints[1:], p); err != nil {
		return nil, err
	}
	if slices.Contains(p.Statements, vm.NoExpr) {
		return nil, corrupt("empty statement in program %s", n.Text)
	}
	p.Exports = header.Texts
	for i, name := range bindings.Texts {
		p.Bindings = append(p.Bindings, vm.Binding{Name: name, Slot: int(bindings.Ints[i])})
	}
	for i, en := range n.Children[2:] {
		if len(en.Ints) < 3 || en.Ints[0] < 0 || en.Ints[0] > math.MaxUint8 {
			return nil, corrupt("malformed expression %d", i)
		}
		e := vm.Expr{
			Code:     vm.Opcode(en.Ints[0]),
			Offset:   int(en.Ints[1]),
			Name:     en.Text,
			Location: fromSpan(en.Source, en.Span),
		}
		if e.Body, err = exprID(en.Ints[2], p); err != nil {
			return nil, err
		}
		if e.Args, err = exprIDs(en.Ints[3:], p); err != nil {
			return nil, err
		}
		if len(en.Refs) == 1 {
			if e.Value, err = Get[vm.Value](d, en.Refs[0]); err != nil {
				return nil, err
			}
		}
		for _, c := range en.Children {
			switch {
			case c.Kind == "param" && len(c.Ints) == 1:
				ann, err := exprID(c.Ints[0], p)
				if err != nil {
					return nil, err
				}
				e.Params = append(e.Params, vm.LambdaParam{Name: c.Text, Annotation: ann})
			case c.Kind == "capture" && len(c.Ints) == 2:
				e.Captures = append(e.Captures, vm.Capture{Op: vm.Opcode(c.Ints[0]), Offset: int(c.Ints[1])})
			default:
				return nil, corrupt("malformed expression %d child %q", i, c.Kind)
			}
		}
		if err := checkOperands(i, &e); err != nil {
			return nil, err
		}
		p.Exprs[i] = e
	}
	return p, nil
}
