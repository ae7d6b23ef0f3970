package compiler

import (
	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
)

const IndexLookup = "$_atIndex_$"

var infixFunctions = map[string]string{
	"+":  "add",
	"-":  "subtract",
	"*":  "multiply",
	"/":  "divide",
	"^":  "pow",
	"==": "equal",
	"!=": "unequal",
	"<":  "smaller",
	"<=": "smallerEq",
	">":  "larger",
	">=": "largerEq",
	"&&": "and",
	"||": "or",
}

var unaryFunctions = map[string]string{
	"-": "unaryMinus",
	"!": "not",
}

type analyzer struct {
	sourceID  string
	externals Externals
}

// Analyze resolves names and infers a type for every node.
func Analyze(prog *ast.Program, sourceID string, externals Externals) (*TypedProgram, error) {
	a := &analyzer{sourceID: sourceID, externals: externals}
	out := &TypedProgram{SourceID: sourceID, Imports: prog.Imports}
	var sc *scope
	for _, stmt := range prog.Statements {
		node, next, err := a.statement(stmt, sc, true)
		if err != nil {
			return nil, err
		}
		sc = next
		out.Statements = append(out.Statements, node)
	}
	if prog.Result != nil {
		res, err := a.expr(prog.Result, sc)
		if err != nil {
			return nil, err
		}
		out.Result = res
	}
	log.Trace().Str("source", sourceID).Int("statements", len(out.Statements)).Msg("analyzed program")
	return out, nil
}

func (a *analyzer) statement(stmt ast.Stmt, sc *scope, topLevel bool) (*TypedNode, *scope, error) {
	var (
		name       string
		exported   bool
		decorators []*ast.Decorator
		valueExpr  ast.Expr
	)
	switch s := stmt.(type) {
	case *ast.LetStatement:
		name, exported, decorators, valueExpr = s.Name, s.Exported, s.Decorators, s.Value
	case *ast.DefunStatement:
		name, exported, decorators, valueExpr = s.Name, s.Exported, s.Decorators, s.Lambda
	default:
		return nil, nil, errs.NewCompileError(stmt.Loc(), "unsupported statement %T", stmt)
	}
	if exported && !topLevel {
		return nil, nil, errs.NewCompileError(stmt.Loc(), "Exports aren't allowed in blocks")
	}
	value, err := a.expr(valueExpr, sc)
	if err != nil {
		return nil, nil, err
	}
	if value.Kind == LambdaNode && value.Name == "" {
		value.Name = name
	}
	// Decorators apply innermost first: the one closest to the definition wraps first.
	for i := len(decorators) - 1; i >= 0; i-- {
		value, err = a.decorate(decorators[i], value, sc)
		if err != nil {
			return nil, nil, err
		}
	}
	node := &TypedNode{
		Kind:     LetNode,
		Location: stmt.Loc(),
		Type:     value.Type,
		Name:     name,
		Exported: exported,
		Children: []*TypedNode{value},
	}
	return node, sc.Define(name, value.Type), nil
}

func (a *analyzer) decorate(d *ast.Decorator, value *TypedNode, sc *scope) (*TypedNode, error) {
	fnName := "Tag." + d.Name
	if _, ok := a.externals.Get(fnName); !ok {
		return nil, errs.NewCompileError(d.Location, "Unknown decorator @%s", d.Name)
	}
	fn := &ast.Identifier{Name: fnName, Location: d.Location}
	callee, err := a.expr(fn, sc)
	if err != nil {
		return nil, err
	}
	args := []*TypedNode{value}
	for _, arg := range d.Args {
		t, err := a.expr(arg, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	return a.call(d.Location, callee, args)
}

func (a *analyzer) expr(e ast.Expr, sc *scope) (*TypedNode, error) {
	switch e := e.(type) {
	case *ast.Number:
		return literal(e.Location, vm.NewNumber(e.Value)), nil
	case *ast.String:
		return literal(e.Location, vm.NewString(e.Value)), nil
	case *ast.Bool:
		return literal(e.Location, vm.NewBool(e.Value)), nil
	case *ast.Identifier:
		return a.identifier(e.Location, e.Name, sc)
	case *ast.Block:
		return a.block(e, sc)
	case *ast.Lambda:
		return a.lambda(e, sc)
	case *ast.Call:
		return a.callExprs(e.Location, e.Fn, e.Args, sc)
	case *ast.InfixCall:
		fn := &ast.Identifier{Name: infixFunctions[e.Op], Location: e.Location}
		return a.callExprs(e.Location, fn, []ast.Expr{e.Left, e.Right}, sc)
	case *ast.UnaryCall:
		fn := &ast.Identifier{Name: unaryFunctions[e.Op], Location: e.Location}
		return a.callExprs(e.Location, fn, []ast.Expr{e.Arg}, sc)
	case *ast.Pipe:
		args := append([]ast.Expr{e.Left}, e.Args...)
		return a.callExprs(e.Location, e.Fn, args, sc)
	case *ast.DotLookup:
		fn := &ast.Identifier{Name: IndexLookup, Location: e.Location}
		key := &ast.String{Value: e.Key, Location: e.Location}
		return a.callExprs(e.Location, fn, []ast.Expr{e.Arg, key}, sc)
	case *ast.BracketLookup:
		fn := &ast.Identifier{Name: IndexLookup, Location: e.Location}
		return a.callExprs(e.Location, fn, []ast.Expr{e.Arg, e.Key}, sc)
	case *ast.Ternary:
		return a.ternary(e, sc)
	case *ast.Array:
		return a.array(e, sc)
	case *ast.Dict:
		return a.dict(e, sc)
	}
	return nil, errs.NewCompileError(e.Loc(), "unsupported expression %T", e)
}

func literal(loc ast.Location, v vm.Value) *TypedNode {
	return &TypedNode{Kind: LiteralNode, Location: loc, Type: vm.TypeOf(v), Value: v}
}

func (a *analyzer) identifier(loc ast.Location, name string, sc *scope) (*TypedNode, error) {
	if t, ok := sc.Lookup(name); ok {
		return &TypedNode{Kind: IdentifierNode, Location: loc, Type: t, Name: name}, nil
	}
	if v, ok := a.externals.Get(name); ok {
		return &TypedNode{Kind: IdentifierNode, Location: loc, Type: vm.TypeOf(v), Name: name, Value: v, External: true}, nil
	}
	return nil, errs.NewCompileError(loc, "`%s` is not defined", name)
}

func (a *analyzer) block(b *ast.Block, sc *scope) (*TypedNode, error) {
	node := &TypedNode{Kind: BlockNode, Location: b.Location}
	inner := sc
	for _, stmt := range b.Statements {
		s, next, err := a.statement(stmt, inner, false)
		if err != nil {
			return nil, err
		}
		inner = next
		node.Children = append(node.Children, s)
	}
	res, err := a.expr(b.Result, inner)
	if err != nil {
		return nil, err
	}
	node.Children = append(node.Children, res)
	node.Type = res.Type
	return node, nil
}

func (a *analyzer) lambda(l *ast.Lambda, sc *scope) (*TypedNode, error) {
	node := &TypedNode{Kind: LambdaNode, Location: l.Location, Name: l.Name}
	inner := sc
	inputs := make([]vm.Type, len(l.Params))
	for i, p := range l.Params {
		param := &TypedParam{Name: p.Name, Location: p.Location}
		inputs[i] = vm.TAny
		if p.Annotation != nil {
			// Annotations see the enclosing scope, not sibling parameters.
			ann, err := a.expr(p.Annotation, sc)
			if err != nil {
				return nil, err
			}
			param.Annotation = ann
			inputs[i] = vm.TNumber
		}
		node.Params = append(node.Params, param)
		inner = inner.Define(p.Name, inputs[i])
	}
	body, err := a.expr(l.Body, inner)
	if err != nil {
		return nil, err
	}
	node.Children = []*TypedNode{body}
	node.Type = &vm.LambdaType{Inputs: inputs, Output: body.Type}
	return node, nil
}

func (a *analyzer) callExprs(loc ast.Location, fn ast.Expr, args []ast.Expr, sc *scope) (*TypedNode, error) {
	callee, err := a.expr(fn, sc)
	if err != nil {
		return nil, err
	}
	typedArgs := make([]*TypedNode, len(args))
	for i, arg := range args {
		typedArgs[i], err = a.expr(arg, sc)
		if err != nil {
			return nil, err
		}
	}
	return a.call(loc, callee, typedArgs)
}

// call infers the result type. Builtins resolve against their signature list
// in declaration order and the first compatible one wins; when none is
// compatible the type is unknown and the reducer reports the mismatch.
func (a *analyzer) call(loc ast.Location, callee *TypedNode, args []*TypedNode) (*TypedNode, error) {
	node := &TypedNode{Kind: CallNode, Location: loc, Type: vm.TAny}
	node.Children = append([]*TypedNode{callee}, args...)
	argTypes := make([]vm.Type, len(args))
	for i, arg := range args {
		argTypes[i] = arg.Type
	}
	if b, ok := callee.Value.(*vm.BuiltinLambda); ok && callee.External {
		if def, ok := b.Resolve(argTypes); ok && def.Output != nil {
			node.Type = def.Output
		}
		return node, nil
	}
	lt, ok := callee.Type.(*vm.LambdaType)
	if !ok {
		if vm.Compatible(vm.TAnyLambda, callee.Type) {
			return node, nil
		}
		return nil, errs.NewCompileError(callee.Location, "%s is not a function", callee.Type)
	}
	if lt.Inputs != nil && len(lt.Inputs) != len(args) {
		return nil, errs.NewCompileError(loc, "%s", vm.ArityMessage(len(lt.Inputs), len(args)))
	}
	if lt.Output != nil {
		node.Type = lt.Output
	}
	return node, nil
}

func (a *analyzer) ternary(t *ast.Ternary, sc *scope) (*TypedNode, error) {
	node := &TypedNode{Kind: TernaryNode, Location: t.Location}
	for _, e := range []ast.Expr{t.Cond, t.Then, t.Else} {
		c, err := a.expr(e, sc)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, c)
	}
	if !vm.Compatible(vm.TBool, node.Children[0].Type) {
		return nil, errs.NewCompileError(t.Cond.Loc(), "Condition must be a Bool, got %s", node.Children[0].Type)
	}
	node.Type = vm.Union(node.Children[1].Type, node.Children[2].Type)
	return node, nil
}

// array types are the union of element types; equal element types collapse.
func (a *analyzer) array(arr *ast.Array, sc *scope) (*TypedNode, error) {
	node := &TypedNode{Kind: ArrayNode, Location: arr.Location, Type: vm.TAnyArray}
	var elems []vm.Type
	for _, e := range arr.Elements {
		c, err := a.expr(e, sc)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, c)
		elems = append(elems, c.Type)
	}
	if len(elems) > 0 {
		node.Type = &vm.ArrayType{Elem: vm.Union(elems...)}
	}
	return node, nil
}

func (a *analyzer) dict(d *ast.Dict, sc *scope) (*TypedNode, error) {
	node := &TypedNode{Kind: DictNode, Location: d.Location}
	typ := &vm.DictType{Fields: map[string]vm.Type{}}
	structural := true
	for _, entry := range d.Entries {
		k, err := a.expr(entry.Key, sc)
		if err != nil {
			return nil, err
		}
		v, err := a.expr(entry.Value, sc)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, k, v)
		key, ok := k.Value.(*vm.String)
		if !ok || k.Kind != LiteralNode {
			structural = false
			continue
		}
		if _, seen := typ.Fields[key.V]; !seen {
			typ.Keys = append(typ.Keys, key.V)
		}
		typ.Fields[key.V] = v.Type
	}
	if structural {
		node.Type = typ
	} else {
		node.Type = vm.TAnyDict
	}
	return node, nil
}
