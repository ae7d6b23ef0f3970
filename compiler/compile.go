package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
)

type scopeKind int

const (
	blockScope scopeKind = iota
	functionScope
)

// compileScope tracks stack positions, counted from the first value the
// scope pushed. Function scopes also collect captures.
type compileScope struct {
	kind         scopeKind
	stack        map[string]int
	size         int
	captures     []vm.Capture
	captureIndex map[string]int
}

type compileContext struct {
	prog   *vm.Program
	scopes []*compileScope
}

// Compile analyzes and lowers prog into an Expression program.
func Compile(prog *ast.Program, sourceID string, externals Externals) (*vm.Program, error) {
	typed, err := Analyze(prog, sourceID, externals)
	if err != nil {
		return nil, err
	}
	return Lower(typed)
}

// Lower turns an analyzed program into the Expression IR.
func Lower(typed *TypedProgram) (*vm.Program, error) {
	cc := &compileContext{prog: vm.NewProgram(typed.SourceID)}
	cc.startScope(blockScope)
	for _, stmt := range typed.Statements {
		id, err := cc.let(stmt)
		if err != nil {
			return nil, err
		}
		cc.prog.Statements = append(cc.prog.Statements, id)
	}
	if typed.Result != nil {
		id, err := cc.expr(typed.Result)
		if err != nil {
			return nil, err
		}
		cc.prog.Result = id
	}
	top := cc.scopes[0]
	for name, slot := range top.stack {
		cc.prog.Bindings = append(cc.prog.Bindings, vm.Binding{Name: name, Slot: slot})
	}
	sort.Slice(cc.prog.Bindings, func(i, j int) bool {
		return cc.prog.Bindings[i].Slot < cc.prog.Bindings[j].Slot
	})
	cc.prog.Exports = typed.Exports()
	log.Trace().
		Str("source", typed.SourceID).
		Int("exprs", len(cc.prog.Exprs)).
		Strs("exports", cc.prog.Exports).
		Msg("lowered program")
	return cc.prog, nil
}

func (cc *compileContext) startScope(kind scopeKind) {
	cc.scopes = append(cc.scopes, &compileScope{
		kind:         kind,
		stack:        map[string]int{},
		captureIndex: map[string]int{},
	})
}

func (cc *compileContext) finishScope() *compileScope {
	s := cc.scopes[len(cc.scopes)-1]
	cc.scopes = cc.scopes[:len(cc.scopes)-1]
	return s
}

func (cc *compileContext) defineLocal(name string) {
	s := cc.scopes[len(cc.scopes)-1]
	s.stack[name] = s.size
	s.size++
}

func (cc *compileContext) emit(e vm.Expr) (vm.ExprID, error) {
	return cc.prog.Add(e)
}

var errUnresolved = errors.New("unresolved name")

// resolve walks scopes outwards. Crossing a function boundary turns the
// reference into a capture of that function.
func (cc *compileContext) resolve(name string, depth int) (vm.Capture, error) {
	offset := 0
	for i := depth; i >= 0; i-- {
		s := cc.scopes[i]
		if pos, ok := s.stack[name]; ok {
			return vm.Capture{Op: vm.STACK_REF, Offset: offset + s.size - 1 - pos}, nil
		}
		offset += s.size
		if s.kind != functionScope {
			continue
		}
		if idx, ok := s.captureIndex[name]; ok {
			return vm.Capture{Op: vm.CAPTURE_REF, Offset: idx}, nil
		}
		outer, err := cc.resolve(name, i-1)
		if err != nil {
			return vm.Capture{}, err
		}
		s.captureIndex[name] = len(s.captures)
		s.captures = append(s.captures, outer)
		return vm.Capture{Op: vm.CAPTURE_REF, Offset: s.captureIndex[name]}, nil
	}
	return vm.Capture{}, errUnresolved
}

func (cc *compileContext) let(n *TypedNode) (vm.ExprID, error) {
	if n.Kind != LetNode {
		return vm.NoExpr, errs.NewCompileError(n.Location, "expected a definition, got %s", n.Kind)
	}
	value, err := cc.expr(n.Children[0])
	if err != nil {
		return vm.NoExpr, err
	}
	cc.defineLocal(n.Name)
	return cc.emit(vm.Expr{Code: vm.ASSIGN, Location: n.Location, Name: n.Name, Body: value})
}

func (cc *compileContext) expr(n *TypedNode) (vm.ExprID, error) {
	switch n.Kind {
	case LiteralNode:
		return cc.emit(vm.Expr{Code: vm.VALUE, Location: n.Location, Value: n.Value})
	case IdentifierNode:
		if n.External {
			return cc.emit(vm.Expr{Code: vm.VALUE, Location: n.Location, Value: n.Value})
		}
		ref, err := cc.resolve(n.Name, len(cc.scopes)-1)
		if err != nil {
			return vm.NoExpr, errs.NewCompileError(n.Location, "`%s` is not defined", n.Name)
		}
		return cc.emit(vm.Expr{Code: ref.Op, Location: n.Location, Offset: ref.Offset})
	case BlockNode:
		return cc.block(n)
	case LambdaNode:
		return cc.lambda(n)
	case CallNode, TernaryNode, ArrayNode, DictNode:
		args, err := cc.exprs(n.Children)
		if err != nil {
			return vm.NoExpr, err
		}
		switch n.Kind {
		case CallNode:
			return cc.emit(vm.Expr{Code: vm.CALL, Location: n.Location, Body: args[0], Args: args[1:]})
		case TernaryNode:
			return cc.emit(vm.Expr{Code: vm.TERNARY, Location: n.Location, Args: args})
		case ArrayNode:
			return cc.emit(vm.Expr{Code: vm.BUILD_LIST, Location: n.Location, Args: args})
		default:
			return cc.emit(vm.Expr{Code: vm.BUILD_DICT, Location: n.Location, Args: args})
		}
	case LetNode:
		return vm.NoExpr, errs.NewCompileError(n.Location, "definition used as an expression")
	}
	return vm.NoExpr, fmt.Errorf("unhandled node kind %s", n.Kind)
}

func (cc *compileContext) exprs(nodes []*TypedNode) ([]vm.ExprID, error) {
	out := make([]vm.ExprID, len(nodes))
	for i, c := range nodes {
		id, err := cc.expr(c)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (cc *compileContext) block(n *TypedNode) (vm.ExprID, error) {
	cc.startScope(blockScope)
	defer cc.finishScope()
	stmts := n.Children[:len(n.Children)-1]
	var ids []vm.ExprID
	for _, s := range stmts {
		id, err := cc.let(s)
		if err != nil {
			return vm.NoExpr, err
		}
		ids = append(ids, id)
	}
	result, err := cc.expr(n.Children[len(n.Children)-1])
	if err != nil {
		return vm.NoExpr, err
	}
	return cc.emit(vm.Expr{Code: vm.BLOCK, Location: n.Location, Args: ids, Body: result})
}

func (cc *compileContext) lambda(n *TypedNode) (vm.ExprID, error) {
	params := make([]vm.LambdaParam, len(n.Params))
	for i, p := range n.Params {
		params[i] = vm.LambdaParam{Name: p.Name, Annotation: vm.NoExpr}
		if p.Annotation != nil {
			ann, err := cc.expr(p.Annotation)
			if err != nil {
				return vm.NoExpr, err
			}
			params[i].Annotation = ann
		}
	}
	cc.startScope(functionScope)
	for _, p := range n.Params {
		cc.defineLocal(p.Name)
	}
	body, err := cc.expr(n.Children[0])
	scope := cc.finishScope()
	if err != nil {
		return vm.NoExpr, err
	}
	return cc.emit(vm.Expr{
		Code:     vm.LAMBDA,
		Location: n.Location,
		Name:     n.Name,
		Params:   params,
		Captures: scope.captures,
		Body:     body,
	})
}
