package compiler

import (
	"fmt"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/vm"
)

type NodeKind int

const (
	LetNode NodeKind = iota
	BlockNode
	CallNode
	LambdaNode
	TernaryNode
	ArrayNode
	DictNode
	LiteralNode
	IdentifierNode
)

func (k NodeKind) String() string {
	switch k {
	case LetNode:
		return "Let"
	case BlockNode:
		return "Block"
	case CallNode:
		return "Call"
	case LambdaNode:
		return "Lambda"
	case TernaryNode:
		return "Ternary"
	case ArrayNode:
		return "Array"
	case DictNode:
		return "Dict"
	case LiteralNode:
		return "Literal"
	case IdentifierNode:
		return "Identifier"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// TypedNode is one analyzed construct. Operators, lookups, pipes and
// decorators are already desugared into calls.
//
// Children layout by kind:
//
//	Let:     [value]
//	Block:   statements..., result
//	Call:    fn, args...
//	Lambda:  [body]
//	Ternary: cond, then, else
//	Array:   elements...
//	Dict:    key0, value0, key1, value1...
type TypedNode struct {
	Kind     NodeKind
	Location ast.Location
	Type     vm.Type
	Name     string
	Exported bool
	Value    vm.Value
	External bool
	Params   []*TypedParam
	Children []*TypedNode
}

type TypedParam struct {
	Name       string
	Annotation *TypedNode
	Location   ast.Location
}

type TypedProgram struct {
	SourceID   string
	Imports    []*ast.Import
	Statements []*TypedNode
	Result     *TypedNode
}

// Exports lists exported top-level names in declaration order.
func (p *TypedProgram) Exports() []string {
	var out []string
	for _, s := range p.Statements {
		if s.Exported {
			out = append(out, s.Name)
		}
	}
	return out
}
