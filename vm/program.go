package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"fortio.org/safecast"
	"github.com/quill-lang/quill/ast"
)

// ExprID is a handle into Program.Exprs.
type ExprID uint32

const NoExpr ExprID = math.MaxUint32

var ErrBadExpr = errors.New("expression id out of range")

// Capture says where a new closure reads one captured value from.
type Capture struct {
	Op     Opcode // STACK_REF or CAPTURE_REF
	Offset int
}

type LambdaParam struct {
	Name       string
	Annotation ExprID
}

type Expr struct {
	Code     Opcode
	Location ast.Location
	Value    Value
	Offset   int
	Name     string
	Args     []ExprID
	Body     ExprID
	Params   []LambdaParam
	Captures []Capture
}

// Binding is a top-level name and its absolute slot on the value stack.
type Binding struct {
	Name string
	Slot int
}

// Program is the compiled form of one module: an arena of expressions plus
// the top-level statement list. Lambdas point back into the same arena.
type Program struct {
	SourceID   string
	Exprs      []Expr
	Statements []ExprID
	Result     ExprID
	Bindings   []Binding
	Exports    []string
}

func NewProgram(sourceID string) *Program {
	return &Program{SourceID: sourceID, Result: NoExpr}
}

func (p *Program) Add(e Expr) (ExprID, error) {
	id, err := safecast.Conv[uint32](len(p.Exprs))
	if err != nil {
		return NoExpr, fmt.Errorf("program too large: %w", err)
	}
	if ExprID(id) == NoExpr {
		return NoExpr, errors.New("program too large")
	}
	p.Exprs = append(p.Exprs, e)
	return ExprID(id), nil
}

func (p *Program) Get(id ExprID) (*Expr, error) {
	if int(id) >= len(p.Exprs) {
		return nil, fmt.Errorf("%w: %d", ErrBadExpr, id)
	}
	return &p.Exprs[id], nil
}

func (p *Program) IsExported(name string) bool {
	for _, e := range p.Exports {
		if e == name {
			return true
		}
	}
	return false
}

func (p *Program) DebugPrint(w io.Writer) {
	fmt.Fprintf(w, "Program %q (%d exprs)\n", p.SourceID, len(p.Exprs))
	for _, id := range p.Statements {
		p.printExpr(w, id, 1)
	}
	if p.Result != NoExpr {
		fmt.Fprintln(w, "  result:")
		p.printExpr(w, p.Result, 2)
	}
	for _, b := range p.Bindings {
		fmt.Fprintf(w, "  binding %s -> slot %d\n", b.Name, b.Slot)
	}
	if len(p.Exports) > 0 {
		fmt.Fprintf(w, "  exports: %s\n", strings.Join(p.Exports, ", "))
	}
}

func (p *Program) printExpr(w io.Writer, id ExprID, depth int) {
	pad := strings.Repeat("  ", depth)
	e, err := p.Get(id)
	if err != nil {
		fmt.Fprintf(w, "%s<%v>\n", pad, err)
		return
	}
	switch e.Code {
	case VALUE:
		fmt.Fprintf(w, "%s%03d %s %s\n", pad, id, e.Code, e.Value)
	case STACK_REF, CAPTURE_REF:
		fmt.Fprintf(w, "%s%03d %s %d\n", pad, id, e.Code, e.Offset)
	case ASSIGN:
		fmt.Fprintf(w, "%s%03d %s %s\n", pad, id, e.Code, e.Name)
		p.printExpr(w, e.Body, depth+1)
	case LAMBDA:
		names := make([]string, len(e.Params))
		for i, param := range e.Params {
			names[i] = param.Name
		}
		fmt.Fprintf(w, "%s%03d %s %s(%s) captures=%v\n", pad, id, e.Code, e.Name, strings.Join(names, ", "), e.Captures)
		p.printExpr(w, e.Body, depth+1)
	default:
		fmt.Fprintf(w, "%s%03d %s\n", pad, id, e.Code)
		for _, a := range e.Args {
			p.printExpr(w, a, depth+1)
		}
		if e.Code == BLOCK || e.Code == CALL {
			p.printExpr(w, e.Body, depth+1)
		}
	}
}
