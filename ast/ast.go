package ast

import "fmt"

type Position struct {
	Line   int
	Column int
	Offset int
}

// Location is a half-open source range inside the module identified by Source.
type Location struct {
	Source string
	Start  Position
	End    Position
}

func (l Location) String() string {
	if l.Source == "" {
		return fmt.Sprintf("%d:%d", l.Start.Line, l.Start.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.Source, l.Start.Line, l.Start.Column)
}

func (l Location) IsZero() bool {
	return l.Start.Line == 0 && l.End.Line == 0
}

// Span returns a location covering both a and b. Both must share a source.
func Span(a, b Location) Location {
	return Location{Source: a.Source, Start: a.Start, End: b.End}
}

type Node interface {
	Loc() Location
}

type Expr interface {
	Node
	isExpr()
}

type Stmt interface {
	Node
	isStmt()
}

type Program struct {
	Imports    []*Import
	Statements []Stmt
	Result     Expr
	Location   Location
}

func (p *Program) Loc() Location { return p.Location }

type Import struct {
	Path     string
	Variable string
	Location Location
}

func (i *Import) Loc() Location { return i.Location }

type Decorator struct {
	Name     string
	Args     []Expr
	Location Location
}

type LetStatement struct {
	Name       string
	Exported   bool
	Decorators []*Decorator
	Value      Expr
	Location   Location
}

func (s *LetStatement) Loc() Location { return s.Location }
func (*LetStatement) isStmt()         {}

// DefunStatement is `name(params) = body`.
type DefunStatement struct {
	Name       string
	Exported   bool
	Decorators []*Decorator
	Lambda     *Lambda
	Location   Location
}

func (s *DefunStatement) Loc() Location { return s.Location }
func (*DefunStatement) isStmt()         {}

type Block struct {
	Statements []Stmt
	Result     Expr
	Location   Location
}

type Call struct {
	Fn       Expr
	Args     []Expr
	Location Location
}

type InfixCall struct {
	Op       string
	Left     Expr
	Right    Expr
	Location Location
}

type UnaryCall struct {
	Op       string
	Arg      Expr
	Location Location
}

// Pipe is `left -> fn(args...)`, equivalent to `fn(left, args...)`.
type Pipe struct {
	Left     Expr
	Fn       Expr
	Args     []Expr
	Location Location
}

type DotLookup struct {
	Arg      Expr
	Key      string
	Location Location
}

type BracketLookup struct {
	Arg      Expr
	Key      Expr
	Location Location
}

type Param struct {
	Name       string
	Annotation Expr
	Location   Location
}

type Lambda struct {
	Name     string
	Params   []*Param
	Body     Expr
	Location Location
}

type Ternary struct {
	Cond     Expr
	Then     Expr
	Else     Expr
	Location Location
}

type Array struct {
	Elements []Expr
	Location Location
}

type DictEntry struct {
	Key      Expr
	Value    Expr
	Location Location
}

type Dict struct {
	Entries  []*DictEntry
	Location Location
}

type Number struct {
	Value    float64
	Location Location
}

type String struct {
	Value    string
	Location Location
}

type Bool struct {
	Value    bool
	Location Location
}

type Identifier struct {
	Name     string
	Location Location
}

func (e *Block) Loc() Location         { return e.Location }
func (e *Call) Loc() Location          { return e.Location }
func (e *InfixCall) Loc() Location     { return e.Location }
func (e *UnaryCall) Loc() Location     { return e.Location }
func (e *Pipe) Loc() Location          { return e.Location }
func (e *DotLookup) Loc() Location     { return e.Location }
func (e *BracketLookup) Loc() Location { return e.Location }
func (e *Lambda) Loc() Location        { return e.Location }
func (e *Ternary) Loc() Location       { return e.Location }
func (e *Array) Loc() Location         { return e.Location }
func (e *Dict) Loc() Location          { return e.Location }
func (e *Number) Loc() Location        { return e.Location }
func (e *String) Loc() Location        { return e.Location }
func (e *Bool) Loc() Location          { return e.Location }
func (e *Identifier) Loc() Location    { return e.Location }

func (*Block) isExpr()         {}
func (*Call) isExpr()          {}
func (*InfixCall) isExpr()     {}
func (*UnaryCall) isExpr()     {}
func (*Pipe) isExpr()          {}
func (*DotLookup) isExpr()     {}
func (*BracketLookup) isExpr() {}
func (*Lambda) isExpr()        {}
func (*Ternary) isExpr()       {}
func (*Array) isExpr()         {}
func (*Dict) isExpr()          {}
func (*Number) isExpr()        {}
func (*String) isExpr()        {}
func (*Bool) isExpr()          {}
func (*Identifier) isExpr()    {}
