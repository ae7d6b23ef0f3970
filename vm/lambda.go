package vm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/quill-lang/quill/ast"
)

// Lambda is a callable value: *BuiltinLambda or *UserDefinedLambda.
type Lambda interface {
	Value
	LambdaName() string
	ParameterCounts() []int
	ParameterString() string
	isLambda()
}

// Context is what a builtin sees of the running reducer.
type Context interface {
	Context() context.Context
	Environment() Environment
	Rand() *rand.Rand
	Call(fn Lambda, args []Value) (Value, error)
}

type Param struct {
	Name   string
	Domain *Domain
}

// UserDefinedLambda is a closure. Captures are snapshotted when the lambda
// value is created; Body indexes into Program.
type UserDefinedLambda struct {
	tagged
	Name     string
	Params   []Param
	Captures []Value
	Program  *Program
	Body     ExprID
	Location ast.Location
}

func (*UserDefinedLambda) Kind() Kind { return LambdaKind }
func (*UserDefinedLambda) isValue()   {}
func (*UserDefinedLambda) isLambda()  {}

func (l *UserDefinedLambda) WithTags(t *Tags) Value {
	c := *l
	c.tags = t
	return &c
}

func (l *UserDefinedLambda) LambdaName() string {
	if l.Name == "" {
		return "<anonymous>"
	}
	return l.Name
}

func (l *UserDefinedLambda) ParameterCounts() []int {
	return []int{len(l.Params)}
}

func (l *UserDefinedLambda) ParameterString() string {
	names := make([]string, len(l.Params))
	for i, p := range l.Params {
		names[i] = p.Name
		if p.Domain != nil {
			names[i] += ": " + p.Domain.String()
		}
	}
	return strings.Join(names, ", ")
}

func (l *UserDefinedLambda) String() string {
	return fmt.Sprintf("(%s) => internal code", l.ParameterString())
}

// ArityMessage is raised when a closure gets the wrong argument count.
func ArityMessage(expected, got int) string {
	return fmt.Sprintf("%d arguments expected. Instead %d argument(s) were passed.", expected, got)
}
