package vm

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/quill-lang/quill/errs"
)

type BuiltinFunc func(c Context, args []Value) (Value, error)

// FnDefinition is one signature of a builtin.
type FnDefinition struct {
	Inputs []Type
	Output Type
	Run    BuiltinFunc
}

func (d FnDefinition) output() Type {
	if d.Output == nil {
		return TAny
	}
	return d.Output
}

func (d FnDefinition) Matches(args []Value) bool {
	if len(args) != len(d.Inputs) {
		return false
	}
	for i, in := range d.Inputs {
		if !in.Check(args[i]) {
			return false
		}
	}
	return true
}

// MatchesTypes is the static counterpart of Matches.
func (d FnDefinition) MatchesTypes(args []Type) bool {
	if len(args) != len(d.Inputs) {
		return false
	}
	for i, in := range d.Inputs {
		if !Compatible(in, args[i]) {
			return false
		}
	}
	return true
}

func (d FnDefinition) Signature(name string) string {
	parts := make([]string, len(d.Inputs))
	for i, in := range d.Inputs {
		parts[i] = in.String()
	}
	return fmt.Sprintf("%s(%s) => %s", name, strings.Join(parts, ", "), d.output())
}

// BuiltinLambda dispatches to the first definition whose inputs match.
type BuiltinLambda struct {
	tagged
	Name        string
	Definitions []FnDefinition
}

func NewBuiltin(name string, defs ...FnDefinition) *BuiltinLambda {
	return &BuiltinLambda{Name: name, Definitions: defs}
}

func (*BuiltinLambda) Kind() Kind { return LambdaKind }
func (*BuiltinLambda) isValue()   {}
func (*BuiltinLambda) isLambda()  {}

func (l *BuiltinLambda) WithTags(t *Tags) Value {
	c := *l
	c.tags = t
	return &c
}

func (l *BuiltinLambda) LambdaName() string { return l.Name }

func (l *BuiltinLambda) String() string {
	return "Builtin(" + l.Name + ")"
}

func (l *BuiltinLambda) ParameterCounts() []int {
	var counts []int
	for _, d := range l.Definitions {
		if !slices.Contains(counts, len(d.Inputs)) {
			counts = append(counts, len(d.Inputs))
		}
	}
	slices.Sort(counts)
	return counts
}

// ParameterString renders declared arities as "[0,1]".
func (l *BuiltinLambda) ParameterString() string {
	counts := l.ParameterCounts()
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Resolve returns the first definition that statically accepts args.
func (l *BuiltinLambda) Resolve(args []Type) (FnDefinition, bool) {
	for _, d := range l.Definitions {
		if d.MatchesTypes(args) {
			return d, true
		}
	}
	return FnDefinition{}, false
}

func (l *BuiltinLambda) Call(c Context, args []Value) (Value, error) {
	for _, d := range l.Definitions {
		if d.Matches(args) {
			return d.Run(c, args)
		}
	}
	return nil, l.noMatch(args)
}

func (l *BuiltinLambda) noMatch(args []Value) error {
	var b strings.Builder
	fmt.Fprintf(&b, "There are function matches for %s() with arities %s, but with different arguments:\n",
		l.Name, l.ParameterString())
	for _, d := range l.Definitions {
		b.WriteString("  ")
		b.WriteString(d.Signature(l.Name))
		b.WriteString("\n")
	}
	given := make([]string, len(args))
	for i, a := range args {
		given[i] = a.String()
	}
	fmt.Fprintf(&b, "Was given arguments: (%s)", strings.Join(given, ","))
	return errs.Raise(errs.NoMatchingSignature, "%s", b.String())
}
