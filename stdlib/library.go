// Package stdlib builds the builtin functions and constants visible to every module.
package stdlib

import (
	"sort"

	"github.com/quill-lang/quill/vm"
)

// Library is one instance of the standard library. Instances are cheap but
// not shared between workers.
type Library struct {
	values map[string]vm.Value
}

func New() *Library {
	l := &Library{values: map[string]vm.Value{}}
	registerOperators(l)
	registerMath(l)
	registerLists(l)
	registerDicts(l)
	registerTags(l)
	registerDists(l)
	registerTables(l)
	registerMisc(l)
	return l
}

func (l *Library) builtin(name string, defs ...vm.FnDefinition) {
	l.values[name] = vm.NewBuiltin(name, defs...)
}

func (l *Library) constant(name string, v vm.Value) {
	l.values[name] = v
}

// Get implements compiler.Externals.
func (l *Library) Get(name string) (vm.Value, bool) {
	v, ok := l.values[name]
	return v, ok
}

// Builtin looks up a builtin lambda by name; used when deserializing lambdas.
func (l *Library) Builtin(name string) (*vm.BuiltinLambda, bool) {
	b, ok := l.values[name].(*vm.BuiltinLambda)
	return b, ok
}

func (l *Library) Names() []string {
	names := make([]string, 0, len(l.values))
	for k := range l.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the library as a plain map.
func (l *Library) Values() map[string]vm.Value {
	out := make(map[string]vm.Value, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

func def(inputs []vm.Type, output vm.Type, run vm.BuiltinFunc) vm.FnDefinition {
	return vm.FnDefinition{Inputs: inputs, Output: output, Run: run}
}

func in(types ...vm.Type) []vm.Type {
	return types
}

func num(v vm.Value) float64 {
	return v.(*vm.Number).V
}

func str(v vm.Value) string {
	return v.(*vm.String).V
}
