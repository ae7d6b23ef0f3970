package interp

import (
	"context"
	"errors"
	"testing"

	"github.com/quill-lang/quill/compiler"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/parse"
	"github.com/quill-lang/quill/stdlib"
	"github.com/quill-lang/quill/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileSource(t *testing.T, src string) *vm.Program {
	t.Helper()
	tree, err := parse.Parse("main", src)
	require.NoError(t, err)
	prog, err := compiler.Compile(tree, "main", stdlib.New())
	require.NoError(t, err)
	return prog
}

func runSource(t *testing.T, src string) (*Output, error) {
	t.Helper()
	return RunProgram(context.Background(), compileSource(t, src), vm.DefaultEnvironment())
}

func runtimeError(t *testing.T, err error) *errs.RuntimeError {
	t.Helper()
	require.Error(t, err)
	var rerr *errs.RuntimeError
	require.True(t, errors.As(err, &rerr), "expected a runtime error, got %T: %v", err, err)
	require.NotNil(t, rerr.Trace)
	return rerr
}

func number(t *testing.T, v vm.Value) float64 {
	t.Helper()
	n, ok := v.(*vm.Number)
	require.True(t, ok, "expected a number, got %s", v)
	return n.V
}

func TestBindingsAndResult(t *testing.T) {
	out, err := runSource(t, "x = 1\ny = x + 1\ny * 2")
	require.NoError(t, err)
	assert.Equal(t, 4.0, number(t, out.Result))
	assert.Equal(t, []string{"x", "y"}, out.Bindings.Keys())
	y, _ := out.Bindings.Get("y")
	assert.Equal(t, 2.0, number(t, y))
	assert.Equal(t, 0, out.Exports.Len())
}

func TestVoidResultWithoutTrailingExpression(t *testing.T) {
	out, err := runSource(t, "x = 1")
	require.NoError(t, err)
	assert.Equal(t, vm.VoidKind, out.Result.Kind())
}

func TestExportsAreTagged(t *testing.T) {
	out, err := runSource(t, "x = 1\nexport y = x + 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, out.Exports.Keys())

	y, _ := out.Exports.Get("y")
	ed := y.Tags().GetExportData()
	require.NotNil(t, ed)
	assert.Equal(t, "main", ed.SourceID)
	assert.Equal(t, []string{"y"}, ed.Path)

	dictData := out.Exports.Tags().GetExportData()
	require.NotNil(t, dictData)
	assert.Empty(t, dictData.Path)

	x, _ := out.Bindings.Get("x")
	assert.Nil(t, x.Tags().GetExportData())
}

func TestClosures(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"adder", "makeAdder(n) = {|x| x + n}\nadd3 = makeAdder(3)\nadd3(4)", 7},
		{"capture snapshot", "a = 1\nf() = a\na = 2\nf()", 1},
		{"nested capture", "outer(a) = {|b| {|c| a + b + c}}\nouter(1)(2)(3)", 6},
		{"block locals", "x = { a = 2; b = a * 3; b + 1 }\nx", 7},
		{"shadowed in block", "a = 1\nb = { a = 5; a }\na + b", 6},
		{"pipe", "double(x) = x * 2\n3 -> double", 6},
		{"map with index", "List.map([10, 20], {|x, i| x + i}) -> sum", 31},
		{"reduce", "List.reduce([1, 2, 3], 0, {|acc, x| acc + x})", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runSource(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, number(t, out.Result))
		})
	}
}

func TestStackTraceShiftsLocations(t *testing.T) {
	src := "f(x) = x / 0\ng(y) = f(y)\ng(1)"
	_, err := runSource(t, src)
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.DomainViolation, rerr.Kind)

	var names []string
	var lines []int
	for _, fr := range rerr.Trace.Frames {
		names = append(names, fr.Name)
		require.NotNil(t, fr.Location, "frame %s", fr.Name)
		lines = append(lines, fr.Location.Start.Line)
	}
	assert.Equal(t, []string{"divide", "f", "g", errs.TopFrameName}, names)
	assert.Equal(t, []int{1, 1, 2, 3}, lines)
	assert.Contains(t, rerr.Detail(), "Stack trace:")
}

func TestDomainErrorAtArgument(t *testing.T) {
	_, err := runSource(t, "f(x: [0, 10]) = x\nf(20)")
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.DomainViolation, rerr.Kind)
	assert.Equal(t, "Parameter 1 must be in domain Number.rangeDomain(0, 10), got 20", rerr.Msg)
	loc := rerr.Trace.Location()
	require.NotNil(t, loc)
	assert.Equal(t, 2, loc.Start.Line)
	assert.Equal(t, 3, loc.Start.Column)
}

func TestDomainAccepted(t *testing.T) {
	out, err := runSource(t, "f(x: Number.rangeDomain(0, 10)) = x * 2\nf(5)")
	require.NoError(t, err)
	assert.Equal(t, 10.0, number(t, out.Result))
}

func TestNotAFunction(t *testing.T) {
	_, err := runSource(t, "d = {f: 1}\nd.f(2)")
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.NotAFunction, rerr.Kind)
	assert.Equal(t, 2, rerr.Trace.Location().Start.Line)
}

func TestTernary(t *testing.T) {
	out, err := runSource(t, "x = 3\nx > 2 ? \"big\" : \"small\"")
	require.NoError(t, err)
	assert.Equal(t, "big", out.Result.(*vm.String).V)

	_, err = runSource(t, "d = {c: 1}\nd.c ? 1 : 2")
	rerr := runtimeError(t, err)
	assert.Contains(t, rerr.Msg, "must be a Bool")
}

func TestArityMismatchThroughBuiltin(t *testing.T) {
	_, err := runSource(t, "List.map([1, 2], {|a, b, c| a})")
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.ArityMismatch, rerr.Kind)
	assert.Equal(t, "3 arguments expected. Instead 1 argument(s) were passed.", rerr.Msg)
	assert.Equal(t, "List.map", rerr.Trace.Frames[0].Name)
}

func TestBuiltinNoMatchingSignature(t *testing.T) {
	_, err := runSource(t, "Math.random(1)")
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.NoMatchingSignature, rerr.Kind)
	assert.Contains(t, rerr.Msg, "There are function matches for Math.random() with arities [0]")
	assert.Contains(t, rerr.Msg, "Was given arguments: (1)")
}

func TestMaxCallDepth(t *testing.T) {
	_, err := runSource(t, "f(g, n) = n <= 0 ? 0 : g(g, n - 1)\nf(f, 100000)")
	rerr := runtimeError(t, err)
	assert.Equal(t, "Maximum call stack size exceeded", rerr.Msg)

	out, err := runSource(t, "f(g, n) = n <= 0 ? 0 : g(g, n - 1)\nf(f, 100)")
	require.NoError(t, err)
	assert.Equal(t, 0.0, number(t, out.Result))
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunProgram(ctx, compileSource(t, "1 + 1"), vm.DefaultEnvironment())
	require.Error(t, err)
	assert.True(t, errs.IsCancelled(err))
}

func TestCancelledDuringRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := vm.NewBuiltin("stop", vm.FnDefinition{
		Output: vm.TNumber,
		Run: func(vm.Context, []vm.Value) (vm.Value, error) {
			cancel()
			return vm.NewNumber(0), nil
		},
	})
	tree, err := parse.Parse("main", "List.make(1000, {|i| i}) -> List.map({|x| stop() + x})")
	require.NoError(t, err)
	externals := compiler.MapExternals{stdlib.New().Values(), {"stop": stop}}
	prog, err := compiler.Compile(tree, "main", externals)
	require.NoError(t, err)

	_, err = RunProgram(ctx, prog, vm.DefaultEnvironment())
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.Cancelled, rerr.Kind)
}

func TestSeededRandomIsDeterministic(t *testing.T) {
	prog := compileSource(t, "[Math.random(), Math.random()]")
	env := vm.DefaultEnvironment()
	a, err := RunProgram(context.Background(), prog, env)
	require.NoError(t, err)
	b, err := RunProgram(context.Background(), prog, env)
	require.NoError(t, err)
	assert.True(t, vm.Equal(a.Result, b.Result))

	env.Seed = "other"
	c, err := RunProgram(context.Background(), prog, env)
	require.NoError(t, err)
	assert.False(t, vm.Equal(a.Result, c.Result))
}

func TestDecoratorsTagValues(t *testing.T) {
	src := `@name("Adder")
@doc("adds things")
add(a, b) = a + b
[Tag.getName(add), Tag.getDoc(add), toString(add(1, 2))]`
	out, err := runSource(t, src)
	require.NoError(t, err)
	items := out.Result.(*vm.Array).Items
	require.Len(t, items, 3)
	assert.Equal(t, "Adder", items[0].(*vm.String).V)
	assert.Equal(t, "adds things", items[1].(*vm.String).V)
	assert.Equal(t, "3", items[2].(*vm.String).V)
}

func TestIndexErrors(t *testing.T) {
	_, err := runSource(t, "xs = [1, 2]\nxs[5]")
	assert.Equal(t, errs.IndexOutOfRange, runtimeError(t, err).Kind)

	_, err = runSource(t, "d = {a: 1}\nd[\"b\"]")
	assert.Equal(t, errs.KeyNotFound, runtimeError(t, err).Kind)
}

func TestAssertion(t *testing.T) {
	_, err := runSource(t, "assert(1 > 2, \"math is broken\")")
	rerr := runtimeError(t, err)
	assert.Equal(t, errs.AssertionFailed, rerr.Kind)
	assert.Equal(t, "Assertion failed: math is broken", rerr.Msg)
}
