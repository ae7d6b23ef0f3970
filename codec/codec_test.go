package codec

import (
	"context"
	"errors"
	"testing"

	"github.com/quill-lang/quill/compiler"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/parse"
	"github.com/quill-lang/quill/stdlib"
	"github.com/quill-lang/quill/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluate(t *testing.T, src string) *interp.Output {
	t.Helper()
	tree, err := parse.Parse("main", src)
	require.NoError(t, err)
	prog, err := compiler.Compile(tree, "main", stdlib.New())
	require.NoError(t, err)
	out, err := interp.RunProgram(context.Background(), prog, vm.DefaultEnvironment())
	require.NoError(t, err)
	return out
}

func roundTrip(t *testing.T, v vm.Value) (vm.Value, Bundle) {
	t.Helper()
	enc := NewEncoder()
	ep, err := enc.Value(v)
	require.NoError(t, err)
	data, err := Encode(enc.Bundle())
	require.NoError(t, err)
	b, err := Decode(data)
	require.NoError(t, err)
	out, err := NewDecoder(b, stdlib.New()).Value(ep)
	require.NoError(t, err)
	return out, b
}

func TestRoundTripValues(t *testing.T) {
	dom, err := vm.NewDomain(0, 10)
	require.NoError(t, err)
	lib := stdlib.New()
	add, _ := lib.Builtin("add")

	tests := []struct {
		name  string
		value vm.Value
	}{
		{"void", vm.NewVoid()},
		{"number", vm.NewNumber(3.25)},
		{"string", vm.NewString("hello")},
		{"bool", vm.NewBool(true)},
		{"array", vm.NewArray([]vm.Value{vm.NewNumber(1), vm.NewString("two")})},
		{"dict", vm.NewDict([]string{"b", "a"}, []vm.Value{vm.NewNumber(1), vm.NewBool(false)})},
		{"domain", dom},
		{"sampleset", vm.NewSampleSet([]float64{1, 2, 3})},
		{"builtin", add},
		{"tagged", vm.Tag(vm.NewNumber(5), func(tg *vm.Tags) *vm.Tags {
			return tg.WithName("five").WithDoc("a number").WithExportData("main", []string{"x"})
		})},
		{"tagged builtin", add.WithTags((*vm.Tags)(nil).WithName("plus"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := roundTrip(t, tt.value)
			assert.True(t, vm.EqualTagged(tt.value, got), "got %s", got)
		})
	}
}

func TestRoundTripRunOutput(t *testing.T) {
	out := evaluate(t, `f(x: [0, 10]) = x + 1
export g = {|y| f(y) * 2}
export d = {a: [1, 2], b: "s"}
g(2)`)
	got, _ := roundTrip(t, out.Exports)
	assert.True(t, vm.EqualTagged(out.Exports, got))

	g, ok := got.(*vm.Dict).Get("g")
	require.True(t, ok)
	fn := g.(*vm.UserDefinedLambda)
	v, err := interp.NewReducer(context.Background(), vm.DefaultEnvironment()).Call(fn, []vm.Value{vm.NewNumber(2)})
	require.NoError(t, err)
	assert.Equal(t, 6.0, v.(*vm.Number).V)

	captured := fn.Captures[0].(*vm.UserDefinedLambda)
	require.Len(t, captured.Params, 1)
	require.NotNil(t, captured.Params[0].Domain)
	assert.Equal(t, 10.0, captured.Params[0].Domain.Max)
}

func TestSharedCaptureDeserializesOnce(t *testing.T) {
	out := evaluate(t, `helper(x) = x * 2
a = {|y| helper(y) + 1}
b = {|y| helper(y) - 1}
[a, b]`)
	got, b := roundTrip(t, out.Result)

	items := got.(*vm.Array).Items
	la := items[0].(*vm.UserDefinedLambda)
	lb := items[1].(*vm.UserDefinedLambda)
	assert.Same(t, la.Captures[0], lb.Captures[0])
	assert.Same(t, la.Program, lb.Program)
	assert.Len(t, b[KindProgram], 1)
	user := 0
	for _, n := range b[KindLambda] {
		if n.Kind == "user" {
			user++
		}
	}
	assert.Equal(t, 3, user)
}

func TestRoundTripTablesAndCalculators(t *testing.T) {
	out := evaluate(t, `@name("Adder")
@doc("adds")
f(a, b) = a + b
calc = Calculator.make(f, {inputs: ["a", {name: "b", default: [1, 2]}], autorun: false, sampleCount: 300})
tbl = Table.make([1, 2, 3], {columns: [{name: "half", fn: {|r| r / 2}}, {name: "sum", fn: {|r| f(r, 1)}}]})
{calc, tbl, f}`)
	got, b := roundTrip(t, out.Result)
	assert.True(t, vm.EqualTagged(out.Result, got), "got %s", got)

	d := got.(*vm.Dict)
	cv, _ := d.Get("calc")
	calc := cv.(*vm.Calculator)
	assert.Equal(t, "Adder", calc.Title)
	assert.Equal(t, "adds", calc.Description)
	assert.False(t, calc.Autorun)
	assert.Equal(t, 300, calc.SampleCount)
	assert.Nil(t, calc.Inputs[0].Default)
	assert.Equal(t, "[1, 2]", calc.Inputs[1].Default.String())

	fv, _ := d.Get("f")
	assert.Same(t, fv.(*vm.UserDefinedLambda), calc.Fn.(*vm.UserDefinedLambda))

	tv, _ := d.Get("tbl")
	tbl := tv.(*vm.Table)
	require.Len(t, tbl.Columns, 2)
	assert.Equal(t, []string{"half", "sum"}, []string{tbl.Columns[0].Name, tbl.Columns[1].Name})
	v, err := interp.NewReducer(context.Background(), vm.DefaultEnvironment()).Call(tbl.Columns[1].Fn, []vm.Value{tbl.Data[2]})
	require.NoError(t, err)
	assert.Equal(t, 4.0, v.(*vm.Number).V)
	assert.Same(t, calc.Fn.(*vm.UserDefinedLambda), tbl.Columns[1].Fn.(*vm.UserDefinedLambda).Captures[0])

	user := 0
	for _, n := range b[KindLambda] {
		if n.Kind == "user" {
			user++
		}
	}
	assert.Equal(t, 3, user, "f is stored once and shared by the calculator, the table and the dict")
}

// lambdaOver wraps exprs in a program and a lambda whose body is the first one.
func lambdaOver(exprs ...Node) Bundle {
	children := append([]Node{{Kind: "header", Ints: []int64{int64(vm.NoExpr)}}, {Kind: "bindings"}}, exprs...)
	return Bundle{
		KindValue:   {{Kind: "lambda", Refs: []Entrypoint{{Kind: KindLambda}}}},
		KindLambda:  {{Kind: "user", Refs: []Entrypoint{{Kind: KindProgram}}, Ints: []int64{0}}},
		KindProgram: {{Kind: "program", Children: children}},
	}
}

func TestCorruptBundle(t *testing.T) {
	tests := []struct {
		name   string
		bundle Bundle
		ep     Entrypoint
	}{
		{"missing kind", Bundle{}, Entrypoint{Kind: KindValue}},
		{"unknown kind", Bundle{}, Entrypoint{Kind: "table"}},
		{"out of range", Bundle{KindValue: {{Kind: "array", Refs: []Entrypoint{{Kind: KindValue, Position: 9}}}}}, Entrypoint{Kind: KindValue}},
		{"self reference", Bundle{KindValue: {{Kind: "array", Refs: []Entrypoint{{Kind: KindValue, Position: 0}}}}}, Entrypoint{Kind: KindValue}},
		{"unknown builtin", Bundle{
			KindValue:  {{Kind: "lambda", Refs: []Entrypoint{{Kind: KindLambda}}}},
			KindLambda: {{Kind: "builtin", Text: "nope"}},
		}, Entrypoint{Kind: KindValue}},
		{"ternary missing operands", lambdaOver(
			Node{Kind: "expr", Ints: []int64{int64(vm.TERNARY), 0, int64(vm.NoExpr), 1, 1}},
			Node{Kind: "expr", Ints: []int64{int64(vm.BUILD_LIST), 0, int64(vm.NoExpr)}},
		), Entrypoint{Kind: KindValue}},
		{"call without callee", lambdaOver(
			Node{Kind: "expr", Ints: []int64{int64(vm.CALL), 0, int64(vm.NoExpr), 1}},
			Node{Kind: "expr", Ints: []int64{int64(vm.BUILD_LIST), 0, int64(vm.NoExpr)}},
		), Entrypoint{Kind: KindValue}},
		{"odd dict operands", lambdaOver(
			Node{Kind: "expr", Ints: []int64{int64(vm.BUILD_DICT), 0, int64(vm.NoExpr), 1}},
			Node{Kind: "expr", Ints: []int64{int64(vm.BUILD_LIST), 0, int64(vm.NoExpr)}},
		), Entrypoint{Kind: KindValue}},
		{"unknown opcode", lambdaOver(
			Node{Kind: "expr", Ints: []int64{200, 0, int64(vm.NoExpr)}},
		), Entrypoint{Kind: KindValue}},
		{"table column is not a lambda", Bundle{
			KindValue: {{Kind: "table", Texts: []string{"c"}, Refs: []Entrypoint{{Kind: KindValue, Position: 1}}}, {Kind: "number", Number: 1}},
		}, Entrypoint{Kind: KindValue}},
		{"calculator without title", Bundle{
			KindValue: {{Kind: "calculator", Refs: []Entrypoint{{Kind: KindValue, Position: 1}}}, {Kind: "number"}},
		}, Entrypoint{Kind: KindValue}},
		{"lambda without body", Bundle{
			KindValue:   {{Kind: "lambda", Refs: []Entrypoint{{Kind: KindLambda}}}},
			KindLambda:  {{Kind: "user", Refs: []Entrypoint{{Kind: KindProgram}}, Ints: []int64{int64(vm.NoExpr)}}},
			KindProgram: {{Kind: "program", Children: []Node{{Kind: "header", Ints: []int64{int64(vm.NoExpr)}}, {Kind: "bindings"}}}},
		}, Entrypoint{Kind: KindValue}},
		{"bad expression id", Bundle{
			KindValue:   {{Kind: "lambda", Refs: []Entrypoint{{Kind: KindLambda}}}},
			KindLambda:  {{Kind: "user", Refs: []Entrypoint{{Kind: KindProgram}}, Ints: []int64{40}}},
			KindProgram: {{Kind: "program", Children: []Node{{Kind: "header", Ints: []int64{int64(vm.NoExpr)}}, {Kind: "bindings"}}}},
		}, Entrypoint{Kind: KindValue}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(tt.bundle, stdlib.New()).Value(tt.ep)
			require.Error(t, err)
			var perr *errs.ProtocolError
			require.True(t, errors.As(err, &perr), "got %T", err)
			assert.Contains(t, perr.Message(), "corrupt bundle")
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0xc1, 0x00, 0xff})
	var perr *errs.ProtocolError
	require.True(t, errors.As(err, &perr))
}

func TestDigestIsStable(t *testing.T) {
	enc := NewEncoder()
	_, err := enc.Values(map[string]vm.Value{"b": vm.NewNumber(2), "a": vm.NewNumber(1)})
	require.NoError(t, err)
	first, err := Encode(enc.Bundle())
	require.NoError(t, err)

	enc = NewEncoder()
	ep, err := enc.Values(map[string]vm.Value{"a": vm.NewNumber(1), "b": vm.NewNumber(2)})
	require.NoError(t, err)
	second, err := Encode(enc.Bundle())
	require.NoError(t, err)
	assert.Equal(t, Digest(first), Digest(second))

	values, err := NewDecoder(enc.Bundle(), nil).Values(ep)
	require.NoError(t, err)
	assert.Len(t, values, 2)
}
