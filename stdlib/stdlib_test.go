package stdlib

import (
	"context"
	"errors"
	"testing"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atIndex = "$_atIndex_$"

func numbers(xs ...float64) *vm.Array {
	out := make([]vm.Value, len(xs))
	for i, x := range xs {
		out[i] = vm.NewNumber(x)
	}
	return vm.NewArray(out)
}

func call(t *testing.T, env vm.Environment, name string, args ...vm.Value) (vm.Value, error) {
	t.Helper()
	fn, ok := New().Builtin(name)
	require.True(t, ok, "no builtin %s", name)
	return interp.NewReducer(context.Background(), env).Call(fn, args)
}

func mustCall(t *testing.T, name string, args ...vm.Value) vm.Value {
	t.Helper()
	v, err := call(t, vm.DefaultEnvironment(), name, args...)
	require.NoError(t, err)
	return v
}

func kindOf(t *testing.T, err error) errs.RuntimeKind {
	t.Helper()
	var rerr *errs.RuntimeError
	require.True(t, errors.As(err, &rerr), "expected a runtime error, got %v", err)
	return rerr.Kind
}

func TestLibraryNames(t *testing.T) {
	lib := New()
	names := lib.Names()
	for _, want := range []string{"add", "List.map", "Dict.merge", "Math.pi", "normal", "Tag.name", "typeOf"} {
		assert.Contains(t, names, want)
	}
	_, ok := lib.Builtin("Math.pi")
	assert.False(t, ok, "constants are not builtins")
	pi, ok := lib.Get("Math.pi")
	require.True(t, ok)
	assert.Equal(t, vm.NumberKind, pi.Kind())
	assert.Len(t, lib.Values(), len(names))
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		args []vm.Value
		want string
	}{
		{"add numbers", "add", []vm.Value{vm.NewNumber(1), vm.NewNumber(2)}, "3"},
		{"add strings", "add", []vm.Value{vm.NewString("a"), vm.NewString("b")}, `"ab"`},
		{"add lists", "add", []vm.Value{numbers(1), numbers(2)}, "[1, 2]"},
		{"pow", "pow", []vm.Value{vm.NewNumber(2), vm.NewNumber(-1)}, "0.5"},
		{"equal dicts", "equal", []vm.Value{vm.NewDict([]string{"a"}, []vm.Value{vm.NewNumber(1)}), vm.NewDict([]string{"a"}, []vm.Value{vm.NewNumber(1)})}, "true"},
		{"unequal kinds", "unequal", []vm.Value{vm.NewNumber(1), vm.NewString("1")}, "true"},
		{"string order", "smaller", []vm.Value{vm.NewString("abc"), vm.NewString("abd")}, "true"},
		{"index", atIndex, []vm.Value{numbers(5, 6), vm.NewNumber(1)}, "6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustCall(t, tt.fn, tt.args...).String())
		})
	}
}

func TestOperatorErrors(t *testing.T) {
	env := vm.DefaultEnvironment()
	_, err := call(t, env, "divide", vm.NewNumber(1), vm.NewNumber(0))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))

	_, err = call(t, env, "pow", vm.NewNumber(-8), vm.NewNumber(0.5))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))

	_, err = call(t, env, atIndex, numbers(1), vm.NewNumber(1.5))
	assert.Equal(t, errs.IndexOutOfRange, kindOf(t, err))

	_, err = call(t, env, atIndex, vm.NewDict(nil, nil), vm.NewString("k"))
	assert.Equal(t, errs.KeyNotFound, kindOf(t, err))

	_, err = call(t, env, "add", vm.NewNumber(1), vm.NewString("a"))
	assert.Equal(t, errs.NoMatchingSignature, kindOf(t, err))
}

func TestDistributionsAreSeeded(t *testing.T) {
	env := vm.Environment{SampleCount: 50, Seed: "abc"}
	a, err := call(t, env, "normal", vm.NewNumber(0), vm.NewNumber(1))
	require.NoError(t, err)
	b, err := call(t, env, "normal", vm.NewNumber(0), vm.NewNumber(1))
	require.NoError(t, err)
	assert.True(t, vm.Equal(a, b))
	assert.Len(t, a.(*vm.SampleSet).Samples, 50)

	env.Seed = "xyz"
	c, err := call(t, env, "normal", vm.NewNumber(0), vm.NewNumber(1))
	require.NoError(t, err)
	assert.False(t, vm.Equal(a, c))

	u, err := call(t, env, "uniform", vm.NewNumber(2), vm.NewNumber(3))
	require.NoError(t, err)
	for _, x := range u.(*vm.SampleSet).Samples {
		assert.True(t, x >= 2 && x <= 3, "sample %v out of range", x)
	}

	_, err = call(t, env, "uniform", vm.NewNumber(3), vm.NewNumber(2))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))
	_, err = call(t, env, "normal", vm.NewNumber(0), vm.NewNumber(-1))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))
}

func TestSampleArithmetic(t *testing.T) {
	a := vm.NewSampleSet([]float64{1, 2, 3})
	b := vm.NewSampleSet([]float64{10, 20})
	sum := mustCall(t, "add", a, b).(*vm.SampleSet)
	assert.Equal(t, []float64{11, 22}, sum.Samples)

	scaled := mustCall(t, "multiply", vm.NewNumber(2), a).(*vm.SampleSet)
	assert.Equal(t, []float64{2, 4, 6}, scaled.Samples)

	neg := mustCall(t, "unaryMinus", a).(*vm.SampleSet)
	assert.Equal(t, []float64{-1, -2, -3}, neg.Samples)
	assert.Equal(t, "2", mustCall(t, "mean", a).String())

	_, err := call(t, vm.DefaultEnvironment(), "divide", a, vm.NewNumber(0))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))
}

func TestListsAndDicts(t *testing.T) {
	assert.Equal(t, "[]", mustCall(t, "List.upTo", vm.NewNumber(3), vm.NewNumber(1)).String())
	assert.Equal(t, "[3]", mustCall(t, "List.upTo", vm.NewNumber(3), vm.NewNumber(3)).String())

	_, err := call(t, vm.DefaultEnvironment(), "List.upTo", vm.NewNumber(0), vm.NewNumber(1e9))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))
	_, err = call(t, vm.DefaultEnvironment(), "List.make", vm.NewNumber(-1), vm.NewNumber(0))
	assert.Equal(t, errs.DomainViolation, kindOf(t, err))
	_, err = call(t, vm.DefaultEnvironment(), "List.first", numbers())
	assert.Equal(t, errs.IndexOutOfRange, kindOf(t, err))
	_, err = call(t, vm.DefaultEnvironment(), "sum", numbers())
	assert.Equal(t, errs.OtherError, kindOf(t, err))

	d := vm.NewDict([]string{"a", "b"}, []vm.Value{vm.NewNumber(1), vm.NewNumber(2)})
	set := mustCall(t, "Dict.set", d, vm.NewString("a"), vm.NewNumber(9))
	assert.Equal(t, "{a: 9, b: 2}", set.String())
	assert.Equal(t, "{a: 1, b: 2}", d.String(), "Dict.set must not modify its input")
}

func TestTags(t *testing.T) {
	v := mustCall(t, "Tag.name", vm.NewNumber(5), vm.NewString("five"))
	v = mustCall(t, "Tag.doc", v, vm.NewString("a number"))
	assert.Equal(t, `"five"`, mustCall(t, "Tag.getName", v).String())
	assert.Equal(t, `"a number"`, mustCall(t, "Tag.getDoc", v).String())
	cleared := mustCall(t, "Tag.clear", v)
	assert.True(t, cleared.Tags().IsEmpty())
	assert.True(t, vm.Equal(v, cleared))
}

func TestMisc(t *testing.T) {
	assert.Equal(t, `"Dist"`, mustCall(t, "typeOf", vm.NewSampleSet([]float64{1})).String())
	assert.Equal(t, `"Void"`, mustCall(t, "typeOf", vm.NewVoid()).String())
	assert.Equal(t, `"s"`, mustCall(t, "toString", vm.NewString("s")).String())
	random, _ := New().Builtin("Math.random")
	assert.Equal(t, "[0]", mustCall(t, "Function.arity", random).String())
	assert.Equal(t, vm.DomainKind, mustCall(t, "Number.rangeDomain", vm.NewNumber(0), vm.NewNumber(1)).Kind())
}

func TestTablesAndCalculators(t *testing.T) {
	lib := New()
	toString, _ := lib.Builtin("toString")
	add, _ := lib.Builtin("add")
	column := func(name string, fn vm.Value) vm.Value {
		return vm.NewDict([]string{"name", "fn"}, []vm.Value{vm.NewString(name), fn})
	}
	params := func(keys []string, vals ...vm.Value) *vm.Dict { return vm.NewDict(keys, vals) }

	tbl := mustCall(t, "Table.make", numbers(1, 2, 3), params([]string{"columns"}, vm.NewArray([]vm.Value{column("text", toString)})))
	assert.Equal(t, "Table(3 rows, 1 columns)", tbl.String())
	assert.Equal(t, "text", tbl.(*vm.Table).Columns[0].Name)
	fromDict := mustCall(t, "Table.make", params([]string{"data", "columns"}, numbers(1, 2, 3), vm.NewArray([]vm.Value{column("text", toString)})))
	assert.True(t, vm.Equal(tbl, fromDict))
	assert.Equal(t, `"Table"`, mustCall(t, "typeOf", tbl).String())

	calc := mustCall(t, "Calculator.make", add).(*vm.Calculator)
	assert.Equal(t, []string{"Input 1", "Input 2"}, []string{calc.Inputs[0].Name, calc.Inputs[1].Name})
	assert.True(t, calc.Autorun)

	named := add.WithTags((*vm.Tags)(nil).WithName("Adder").WithDoc("sums two numbers")).(vm.Lambda)
	calc = mustCall(t, "Calculator.make", named, params([]string{"autorun", "sampleCount", "inputs"},
		vm.NewBool(false), vm.NewNumber(500),
		vm.NewArray([]vm.Value{vm.NewString("a"), params([]string{"name", "default"}, vm.NewString("b"), vm.NewNumber(2))}),
	)).(*vm.Calculator)
	assert.Equal(t, "Adder", calc.Title)
	assert.Equal(t, "sums two numbers", calc.Description)
	assert.False(t, calc.Autorun)
	assert.Equal(t, 500, calc.SampleCount)
	assert.Nil(t, calc.Inputs[0].Default)
	assert.Equal(t, "2", calc.Inputs[1].Default.String())

	tests := []struct {
		name string
		fn   string
		args []vm.Value
		kind errs.RuntimeKind
	}{
		{"column takes two arguments", "Table.make", []vm.Value{numbers(1), params([]string{"columns"}, vm.NewArray([]vm.Value{column("sum", add)}))}, errs.OtherError},
		{"column is not a dict", "Table.make", []vm.Value{numbers(1), params([]string{"columns"}, numbers(1))}, errs.OtherError},
		{"table without data", "Table.make", []vm.Value{params([]string{"columns"}, vm.NewArray(nil))}, errs.OtherError},
		{"calculator without fn", "Calculator.make", []vm.Value{params([]string{"title"}, vm.NewString("t"))}, errs.OtherError},
		{"wrong input count", "Calculator.make", []vm.Value{add, params([]string{"inputs"}, vm.NewArray([]vm.Value{vm.NewString("a")}))}, errs.OtherError},
		{"fractional sample count", "Calculator.make", []vm.Value{add, params([]string{"sampleCount"}, vm.NewNumber(1.5))}, errs.DomainViolation},
		{"title is not a string", "Calculator.make", []vm.Value{add, params([]string{"title"}, vm.NewNumber(1))}, errs.OtherError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, vm.DefaultEnvironment(), tt.fn, tt.args...)
			if err == nil {
				t.Fatalf("Expected %s to fail", tt.fn)
			}
			assert.Equal(t, tt.kind, kindOf(t, err))
		})
	}
}
