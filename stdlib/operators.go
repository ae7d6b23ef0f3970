package stdlib

import (
	"math"
	"slices"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

type numberOp func(a, b float64) (float64, error)

func plain(fn func(a, b float64) float64) numberOp {
	return func(a, b float64) (float64, error) {
		return fn(a, b), nil
	}
}

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errs.Raise(errs.DomainViolation, "Division by zero")
	}
	return a / b, nil
}

func pow(a, b float64) (float64, error) {
	r := math.Pow(a, b)
	if math.IsNaN(r) && !math.IsNaN(a) && !math.IsNaN(b) {
		return 0, errs.Raise(errs.DomainViolation, "%s ^ %s is not a real number", vm.FormatNumber(a), vm.FormatNumber(b))
	}
	return r, nil
}

// arithmetic defines an operator on numbers and, sample-wise, on distributions.
func arithmetic(op numberOp) []vm.FnDefinition {
	return []vm.FnDefinition{
		def(in(vm.TNumber, vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			r, err := op(num(args[0]), num(args[1]))
			if err != nil {
				return nil, err
			}
			return vm.NewNumber(r), nil
		}),
		def(in(vm.TDist, vm.TDist), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
			return combineSamples(c, args[0].(*vm.SampleSet), args[1].(*vm.SampleSet), op)
		}),
		def(in(vm.TDist, vm.TNumber), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
			b := num(args[1])
			return mapSamples(c, args[0].(*vm.SampleSet), func(a float64) (float64, error) { return op(a, b) })
		}),
		def(in(vm.TNumber, vm.TDist), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
			a := num(args[0])
			return mapSamples(c, args[1].(*vm.SampleSet), func(b float64) (float64, error) { return op(a, b) })
		}),
	}
}

func compare(fn func(c int) bool) []vm.FnDefinition {
	return []vm.FnDefinition{
		def(in(vm.TNumber, vm.TNumber), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			a, b := num(args[0]), num(args[1])
			c := 0
			if a < b {
				c = -1
			} else if a > b {
				c = 1
			}
			return vm.NewBool(fn(c) && !math.IsNaN(a) && !math.IsNaN(b)), nil
		}),
		def(in(vm.TString, vm.TString), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			a, b := str(args[0]), str(args[1])
			c := 0
			if a < b {
				c = -1
			} else if a > b {
				c = 1
			}
			return vm.NewBool(fn(c)), nil
		}),
	}
}

func registerOperators(l *Library) {
	add := arithmetic(plain(func(a, b float64) float64 { return a + b }))
	add = append(add,
		def(in(vm.TString, vm.TString), vm.TString, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			return vm.NewString(str(args[0]) + str(args[1])), nil
		}),
		def(in(vm.TAnyArray, vm.TAnyArray), vm.TAnyArray, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			return vm.NewArray(slices.Concat(args[0].(*vm.Array).Items, args[1].(*vm.Array).Items)), nil
		}),
	)
	l.builtin("add", add...)
	l.builtin("subtract", arithmetic(plain(func(a, b float64) float64 { return a - b }))...)
	l.builtin("multiply", arithmetic(plain(func(a, b float64) float64 { return a * b }))...)
	l.builtin("divide", arithmetic(divide)...)
	l.builtin("pow", arithmetic(pow)...)

	l.builtin("unaryMinus",
		def(in(vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			return vm.NewNumber(-num(args[0])), nil
		}),
		def(in(vm.TDist), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
			return mapSamples(c, args[0].(*vm.SampleSet), func(a float64) (float64, error) { return -a, nil })
		}),
	)
	l.builtin("not", def(in(vm.TBool), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewBool(!args[0].(*vm.Bool).V), nil
	}))
	l.builtin("and", def(in(vm.TBool, vm.TBool), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewBool(args[0].(*vm.Bool).V && args[1].(*vm.Bool).V), nil
	}))
	l.builtin("or", def(in(vm.TBool, vm.TBool), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewBool(args[0].(*vm.Bool).V || args[1].(*vm.Bool).V), nil
	}))

	l.builtin("equal", def(in(vm.TAny, vm.TAny), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewBool(vm.Equal(args[0], args[1])), nil
	}))
	l.builtin("unequal", def(in(vm.TAny, vm.TAny), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewBool(!vm.Equal(args[0], args[1])), nil
	}))
	l.builtin("smaller", compare(func(c int) bool { return c < 0 })...)
	l.builtin("smallerEq", compare(func(c int) bool { return c <= 0 })...)
	l.builtin("larger", compare(func(c int) bool { return c > 0 })...)
	l.builtin("largerEq", compare(func(c int) bool { return c >= 0 })...)

	l.builtin("$_atIndex_$",
		def(in(vm.TAnyArray, vm.TNumber), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			items := args[0].(*vm.Array).Items
			idx := num(args[1])
			if idx != math.Trunc(idx) || idx < 0 || int(idx) >= len(items) {
				return nil, errs.Raise(errs.IndexOutOfRange, "Index %s out of range (length %d)", vm.FormatNumber(idx), len(items))
			}
			return items[int(idx)], nil
		}),
		def(in(vm.TAnyDict, vm.TString), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			key := str(args[1])
			v, ok := args[0].(*vm.Dict).Get(key)
			if !ok {
				return nil, errs.Raise(errs.KeyNotFound, "Dict property not found: %s", key)
			}
			return v, nil
		}),
	)
}
