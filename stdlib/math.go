package stdlib

import (
	"math"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

func unaryMath(fn func(float64) float64) vm.FnDefinition {
	return def(in(vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(fn(num(args[0]))), nil
	})
}

func positiveMath(name string, fn func(float64) float64) vm.FnDefinition {
	return def(in(vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		x := num(args[0])
		if x <= 0 {
			return nil, errs.Raise(errs.DomainViolation, "%s requires a positive number, got %s", name, vm.FormatNumber(x))
		}
		return vm.NewNumber(fn(x)), nil
	})
}

func listReduce(name string, fn func([]float64) float64) vm.FnDefinition {
	return def(in(&vm.ArrayType{Elem: vm.TNumber}), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		xs, ok := vm.NumbersOf(args[0].(*vm.Array).Items)
		if !ok {
			return nil, errs.Raise(errs.OtherError, "%s expects a list of numbers", name)
		}
		if len(xs) == 0 {
			return nil, errs.Raise(errs.OtherError, "%s of an empty list", name)
		}
		return vm.NewNumber(fn(xs)), nil
	})
}

func registerMath(l *Library) {
	l.constant("Math.pi", vm.NewNumber(math.Pi))
	l.constant("Math.e", vm.NewNumber(math.E))

	l.builtin("Math.abs", unaryMath(math.Abs))
	l.builtin("Math.floor", unaryMath(math.Floor))
	l.builtin("Math.ceil", unaryMath(math.Ceil))
	l.builtin("Math.round", unaryMath(math.Round))
	l.builtin("Math.exp", unaryMath(math.Exp))
	l.builtin("Math.log", positiveMath("Math.log", math.Log))
	l.builtin("Math.log10", positiveMath("Math.log10", math.Log10))
	l.builtin("Math.sqrt", def(in(vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		x := num(args[0])
		if x < 0 {
			return nil, errs.Raise(errs.DomainViolation, "Math.sqrt requires a non-negative number, got %s", vm.FormatNumber(x))
		}
		return vm.NewNumber(math.Sqrt(x)), nil
	}))
	l.builtin("Math.random", def(in(), vm.TNumber, func(c vm.Context, _ []vm.Value) (vm.Value, error) {
		return vm.NewNumber(c.Rand().Float64()), nil
	}))

	l.builtin("sum", listReduce("sum", func(xs []float64) float64 {
		s := 0.0
		for _, x := range xs {
			s += x
		}
		return s
	}))
	l.builtin("max", listReduce("max", func(xs []float64) float64 {
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Max(m, x)
		}
		return m
	}), def(in(vm.TNumber, vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(math.Max(num(args[0]), num(args[1]))), nil
	}))
	l.builtin("min", listReduce("min", func(xs []float64) float64 {
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Min(m, x)
		}
		return m
	}), def(in(vm.TNumber, vm.TNumber), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(math.Min(num(args[0]), num(args[1]))), nil
	}))

	l.builtin("Number.rangeDomain", def(in(vm.TNumber, vm.TNumber), vm.TDomain, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		d, err := vm.NewDomain(num(args[0]), num(args[1]))
		if err != nil {
			return nil, err
		}
		return d, nil
	}))
}
