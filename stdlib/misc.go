package stdlib

import (
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

func registerMisc(l *Library) {
	l.builtin("assert",
		def(in(vm.TBool), vm.TVoid, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			if !args[0].(*vm.Bool).V {
				return nil, errs.Raise(errs.AssertionFailed, "Assertion failed")
			}
			return vm.NewVoid(), nil
		}),
		def(in(vm.TBool, vm.TString), vm.TVoid, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			if !args[0].(*vm.Bool).V {
				return nil, errs.Raise(errs.AssertionFailed, "Assertion failed: %s", str(args[1]))
			}
			return vm.NewVoid(), nil
		}),
	)
	l.builtin("toString", def(in(vm.TAny), vm.TString, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		if s, ok := args[0].(*vm.String); ok {
			return s, nil
		}
		return vm.NewString(args[0].String()), nil
	}))
	l.builtin("typeOf", def(in(vm.TAny), vm.TString, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewString(args[0].Kind().String()), nil
	}))
	l.builtin("Function.arity", def(in(vm.TAnyLambda), &vm.ArrayType{Elem: vm.TNumber}, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		counts := args[0].(vm.Lambda).ParameterCounts()
		out := make([]vm.Value, len(counts))
		for i, c := range counts {
			out[i] = vm.NewNumber(float64(c))
		}
		return vm.NewArray(out), nil
	}))
	l.builtin("Function.call", def(in(vm.TAnyLambda, vm.TAnyArray), vm.TAny, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		return c.Call(args[0].(vm.Lambda), items(args[1]))
	}))
}
