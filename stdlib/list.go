package stdlib

import (
	"math"
	"slices"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

func items(v vm.Value) []vm.Value {
	return v.(*vm.Array).Items
}

func lambda(v vm.Value) vm.Lambda {
	return v.(vm.Lambda)
}

func accepts(fn vm.Lambda, n int) bool {
	return slices.Contains(fn.ParameterCounts(), n)
}

// callWithIndex calls fn(item) or fn(item, index), whichever arity fn declares.
func callWithIndex(c vm.Context, fn vm.Lambda, item vm.Value, idx int) (vm.Value, error) {
	if accepts(fn, 2) && !accepts(fn, 1) {
		return c.Call(fn, []vm.Value{item, vm.NewNumber(float64(idx))})
	}
	return c.Call(fn, []vm.Value{item})
}

// pollEvery is how many loop iterations a builtin runs between cancellation checks.
const pollEvery = 1 << 12

// poll returns the context error on every pollEvery-th iteration once the run is cancelled.
func poll(c vm.Context, i int) error {
	if i%pollEvery != 0 {
		return nil
	}
	return c.Context().Err()
}

func count(v vm.Value) (int, error) {
	n := num(v)
	if n < 0 || n != math.Trunc(n) || n > 1e7 {
		return 0, errs.Raise(errs.DomainViolation, "Expected a non-negative integer, got %s", vm.FormatNumber(n))
	}
	return int(n), nil
}

func registerLists(l *Library) {
	l.builtin("List.length", def(in(vm.TAnyArray), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(float64(len(items(args[0])))), nil
	}))
	l.builtin("List.make",
		def(in(vm.TNumber, vm.TAnyLambda), vm.TAnyArray, func(c vm.Context, args []vm.Value) (vm.Value, error) {
			n, err := count(args[0])
			if err != nil {
				return nil, err
			}
			fn := lambda(args[1])
			out := make([]vm.Value, n)
			for i := range out {
				if err := poll(c, i); err != nil {
					return nil, err
				}
				var fnArgs []vm.Value
				if accepts(fn, 1) {
					fnArgs = []vm.Value{vm.NewNumber(float64(i))}
				}
				if out[i], err = c.Call(fn, fnArgs); err != nil {
					return nil, err
				}
			}
			return vm.NewArray(out), nil
		}),
		def(in(vm.TNumber, vm.TAny), vm.TAnyArray, func(c vm.Context, args []vm.Value) (vm.Value, error) {
			n, err := count(args[0])
			if err != nil {
				return nil, err
			}
			out := make([]vm.Value, n)
			for i := range out {
				if err := poll(c, i); err != nil {
					return nil, err
				}
				out[i] = args[1]
			}
			return vm.NewArray(out), nil
		}),
	)
	l.builtin("List.upTo", def(in(vm.TNumber, vm.TNumber), &vm.ArrayType{Elem: vm.TNumber}, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		lo, hi := num(args[0]), num(args[1])
		if lo != math.Trunc(lo) || hi != math.Trunc(hi) {
			return nil, errs.Raise(errs.DomainViolation, "List.upTo expects integers")
		}
		if _, err := count(vm.NewNumber(math.Max(hi-lo+1, 0))); err != nil {
			return nil, err
		}
		var out []vm.Value
		for x := lo; x <= hi; x++ {
			if err := poll(c, len(out)); err != nil {
				return nil, err
			}
			out = append(out, vm.NewNumber(x))
		}
		return vm.NewArray(out), nil
	}))
	l.builtin("List.first", def(in(vm.TAnyArray), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		xs := items(args[0])
		if len(xs) == 0 {
			return nil, errs.Raise(errs.IndexOutOfRange, "List is empty")
		}
		return xs[0], nil
	}))
	l.builtin("List.last", def(in(vm.TAnyArray), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		xs := items(args[0])
		if len(xs) == 0 {
			return nil, errs.Raise(errs.IndexOutOfRange, "List is empty")
		}
		return xs[len(xs)-1], nil
	}))
	l.builtin("List.reverse", def(in(vm.TAnyArray), vm.TAnyArray, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		out := slices.Clone(items(args[0]))
		slices.Reverse(out)
		return vm.NewArray(out), nil
	}))
	l.builtin("List.concat", def(in(vm.TAnyArray, vm.TAnyArray), vm.TAnyArray, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewArray(slices.Concat(items(args[0]), items(args[1]))), nil
	}))
	l.builtin("List.map", def(in(vm.TAnyArray, vm.TAnyLambda), vm.TAnyArray, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		xs, fn := items(args[0]), lambda(args[1])
		out := make([]vm.Value, len(xs))
		for i, x := range xs {
			v, err := callWithIndex(c, fn, x, i)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return vm.NewArray(out), nil
	}))
	l.builtin("List.filter", def(in(vm.TAnyArray, vm.TAnyLambda), vm.TAnyArray, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		xs, fn := items(args[0]), lambda(args[1])
		var out []vm.Value
		for _, x := range xs {
			v, err := c.Call(fn, []vm.Value{x})
			if err != nil {
				return nil, err
			}
			keep, ok := vm.Truthy(v)
			if !ok {
				return nil, errs.Raise(errs.OtherError, "List.filter predicate must return a Bool, got %s", v.Kind())
			}
			if keep {
				out = append(out, x)
			}
		}
		return vm.NewArray(out), nil
	}))
	l.builtin("List.reduce", def(in(vm.TAnyArray, vm.TAny, vm.TAnyLambda), vm.TAny, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		xs, acc, fn := items(args[0]), args[1], lambda(args[2])
		for _, x := range xs {
			var err error
			if acc, err = c.Call(fn, []vm.Value{acc, x}); err != nil {
				return nil, err
			}
		}
		return acc, nil
	}))
}
