package stdlib

import (
	"math"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

func mapSamples(c vm.Context, s *vm.SampleSet, fn func(float64) (float64, error)) (vm.Value, error) {
	out := make([]float64, len(s.Samples))
	for i, x := range s.Samples {
		if err := poll(c, i); err != nil {
			return nil, err
		}
		v, err := fn(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return vm.NewSampleSet(out), nil
}

// combineSamples pairs samples by position, as if the two distributions were independent.
func combineSamples(c vm.Context, a, b *vm.SampleSet, op numberOp) (vm.Value, error) {
	n := min(len(a.Samples), len(b.Samples))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if err := poll(c, i); err != nil {
			return nil, err
		}
		v, err := op(a.Samples[i], b.Samples[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return vm.NewSampleSet(out), nil
}

func sampleN(c vm.Context, fn func() float64) (vm.Value, error) {
	n := c.Environment().SampleCount
	out := make([]float64, n)
	for i := range out {
		if err := poll(c, i); err != nil {
			return nil, err
		}
		out[i] = fn()
	}
	return vm.NewSampleSet(out), nil
}

func dist(v vm.Value) *vm.SampleSet {
	return v.(*vm.SampleSet)
}

func registerDists(l *Library) {
	l.builtin("normal", def(in(vm.TNumber, vm.TNumber), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		mean, stdev := num(args[0]), num(args[1])
		if stdev < 0 {
			return nil, errs.Raise(errs.DomainViolation, "Standard deviation of normal distribution must be non-negative, got %s", vm.FormatNumber(stdev))
		}
		rng := c.Rand()
		return sampleN(c, func() float64 { return mean + stdev*rng.NormFloat64() })
	}))
	l.builtin("uniform", def(in(vm.TNumber, vm.TNumber), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		lo, hi := num(args[0]), num(args[1])
		if lo > hi {
			return nil, errs.Raise(errs.DomainViolation, "High must be larger than low in uniform(%s, %s)", vm.FormatNumber(lo), vm.FormatNumber(hi))
		}
		rng := c.Rand()
		return sampleN(c, func() float64 { return lo + (hi-lo)*rng.Float64() })
	}))
	l.builtin("pointMass", def(in(vm.TNumber), vm.TDist, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		x := num(args[0])
		return sampleN(c, func() float64 { return x })
	}))
	l.builtin("SampleSet.fromList", def(in(&vm.ArrayType{Elem: vm.TNumber}), vm.TDist, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		xs, ok := vm.NumbersOf(items(args[0]))
		if !ok || len(xs) < 2 {
			return nil, errs.Raise(errs.OtherError, "SampleSet.fromList needs at least two numbers")
		}
		return vm.NewSampleSet(xs), nil
	}))
	l.builtin("SampleSet.toList", def(in(vm.TDist), &vm.ArrayType{Elem: vm.TNumber}, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		s := dist(args[0])
		out := make([]vm.Value, len(s.Samples))
		for i, x := range s.Samples {
			out[i] = vm.NewNumber(x)
		}
		return vm.NewArray(out), nil
	}))
	l.builtin("mean", def(in(vm.TDist), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(dist(args[0]).Mean()), nil
	}))
	l.builtin("stdev", def(in(vm.TDist), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(dist(args[0]).Stdev()), nil
	}))
	l.builtin("sample", def(in(vm.TDist), vm.TNumber, func(c vm.Context, args []vm.Value) (vm.Value, error) {
		s := dist(args[0])
		if len(s.Samples) == 0 {
			return vm.NewNumber(math.NaN()), nil
		}
		return vm.NewNumber(s.Samples[c.Rand().IntN(len(s.Samples))]), nil
	}))
}
