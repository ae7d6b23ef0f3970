package stdlib

import (
	"fmt"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

// options reads optional fields of a params dict for builtin fn.
type options struct {
	fn string
	d  *vm.Dict
}

func (o options) get(key string) (vm.Value, bool) {
	if o.d == nil {
		return nil, false
	}
	v, ok := o.d.Get(key)
	if !ok || v.Kind() == vm.VoidKind {
		return nil, false
	}
	return v, true
}

func (o options) wrongType(key string, want vm.Kind, got vm.Value) error {
	return errs.Raise(errs.OtherError, "%s: %s must be a %s, got %s", o.fn, key, want, got.Kind())
}

func (o options) text(key, fallback string) (string, error) {
	v, ok := o.get(key)
	if !ok {
		return fallback, nil
	}
	s, ok := v.(*vm.String)
	if !ok {
		return "", o.wrongType(key, vm.StringKind, v)
	}
	return s.V, nil
}

func (o options) flag(key string, fallback bool) (bool, error) {
	v, ok := o.get(key)
	if !ok {
		return fallback, nil
	}
	b, ok := v.(*vm.Bool)
	if !ok {
		return false, o.wrongType(key, vm.BoolKind, v)
	}
	return b.V, nil
}

func (o options) list(key string) ([]vm.Value, bool, error) {
	v, ok := o.get(key)
	if !ok {
		return nil, false, nil
	}
	a, ok := v.(*vm.Array)
	if !ok {
		return nil, false, o.wrongType(key, vm.ArrayKind, v)
	}
	return a.Items, true, nil
}

func (o options) lambda(key string) (vm.Lambda, error) {
	v, ok := o.get(key)
	if !ok {
		return nil, errs.Raise(errs.OtherError, "%s: missing %s", o.fn, key)
	}
	fn, ok := v.(vm.Lambda)
	if !ok {
		return nil, o.wrongType(key, vm.LambdaKind, v)
	}
	return fn, nil
}

func dictArg(v vm.Value) *vm.Dict {
	return v.(*vm.Dict)
}

func tableColumns(items []vm.Value) ([]vm.TableColumn, error) {
	columns := make([]vm.TableColumn, len(items))
	for i, item := range items {
		d, ok := item.(*vm.Dict)
		if !ok {
			return nil, errs.Raise(errs.OtherError, "Table.make: column %d must be a Dict, got %s", i+1, item.Kind())
		}
		o := options{fn: "Table.make", d: d}
		fn, err := o.lambda("fn")
		if err != nil {
			return nil, err
		}
		name, err := o.text("name", "")
		if err != nil {
			return nil, err
		}
		columns[i] = vm.TableColumn{Name: name, Fn: fn}
	}
	return columns, nil
}

func makeTable(data []vm.Value, params *vm.Dict) (vm.Value, error) {
	items, _, err := options{fn: "Table.make", d: params}.list("columns")
	if err != nil {
		return nil, err
	}
	columns, err := tableColumns(items)
	if err != nil {
		return nil, err
	}
	return vm.NewTable(data, columns)
}

// defaultInputs names one input per parameter of fn's longest signature.
func defaultInputs(fn vm.Lambda) []vm.CalculatorInput {
	if user, ok := fn.(*vm.UserDefinedLambda); ok {
		inputs := make([]vm.CalculatorInput, len(user.Params))
		for i, p := range user.Params {
			inputs[i] = vm.CalculatorInput{Name: p.Name}
		}
		return inputs
	}
	counts := fn.ParameterCounts()
	if len(counts) == 0 {
		return nil
	}
	inputs := make([]vm.CalculatorInput, counts[len(counts)-1])
	for i := range inputs {
		inputs[i] = vm.CalculatorInput{Name: fmt.Sprintf("Input %d", i+1)}
	}
	return inputs
}

func calculatorInputs(items []vm.Value) ([]vm.CalculatorInput, error) {
	inputs := make([]vm.CalculatorInput, len(items))
	for i, item := range items {
		switch item := item.(type) {
		case *vm.String:
			inputs[i] = vm.CalculatorInput{Name: item.V}
		case *vm.Dict:
			o := options{fn: "Calculator.make", d: item}
			name, err := o.text("name", fmt.Sprintf("Input %d", i+1))
			if err != nil {
				return nil, err
			}
			dflt, _ := o.get("default")
			inputs[i] = vm.CalculatorInput{Name: name, Default: dflt}
		default:
			return nil, errs.Raise(errs.OtherError, "Calculator.make: input %d must be a String or Dict, got %s", i+1, item.Kind())
		}
	}
	return inputs, nil
}

// makeCalculator builds a calculator around fn. Title and description fall
// back to fn's name and doc tags.
func makeCalculator(fn vm.Lambda, params *vm.Dict) (vm.Value, error) {
	o := options{fn: "Calculator.make", d: params}
	c := &vm.Calculator{Fn: fn}
	var err error
	if c.Title, err = o.text("title", fn.Tags().GetName()); err != nil {
		return nil, err
	}
	if c.Description, err = o.text("description", fn.Tags().GetDoc()); err != nil {
		return nil, err
	}
	if c.Autorun, err = o.flag("autorun", true); err != nil {
		return nil, err
	}
	items, ok, err := o.list("inputs")
	if err != nil {
		return nil, err
	}
	if ok {
		if c.Inputs, err = calculatorInputs(items); err != nil {
			return nil, err
		}
	} else {
		c.Inputs = defaultInputs(fn)
	}
	if v, ok := o.get("sampleCount"); ok {
		n, isNum := v.(*vm.Number)
		if !isNum {
			return nil, o.wrongType("sampleCount", vm.NumberKind, v)
		}
		if n.V != float64(int(n.V)) {
			return nil, errs.Raise(errs.DomainViolation, "Calculator sample count must be an integer, got %s", n)
		}
		c.SampleCount = int(n.V)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func registerTables(l *Library) {
	l.builtin("Table.make",
		def(in(vm.TAnyArray, vm.TAnyDict), vm.TTable, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			return makeTable(items(args[0]), dictArg(args[1]))
		}),
		def(in(vm.TAnyDict), vm.TTable, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			params := dictArg(args[0])
			data, ok, err := options{fn: "Table.make", d: params}.list("data")
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errs.Raise(errs.OtherError, "Table.make: missing data")
			}
			return makeTable(data, params)
		}),
	)
	l.builtin("Calculator.make",
		def(in(vm.TAnyLambda), vm.TCalc, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			return makeCalculator(lambda(args[0]), nil)
		}),
		def(in(vm.TAnyLambda, vm.TAnyDict), vm.TCalc, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			return makeCalculator(lambda(args[0]), dictArg(args[1]))
		}),
		def(in(vm.TAnyDict), vm.TCalc, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
			params := dictArg(args[0])
			fn, err := options{fn: "Calculator.make", d: params}.lambda("fn")
			if err != nil {
				return nil, err
			}
			return makeCalculator(fn, params)
		}),
	)
}
