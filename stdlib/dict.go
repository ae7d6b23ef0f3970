package stdlib

import (
	"slices"

	"github.com/quill-lang/quill/vm"
)

func dict(v vm.Value) *vm.Dict {
	return v.(*vm.Dict)
}

func stringValues(keys []string) []vm.Value {
	out := make([]vm.Value, len(keys))
	for i, k := range keys {
		out[i] = vm.NewString(k)
	}
	return out
}

// set returns a copy of d with key bound to v, keeping key order.
func set(d *vm.Dict, key string, v vm.Value) *vm.Dict {
	keys := d.Keys()
	values := d.Values()
	if i := slices.Index(keys, key); i >= 0 {
		values[i] = v
	} else {
		keys = append(keys, key)
		values = append(values, v)
	}
	return vm.NewDict(keys, values)
}

func registerDicts(l *Library) {
	l.builtin("Dict.keys", def(in(vm.TAnyDict), &vm.ArrayType{Elem: vm.TString}, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewArray(stringValues(dict(args[0]).Keys())), nil
	}))
	l.builtin("Dict.values", def(in(vm.TAnyDict), vm.TAnyArray, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewArray(dict(args[0]).Values()), nil
	}))
	l.builtin("Dict.has", def(in(vm.TAnyDict, vm.TString), vm.TBool, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		_, ok := dict(args[0]).Get(str(args[1]))
		return vm.NewBool(ok), nil
	}))
	l.builtin("Dict.get", def(in(vm.TAnyDict, vm.TString, vm.TAny), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		if v, ok := dict(args[0]).Get(str(args[1])); ok {
			return v, nil
		}
		return args[2], nil
	}))
	l.builtin("Dict.set", def(in(vm.TAnyDict, vm.TString, vm.TAny), vm.TAnyDict, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return set(dict(args[0]), str(args[1]), args[2]), nil
	}))
	l.builtin("Dict.merge", def(in(vm.TAnyDict, vm.TAnyDict), vm.TAnyDict, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		out := dict(args[0])
		other := dict(args[1])
		for _, k := range other.Keys() {
			v, _ := other.Get(k)
			out = set(out, k, v)
		}
		return out, nil
	}))
	l.builtin("Dict.size", def(in(vm.TAnyDict), vm.TNumber, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewNumber(float64(dict(args[0]).Len())), nil
	}))
}
