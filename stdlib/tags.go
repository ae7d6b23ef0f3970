package stdlib

import "github.com/quill-lang/quill/vm"

func registerTags(l *Library) {
	l.builtin("Tag.name", def(in(vm.TAny, vm.TString), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		name := str(args[1])
		return vm.Tag(args[0], func(t *vm.Tags) *vm.Tags { return t.WithName(name) }), nil
	}))
	l.builtin("Tag.doc", def(in(vm.TAny, vm.TString), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		doc := str(args[1])
		return vm.Tag(args[0], func(t *vm.Tags) *vm.Tags { return t.WithDoc(doc) }), nil
	}))
	l.builtin("Tag.getName", def(in(vm.TAny), vm.TString, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewString(args[0].Tags().GetName()), nil
	}))
	l.builtin("Tag.getDoc", def(in(vm.TAny), vm.TString, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return vm.NewString(args[0].Tags().GetDoc()), nil
	}))
	l.builtin("Tag.clear", def(in(vm.TAny), vm.TAny, func(_ vm.Context, args []vm.Value) (vm.Value, error) {
		return args[0].WithTags(nil), nil
	}))
}
