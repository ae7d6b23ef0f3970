package interp

import (
	"context"

	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
)

// Output is what one module run produces. Exports is a tagged subset of Bindings.
type Output struct {
	Result   vm.Value
	Bindings *vm.Dict
	Exports  *vm.Dict
}

// RunProgram evaluates a compiled module from an empty stack. The stack is
// not shrunk at the end so top-level bindings can be read from their slots.
func RunProgram(ctx context.Context, prog *vm.Program, env vm.Environment) (*Output, error) {
	r := NewReducer(ctx, env)
	defer r.frames.Reset()
	if err := r.checkCancelled(nil); err != nil {
		return nil, err
	}
	for _, id := range prog.Statements {
		if _, err := r.Evaluate(prog, id); err != nil {
			return nil, err
		}
	}
	var result vm.Value = vm.NewVoid()
	if prog.Result != vm.NoExpr {
		v, err := r.Evaluate(prog, prog.Result)
		if err != nil {
			return nil, err
		}
		result = v
	}

	keys := make([]string, 0, len(prog.Bindings))
	values := make([]vm.Value, 0, len(prog.Bindings))
	var exportKeys []string
	var exportValues []vm.Value
	for _, b := range prog.Bindings {
		v, err := r.stack.At(b.Slot)
		if err != nil {
			return nil, r.raise(err, nil)
		}
		if prog.IsExported(b.Name) {
			v = vm.Tag(v, func(t *vm.Tags) *vm.Tags {
				return t.WithExportData(prog.SourceID, []string{b.Name})
			})
			exportKeys = append(exportKeys, b.Name)
			exportValues = append(exportValues, v)
		}
		keys = append(keys, b.Name)
		values = append(values, v)
	}
	exports := vm.NewDict(exportKeys, exportValues).
		WithTags((*vm.Tags)(nil).WithExportData(prog.SourceID, []string{})).(*vm.Dict)

	log.Debug().
		Str("source", prog.SourceID).
		Int("bindings", len(keys)).
		Int("exports", len(exportKeys)).
		Msg("module reduced")
	return &Output{
		Result:   result,
		Bindings: vm.NewDict(keys, values),
		Exports:  exports,
	}, nil
}
