package interp

import (
	"fmt"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
)

// domainError carries a parameter domain violation up to the call site, which
// knows where the offending argument was written.
type domainError struct {
	idx int
	err error
}

func (e *domainError) Error() string { return e.err.Error() }
func (e *domainError) Unwrap() error { return e.err }

// call dispatches to either lambda kind. The frame is pushed for the whole
// call and popped on every exit path.
func (r *Reducer) call(fn vm.Lambda, args []vm.Value, loc *ast.Location) (vm.Value, error) {
	if err := r.checkCancelled(loc); err != nil {
		return nil, err
	}
	if r.frames.Depth() >= MaxCallDepth {
		return nil, r.raise(errs.Raise(errs.OtherError, "Maximum call stack size exceeded"), loc)
	}
	log.Trace().
		Str("lambda", fn.LambdaName()).
		Int("args", len(args)).
		Int("depth", r.frames.Depth()).
		Msg("call")

	switch fn := fn.(type) {
	case *vm.BuiltinLambda:
		r.frames.Push(Frame{Lambda: fn, CallLocation: loc})
		defer r.frames.Pop()
		v, err := fn.Call(r, args)
		if err != nil {
			return nil, r.raise(err, loc)
		}
		return v, nil
	case *vm.UserDefinedLambda:
		v, err := r.callUser(fn, args, loc)
		if dom, ok := err.(*domainError); ok && loc == nil {
			return nil, r.raise(dom.err, nil)
		}
		return v, err
	}
	return nil, r.raise(fmt.Errorf("unknown lambda type %T", fn), loc)
}

func (r *Reducer) callUser(fn *vm.UserDefinedLambda, args []vm.Value, loc *ast.Location) (vm.Value, error) {
	if len(args) != len(fn.Params) {
		return nil, r.raise(errs.Raise(errs.ArityMismatch, "%s", vm.ArityMessage(len(fn.Params), len(args))), loc)
	}
	for i, p := range fn.Params {
		if p.Domain == nil {
			continue
		}
		if err := p.Domain.Validate(i, args[i]); err != nil {
			return nil, &domainError{idx: i, err: err}
		}
	}
	if fn.Program == nil {
		return nil, r.raise(fmt.Errorf("lambda %s has no body", fn.LambdaName()), loc)
	}

	r.frames.Push(Frame{Lambda: fn, CallLocation: loc})
	defer r.frames.Pop()
	size := r.stack.Size()
	defer r.stack.Shrink(size)
	for _, a := range args {
		r.stack.Push(a)
	}
	r.trace("enter lambda body")
	return r.Evaluate(fn.Program, fn.Body)
}
