package interp

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/dgryski/go-farm"
	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
)

// MaxCallDepth bounds nested lambda calls.
const MaxCallDepth = 5000

// Reducer evaluates Expression programs. It implements vm.Context for builtins.
type Reducer struct {
	ctx    context.Context
	env    vm.Environment
	rng    *rand.Rand
	stack  Stack
	frames FrameStack
}

func NewReducer(ctx context.Context, env vm.Environment) *Reducer {
	env = env.WithDefaults()
	seed := farm.Fingerprint64([]byte(env.Seed))
	return &Reducer{
		ctx: ctx,
		env: env,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (r *Reducer) Context() context.Context     { return r.ctx }
func (r *Reducer) Environment() vm.Environment { return r.env }
func (r *Reducer) Rand() *rand.Rand            { return r.rng }

// Call is used by builtins that invoke lambdas. Such calls have no source location.
func (r *Reducer) Call(fn vm.Lambda, args []vm.Value) (vm.Value, error) {
	return r.call(fn, args, nil)
}

// raise snapshots the frame stack at loc. Errors that already carry a trace
// pass through, so the innermost annotation wins.
func (r *Reducer) raise(err error, loc *ast.Location) error {
	var rerr *errs.RuntimeError
	if errors.As(err, &rerr) {
		if rerr.Trace == nil {
			rerr.Trace = errs.NewStackTrace(r.frames.Snapshot(), loc)
		}
		return rerr
	}
	var qerr errs.Error
	if errors.As(err, &qerr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.CancelledError(err, errs.NewStackTrace(r.frames.Snapshot(), loc))
	}
	return &errs.RuntimeError{
		Kind:  errs.InternalError,
		Msg:   err.Error(),
		Trace: errs.NewStackTrace(r.frames.Snapshot(), loc),
		Cause: err,
	}
}

func (r *Reducer) raiseAt(loc ast.Location, kind errs.RuntimeKind, format string, args ...any) error {
	return r.raise(errs.Raise(kind, format, args...), &loc)
}

func (r *Reducer) checkCancelled(loc *ast.Location) error {
	if err := r.ctx.Err(); err != nil {
		return errs.CancelledError(err, errs.NewStackTrace(r.frames.Snapshot(), loc))
	}
	return nil
}

func (r *Reducer) Evaluate(p *vm.Program, id vm.ExprID) (vm.Value, error) {
	e, err := p.Get(id)
	if err != nil {
		return nil, r.raise(err, nil)
	}
	switch e.Code {
	case vm.VALUE:
		return e.Value, nil
	case vm.STACK_REF:
		v, err := r.stack.Get(e.Offset)
		if err != nil {
			return nil, r.raise(err, &e.Location)
		}
		return v, nil
	case vm.CAPTURE_REF:
		return r.capture(e)
	case vm.BLOCK:
		return r.block(p, e)
	case vm.ASSIGN:
		v, err := r.Evaluate(p, e.Body)
		if err != nil {
			return nil, err
		}
		r.stack.Push(v)
		return vm.NewVoid(), nil
	case vm.CALL:
		return r.callExpr(p, e)
	case vm.LAMBDA:
		return r.lambda(p, e)
	case vm.TERNARY:
		return r.ternary(p, e)
	case vm.BUILD_LIST:
		items, err := r.evaluateAll(p, e.Args)
		if err != nil {
			return nil, err
		}
		return vm.NewArray(items), nil
	case vm.BUILD_DICT:
		return r.dict(p, e)
	}
	return nil, r.raiseAt(e.Location, errs.InternalError, "unknown opcode %s", e.Code)
}

func (r *Reducer) evaluateAll(p *vm.Program, ids []vm.ExprID) ([]vm.Value, error) {
	out := make([]vm.Value, len(ids))
	for i, id := range ids {
		v, err := r.Evaluate(p, id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *Reducer) capture(e *vm.Expr) (vm.Value, error) {
	top, ok := r.frames.Top()
	if !ok {
		return nil, r.raiseAt(e.Location, errs.InternalError, "can't reference a capture when not in a function")
	}
	l, ok := top.Lambda.(*vm.UserDefinedLambda)
	if !ok || e.Offset < 0 || e.Offset >= len(l.Captures) {
		return nil, r.raiseAt(e.Location, errs.InternalError, "invalid capture id %d", e.Offset)
	}
	return l.Captures[e.Offset], nil
}

func (r *Reducer) block(p *vm.Program, e *vm.Expr) (vm.Value, error) {
	size := r.stack.Size()
	defer r.stack.Shrink(size)
	for _, id := range e.Args {
		if _, err := r.Evaluate(p, id); err != nil {
			return nil, err
		}
	}
	return r.Evaluate(p, e.Body)
}

func (r *Reducer) ternary(p *vm.Program, e *vm.Expr) (vm.Value, error) {
	cond, err := r.Evaluate(p, e.Args[0])
	if err != nil {
		return nil, err
	}
	b, ok := vm.Truthy(cond)
	if !ok {
		return nil, r.raiseAt(e.Location, errs.OtherError, "Ternary condition must be a Bool, got %s", cond.Kind())
	}
	if b {
		return r.Evaluate(p, e.Args[1])
	}
	return r.Evaluate(p, e.Args[2])
}

func (r *Reducer) dict(p *vm.Program, e *vm.Expr) (vm.Value, error) {
	n := len(e.Args) / 2
	keys := make([]string, n)
	values := make([]vm.Value, n)
	for i := 0; i < n; i++ {
		k, err := r.Evaluate(p, e.Args[2*i])
		if err != nil {
			return nil, err
		}
		s, ok := k.(*vm.String)
		if !ok {
			return nil, r.raiseAt(e.Location, errs.OtherError, "Dict keys must be strings, got %s", k.Kind())
		}
		keys[i] = s.V
		values[i], err = r.Evaluate(p, e.Args[2*i+1])
		if err != nil {
			return nil, err
		}
	}
	return vm.NewDict(keys, values), nil
}

// lambda builds a closure: parameter annotations become domains and
// captures are copied now, so later changes to the defining scope are invisible.
func (r *Reducer) lambda(p *vm.Program, e *vm.Expr) (vm.Value, error) {
	params := make([]vm.Param, len(e.Params))
	for i, param := range e.Params {
		params[i].Name = param.Name
		if param.Annotation == vm.NoExpr {
			continue
		}
		ann, err := r.Evaluate(p, param.Annotation)
		if err != nil {
			return nil, err
		}
		d, err := vm.DomainFromValue(ann)
		if err != nil {
			return nil, r.raise(err, &e.Location)
		}
		params[i].Domain = d
	}
	captures := make([]vm.Value, len(e.Captures))
	for i, c := range e.Captures {
		var err error
		switch c.Op {
		case vm.STACK_REF:
			captures[i], err = r.stack.Get(c.Offset)
		case vm.CAPTURE_REF:
			captures[i], err = r.capture(&vm.Expr{Code: vm.CAPTURE_REF, Offset: c.Offset, Location: e.Location})
		default:
			return nil, r.raiseAt(e.Location, errs.InternalError, "impossible capture %s", c.Op)
		}
		if err != nil {
			return nil, r.raise(err, &e.Location)
		}
	}
	return &vm.UserDefinedLambda{
		Name:     e.Name,
		Params:   params,
		Captures: captures,
		Program:  p,
		Body:     e.Body,
		Location: e.Location,
	}, nil
}

func (r *Reducer) callExpr(p *vm.Program, e *vm.Expr) (vm.Value, error) {
	callee, err := r.Evaluate(p, e.Body)
	if err != nil {
		return nil, err
	}
	fn, ok := callee.(vm.Lambda)
	if !ok {
		fnExpr, _ := p.Get(e.Body)
		return nil, r.raiseAt(fnExpr.Location, errs.NotAFunction, "%s is not a function", callee)
	}
	args, err := r.evaluateAll(p, e.Args)
	if err != nil {
		return nil, err
	}
	v, err := r.call(fn, args, &e.Location)
	var dom *domainError
	if errors.As(err, &dom) {
		argExpr, _ := p.Get(e.Args[dom.idx])
		return nil, r.raise(dom.err, &argExpr.Location)
	}
	return v, err
}

func (r *Reducer) trace(msg string) {
	log.Trace().Int("frames", r.frames.Depth()).Int("stack", r.stack.Size()).Msg(msg)
}
