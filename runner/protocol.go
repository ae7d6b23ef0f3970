package runner

import (
	"errors"

	"github.com/google/uuid"
	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/codec"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/vm"
)

const (
	ReplyResult        = "result"
	ReplyInternalError = "internal-error"
)

// Job is the only message sent to a worker.
type Job struct {
	ID          string           `msgpack:"id"`
	Module      Module           `msgpack:"module"`
	Environment vm.Environment   `msgpack:"environment"`
	Bundle      []byte           `msgpack:"bundle"`
	Externals   codec.Entrypoint `msgpack:"externals"`
}

// Reply is the only message a worker sends back. Type is ReplyResult or
// ReplyInternalError; anything else is a protocol error.
type Reply struct {
	ID     string      `msgpack:"id"`
	Type   string      `msgpack:"type"`
	Bundle []byte      `msgpack:"bundle"`
	Result *WireResult `msgpack:"result"`
	Error  string      `msgpack:"error"`
}

// WireResult is a computed outcome: either entrypoints into Reply.Bundle or
// a user-facing error.
type WireResult struct {
	OK       bool             `msgpack:"ok"`
	Result   codec.Entrypoint `msgpack:"result"`
	Bindings codec.Entrypoint `msgpack:"bindings"`
	Exports  codec.Entrypoint `msgpack:"exports"`
	Err      *WireError       `msgpack:"err"`
}

const (
	wireCompile  = "compile"
	wireRuntime  = "runtime"
	wireProtocol = "protocol"
)

type WireLocation struct {
	Source string  `msgpack:"src"`
	Span   []int64 `msgpack:"span"`
}

type WireFrame struct {
	Name     string        `msgpack:"name"`
	Location *WireLocation `msgpack:"loc"`
}

// WireError carries one taxonomy error. Cause rebuilds the chain of a
// compile error whose cause is itself a taxonomy error.
type WireError struct {
	Type     string        `msgpack:"type"`
	Kind     int           `msgpack:"kind"`
	Msg      string        `msgpack:"msg"`
	Diag     string        `msgpack:"diag"`
	Location *WireLocation `msgpack:"loc"`
	Trace    []WireFrame   `msgpack:"trace"`
	Cause    *WireError    `msgpack:"cause"`
}

func toWireLocation(loc *ast.Location) *WireLocation {
	if loc == nil {
		return nil
	}
	return &WireLocation{Source: loc.Source, Span: []int64{
		int64(loc.Start.Line), int64(loc.Start.Column), int64(loc.Start.Offset),
		int64(loc.End.Line), int64(loc.End.Column), int64(loc.End.Offset),
	}}
}

func (w *WireLocation) location() *ast.Location {
	if w == nil {
		return nil
	}
	loc := &ast.Location{Source: w.Source}
	if len(w.Span) == 6 {
		loc.Start = ast.Position{Line: int(w.Span[0]), Column: int(w.Span[1]), Offset: int(w.Span[2])}
		loc.End = ast.Position{Line: int(w.Span[3]), Column: int(w.Span[4]), Offset: int(w.Span[5])}
	}
	return loc
}

func toWireError(err error) *WireError {
	var cerr *errs.CompileError
	var rerr *errs.RuntimeError
	var perr *errs.ProtocolError
	switch {
	case errors.As(err, &cerr):
		w := &WireError{Type: wireCompile, Msg: cerr.Msg, Location: toWireLocation(&cerr.Location)}
		var inner errs.Error
		if errors.As(cerr.Cause, &inner) {
			w.Cause = toWireError(inner)
		}
		return w
	case errors.As(err, &rerr):
		w := &WireError{Type: wireRuntime, Kind: int(rerr.Kind), Msg: rerr.Msg}
		if rerr.Trace != nil {
			for _, f := range rerr.Trace.Frames {
				w.Trace = append(w.Trace, WireFrame{Name: f.Name, Location: toWireLocation(f.Location)})
			}
		}
		return w
	case errors.As(err, &perr):
		return &WireError{Type: wireProtocol, Msg: perr.Msg, Diag: perr.Detail()}
	}
	return toWireError(errs.Wrap(err))
}

func (w *WireError) err() error {
	switch w.Type {
	case wireCompile:
		cerr := &errs.CompileError{Msg: w.Msg}
		if loc := w.Location.location(); loc != nil {
			cerr.Location = *loc
		}
		if w.Cause != nil {
			cerr.Cause = w.Cause.err()
		}
		return cerr
	case wireRuntime:
		trace := &errs.StackTrace{}
		for _, f := range w.Trace {
			trace.Frames = append(trace.Frames, errs.TraceFrame{Name: f.Name, Location: f.Location.location()})
		}
		return &errs.RuntimeError{Kind: errs.RuntimeKind(w.Kind), Msg: w.Msg, Trace: trace}
	case wireProtocol:
		return &errs.ProtocolError{Msg: w.Msg, Diag: w.Diag}
	}
	return errs.NewProtocolError(nil, "unknown error type %q in reply", w.Type)
}

// newJob serializes params into a job message.
func newJob(p RunParams) (*Job, error) {
	enc := codec.NewEncoder()
	ep, err := enc.Values(p.Externals)
	if err != nil {
		return nil, errs.NewProtocolError(err, "serializing externals")
	}
	bundle, err := codec.Encode(enc.Bundle())
	if err != nil {
		return nil, errs.NewProtocolError(err, "encoding externals")
	}
	return &Job{
		ID:          uuid.NewString(),
		Module:      p.Module,
		Environment: p.Environment,
		Bundle:      bundle,
		Externals:   ep,
	}, nil
}

// decodeReply turns a worker reply back into an output or an error. Internal
// errors come back as ProtocolErrors, never as computed results.
func decodeReply(job *Job, reply *Reply, lib codec.Builtins) (*interp.Output, error) {
	if reply == nil {
		return nil, errs.NewProtocolError(nil, "empty reply to job %s", job.ID)
	}
	if reply.ID != job.ID {
		return nil, errs.NewProtocolError(nil, "reply %q does not match job %q", reply.ID, job.ID)
	}
	switch reply.Type {
	case ReplyInternalError:
		return nil, &errs.ProtocolError{Msg: "worker internal error", Diag: reply.Error}
	case ReplyResult:
	default:
		return nil, errs.NewProtocolError(nil, "unexpected reply type %q", reply.Type)
	}
	res := reply.Result
	if res == nil {
		return nil, errs.NewProtocolError(nil, "result reply without a result")
	}
	if !res.OK {
		if res.Err == nil {
			return nil, errs.NewProtocolError(nil, "failed result without an error")
		}
		return nil, res.Err.err()
	}
	b, err := codec.Decode(reply.Bundle)
	if err != nil {
		return nil, err
	}
	dec := codec.NewDecoder(b, lib)
	out := &interp.Output{}
	if out.Result, err = dec.Value(res.Result); err != nil {
		return nil, err
	}
	if out.Bindings, err = dec.Dict(res.Bindings); err != nil {
		return nil, err
	}
	if out.Exports, err = dec.Dict(res.Exports); err != nil {
		return nil, err
	}
	return out, nil
}
