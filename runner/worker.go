package runner

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/stdlib"
)

// Worker runs each job in an isolated execution context. Only codec bundles
// cross the boundary, never live values.
type Worker struct {
	transport Transport
	lib       *stdlib.Library
	broken    atomic.Bool
}

// NewWorker starts a goroutine worker with its own standard library.
func NewWorker() *Worker {
	return &Worker{transport: newChanTransport(), lib: stdlib.New()}
}

// NewProcessWorker starts `path args...` (usually `quill worker`) and
// exchanges jobs with it over stdio.
func NewProcessWorker(path string, args ...string) (*Worker, error) {
	t, err := newProcessTransport(path, args...)
	if err != nil {
		return nil, err
	}
	return &Worker{transport: t, lib: stdlib.New()}, nil
}

// NewStreamWorker talks to a ServeStream peer over w and r. closer, if set,
// is called on Close.
func NewStreamWorker(w io.Writer, r io.Reader, closer io.Closer) *Worker {
	var closeFn func() error
	if closer != nil {
		closeFn = closer.Close
	}
	return &Worker{transport: newStreamTransport(w, r, closeFn, nil), lib: stdlib.New()}
}

func (w *Worker) Run(ctx context.Context, p RunParams) (*interp.Output, error) {
	if w.broken.Load() {
		return nil, errs.NewProtocolError(nil, "worker is broken")
	}
	job, err := newJob(p)
	if err != nil {
		return nil, err
	}
	reply, err := w.transport.Roundtrip(ctx, job)
	if err != nil {
		var perr *errs.ProtocolError
		if errors.As(err, &perr) {
			w.broken.Store(true)
		}
		if w.transport.Broken() {
			w.broken.Store(true)
		}
		return nil, err
	}
	out, err := decodeReply(job, reply, w.lib)
	if err != nil {
		var perr *errs.ProtocolError
		if errors.As(err, &perr) {
			w.broken.Store(true)
		}
		return nil, err
	}
	return out, nil
}

// Broken reports whether the worker failed at the protocol level and must
// be replaced.
func (w *Worker) Broken() bool {
	return w.broken.Load()
}

func (w *Worker) Close() error {
	return w.transport.Close()
}
