package runner

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ThreadRunner is a worker the pool can own.
type ThreadRunner interface {
	Runner
	Broken() bool
	Close() error
}

type PoolOptions struct {
	// Threads bounds the number of live workers. Defaults to NumCPU.
	Threads int
	// QueueLimit bounds the number of jobs waiting for a thread. Zero means unbounded.
	QueueLimit int
	// NewThread creates a worker. Defaults to NewWorker.
	NewThread func() (ThreadRunner, error)
	Logger    *zerolog.Logger
}

type thread struct {
	id     string
	runner ThreadRunner
	busy   bool
	jobs   atomic.Int64
}

// Pool multiplexes jobs over a bounded set of lazily created workers. A
// thread keeps its identity and warm state across the jobs it serves.
type Pool struct {
	opts PoolOptions
	log  zerolog.Logger

	mu       sync.Mutex
	threads  []*thread
	released chan struct{}
	waiting  int
	closed   bool
}

func NewPool(opts PoolOptions) *Pool {
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	if opts.NewThread == nil {
		opts.NewThread = func() (ThreadRunner, error) { return NewWorker(), nil }
	}
	p := &Pool{opts: opts, released: make(chan struct{})}
	if opts.Logger != nil {
		p.log = *opts.Logger
	} else {
		p.log = log.Logger
	}
	return p
}

func (p *Pool) Run(ctx context.Context, params RunParams) (*interp.Output, error) {
	th, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(th)
	th.jobs.Add(1)
	p.log.Debug().Str("thread", th.id).Str("module", params.Module.Name).Msg("dispatching job")
	return th.runner.Run(ctx, params)
}

// acquire picks an idle thread, else creates one under the limit, else
// waits for a release and retries.
func (p *Pool) acquire(ctx context.Context) (*thread, error) {
	p.mu.Lock()
	queued := false
	defer func() {
		if queued {
			p.waiting--
		}
		p.mu.Unlock()
	}()
	for {
		if p.closed {
			return nil, errs.NewProtocolError(nil, "pool is closed")
		}
		for _, th := range p.threads {
			if !th.busy {
				th.busy = true
				return th, nil
			}
		}
		if len(p.threads) < p.opts.Threads {
			r, err := p.opts.NewThread()
			if err != nil {
				return nil, errs.NewProtocolError(err, "starting pool thread")
			}
			th := &thread{id: uuid.NewString(), runner: r, busy: true}
			p.threads = append(p.threads, th)
			p.log.Debug().Str("thread", th.id).Int("threads", len(p.threads)).Msg("created pool thread")
			return th, nil
		}
		if !queued {
			if p.opts.QueueLimit > 0 && p.waiting >= p.opts.QueueLimit {
				return nil, errs.NewProtocolError(nil, "pool exhausted: %d threads busy and %d jobs queued", len(p.threads), p.waiting)
			}
			queued = true
			p.waiting++
		}
		wait := p.released
		p.mu.Unlock()
		select {
		case <-wait:
			p.mu.Lock()
		case <-ctx.Done():
			p.mu.Lock()
			return nil, errs.CancelledError(ctx.Err(), nil)
		}
	}
}

// release frees th, replacing it if it broke, and wakes every waiter.
func (p *Pool) release(th *thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	th.busy = false
	if p.closed {
		go th.runner.Close()
		return
	}
	if th.runner.Broken() {
		for i, t := range p.threads {
			if t == th {
				p.threads = append(p.threads[:i], p.threads[i+1:]...)
				break
			}
		}
		p.log.Warn().Str("thread", th.id).Msg("dropping broken pool thread")
		go th.runner.Close()
	}
	close(p.released)
	p.released = make(chan struct{})
}

type ThreadStats struct {
	ID   string
	Busy bool
	Jobs int64
}

type PoolStats struct {
	Threads []ThreadStats
	Waiting int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{Waiting: p.waiting}
	for _, th := range p.threads {
		s.Threads = append(s.Threads, ThreadStats{ID: th.id, Busy: th.busy, Jobs: th.jobs.Load()})
	}
	return s
}

// Close stops every idle thread and rejects further jobs. Busy threads are
// closed when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var first error
	for _, th := range p.threads {
		if th.busy {
			continue
		}
		if err := th.runner.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.threads = nil
	close(p.released)
	p.released = make(chan struct{})
	return first
}
