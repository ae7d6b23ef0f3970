package runner

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/stdlib"
	"github.com/quill-lang/quill/vm"
	shamaton "github.com/shamaton/msgpack/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSameOutput(t *testing.T, want, got *interp.Output) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, vm.EqualTagged(want.Result, got.Result), "result: want %s, got %s", want.Result, got.Result)
	assert.True(t, vm.EqualTagged(want.Bindings, got.Bindings), "bindings: want %s, got %s", want.Bindings, got.Bindings)
	assert.True(t, vm.EqualTagged(want.Exports, got.Exports), "exports: want %s, got %s", want.Exports, got.Exports)
}

func params(name, code string) RunParams {
	env := vm.DefaultEnvironment()
	env.SampleCount = 200
	return RunParams{Module: Module{Name: name, Code: code}, Environment: env}
}

var agreementCases = []struct {
	name      string
	code      string
	externals map[string]vm.Value
}{
	{name: "bindings", code: "x = 1\ny = x + 2\nexport z = y * 10\nz"},
	{name: "closures", code: "f(x: [0, 10]) = x * 2\nexport g = {|y| f(y) + 1}\ng(3)"},
	{name: "collections", code: "d = {a: [1, 2, 3], b: \"s\"}\nList.map(d.a, {|x| x ^ 2})"},
	{name: "samples", code: "s = normal(0, 1)\n[mean(s), Math.random()]"},
	{name: "tags", code: "@name(\"Total\")\nexport total = 10"},
	{name: "no result", code: "a = \"hello\""},
	{name: "externals", code: "scale * 2", externals: map[string]vm.Value{"scale": vm.NewNumber(21)}},
}

func TestRunnersAgree(t *testing.T) {
	ctx := context.Background()
	embedded := NewEmbedded()
	worker := NewWorker()
	defer worker.Close()
	pool1 := NewPool(PoolOptions{Threads: 1})
	defer pool1.Close()
	pool4 := NewPool(PoolOptions{Threads: 4})
	defer pool4.Close()

	runners := map[string]Runner{"worker": worker, "pool1": pool1, "pool4": pool4}
	for _, tt := range agreementCases {
		t.Run(tt.name, func(t *testing.T) {
			p := params("main", tt.code)
			p.Externals = tt.externals
			want, err := embedded.Run(ctx, p)
			require.NoError(t, err)
			for name, r := range runners {
				got, err := r.Run(ctx, p)
				require.NoError(t, err, name)
				assertSameOutput(t, want, got)
			}
		})
	}
}

func TestPoolBatchAgrees(t *testing.T) {
	ctx := context.Background()
	embedded := NewEmbedded()
	pool := NewPool(PoolOptions{Threads: 4})
	defer pool.Close()

	var jobs []RunParams
	for _, tt := range agreementCases {
		p := params(tt.name, tt.code)
		p.Externals = tt.externals
		jobs = append(jobs, p, p)
	}
	results := RunBatch(ctx, pool, jobs...)
	require.Len(t, results, len(jobs))
	for i, res := range results {
		require.NoError(t, res.Err)
		want, err := embedded.Run(ctx, jobs[i])
		require.NoError(t, err)
		assertSameOutput(t, want, res.Output)
	}
	assert.LessOrEqual(t, len(pool.Stats().Threads), 4)
}

func TestComputedErrorsCrossTheBoundary(t *testing.T) {
	ctx := context.Background()
	embedded := NewEmbedded()
	worker := NewWorker()
	defer worker.Close()

	p := params("main", "f(x) = x / 0\nf(1)")
	_, want := embedded.Run(ctx, p)
	_, got := worker.Run(ctx, p)
	var wantErr, gotErr *errs.RuntimeError
	require.True(t, errors.As(want, &wantErr))
	require.True(t, errors.As(got, &gotErr), "got %T", got)
	assert.Equal(t, wantErr.Kind, gotErr.Kind)
	assert.Equal(t, wantErr.Message(), gotErr.Message())
	assert.Equal(t, wantErr.Detail(), gotErr.Detail())
	assert.False(t, worker.Broken())

	_, got = worker.Run(ctx, params("main", "x = \ny"))
	var cerr *errs.CompileError
	require.True(t, errors.As(got, &cerr), "got %T", got)
	assert.Equal(t, "main", cerr.Location.Source)
	assert.False(t, worker.Broken())
}

func TestCompileErrorCauseCrossesTheBoundary(t *testing.T) {
	_, runtimeErr := NewEmbedded().Run(context.Background(), params("lib", "f(x) = x / 0\nf(1)"))
	require.Error(t, runtimeErr)
	libErr := errs.NewCompileError(ast.Location{Source: "lib"}, "Failed to run prelude")
	libErr.Cause = runtimeErr
	want := &errs.CompileError{
		Msg:      "Failed to import \"lib\"",
		Location: ast.Location{Source: "main", Start: ast.Position{Line: 1, Column: 1}},
		Cause:    libErr,
	}

	data, err := shamaton.Marshal(toWireError(want))
	require.NoError(t, err)
	var wire WireError
	require.NoError(t, shamaton.Unmarshal(data, &wire))
	got := wire.err()

	var cerr *errs.CompileError
	require.True(t, errors.As(got, &cerr), "got %T", got)
	assert.Equal(t, want.Detail(), cerr.Detail())
	var inner *errs.RuntimeError
	require.True(t, errors.As(got, &inner), "cause chain lost")
	assert.Equal(t, errs.DomainViolation, inner.Kind)

	// Foreign causes are not part of Detail, so they are not sent.
	plain := &errs.CompileError{Msg: "Can't resolve import", Cause: errors.New("escapes the project root")}
	wireErr := toWireError(plain)
	assert.Nil(t, wireErr.Cause)
	assert.Equal(t, plain.Detail(), wireErr.err().(*errs.CompileError).Detail())
}

func TestInternalErrorIsNotAComputedResult(t *testing.T) {
	hostOnly := vm.NewBuiltin("hostOnly", vm.FnDefinition{
		Output: vm.TNumber,
		Run: func(vm.Context, []vm.Value) (vm.Value, error) {
			return vm.NewNumber(1), nil
		},
	})
	p := params("main", "f()")
	p.Externals = map[string]vm.Value{"f": hostOnly}

	out, err := NewEmbedded().Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Result.(*vm.Number).V)

	pool := NewPool(PoolOptions{Threads: 1})
	defer pool.Close()
	_, err = pool.Run(context.Background(), p)
	var perr *errs.ProtocolError
	require.True(t, errors.As(err, &perr), "got %T: %v", err, err)
	assert.Equal(t, "worker internal error", perr.Message())
	assert.Contains(t, perr.Detail(), "hostOnly")
	assert.Empty(t, pool.Stats().Threads)

	out, err = pool.Run(context.Background(), params("main", "1 + 1"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Result.(*vm.Number).V)
}

func TestPoolReusesThreads(t *testing.T) {
	pool := NewPool(PoolOptions{Threads: 3})
	defer pool.Close()
	for i := 0; i < 5; i++ {
		_, err := pool.Run(context.Background(), params("main", "sum(List.upTo(1, 10))"))
		require.NoError(t, err)
	}
	stats := pool.Stats()
	require.Len(t, stats.Threads, 1)
	assert.Equal(t, int64(5), stats.Threads[0].Jobs)
	assert.False(t, stats.Threads[0].Busy)
}

func TestPoolCancellation(t *testing.T) {
	pool := NewPool(PoolOptions{Threads: 1})
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := pool.Run(ctx, params("main", "List.make(3000, {|i| List.make(3000, {|j| i * j}) -> List.length}) -> sum"))
	require.Error(t, err)
	assert.True(t, errs.IsCancelled(err), "got %v", err)

	out, err := pool.Run(context.Background(), params("main", "3 * 3"))
	require.NoError(t, err)
	assert.Equal(t, 9.0, out.Result.(*vm.Number).V)
	stats := pool.Stats()
	require.Len(t, stats.Threads, 1)
	assert.False(t, stats.Threads[0].Busy)
}

func TestPoolCancellationInsideBuiltin(t *testing.T) {
	pool := NewPool(PoolOptions{Threads: 1})
	defer pool.Close()

	code := "a = List.upTo(1, 9000000)\nb = List.upTo(1, 9000000)\nc = List.upTo(1, 9000000)\nd = List.upTo(1, 9000000)"
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := pool.Run(ctx, params("main", code))
	require.Error(t, err)
	assert.True(t, errs.IsCancelled(err), "got %v", err)
	var perr *errs.ProtocolError
	assert.False(t, errors.As(err, &perr), "got a protocol error: %v", err)
	assert.Less(t, time.Since(start), CancelGrace, "builtin did not stop at cancellation")

	out, err := pool.Run(context.Background(), params("main", "2 + 2"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.Result.(*vm.Number).V)
}

func TestWorkerPastCancelGraceIsBroken(t *testing.T) {
	grace := CancelGrace
	CancelGrace = 20 * time.Millisecond
	defer func() { CancelGrace = grace }()

	// Nothing serves the jobs channel, so the reply never arrives.
	tr := &chanTransport{jobs: make(chan envelope, 1), replies: make(chan []byte, 1)}
	w := &Worker{transport: tr, lib: stdlib.New()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.Run(ctx, params("main", "1"))
	require.Error(t, err)
	assert.True(t, errs.IsCancelled(err), "got %v", err)
	assert.True(t, w.Broken())

	_, err = w.Run(context.Background(), params("main", "1"))
	var perr *errs.ProtocolError
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

type gatedRunner struct {
	gate     chan struct{}
	inflight *atomic.Int64
	peak     *atomic.Int64
}

func (g *gatedRunner) Run(ctx context.Context, _ RunParams) (*interp.Output, error) {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, errs.CancelledError(ctx.Err(), nil)
	}
	return &interp.Output{Result: vm.NewVoid(), Bindings: vm.NewDict(nil, nil), Exports: vm.NewDict(nil, nil)}, nil
}

func (g *gatedRunner) Broken() bool { return false }
func (g *gatedRunner) Close() error { return nil }

func gatedPool(threads, queue int) (*Pool, *gatedRunner) {
	g := &gatedRunner{gate: make(chan struct{}), inflight: &atomic.Int64{}, peak: &atomic.Int64{}}
	pool := NewPool(PoolOptions{
		Threads:    threads,
		QueueLimit: queue,
		NewThread:  func() (ThreadRunner, error) { return g, nil },
	})
	return pool, g
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool, g := gatedPool(3, 0)
	defer pool.Close()

	jobs := make([]RunParams, 20)
	done := make(chan []BatchResult)
	go func() { done <- RunBatch(context.Background(), pool, jobs...) }()

	assert.Eventually(t, func() bool { return pool.Stats().Waiting == 17 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return g.inflight.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(g.gate)
	results := <-done
	for _, res := range results {
		assert.NoError(t, res.Err)
	}
	assert.Equal(t, int64(3), g.peak.Load())
	assert.Len(t, pool.Stats().Threads, 3)
}

func TestPoolQueueLimit(t *testing.T) {
	pool, g := gatedPool(1, 1)
	defer pool.Close()

	first := make(chan error, 2)
	go func() {
		_, err := pool.Run(context.Background(), RunParams{})
		first <- err
	}()
	assert.Eventually(t, func() bool { return g.inflight.Load() == 1 }, time.Second, 5*time.Millisecond)
	go func() {
		_, err := pool.Run(context.Background(), RunParams{})
		first <- err
	}()
	assert.Eventually(t, func() bool { return pool.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)

	_, err := pool.Run(context.Background(), RunParams{})
	var perr *errs.ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Contains(t, perr.Message(), "pool exhausted")

	close(g.gate)
	assert.NoError(t, <-first)
	assert.NoError(t, <-first)
}

func TestPoolWaiterCancellation(t *testing.T) {
	pool, g := gatedPool(1, 0)
	defer pool.Close()
	defer close(g.gate)

	go pool.Run(context.Background(), RunParams{})
	assert.Eventually(t, func() bool { return g.inflight.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Run(ctx, RunParams{})
	assert.True(t, errs.IsCancelled(err))
	assert.Equal(t, 0, pool.Stats().Waiting)
}

func TestStreamWorker(t *testing.T) {
	jobR, jobW := io.Pipe()
	replyR, replyW := io.Pipe()
	served := make(chan error, 1)
	go func() {
		served <- ServeStream(context.Background(), jobR, replyW)
		replyW.Close()
	}()

	w := NewStreamWorker(jobW, replyR, jobW)
	p := params("main", "f(x) = x + 1\nexport y = f(41)\n{a: y}")
	want, err := NewEmbedded().Run(context.Background(), p)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		got, err := w.Run(context.Background(), p)
		require.NoError(t, err)
		assertSameOutput(t, want, got)
	}

	_, err = w.Run(context.Background(), params("main", "assert(false, \"nope\")"))
	var rerr *errs.RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, errs.AssertionFailed, rerr.Kind)

	require.NoError(t, w.Close())
	assert.NoError(t, <-served)
}

func TestEmbeddedRejectsBadEnvironment(t *testing.T) {
	p := params("main", "1")
	p.Environment.SampleCount = -5
	_, err := NewEmbedded().Run(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample count")
}
