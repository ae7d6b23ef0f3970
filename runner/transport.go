package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quill-lang/quill/errs"
	"github.com/rs/zerolog/log"
	shamaton "github.com/shamaton/msgpack/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// CancelGrace is how long a worker may take to answer after its job was cancelled.
var CancelGrace = 2 * time.Second

// Transport carries one job to an isolated worker and its reply back.
// Broken reports that the transport can no longer pair jobs with replies.
type Transport interface {
	Roundtrip(ctx context.Context, job *Job) (*Reply, error)
	Broken() bool
	Close() error
}

type envelope struct {
	ctx  context.Context
	data []byte
}

// chanTransport runs the worker on its own goroutine with its own standard
// library. Only encoded bytes cross the channel; the context travels beside them.
type chanTransport struct {
	jobs    chan envelope
	replies chan []byte
	once    sync.Once
	stuck   atomic.Bool
}

func newChanTransport() *chanTransport {
	t := &chanTransport{
		jobs:    make(chan envelope),
		replies: make(chan []byte, 1),
	}
	go t.loop(NewEmbedded())
	return t
}

func (t *chanTransport) loop(e *Embedded) {
	for env := range t.jobs {
		var job Job
		var reply *Reply
		if err := shamaton.Unmarshal(env.data, &job); err != nil {
			reply = &Reply{Type: ReplyInternalError, Error: fmt.Sprintf("malformed job: %v", err)}
		} else {
			reply = handleJob(env.ctx, e, &job)
		}
		data, err := shamaton.Marshal(reply)
		if err != nil {
			log.Error().Err(err).Msg("encoding reply")
			data = nil
		}
		t.replies <- data
	}
}

func (t *chanTransport) Roundtrip(ctx context.Context, job *Job) (*Reply, error) {
	data, err := shamaton.Marshal(job)
	if err != nil {
		return nil, errs.NewProtocolError(err, "encoding job")
	}
	select {
	case t.jobs <- envelope{ctx: ctx, data: data}:
	case <-ctx.Done():
		return nil, errs.CancelledError(ctx.Err(), nil)
	}
	var raw []byte
	select {
	case raw = <-t.replies:
	case <-ctx.Done():
		// The worker sees the same context and should stop at its next call boundary.
		select {
		case raw = <-t.replies:
		case <-time.After(CancelGrace):
			// A late reply would be read as the answer to the next job.
			t.stuck.Store(true)
			log.Warn().Dur("grace", CancelGrace).Msg("worker did not stop after cancellation")
			return nil, errs.CancelledError(ctx.Err(), nil)
		}
	}
	var reply Reply
	if err := shamaton.Unmarshal(raw, &reply); err != nil {
		return nil, errs.NewProtocolError(err, "malformed reply")
	}
	return &reply, nil
}

func (t *chanTransport) Broken() bool {
	return t.stuck.Load()
}

func (t *chanTransport) Close() error {
	t.once.Do(func() { close(t.jobs) })
	return nil
}

// streamTransport speaks msgpack frames over a byte stream, such as the
// stdio of a `quill worker` subprocess.
type streamTransport struct {
	enc   *msgpack.Encoder
	dec   *msgpack.Decoder
	close  func() error
	kill   func()
	killed atomic.Bool
}

type streamResult struct {
	reply *Reply
	err   error
}

func newStreamTransport(w io.Writer, r io.Reader, closeFn func() error, kill func()) *streamTransport {
	return &streamTransport{
		enc:   msgpack.NewEncoder(w),
		dec:   msgpack.NewDecoder(bufio.NewReader(r)),
		close: closeFn,
		kill:  kill,
	}
}

// Roundtrip cannot signal cancellation through the stream, so a cancelled
// job kills the worker and the transport is unusable afterwards.
func (t *streamTransport) Roundtrip(ctx context.Context, job *Job) (*Reply, error) {
	done := make(chan streamResult, 1)
	go func() {
		if err := t.enc.Encode(job); err != nil {
			done <- streamResult{err: errs.NewProtocolError(err, "writing job")}
			return
		}
		var reply Reply
		if err := t.dec.Decode(&reply); err != nil {
			done <- streamResult{err: errs.NewProtocolError(err, "malformed reply")}
			return
		}
		done <- streamResult{reply: &reply}
	}()
	select {
	case res := <-done:
		return res.reply, res.err
	case <-ctx.Done():
		t.killed.Store(true)
		if t.kill != nil {
			t.kill()
		}
		return nil, errs.CancelledError(ctx.Err(), nil)
	}
}

func (t *streamTransport) Broken() bool {
	return t.killed.Load()
}

func (t *streamTransport) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// newProcessTransport starts `path args...` and talks to it over stdio.
func newProcessTransport(path string, args ...string) (*streamTransport, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("pid", cmd.Process.Pid).Msg("started worker process")
	var once sync.Once
	closeFn := func() error {
		var err error
		once.Do(func() {
			stdin.Close()
			err = cmd.Wait()
		})
		return err
	}
	kill := func() {
		_ = cmd.Process.Kill()
	}
	return newStreamTransport(stdin, stdout, closeFn, kill), nil
}
