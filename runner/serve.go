package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/quill-lang/quill/codec"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// handleJob runs one job on the worker side. Anything that stops the worker
// from producing a structured result, including a panic, becomes an
// internal-error reply.
func handleJob(ctx context.Context, e *Embedded, job *Job) (reply *Reply) {
	reply = &Reply{ID: job.ID}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", job.ID).Interface("panic", r).Msg("worker panicked")
			reply = &Reply{ID: job.ID, Type: ReplyInternalError, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	internal := func(err error) *Reply {
		return &Reply{ID: job.ID, Type: ReplyInternalError, Error: err.Error()}
	}

	b, err := codec.Decode(job.Bundle)
	if err != nil {
		return internal(err)
	}
	externals, err := codec.NewDecoder(b, e.Library()).Values(job.Externals)
	if err != nil {
		return internal(err)
	}
	out, err := e.Run(ctx, RunParams{Module: job.Module, Environment: job.Environment, Externals: externals})
	reply.Type = ReplyResult
	if err != nil {
		reply.Result = &WireResult{Err: toWireError(err)}
		return reply
	}

	enc := codec.NewEncoder()
	res := &WireResult{OK: true}
	if res.Result, err = enc.Value(out.Result); err != nil {
		return internal(err)
	}
	if res.Bindings, err = enc.Value(out.Bindings); err != nil {
		return internal(err)
	}
	if res.Exports, err = enc.Value(out.Exports); err != nil {
		return internal(err)
	}
	if reply.Bundle, err = codec.Encode(enc.Bundle()); err != nil {
		return internal(err)
	}
	reply.Result = res
	return reply
}

// ServeStream is the subprocess side of the stream transport: it reads jobs
// from r and writes replies to w until r is exhausted.
func ServeStream(ctx context.Context, r io.Reader, w io.Writer) error {
	e := NewEmbedded()
	dec := msgpack.NewDecoder(r)
	enc := msgpack.NewEncoder(w)
	for {
		var job Job
		if err := dec.Decode(&job); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading job: %w", err)
		}
		log.Debug().Str("job", job.ID).Str("module", job.Module.Name).Msg("worker received job")
		if err := enc.Encode(handleJob(ctx, e, &job)); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
}
