package runner

import (
	"context"

	"github.com/quill-lang/quill/interp"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one job in a batch, at the job's index.
type BatchResult struct {
	Output *interp.Output
	Err    error
}

// RunBatch runs every job on r concurrently. A failing job does not cancel
// its siblings; only ctx does.
func RunBatch(ctx context.Context, r Runner, jobs ...RunParams) []BatchResult {
	results := make([]BatchResult, len(jobs))
	var g errgroup.Group
	for i, p := range jobs {
		g.Go(func() error {
			out, err := r.Run(ctx, p)
			results[i] = BatchResult{Output: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
