package replay

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ParallelOptions controls a multi-aggregate replay
type ParallelOptions struct {
	// Concurrency bounds the number of aggregates replayed at once
	// (default 4).
	Concurrency int
	// FailFast cancels remaining replays on the first error. Without it,
	// failures are collected per aggregate and the rest proceed.
	FailFast bool
}

// ParallelResult is the outcome of a multi-aggregate replay
type ParallelResult struct {
	Results map[string]*Result `json:"results"`
	Errors  map[string]string  `json:"errors,omitempty"`
}

// ReplayMultipleAggregatesParallel replays several aggregates with bounded
// concurrency.
func (e *Engine) ReplayMultipleAggregatesParallel(ctx context.Context, aggregateIDs []string, opts ParallelOptions) (*ParallelResult, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	out := &ParallelResult{
		Results: make(map[string]*Result, len(aggregateIDs)),
		Errors:  make(map[string]string),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, id := range aggregateIDs {
		aggregateID := id
		g.Go(func() error {
			result, err := e.ReplayEvents(gctx, aggregateID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[aggregateID] = err.Error()
				if opts.FailFast {
					return err
				}
				return nil
			}
			out.Results[aggregateID] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
