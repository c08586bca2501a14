package background

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/c360/resourcekit/errors"
)

// BatchProcess splits items into ordered chunks of at most batchSize. Each chunk
// runs one goroutine per item and completes before the next starts, with the
// processor's batch delay in between. Results keep input order.
//
// The first failure cancels the rest of its chunk, skips remaining chunks and
// is returned unchanged with a nil result slice.
func BatchProcess[T, R any](
	ctx context.Context, p *Processor, items []T, batchSize int, fn func(context.Context, T) (R, error),
) ([]R, error) {
	if batchSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Processor", "BatchProcess",
			fmt.Sprintf("batch size must be positive, got %d", batchSize))
	}
	if fn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Processor", "BatchProcess", "batch function cannot be nil")
	}
	if p == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Processor", "BatchProcess", "processor cannot be nil")
	}

	results := make([]R, len(items))

	for start := 0; start < len(items); start += batchSize {
		if start > 0 && p.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.clock.After(p.batchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+batchSize, len(items))
		g, chunkCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				r, err := fn(chunkCtx, items[i])
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			if p.metrics != nil {
				p.metrics.RecordBatchItems("failed", end-start)
			}
			p.logger.Debug("Batch chunk failed", "chunk_start", start, "chunk_size", end-start, "error", err)
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.RecordBatchItems("succeeded", end-start)
		}
	}

	return results, nil
}
