package markov

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// GenerateStream runs Generate repeatedly in the background and returns a
// read-only channel of the results. The channel is closed after n results
// (n <= 0 means until ctx is done), on the first generation error, or when
// the context is cancelled. Errors are logged, not returned, once the stream
// has started; an empty corpus is reported up front.
func (c *Chain) GenerateStream(ctx context.Context, root Root, n int, opts ...GenerateOption) (<-chan Result, error) {
	entries, err := c.store.CountEntries(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	if entries == 0 {
		return nil, ErrEmptyCorpus
	}

	resultChan := make(chan Result)

	go func() {
		defer close(resultChan)

		for produced := 0; n <= 0 || produced < n; produced++ {
			res, err := c.Generate(ctx, root, opts...)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.DebugContext(ctx, "Generation stream cancelled by context")
					return
				}
				c.logger.ErrorContext(ctx, "Generation stream stopped",
					slog.String("root_id", root.ID),
					slog.Int("produced", produced),
					slog.Any("error", err),
				)
				return
			}
			select {
			case <-ctx.Done():
				return
			case resultChan <- res:
			}
		}
	}()

	return resultChan, nil
}

// GenerateBatch produces n sentences using up to parallelism concurrent
// generations. The first error cancels the remaining work and is returned.
func (c *Chain) GenerateBatch(ctx context.Context, root Root, n, parallelism int, opts ...GenerateOption) ([]Result, error) {
	if n <= 0 {
		return nil, nil
	}
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]Result, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range n {
		g.Go(func() error {
			res, err := c.Generate(gctx, root, opts...)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "Batch generation completed",
		slog.String("root_id", root.ID),
		slog.Int("count", n),
		slog.Int("parallelism", parallelism),
	)
	return results, nil
}
