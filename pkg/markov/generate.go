package markov

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultMaxTries is the number of attempts Generate makes when no
// WithMaxTries option is given.
const DefaultMaxTries = 10

// Result is a generated sentence. Score grows by one for every word a
// continuation step adds beyond the first, and is only useful for ranking
// results against each other. Refs are the input sentences the walk drew on,
// one per distinct string. Tries is the attempt that produced the result.
type Result struct {
	Text  string      `json:"string"`
	Score int         `json:"score"`
	Refs  []Reference `json:"refs"`
	Tries int         `json:"tries"`
}

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	maxTries int
	filter   func(Result) bool
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in generation functions like Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithMaxTries sets how many attempts are made before giving up. It also caps
// the number of continuation steps within a single attempt. Values below 1
// keep the default.
func WithMaxTries(n int) GenerateOption {
	return func(o *generateOptions) {
		if n > 0 {
			o.maxTries = n
		}
	}
}

// WithFilter sets a predicate every candidate must pass. Rejected candidates
// count as a failed attempt.
func WithFilter(filter func(Result) bool) GenerateOption {
	return func(o *generateOptions) {
		if filter != nil {
			o.filter = filter
		}
	}
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		maxTries: DefaultMaxTries,
		filter:   func(Result) bool { return true },
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate walks the root's chain from a random start fragment until it lands
// on a known end fragment, and returns the first sentence the filter accepts.
// Attempts that dead-end, run out of steps or fail the filter are discarded
// and retried from scratch, up to the configured number of tries.
//
// It returns ErrEmptyCorpus when the root has no entries, ErrNoFragment when
// it has entries but no start fragments, and a *GenerationExhaustedError when
// every attempt was discarded.
func (c *Chain) Generate(ctx context.Context, root Root, opts ...GenerateOption) (Result, error) {
	options := newGenerateOptions(opts)

	entries, err := c.store.CountEntries(ctx, root.ID)
	if err != nil {
		return Result{}, err
	}
	if entries == 0 {
		return Result{}, ErrEmptyCorpus
	}

	for tries := 1; tries <= options.maxTries; tries++ {
		res, ended, err := c.attempt(ctx, root, options.maxTries)
		if err != nil {
			return Result{}, err
		}
		res.Tries = tries

		if !ended {
			c.logger.DebugContext(ctx, "Generation attempt did not reach an end fragment",
				slog.String("root_id", root.ID),
				slog.Int("try", tries),
				slog.String("partial", res.Text),
			)
			continue
		}
		if !options.filter(res) {
			c.logger.DebugContext(ctx, "Generation attempt rejected by filter",
				slog.String("root_id", root.ID),
				slog.Int("try", tries),
				slog.String("candidate", res.Text),
			)
			continue
		}
		return res, nil
	}

	return Result{}, &GenerationExhaustedError{Tries: options.maxTries}
}

// attempt performs a single walk. References are only collected for walks
// that ended, since nothing else is ever returned to the caller.
func (c *Chain) attempt(ctx context.Context, root Root, maxSteps int) (Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, false, err
	}

	start, err := c.store.SampleFragment(ctx, StartOf(root.ID))
	if err != nil {
		return Result{}, false, err
	}
	if start == nil {
		return Result{}, false, ErrNoFragment
	}

	chain := []Fragment{*start}
	score := 0
	ended := false

	for step := 0; step < maxSteps; step++ {
		if err = ctx.Err(); err != nil {
			return Result{}, false, err
		}

		last := chain[len(chain)-1]
		entry, err := c.store.FindEntry(ctx, root.ID, last.Words)
		if err != nil {
			return Result{}, false, err
		}
		if entry == nil { // Dead end in chain
			break
		}

		child, err := c.store.SampleFragment(ctx, ChildOf(*entry))
		if err != nil {
			return Result{}, false, err
		}
		if child == nil {
			break
		}

		chain = append(chain, *child)
		score += wordCount(child.Words) - 1

		end, err := c.store.FindFragment(ctx, EndOf(root.ID), child.Words)
		if err != nil {
			return Result{}, false, err
		}
		if end != nil {
			ended = true
			break
		}
	}

	parts := make([]string, len(chain))
	for i, frag := range chain {
		parts[i] = frag.Words
	}
	res := Result{
		Text:  strings.TrimSpace(strings.Join(parts, " ")),
		Score: score,
	}
	if !ended {
		return res, false, nil
	}

	res.Refs, err = c.collectRefs(ctx, chain)
	if err != nil {
		return Result{}, false, err
	}
	return res, true, nil
}

// collectRefs gathers the references of every fragment in the walk, keeping
// the first reference seen for each original string.
func (c *Chain) collectRefs(ctx context.Context, chain []Fragment) ([]Reference, error) {
	seen := make(map[string]struct{})
	var refs []Reference
	for _, frag := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fragRefs, err := c.store.ListReferences(ctx, frag.ID)
		if err != nil {
			return nil, err
		}
		for _, ref := range fragRefs {
			if _, ok := seen[ref.String]; ok {
				continue
			}
			seen[ref.String] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
