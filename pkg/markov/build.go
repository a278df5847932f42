package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// IngestStrings is a convenience wrapper around Ingest for inputs without payloads.
func (c *Chain) IngestStrings(ctx context.Context, root Root, strs ...string) error {
	items := make([]Item, len(strs))
	for i, s := range strs {
		items[i] = Item{String: s}
	}
	return c.Ingest(ctx, root, items...)
}

// Ingest adds each item's sentence to the root's graph: its start window, its
// end window, and one entry -> child link for every full window that follows
// another. Existing entries, fragments and references are reused, so
// ingesting the same sentence twice leaves the graph unchanged.
//
// Items are validated before anything is written. Each item is then written
// in its own store transaction; when an item fails, the items before it stay
// committed.
func (c *Chain) Ingest(ctx context.Context, root Root, items ...Item) error {
	for i, item := range items {
		if item.String == "" {
			return &InvalidInputError{Index: i, Reason: "missing string"}
		}
	}

	// The stored state size is authoritative.
	root, err := c.store.GetRoot(ctx, root.ID)
	if err != nil {
		return err
	}

	var refsCreated int
	for i, item := range items {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = c.store.Update(ctx, func(tx Store) error {
			n, err := ingestItem(ctx, tx, root, item)
			refsCreated += n
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to ingest item %d: %w", i, err)
		}
	}

	c.logger.InfoContext(ctx, "Ingest completed",
		slog.String("root_id", root.ID),
		slog.Int("items_processed", len(items)),
		slog.Int("references_created", refsCreated),
	)
	return nil
}

// ingestItem writes one sentence and returns how many references it created.
func ingestItem(ctx context.Context, tx Store, root Root, item Item) (int, error) {
	words := splitWords(item.String)
	size := root.StateSize
	created := 0

	link := func(parent Parent, w string) error {
		frag, err := tx.UpsertFragment(ctx, parent, w)
		if err != nil {
			return err
		}
		ok, err := tx.UpsertReference(ctx, frag.ID, item.String, item.Custom)
		if ok {
			created++
		}
		return err
	}

	start, _ := window(words, 0, size)
	if err := link(StartOf(root.ID), start); err != nil {
		return created, err
	}

	end, _ := window(words, len(words)-size, len(words))
	if err := link(EndOf(root.ID), end); err != nil {
		return created, err
	}

	for i := 0; i < len(words)-1; i++ {
		next, n := window(words, i+size, i+2*size)
		if n < size {
			// Every later window is shorter still.
			break
		}
		if err := ctx.Err(); err != nil {
			return created, err
		}
		curr, _ := window(words, i, i+size)
		entry, err := tx.UpsertEntry(ctx, root.ID, curr)
		if err != nil {
			return created, err
		}
		if err = link(ChildOf(entry), next); err != nil {
			return created, err
		}
	}
	return created, nil
}
