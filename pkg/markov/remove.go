package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// RemoveStrings deletes everything the given input sentences contributed to
// a root. References to the sentences are removed first, then the fragments
// that lost their last reference and the entries that lost their last
// continuation. Data shared with other sentences is kept, and so are
// fragments that never had references, as an import can produce.
func (c *Chain) RemoveStrings(ctx context.Context, root Root, strs ...string) (int, error) {
	if len(strs) == 0 {
		return 0, nil
	}

	removed := 0
	err := c.store.Update(ctx, func(tx Store) error {
		refs, err := tx.FindReferencesByString(ctx, root.ID, strs)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}

		ids := make([]int64, len(refs))
		for i, ref := range refs {
			ids[i] = ref.ID
		}
		if err = tx.RemoveReferences(ctx, root.ID, ids); err != nil {
			return err
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("could not remove strings from root %q: %w", root.ID, err)
	}

	c.logger.InfoContext(ctx, "Strings removed",
		slog.String("root_id", root.ID),
		slog.Int("strings_requested", len(strs)),
		slog.Int("references_removed", removed),
	)
	return removed, nil
}
