package markov

import (
	"context"
)

// DBStats holds aggregated statistics for the entire store, including a list
// of all roots and their individual stats.
type DBStats struct {
	Roots      []Root                  `json:"roots"`      // Every root in the store
	Stats      map[string]*CorpusStats `json:"stats"`      // A mapping of root ids to their stats
	Entries    int                     `json:"entries"`    // Entries across all roots
	References int                     `json:"references"` // References across all roots
}

// CorpusStats holds counts for a single root.
type CorpusStats struct {
	Entries        int `json:"entries"`        // Distinct blocks with at least one continuation
	StartFragments int `json:"startFragments"` // Distinct opening windows
	EndFragments   int `json:"endFragments"`   // Distinct closing windows
	ChildFragments int `json:"childFragments"` // Continuations across every entry
	References     int `json:"references"`     // Fragment to sentence links
}

// Stats returns a snapshot of the counts for one root.
func (c *Chain) Stats(ctx context.Context, root Root) (*CorpusStats, error) {
	if _, err := c.store.GetRoot(ctx, root.ID); err != nil {
		return nil, err
	}

	stats := &CorpusStats{}
	var err error
	if stats.StartFragments, err = c.store.CountFragments(ctx, StartOf(root.ID)); err != nil {
		return nil, err
	}
	if stats.EndFragments, err = c.store.CountFragments(ctx, EndOf(root.ID)); err != nil {
		return nil, err
	}
	if stats.References, err = c.store.CountReferences(ctx, root.ID); err != nil {
		return nil, err
	}

	entries, err := c.store.ListEntries(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	stats.Entries = len(entries)
	for _, entry := range entries {
		n, err := c.store.CountFragments(ctx, ChildOf(entry))
		if err != nil {
			return nil, err
		}
		stats.ChildFragments += n
	}
	return stats, nil
}

// DBStats returns a snapshot of statistics for every root in the store.
func (c *Chain) DBStats(ctx context.Context) (*DBStats, error) {
	roots, err := c.store.ListRoots(ctx)
	if err != nil {
		return nil, err
	}

	out := &DBStats{
		Roots: make([]Root, 0, len(roots)),
		Stats: make(map[string]*CorpusStats, len(roots)),
	}
	for _, root := range roots {
		stats, err := c.Stats(ctx, root)
		if err != nil {
			return nil, err
		}
		out.Roots = append(out.Roots, root)
		out.Stats[root.ID] = stats
		out.Entries += stats.Entries
		out.References += stats.References
	}
	return out, nil
}
