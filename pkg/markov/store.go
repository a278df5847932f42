package markov

import (
	"context"
	"encoding/json"
)

// Store is the persistence collaborator used by Chain. Implementations must
// treat "no match" from the Find and Sample methods as (nil, nil), and only
// return errors for real failures.
type Store interface {
	// Update runs fn against a Store whose writes are committed together.
	// If fn returns an error nothing it wrote is kept.
	Update(ctx context.Context, fn func(Store) error) error

	GetRoot(ctx context.Context, id string) (Root, error)
	ListRoots(ctx context.Context) ([]Root, error)
	CreateRoot(ctx context.Context, root Root) error
	// DeleteRoot removes the root and everything it owns.
	DeleteRoot(ctx context.Context, id string) error

	FindEntry(ctx context.Context, rootID, block string) (*Entry, error)
	// UpsertEntry returns the entry for (rootID, block), creating it if needed.
	UpsertEntry(ctx context.Context, rootID, block string) (Entry, error)
	ListEntries(ctx context.Context, rootID string) ([]Entry, error)
	CountEntries(ctx context.Context, rootID string) (int, error)

	FindFragment(ctx context.Context, parent Parent, words string) (*Fragment, error)
	// UpsertFragment returns the fragment for (parent, words), creating it if needed.
	UpsertFragment(ctx context.Context, parent Parent, words string) (Fragment, error)
	ListFragments(ctx context.Context, parent Parent) ([]Fragment, error)
	CountFragments(ctx context.Context, parent Parent) (int, error)
	// SampleFragment picks uniformly among the fragments of parent.
	SampleFragment(ctx context.Context, parent Parent) (*Fragment, error)

	// UpsertReference links fragmentID to s. An existing pair is left as is,
	// including its payload, and created reports false.
	UpsertReference(ctx context.Context, fragmentID int64, s string, custom json.RawMessage) (created bool, err error)
	ListReferences(ctx context.Context, fragmentID int64) ([]Reference, error)
	CountReferences(ctx context.Context, rootID string) (int, error)
	// FindReferencesByString returns every reference of the root whose string
	// is one of strs.
	FindReferencesByString(ctx context.Context, rootID string, strs []string) ([]Reference, error)
	// RemoveReferences deletes the given references, then any fragment they
	// belonged to that is left without references, and any entry that lost
	// its last continuation that way.
	RemoveReferences(ctx context.Context, rootID string, ids []int64) error
}
