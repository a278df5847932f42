package markov

import (
	"context"
	"testing"
)

func TestRemoveStrings(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2,
		"Lorem ipsum dolor sit amet",
		"Lorem ipsum duplicate start words",
	)
	store := c.Store()

	removed, err := c.RemoveStrings(ctx, root, "Lorem ipsum dolor sit amet")
	if err != nil {
		t.Fatalf("RemoveStrings() failed: %v", err)
	}
	// Its start, its end and two chain links.
	if removed != 4 {
		t.Errorf("removed %d references, want 4", removed)
	}

	// The shared start fragment survives with the other sentence's reference.
	start, err := store.FindFragment(ctx, StartOf(root.ID), "Lorem ipsum")
	if err != nil {
		t.Fatalf("FindFragment() failed: %v", err)
	}
	if start == nil {
		t.Fatal("shared start fragment was removed")
	}
	refs, err := store.ListReferences(ctx, start.ID)
	if err != nil {
		t.Fatalf("ListReferences() failed: %v", err)
	}
	if len(refs) != 1 || refs[0].String != "Lorem ipsum duplicate start words" {
		t.Errorf("start references = %+v, want only the remaining sentence", refs)
	}

	// Fragments and entries only the removed sentence used are gone.
	end, err := store.FindFragment(ctx, EndOf(root.ID), "sit amet")
	if err != nil {
		t.Fatalf("FindFragment() failed: %v", err)
	}
	if end != nil {
		t.Error("end fragment of the removed sentence still exists")
	}
	entry, err := store.FindEntry(ctx, root.ID, "ipsum dolor")
	if err != nil {
		t.Fatalf("FindEntry() failed: %v", err)
	}
	if entry != nil {
		t.Error("entry of the removed sentence still exists")
	}

	// "Lorem ipsum" is shared but its child "dolor sit" belonged only to the
	// removed sentence, so one child remains.
	shared, err := store.FindEntry(ctx, root.ID, "Lorem ipsum")
	if err != nil || shared == nil {
		t.Fatalf("FindEntry(shared) = %v, %v", shared, err)
	}
	children, err := store.ListFragments(ctx, ChildOf(*shared))
	if err != nil {
		t.Fatalf("ListFragments() failed: %v", err)
	}
	if len(children) != 1 || children[0].Words != "duplicate start" {
		t.Errorf("children of shared entry = %+v, want [\"duplicate start\"]", children)
	}
}

func TestRemoveStringsUnknown(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, "one fish two fish")

	before, err := c.Stats(ctx, root)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}

	removed, err := c.RemoveStrings(ctx, root, "never ingested")
	if err != nil {
		t.Fatalf("RemoveStrings() failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed %d references, want 0", removed)
	}

	if n, _ := c.RemoveStrings(ctx, root); n != 0 {
		t.Errorf("RemoveStrings() with no strings removed %d", n)
	}

	after, err := c.Stats(ctx, root)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if *after != *before {
		t.Errorf("graph changed: before %+v, after %+v", before, after)
	}
}

func TestRemoveAllStringsEmptiesRoot(t *testing.T) {
	corpus := []string{"one fish two fish", "red fish blue fish"}
	ctx, c, root := setupTestRoot(t, 2, corpus...)

	if _, err := c.RemoveStrings(ctx, root, corpus...); err != nil {
		t.Fatalf("RemoveStrings() failed: %v", err)
	}

	stats, err := c.Stats(ctx, root)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if *stats != (CorpusStats{}) {
		t.Errorf("expected an empty root, got %+v", stats)
	}
}

func TestRemoveStringsKeepsUnreferencedFragments(t *testing.T) {
	_, c := setupTestDB(t)
	ctx := context.Background()
	ref := []Reference{{String: "a b c d"}}

	root, err := c.Import(ctx, "imported", CurrentImport{Data: &Export{
		Options:    ExportOptions{StateSize: 2},
		StartWords: []ExportFragment{{Words: "a b", Refs: ref}, {Words: "lonely start", Refs: []Reference{}}},
		EndWords:   []ExportFragment{{Words: "c d", Refs: ref}},
		Corpus: []ExportEntry{
			{Block: "a b", Fragments: []ExportFragment{{Words: "c d", Refs: ref}, {Words: "q r", Refs: []Reference{}}}},
			{Block: "x y", Fragments: []ExportFragment{{Words: "z w", Refs: []Reference{}}}},
		},
	}})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	store := c.Store()

	removed, err := c.RemoveStrings(ctx, root, "a b c d")
	if err != nil {
		t.Fatalf("RemoveStrings() failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed %d references, want 3", removed)
	}

	starts, err := store.ListFragments(ctx, StartOf(root.ID))
	if err != nil {
		t.Fatalf("ListFragments() failed: %v", err)
	}
	if len(starts) != 1 || starts[0].Words != "lonely start" {
		t.Errorf("start fragments = %+v, want only \"lonely start\"", starts)
	}

	testCases := []struct {
		block string
		want  string
	}{
		{"a b", "q r"}, // lost "c d" but keeps its other child
		{"x y", "z w"}, // untouched
	}
	for _, tc := range testCases {
		entry, err := store.FindEntry(ctx, root.ID, tc.block)
		if err != nil || entry == nil {
			t.Fatalf("FindEntry(%q) = %v, %v", tc.block, entry, err)
		}
		children, err := store.ListFragments(ctx, ChildOf(*entry))
		if err != nil {
			t.Fatalf("ListFragments() failed: %v", err)
		}
		if len(children) != 1 || children[0].Words != tc.want {
			t.Errorf("children of %q = %+v, want [%q]", tc.block, children, tc.want)
		}
	}
}
