package markov

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestCreateAndGetRoot(t *testing.T) {
	_, c := setupTestDB(t)
	ctx := context.Background()

	root, err := c.CreateRoot(ctx, Root{ID: "chat", StateSize: 3})
	if err != nil {
		t.Fatalf("CreateRoot() failed: %v", err)
	}

	got, err := c.GetRoot(ctx, "chat")
	if err != nil {
		t.Fatalf("GetRoot() failed: %v", err)
	}
	if got != root {
		t.Errorf("GetRoot() = %+v, want %+v", got, root)
	}

	if _, err := c.CreateRoot(ctx, Root{ID: "chat"}); err == nil {
		t.Error("expected an error creating a duplicate root, but got none")
	}

	if _, err := c.GetRoot(ctx, "missing"); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("GetRoot() on missing root error = %v, want %v", err, ErrRootNotFound)
	}
}

func TestCreateRootDefaults(t *testing.T) {
	_, c := setupTestDB(t)
	ctx := context.Background()

	root, err := c.CreateRoot(ctx, Root{})
	if err != nil {
		t.Fatalf("CreateRoot() failed: %v", err)
	}
	if _, err := uuid.Parse(root.ID); err != nil {
		t.Errorf("expected a generated UUID id, got %q: %v", root.ID, err)
	}
	if root.StateSize != DefaultStateSize {
		t.Errorf("StateSize = %d, want %d", root.StateSize, DefaultStateSize)
	}

	if _, err := c.CreateRoot(ctx, Root{ID: "bad", StateSize: -1}); !errors.Is(err, ErrInvalidStateSize) {
		t.Errorf("CreateRoot() with negative state size error = %v, want %v", err, ErrInvalidStateSize)
	}
}

func TestOpenRoot(t *testing.T) {
	_, c := setupTestDB(t)
	ctx := context.Background()

	first, err := c.OpenRoot(ctx, "r", 3)
	if err != nil {
		t.Fatalf("OpenRoot() failed: %v", err)
	}
	if first.StateSize != 3 {
		t.Fatalf("StateSize = %d, want 3", first.StateSize)
	}

	// The stored state size is immutable.
	second, err := c.OpenRoot(ctx, "r", 5)
	if err != nil {
		t.Fatalf("second OpenRoot() failed: %v", err)
	}
	if second != first {
		t.Errorf("OpenRoot() = %+v, want %+v", second, first)
	}

	roots, err := c.Roots(ctx)
	if err != nil {
		t.Fatalf("Roots() failed: %v", err)
	}
	if len(roots) != 1 {
		t.Errorf("expected 1 root, got %d", len(roots))
	}
}

func TestDeleteRoot(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, "one fish two fish", "red fish blue fish")

	other, err := c.CreateRoot(ctx, Root{ID: "other"})
	if err != nil {
		t.Fatalf("CreateRoot() failed: %v", err)
	}
	if err := c.IngestStrings(ctx, other, "one fish two fish"); err != nil {
		t.Fatalf("IngestStrings() failed: %v", err)
	}

	if err := c.DeleteRoot(ctx, root); err != nil {
		t.Fatalf("DeleteRoot() failed: %v", err)
	}

	if _, err := c.GetRoot(ctx, root.ID); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("GetRoot() after delete error = %v, want %v", err, ErrRootNotFound)
	}
	store := c.Store()
	if n, _ := store.CountEntries(ctx, root.ID); n != 0 {
		t.Errorf("expected 0 entries after delete, got %d", n)
	}
	if n, _ := store.CountFragments(ctx, StartOf(root.ID)); n != 0 {
		t.Errorf("expected 0 start fragments after delete, got %d", n)
	}
	if n, _ := store.CountReferences(ctx, root.ID); n != 0 {
		t.Errorf("expected 0 references after delete, got %d", n)
	}

	// Other roots are untouched.
	if n, _ := store.CountReferences(ctx, other.ID); n == 0 {
		t.Error("expected the other root to keep its references")
	}

	// Deleting again is not an error.
	if err := c.DeleteRoot(ctx, root); err != nil {
		t.Errorf("second DeleteRoot() failed: %v", err)
	}
}
