package markov

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var petCorpus = []string{
	"the cat sat on the mat",
	"the dog sat on the rug",
}

func TestGenerate(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, "a b c d e f")

	// With a single sentence there is exactly one walk.
	res, err := c.Generate(ctx, root)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Text != "a b c d e f" {
		t.Errorf("Text = %q, want %q", res.Text, "a b c d e f")
	}
	if res.Score != 2 {
		t.Errorf("Score = %d, want 2", res.Score)
	}
	if res.Tries != 1 {
		t.Errorf("Tries = %d, want 1", res.Tries)
	}
	if len(res.Refs) != 1 || res.Refs[0].String != "a b c d e f" {
		t.Errorf("Refs = %+v, want the single input sentence", res.Refs)
	}
}

func TestGenerateEndsOnEndFragment(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, petCorpus...)
	store := c.Store()

	for i := 0; i < 20; i++ {
		res, err := c.Generate(ctx, root)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}

		words := strings.Split(res.Text, " ")
		tail := strings.Join(words[len(words)-root.StateSize:], " ")
		end, err := store.FindFragment(ctx, EndOf(root.ID), tail)
		if err != nil {
			t.Fatalf("FindFragment() failed: %v", err)
		}
		if end == nil {
			t.Fatalf("result %q does not end on an end fragment", res.Text)
		}

		if len(res.Refs) == 0 {
			t.Errorf("result %q has no references", res.Text)
		}
		seen := make(map[string]bool)
		for _, ref := range res.Refs {
			if seen[ref.String] {
				t.Errorf("duplicate reference %q in result", ref.String)
			}
			seen[ref.String] = true
		}
	}
}

func TestGenerateWithFilter(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, petCorpus...)

	res, err := c.Generate(ctx, root,
		WithMaxTries(100),
		WithFilter(func(r Result) bool { return strings.HasSuffix(r.Text, "rug") }),
	)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasSuffix(res.Text, "rug") {
		t.Errorf("filter was not applied, got %q", res.Text)
	}
	if res.Tries < 1 || res.Tries > 100 {
		t.Errorf("Tries = %d, want within [1, 100]", res.Tries)
	}
}

func TestWithMaxTriesIgnoresNonPositive(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, "a b c d")

	for _, n := range []int{0, -3} {
		calls := 0
		_, err := c.Generate(ctx, root,
			WithMaxTries(n),
			WithFilter(func(Result) bool { calls++; return false }),
		)

		var exhausted *GenerationExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("WithMaxTries(%d): Generate() error = %v, want *GenerationExhaustedError", n, err)
		}
		if exhausted.Tries != DefaultMaxTries || calls != DefaultMaxTries {
			t.Errorf("WithMaxTries(%d): Tries = %d, filter calls = %d, want %d", n, exhausted.Tries, calls, DefaultMaxTries)
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	t.Run("Empty corpus", func(t *testing.T) {
		ctx, c, root := setupTestRoot(t, 2)
		if _, err := c.Generate(ctx, root); !errors.Is(err, ErrEmptyCorpus) {
			t.Errorf("Generate() error = %v, want %v", err, ErrEmptyCorpus)
		}
	})

	t.Run("Filter rejects everything", func(t *testing.T) {
		ctx, c, root := setupTestRoot(t, 2, "a b c d")

		calls := 0
		_, err := c.Generate(ctx, root,
			WithMaxTries(7),
			WithFilter(func(Result) bool { calls++; return false }),
		)

		var exhausted *GenerationExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("Generate() error = %v, want *GenerationExhaustedError", err)
		}
		if exhausted.Tries != 7 {
			t.Errorf("Tries = %d, want 7", exhausted.Tries)
		}
		if calls != 7 {
			t.Errorf("filter called %d times, want 7", calls)
		}
	})

	t.Run("Entries without start fragments", func(t *testing.T) {
		ctx, c, root := setupTestRoot(t, 2)
		err := c.Store().Update(ctx, func(tx Store) error {
			_, err := tx.UpsertEntry(ctx, root.ID, "orphan block")
			return err
		})
		if err != nil {
			t.Fatalf("setup: UpsertEntry() failed: %v", err)
		}

		if _, err := c.Generate(ctx, root); !errors.Is(err, ErrNoFragment) {
			t.Errorf("Generate() error = %v, want %v", err, ErrNoFragment)
		}
	})

	t.Run("Walk never ends", func(t *testing.T) {
		ctx, c, root := setupTestRoot(t, 2)
		// A start fragment whose entry loops back to itself and no end fragment.
		err := c.Store().Update(ctx, func(tx Store) error {
			start, err := tx.UpsertFragment(ctx, StartOf(root.ID), "x y")
			if err != nil {
				return err
			}
			if _, err = tx.UpsertReference(ctx, start.ID, "x y x y", nil); err != nil {
				return err
			}
			entry, err := tx.UpsertEntry(ctx, root.ID, "x y")
			if err != nil {
				return err
			}
			_, err = tx.UpsertFragment(ctx, ChildOf(entry), "x y")
			return err
		})
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		_, err = c.Generate(ctx, root, WithMaxTries(3))
		var exhausted *GenerationExhaustedError
		if !errors.As(err, &exhausted) || exhausted.Tries != 3 {
			t.Errorf("Generate() error = %v, want exhaustion after 3 tries", err)
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, c, root := setupTestRoot(t, 2, "a b c d")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := c.Generate(cctx, root); !errors.Is(err, context.Canceled) {
			t.Errorf("Generate() error = %v, want %v", err, context.Canceled)
		}
	})
}

func BenchmarkGenerate(b *testing.B) {
	corpus := createBenchmarkCorpus()
	ctx := context.Background()
	c := setupTestDBBench(b)

	root, err := c.CreateRoot(ctx, Root{ID: "bench_generate"})
	if err != nil {
		b.Fatal(err)
	}
	if err := c.IngestStrings(ctx, root, corpus...); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var exhausted *GenerationExhaustedError
		if _, err := c.Generate(ctx, root); err != nil && !errors.As(err, &exhausted) {
			b.Fatal(err)
		}
	}
}
