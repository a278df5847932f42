package markov

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestGenerateStream(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, petCorpus...)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("Successful stream", func(t *testing.T) {
		stream, err := c.GenerateStream(ctx, root, 5)
		if err != nil {
			t.Fatalf("GenerateStream failed: %v", err)
		}

		var results []Result
		for res := range stream {
			results = append(results, res)
		}
		if len(results) != 5 {
			t.Errorf("expected 5 results, got %d", len(results))
		}
		for _, res := range results {
			if res.Text == "" {
				t.Error("stream produced an empty result")
			}
		}
	})

	t.Run("Stream cancellation", func(t *testing.T) {
		ctxCancel, cancel := context.WithCancel(ctx)
		defer cancel()

		streamCancel, err := c.GenerateStream(ctxCancel, root, 0)
		if err != nil {
			t.Fatalf("GenerateStream failed: %v", err)
		}

		// Read one result, then cancel
		<-streamCancel
		cancel()

		// The channel should now close quickly
		timeout := time.After(time.Second)
		for {
			select {
			case _, ok := <-streamCancel:
				if !ok {
					return
				}
			case <-timeout:
				t.Fatal("timed out waiting for stream channel to close after cancellation")
			}
		}
	})

	t.Run("Empty corpus", func(t *testing.T) {
		empty, err := c.CreateRoot(ctx, Root{ID: "empty"})
		if err != nil {
			t.Fatalf("CreateRoot() failed: %v", err)
		}
		if _, err := c.GenerateStream(ctx, empty, 1); !errors.Is(err, ErrEmptyCorpus) {
			t.Errorf("GenerateStream() error = %v, want %v", err, ErrEmptyCorpus)
		}
	})
}

func TestGenerateBatch(t *testing.T) {
	ctx, c, root := setupTestRoot(t, 2, petCorpus...)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	results, err := c.GenerateBatch(ctx, root, 8, 3)
	if err != nil {
		t.Fatalf("GenerateBatch failed: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Text == "" || res.Tries == 0 {
			t.Errorf("result %d is empty: %+v", i, res)
		}
	}

	none, err := c.GenerateBatch(ctx, root, 0, 3)
	if err != nil || none != nil {
		t.Errorf("GenerateBatch(0) = %v, %v; want nil, nil", none, err)
	}

	_, err = c.GenerateBatch(ctx, root, 4, 2, WithFilter(func(Result) bool { return false }))
	var exhausted *GenerationExhaustedError
	if !errors.As(err, &exhausted) {
		t.Errorf("GenerateBatch() error = %v, want *GenerationExhaustedError", err)
	}
}

func BenchmarkGenerateBatch(b *testing.B) {
	corpus := createBenchmarkCorpus()
	ctx := context.Background()
	c := setupTestDBBench(b)

	root, err := c.CreateRoot(ctx, Root{ID: "bench_batch"})
	if err != nil {
		b.Fatal(err)
	}
	if err := c.IngestStrings(ctx, root, corpus...); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Exhaustion is expected for some walks over a noisy corpus.
		_, _ = c.GenerateBatch(ctx, root, 16, 4)
	}
}
