package markov

import (
	"bufio"
	"context"
	"database/sql"
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database in a temp dir, a SQLStore and a
// Chain on top of it. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Chain) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	store, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	t.Cleanup(store.Close)

	return db, NewChain(store)
}

// setupTestRoot is a convenience helper that also creates a root and
// ingests strs into it.
func setupTestRoot(t *testing.T, stateSize int, strs ...string) (context.Context, *Chain, Root) {
	_, c := setupTestDB(t)
	ctx := context.Background()

	root, err := c.CreateRoot(ctx, Root{ID: "test_root", StateSize: stateSize})
	if err != nil {
		t.Fatalf("setup: CreateRoot() failed: %v", err)
	}
	if len(strs) > 0 {
		if err := c.IngestStrings(ctx, root, strs...); err != nil {
			t.Fatalf("setup: IngestStrings() failed: %v", err)
		}
	}
	return ctx, c, root
}

// setupTestDBBench creates a database for benchmarking.
func setupTestDBBench(b *testing.B) *Chain {
	dbFile := filepath.Join(b.TempDir(), "bench.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=OFF&_cache_size=-16000&_mmap_size=268435456")
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		b.Fatalf("failed to set up schema: %v", err)
	}

	store, err := NewSQLStore(db)
	if err != nil {
		b.Fatalf("NewSQLStore() error = %v", err)
	}
	b.Cleanup(store.Close)

	return NewChain(store)
}

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads comment lines from Go source files to create a
// corpus of sentences for benchmarking.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			f, err := os.Open(file)
			if err != nil {
				continue
			}
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				line, ok := strings.CutPrefix(line, "// ")
				if ok && strings.Count(line, " ") >= 3 {
					benchmarkCorpus = append(benchmarkCorpus, line)
				}
			}
			_ = f.Close()
		}

		if len(benchmarkCorpus) == 0 {
			benchmarkCorpus = []string{
				"this is a fallback corpus for benchmarking",
				"it is not very long but will prevent a crash",
				"this is not very long but it is a corpus",
			}
		}
	})
	return benchmarkCorpus
}
