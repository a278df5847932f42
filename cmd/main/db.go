package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/markovdb/pkg/markov"
)

// database bundles the connection pool with the chain store built on it.
type database struct {
	db    *sql.DB
	store *markov.SQLStore
}

// openDatabase opens the SQLite file at path, creating its directory, and
// prepares the chain and auth schemas. Driver options are appended unless
// the path already carries a query string.
func openDatabase(path string) (*database, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + dsnOptions
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = markov.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup chain schema: %w", err)
	}
	if err = setupAuthSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup auth schema: %w", err)
	}

	store, err := markov.NewSQLStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{db: db, store: store}, nil
}

// Close releases the prepared statements and then the pool.
func (d *database) Close() error {
	d.store.Close()
	return d.db.Close()
}
