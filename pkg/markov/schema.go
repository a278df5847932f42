package markov

import (
	"database/sql"
	"fmt"
)

// SetupSchema initializes the tables and indexes SQLStore relies on. It
// should be called once on a new database before any other operation. It is
// idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaRoots = `
CREATE TABLE IF NOT EXISTS chain_roots (
    root_id    TEXT    PRIMARY KEY,
    state_size INTEGER NOT NULL
);
`
		schemaEntries = `
CREATE TABLE IF NOT EXISTS chain_entries (
    entry_id INTEGER PRIMARY KEY,
    root_id  TEXT    NOT NULL,
    block    TEXT    NOT NULL,
    UNIQUE (root_id, block)
);
`
		// entry_id is 0 for start and end fragments, which keeps the unique
		// key usable for all three roles.
		schemaFragments = `
CREATE TABLE IF NOT EXISTS chain_fragments (
    fragment_id INTEGER PRIMARY KEY,
    root_id     TEXT    NOT NULL,
    role        INTEGER NOT NULL,
    entry_id    INTEGER NOT NULL DEFAULT 0,
    words       TEXT    NOT NULL,
    UNIQUE (root_id, role, entry_id, words)
);
`
		schemaReferences = `
CREATE TABLE IF NOT EXISTS chain_references (
    reference_id INTEGER PRIMARY KEY,
    fragment_id  INTEGER NOT NULL,
    string       TEXT    NOT NULL,
    custom       TEXT,
    UNIQUE (fragment_id, string)
);
`
		indexReferenceString = `CREATE INDEX IF NOT EXISTS idx_chain_references_string ON chain_references (string);`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaRoots); err != nil {
		return fmt.Errorf("could not create roots schema: %w", err)
	}

	if _, err = tx.Exec(schemaEntries); err != nil {
		return fmt.Errorf("could not create entries schema: %w", err)
	}

	if _, err = tx.Exec(schemaFragments); err != nil {
		return fmt.Errorf("could not create fragments schema: %w", err)
	}

	if _, err = tx.Exec(schemaReferences); err != nil {
		return fmt.Errorf("could not create references schema: %w", err)
	}

	if _, err = tx.Exec(indexReferenceString); err != nil {
		return fmt.Errorf("could not create references index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}
