package markov

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SQLStore implements Store on a SQLite database prepared with SetupSchema.
// Find-or-create operations are single upsert statements, so concurrent
// builders cannot create duplicate entries, fragments or references.
type SQLStore struct {
	db    *sql.DB
	tx    *sql.Tx
	stmts *statements
}

// statements holds every prepared statement SQLStore uses.
type statements struct {
	getRoot           *sql.Stmt
	listRoots         *sql.Stmt
	insertRoot        *sql.Stmt
	findEntry         *sql.Stmt
	upsertEntry       *sql.Stmt
	listEntries       *sql.Stmt
	countEntries      *sql.Stmt
	findFragment      *sql.Stmt
	upsertFragment    *sql.Stmt
	listFragments     *sql.Stmt
	countFragments    *sql.Stmt
	sampleFragment    *sql.Stmt
	insertReference   *sql.Stmt
	listReferences    *sql.Stmt
	countReferences   *sql.Stmt
	deleteRootRefs    *sql.Stmt
	deleteRootFrags   *sql.Stmt
	deleteRootEntries *sql.Stmt
	deleteRoot        *sql.Stmt
}

// querier is the subset of *sql.DB and *sql.Tx used for ad-hoc queries.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQLStore creates a Store backed by db. It pre-compiles all necessary SQL
// statements, returning an error if any preparation fails.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	st := &statements{}
	prepared := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&st.getRoot, `SELECT root_id, state_size FROM chain_roots WHERE root_id = ?;`},
		{&st.listRoots, `SELECT root_id, state_size FROM chain_roots ORDER BY root_id;`},
		{&st.insertRoot, `INSERT INTO chain_roots (root_id, state_size) VALUES (?, ?);`},
		{&st.findEntry, `SELECT entry_id FROM chain_entries WHERE root_id = ? AND block = ?;`},
		{&st.upsertEntry, `INSERT INTO chain_entries (root_id, block) VALUES (?, ?) ON CONFLICT(root_id, block) DO UPDATE SET block=excluded.block RETURNING entry_id;`},
		{&st.listEntries, `SELECT entry_id, block FROM chain_entries WHERE root_id = ? ORDER BY entry_id;`},
		{&st.countEntries, `SELECT COUNT(*) FROM chain_entries WHERE root_id = ?;`},
		{&st.findFragment, `SELECT fragment_id FROM chain_fragments WHERE root_id = ? AND role = ? AND entry_id = ? AND words = ?;`},
		{&st.upsertFragment, `INSERT INTO chain_fragments (root_id, role, entry_id, words) VALUES (?, ?, ?, ?) ON CONFLICT(root_id, role, entry_id, words) DO UPDATE SET words=excluded.words RETURNING fragment_id;`},
		{&st.listFragments, `SELECT fragment_id, words FROM chain_fragments WHERE root_id = ? AND role = ? AND entry_id = ? ORDER BY fragment_id;`},
		{&st.countFragments, `SELECT COUNT(*) FROM chain_fragments WHERE root_id = ? AND role = ? AND entry_id = ?;`},
		{&st.sampleFragment, `SELECT fragment_id, words FROM chain_fragments WHERE root_id = ? AND role = ? AND entry_id = ? ORDER BY RANDOM() LIMIT 1;`},
		{&st.insertReference, `INSERT INTO chain_references (fragment_id, string, custom) VALUES (?, ?, ?) ON CONFLICT(fragment_id, string) DO NOTHING;`},
		{&st.listReferences, `SELECT reference_id, string, custom FROM chain_references WHERE fragment_id = ? ORDER BY reference_id;`},
		{&st.countReferences, `SELECT COUNT(*) FROM chain_references r JOIN chain_fragments f ON f.fragment_id = r.fragment_id WHERE f.root_id = ?;`},
		{&st.deleteRootRefs, `DELETE FROM chain_references WHERE fragment_id IN (SELECT fragment_id FROM chain_fragments WHERE root_id = ?);`},
		{&st.deleteRootFrags, `DELETE FROM chain_fragments WHERE root_id = ?;`},
		{&st.deleteRootEntries, `DELETE FROM chain_entries WHERE root_id = ?;`},
		{&st.deleteRoot, `DELETE FROM chain_roots WHERE root_id = ?;`},
	}

	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("could not prepare statement %q: %w", p.query, err)
		}
		*p.dst = stmt
	}

	return &SQLStore{db: db, stmts: st}, nil
}

// Close releases all prepared statements. It does not close the database.
func (s *SQLStore) Close() {
	if s.tx == nil {
		s.stmts.close()
	}
}

func (st *statements) close() {
	for _, stmt := range []*sql.Stmt{
		st.getRoot, st.listRoots, st.insertRoot, st.findEntry, st.upsertEntry, st.listEntries,
		st.countEntries, st.findFragment, st.upsertFragment, st.listFragments, st.countFragments,
		st.sampleFragment, st.insertReference, st.listReferences, st.countReferences,
		st.deleteRootRefs, st.deleteRootFrags,
		st.deleteRootEntries, st.deleteRoot,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// stmt binds a prepared statement to the current transaction, if any.
func (s *SQLStore) stmt(ctx context.Context, stmt *sql.Stmt) *sql.Stmt {
	if s.tx != nil {
		return s.tx.StmtContext(ctx, stmt)
	}
	return stmt
}

func (s *SQLStore) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Update runs fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (s *SQLStore) Update(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = fn(&SQLStore{db: s.db, tx: tx, stmts: s.stmts}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetRoot(ctx context.Context, id string) (Root, error) {
	var root Root
	err := s.stmt(ctx, s.stmts.getRoot).QueryRowContext(ctx, id).Scan(&root.ID, &root.StateSize)
	if errors.Is(err, sql.ErrNoRows) {
		return Root{}, ErrRootNotFound
	}
	if err != nil {
		return Root{}, fmt.Errorf("could not get root %q: %w", id, err)
	}
	return root, nil
}

func (s *SQLStore) ListRoots(ctx context.Context) ([]Root, error) {
	rows, err := s.stmt(ctx, s.stmts.listRoots).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var roots []Root
	for rows.Next() {
		var root Root
		if err = rows.Scan(&root.ID, &root.StateSize); err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, rows.Err()
}

func (s *SQLStore) CreateRoot(ctx context.Context, root Root) error {
	if _, err := s.stmt(ctx, s.stmts.insertRoot).ExecContext(ctx, root.ID, root.StateSize); err != nil {
		return fmt.Errorf("could not insert root %q: %w", root.ID, err)
	}
	return nil
}

// DeleteRoot removes a root and everything it owns. Deleting a root that
// does not exist is not an error.
func (s *SQLStore) DeleteRoot(ctx context.Context, id string) error {
	return s.Update(ctx, func(st Store) error {
		tx := st.(*SQLStore)
		for _, step := range []struct {
			name string
			stmt *sql.Stmt
		}{
			{"references", tx.stmts.deleteRootRefs},
			{"fragments", tx.stmts.deleteRootFrags},
			{"entries", tx.stmts.deleteRootEntries},
			{"root", tx.stmts.deleteRoot},
		} {
			if _, err := tx.stmt(ctx, step.stmt).ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to remove %s for root %q: %w", step.name, id, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) FindEntry(ctx context.Context, rootID, block string) (*Entry, error) {
	entry := Entry{RootID: rootID, Block: block}
	err := s.stmt(ctx, s.stmts.findEntry).QueryRowContext(ctx, rootID, block).Scan(&entry.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not find entry '%s': %w", block, err)
	}
	return &entry, nil
}

func (s *SQLStore) UpsertEntry(ctx context.Context, rootID, block string) (Entry, error) {
	entry := Entry{RootID: rootID, Block: block}
	if err := s.stmt(ctx, s.stmts.upsertEntry).QueryRowContext(ctx, rootID, block).Scan(&entry.ID); err != nil {
		return Entry{}, fmt.Errorf("failed to get or insert entry '%s': %w", block, err)
	}
	return entry, nil
}

func (s *SQLStore) ListEntries(ctx context.Context, rootID string) ([]Entry, error) {
	rows, err := s.stmt(ctx, s.stmts.listEntries).QueryContext(ctx, rootID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var entries []Entry
	for rows.Next() {
		entry := Entry{RootID: rootID}
		if err = rows.Scan(&entry.ID, &entry.Block); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLStore) CountEntries(ctx context.Context, rootID string) (int, error) {
	var n int
	err := s.stmt(ctx, s.stmts.countEntries).QueryRowContext(ctx, rootID).Scan(&n)
	return n, err
}

func (s *SQLStore) FindFragment(ctx context.Context, parent Parent, words string) (*Fragment, error) {
	frag := Fragment{Parent: parent, Words: words}
	err := s.stmt(ctx, s.stmts.findFragment).
		QueryRowContext(ctx, parent.rootID, parent.role, parent.entryID, words).
		Scan(&frag.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not find %s fragment '%s': %w", parent.role, words, err)
	}
	return &frag, nil
}

func (s *SQLStore) UpsertFragment(ctx context.Context, parent Parent, words string) (Fragment, error) {
	frag := Fragment{Parent: parent, Words: words}
	err := s.stmt(ctx, s.stmts.upsertFragment).
		QueryRowContext(ctx, parent.rootID, parent.role, parent.entryID, words).
		Scan(&frag.ID)
	if err != nil {
		return Fragment{}, fmt.Errorf("failed to get or insert %s fragment '%s': %w", parent.role, words, err)
	}
	return frag, nil
}

func (s *SQLStore) ListFragments(ctx context.Context, parent Parent) ([]Fragment, error) {
	rows, err := s.stmt(ctx, s.stmts.listFragments).QueryContext(ctx, parent.rootID, parent.role, parent.entryID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var frags []Fragment
	for rows.Next() {
		frag := Fragment{Parent: parent}
		if err = rows.Scan(&frag.ID, &frag.Words); err != nil {
			return nil, err
		}
		frags = append(frags, frag)
	}
	return frags, rows.Err()
}

func (s *SQLStore) CountFragments(ctx context.Context, parent Parent) (int, error) {
	var n int
	err := s.stmt(ctx, s.stmts.countFragments).QueryRowContext(ctx, parent.rootID, parent.role, parent.entryID).Scan(&n)
	return n, err
}

func (s *SQLStore) SampleFragment(ctx context.Context, parent Parent) (*Fragment, error) {
	frag := Fragment{Parent: parent}
	err := s.stmt(ctx, s.stmts.sampleFragment).
		QueryRowContext(ctx, parent.rootID, parent.role, parent.entryID).
		Scan(&frag.ID, &frag.Words)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not sample %s fragment: %w", parent.role, err)
	}
	return &frag, nil
}

func (s *SQLStore) UpsertReference(ctx context.Context, fragmentID int64, str string, custom json.RawMessage) (bool, error) {
	res, err := s.stmt(ctx, s.stmts.insertReference).ExecContext(ctx, fragmentID, str, nullableJSON(custom))
	if err != nil {
		return false, fmt.Errorf("failed to insert reference for fragment %d: %w", fragmentID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLStore) ListReferences(ctx context.Context, fragmentID int64) ([]Reference, error) {
	rows, err := s.stmt(ctx, s.stmts.listReferences).QueryContext(ctx, fragmentID)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var refs []Reference
	for rows.Next() {
		ref := Reference{FragmentID: fragmentID}
		var custom sql.NullString
		if err = rows.Scan(&ref.ID, &ref.String, &custom); err != nil {
			return nil, err
		}
		if custom.Valid {
			ref.Custom = json.RawMessage(custom.String)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *SQLStore) CountReferences(ctx context.Context, rootID string) (int, error) {
	var n int
	err := s.stmt(ctx, s.stmts.countReferences).QueryRowContext(ctx, rootID).Scan(&n)
	return n, err
}

func (s *SQLStore) FindReferencesByString(ctx context.Context, rootID string, strs []string) ([]Reference, error) {
	var refs []Reference
	err := inBatches(len(strs), func(from, to int) error {
		args := make([]any, 0, to-from+1)
		args = append(args, rootID)
		for _, str := range strs[from:to] {
			args = append(args, str)
		}
		query := fmt.Sprintf(`SELECT r.reference_id, r.fragment_id, r.string, r.custom FROM chain_references r
JOIN chain_fragments f ON f.fragment_id = r.fragment_id
WHERE f.root_id = ? AND r.string IN (?%s)`, strings.Repeat(",?", to-from-1))

		rows, err := s.q().QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func(rows *sql.Rows) {
			_ = rows.Close()
		}(rows)

		for rows.Next() {
			var ref Reference
			var custom sql.NullString
			if err = rows.Scan(&ref.ID, &ref.FragmentID, &ref.String, &custom); err != nil {
				return err
			}
			if custom.Valid {
				ref.Custom = json.RawMessage(custom.String)
			}
			refs = append(refs, ref)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find references for root %q: %w", rootID, err)
	}
	return refs, nil
}

// RemoveReferences deletes the references, then prunes only the fragments
// that owned them and the entries of those fragments. Fragments and entries
// that were already empty, such as imported fragments without references,
// are left alone.
func (s *SQLStore) RemoveReferences(ctx context.Context, rootID string, ids []int64) error {
	return s.Update(ctx, func(st Store) error {
		tx := st.(*SQLStore)

		fragIDs, entryIDs, err := tx.referenceOwners(ctx, rootID, ids)
		if err != nil {
			return fmt.Errorf("failed to find owners of references: %w", err)
		}

		if err = tx.execInBatches(ctx, "DELETE FROM chain_references WHERE reference_id IN (%s)", nil, ids); err != nil {
			return fmt.Errorf("failed to remove references: %w", err)
		}
		err = tx.execInBatches(ctx,
			`DELETE FROM chain_fragments WHERE root_id = ? AND fragment_id IN (%s)
AND NOT EXISTS (SELECT 1 FROM chain_references r WHERE r.fragment_id = chain_fragments.fragment_id)`,
			[]any{rootID}, fragIDs)
		if err != nil {
			return fmt.Errorf("failed to prune fragments for root %q: %w", rootID, err)
		}
		err = tx.execInBatches(ctx,
			`DELETE FROM chain_entries WHERE root_id = ? AND entry_id IN (%s)
AND NOT EXISTS (SELECT 1 FROM chain_fragments f WHERE f.entry_id = chain_entries.entry_id AND f.role = ?)`,
			[]any{rootID}, entryIDs, RoleChild)
		if err != nil {
			return fmt.Errorf("failed to prune entries for root %q: %w", rootID, err)
		}
		return nil
	})
}

// referenceOwners returns the distinct fragments owning the references, and
// the entries owning those fragments when they are continuations.
func (s *SQLStore) referenceOwners(ctx context.Context, rootID string, ids []int64) ([]int64, []int64, error) {
	fragSeen := make(map[int64]struct{})
	entrySeen := make(map[int64]struct{})
	var fragIDs, entryIDs []int64

	err := inBatches(len(ids), func(from, to int) error {
		args := make([]any, 0, to-from+1)
		args = append(args, rootID)
		for _, id := range ids[from:to] {
			args = append(args, id)
		}
		query := fmt.Sprintf(`SELECT DISTINCT f.fragment_id, f.role, f.entry_id FROM chain_references r
JOIN chain_fragments f ON f.fragment_id = r.fragment_id
WHERE f.root_id = ? AND r.reference_id IN (?%s)`, strings.Repeat(",?", to-from-1))

		rows, err := s.q().QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func(rows *sql.Rows) {
			_ = rows.Close()
		}(rows)

		for rows.Next() {
			var fragID, entryID int64
			var role Role
			if err = rows.Scan(&fragID, &role, &entryID); err != nil {
				return err
			}
			if _, ok := fragSeen[fragID]; !ok {
				fragSeen[fragID] = struct{}{}
				fragIDs = append(fragIDs, fragID)
			}
			if role != RoleChild {
				continue
			}
			if _, ok := entrySeen[entryID]; !ok {
				entrySeen[entryID] = struct{}{}
				entryIDs = append(entryIDs, entryID)
			}
		}
		return rows.Err()
	})
	return fragIDs, entryIDs, err
}

// execInBatches runs query once per batch of ids. The query's %s is replaced
// with the batch placeholders; before and after are bound around the ids.
func (s *SQLStore) execInBatches(ctx context.Context, query string, before []any, ids []int64, after ...any) error {
	return inBatches(len(ids), func(from, to int) error {
		args := make([]any, 0, len(before)+to-from+len(after))
		args = append(args, before...)
		for _, id := range ids[from:to] {
			args = append(args, id)
		}
		args = append(args, after...)
		placeholders := "?" + strings.Repeat(",?", to-from-1)
		_, err := s.q().ExecContext(ctx, fmt.Sprintf(query, placeholders), args...)
		return err
	})
}

// inBatches splits n items into chunks small enough for SQLite's variable
// limit and calls fn with the bounds of each.
func inBatches(n int, fn func(from, to int) error) error {
	// SQLite's default variable limit is 999, so around half that is good
	const batchSize = 500

	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}
		if err := fn(i, end); err != nil {
			return err
		}
	}
	return nil
}

// nullableJSON stores an absent payload as NULL rather than an empty string.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
