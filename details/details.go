// Package details implements an object-details store: a small persistent
// index from object id to the object's current version/revision, inventory
// digest, and (optionally) a cached copy of the inventory itself.
//
// The store exists for two reasons: fast lookup without a storage round
// trip, and out-of-sync detection. Put only replaces a row when the stored
// row is exactly the incoming write's predecessor, so a caller never
// silently clobbers a concurrent writer's commit.
package details

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ocflkit/ocfl-go"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned by Get when no row exists for the given object.
var ErrNotFound = errors.New("object details: not found")

// Record is one row of the object-details store: the last known position
// of an object's head, plus enough identifying information to detect
// staleness without reading storage.
type Record struct {
	RootID          string // identifies the storage root this object lives in
	ObjectID        string
	ObjectRootPath  string // storage-relative object root path
	VersionNum      int
	RevisionNum     int // 0 when the object has no mutable-HEAD revision staged
	DigestAlgorithm string
	InventoryDigest string
	Inventory       []byte // optional cached inventory.json bytes; nil if not cached
	UpdatedAt       int64  // unix seconds
}

// head identifies a commit position: a version number and, for
// mutable-HEAD objects, a revision number within that version.
type head struct {
	version  int
	revision int
}

// Store is a SQLite-backed object-details store. A Store is safe for
// concurrent use; each operation borrows a connection from the pool for
// its duration.
type Store struct {
	pool *sqlitemigration.Pool
}

// Open creates or connects to a SQLite database at uri (a file path, or
// ":memory:" for a process-local store) and runs pending migrations.
func Open(uri string) (*Store, error) {
	migration, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, err
	}
	schema := sqlitemigration.Schema{
		Migrations: []string{string(migration)},
	}
	pool := sqlitemigration.NewPool(uri, schema, sqlitemigration.Options{})
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.pool.Close() }

// Get returns the current record for objectID within rootID. It returns
// ErrNotFound if no row exists.
func (s *Store) Get(ctx context.Context, rootID, objectID string) (*Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("object details: %w", ocfl.ErrLock)
	}
	defer s.pool.Put(conn)

	var rec *Record
	const q = `
		SELECT object_root_path, version_num, revision_num, digest_algorithm,
		       inventory_digest, inventory, updated_at
		FROM object_details WHERE root_id = ? AND object_id = ?`
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{rootID, objectID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec = &Record{
				RootID:          rootID,
				ObjectID:        objectID,
				ObjectRootPath:  stmt.GetText("object_root_path"),
				VersionNum:      int(stmt.GetInt64("version_num")),
				RevisionNum:     int(stmt.GetInt64("revision_num")),
				DigestAlgorithm: stmt.GetText("digest_algorithm"),
				InventoryDigest: stmt.GetText("inventory_digest"),
				UpdatedAt:       stmt.GetInt64("updated_at"),
			}
			if n := stmt.GetLen("inventory"); n > 0 {
				rec.Inventory = make([]byte, n)
				stmt.GetBytes("inventory", rec.Inventory)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("object details: querying %q: %w", objectID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("object details: %q: %w", objectID, ErrNotFound)
	}
	return rec, nil
}

// Invalidate removes the row for objectID, if any. Callers do this after
// a commit they can no longer vouch for (e.g. a failed write whose
// outcome on storage is unknown) to force the next Get to miss and the
// caller to reload from storage.
func (s *Store) Invalidate(ctx context.Context, rootID, objectID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("object details: %w", ocfl.ErrLock)
	}
	defer s.pool.Put(conn)
	const q = `DELETE FROM object_details WHERE root_id = ? AND object_id = ?`
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{Args: []any{rootID, objectID}})
	if err != nil {
		return fmt.Errorf("object details: invalidating %q: %w", objectID, err)
	}
	return nil
}

// Put records rec as the new head for its object, but only if the row
// currently on disk is exactly rec's predecessor:
//
//   - a normal commit moves (v, r) -> (v+1, 0), whatever r is
//   - a mutable-HEAD revision moves (v, r) -> (v, r+1)
//   - the very first commit for an object moves no-row -> (1, 0) (or
//     higher, if the caller is importing a version whose number is not 1)
//
// Any other relationship between the stored row and rec leaves the row
// untouched and returns ocfl.ErrOutOfSync. The check-then-write happens
// inside a single sqlitex transaction, so concurrent callers racing on
// the same object never both observe success.
func (s *Store) Put(ctx context.Context, rec Record) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("object details: %w", ocfl.ErrLock)
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("object details: %w", err)
	}
	defer endFn(&err)

	cur, getErr := getTx(conn, rec.RootID, rec.ObjectID)
	if getErr != nil {
		return fmt.Errorf("object details: %w", getErr)
	}
	want := head{version: rec.VersionNum, revision: rec.RevisionNum}
	if !transitionOK(cur, want) {
		return fmt.Errorf("object %q: expected predecessor of %+v, found %+v: %w",
			rec.ObjectID, want, cur, ocfl.ErrOutOfSync)
	}
	const q = `
		INSERT INTO object_details
			(root_id, object_id, object_root_path, version_num, revision_num,
			 digest_algorithm, inventory_digest, inventory, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (root_id, object_id) DO UPDATE SET
			object_root_path = excluded.object_root_path,
			version_num      = excluded.version_num,
			revision_num     = excluded.revision_num,
			digest_algorithm = excluded.digest_algorithm,
			inventory_digest = excluded.inventory_digest,
			inventory        = excluded.inventory,
			updated_at       = excluded.updated_at`
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{
			rec.RootID, rec.ObjectID, rec.ObjectRootPath, rec.VersionNum,
			rec.RevisionNum, rec.DigestAlgorithm, rec.InventoryDigest,
			rec.Inventory, rec.UpdatedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("object details: writing %q: %w", rec.ObjectID, err)
	}
	return nil
}

// getTx returns the current head for an object, or the zero head if no
// row exists yet. It must run inside the same transaction as the write
// that follows it.
func getTx(conn *sqlite.Conn, rootID, objectID string) (head, error) {
	var h head
	var found bool
	const q = `SELECT version_num, revision_num FROM object_details
		WHERE root_id = ? AND object_id = ?`
	err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{rootID, objectID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			h.version = int(stmt.GetInt64("version_num"))
			h.revision = int(stmt.GetInt64("revision_num"))
			return nil
		},
	})
	if err != nil {
		return head{}, err
	}
	if !found {
		return head{}, nil
	}
	return h, nil
}

// transitionOK reports whether moving from cur to want is the single
// legal step a commit may take: the next revision within the same
// version, or the next version with no revision.
func transitionOK(cur, want head) bool {
	switch {
	case cur == (head{}):
		// first commit for this object: any (v, 0) with v >= 1 is
		// acceptable as the initial head, but never a revision.
		return want.version >= 1 && want.revision == 0
	case want.version == cur.version:
		return want.revision == cur.revision+1
	case want.version == cur.version+1:
		return want.revision == 0
	default:
		return false
	}
}
