package details_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/carlmjohnson/be"
	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/details"
)

func newStore(t *testing.T) *details.Store {
	t.Helper()
	store, err := details.Open(filepath.Join(t.TempDir(), "details.sqlite"))
	be.NilErr(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(version, revision int) details.Record {
	return details.Record{
		RootID:          "root-1",
		ObjectID:        "info:obj-1",
		ObjectRootPath:  "obj-1",
		VersionNum:      version,
		RevisionNum:     revision,
		DigestAlgorithm: "sha512",
		InventoryDigest: "abc123",
		UpdatedAt:       time.Now().Unix(),
	}
}

func TestStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.Get(ctx, "root-1", "info:missing")
	be.True(t, errors.Is(err, details.ErrNotFound))
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := testRecord(1, 0)
	rec.Inventory = []byte(`{"id":"info:obj-1"}`)
	be.NilErr(t, store.Put(ctx, rec))
	got, err := store.Get(ctx, "root-1", "info:obj-1")
	be.NilErr(t, err)
	be.Equal(t, rec.InventoryDigest, got.InventoryDigest)
	be.Equal(t, 1, got.VersionNum)
	be.Equal(t, 0, got.RevisionNum)
	be.Equal(t, string(rec.Inventory), string(got.Inventory))
}

func TestStore_Transitions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	// first commit must be a version with no revision
	err := store.Put(ctx, testRecord(1, 1))
	be.True(t, errors.Is(err, ocfl.ErrOutOfSync))
	be.NilErr(t, store.Put(ctx, testRecord(1, 0)))
	// version gaps are rejected
	err = store.Put(ctx, testRecord(3, 0))
	be.True(t, errors.Is(err, ocfl.ErrOutOfSync))
	// revisions advance within the same version
	be.NilErr(t, store.Put(ctx, testRecord(1, 1)))
	be.NilErr(t, store.Put(ctx, testRecord(1, 2)))
	// revision gaps are rejected
	err = store.Put(ctx, testRecord(1, 4))
	be.True(t, errors.Is(err, ocfl.ErrOutOfSync))
	// a revision can't survive a version bump
	err = store.Put(ctx, testRecord(2, 1))
	be.True(t, errors.Is(err, ocfl.ErrOutOfSync))
	be.NilErr(t, store.Put(ctx, testRecord(2, 0)))
}

func TestStore_RacingPuts(t *testing.T) {
	// two writers race to commit v2 over v1: exactly one wins.
	ctx := context.Background()
	store := newStore(t)
	be.NilErr(t, store.Put(ctx, testRecord(1, 0)))
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = store.Put(ctx, testRecord(2, 0))
		}()
	}
	wg.Wait()
	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ocfl.ErrOutOfSync):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	be.Equal(t, 1, wins)
	be.Equal(t, 1, conflicts)
}

func TestStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	be.NilErr(t, store.Put(ctx, testRecord(1, 0)))
	be.NilErr(t, store.Invalidate(ctx, "root-1", "info:obj-1"))
	_, err := store.Get(ctx, "root-1", "info:obj-1")
	be.True(t, errors.Is(err, details.ErrNotFound))
	// after invalidation, re-recording any version is allowed
	be.NilErr(t, store.Put(ctx, testRecord(5, 0)))
}
