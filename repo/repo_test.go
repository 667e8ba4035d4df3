package repo_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/carlmjohnson/be"
	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/details"
	"github.com/ocflkit/ocfl-go/digest"
	"github.com/ocflkit/ocfl-go/extension"
	"github.com/ocflkit/ocfl-go/fs/local"
	"github.com/ocflkit/ocfl-go/internal/testutil"
	"github.com/ocflkit/ocfl-go/repo"
)

var testUser = ocfl.User{Name: "T", Address: "mailto:t@example.org"}

func newTestRepo(t *testing.T) (*repo.Repository, *local.FS) {
	t.Helper()
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	be.NilErr(t, err)
	root, err := ocfl.NewRoot(ctx, fsys, ".", ocfl.InitRoot(ocfl.Spec1_1, "test root", extension.Ext0002()))
	be.NilErr(t, err)
	store, err := details.Open(filepath.Join(t.TempDir(), "details.sqlite"))
	be.NilErr(t, err)
	r, err := repo.New(root, repo.WithDetails(store, "test-root"))
	be.NilErr(t, err)
	t.Cleanup(func() { r.Close() })
	return r, fsys
}

func writeHello(t *testing.T, r *repo.Repository, objectID string) ocfl.VNum {
	t.Helper()
	ctx := context.Background()
	head, err := r.UpdateObject(ctx, objectID, 0, "first version", testUser, func(u *repo.ObjectUpdater) error {
		_, err := u.WriteFile(ctx, "a.txt", strings.NewReader("hello"))
		return err
	})
	be.NilErr(t, err)
	return head
}

func TestRepository_UpdateObject(t *testing.T) {
	ctx := context.Background()
	r, fsys := newTestRepo(t)
	head := writeHello(t, r, "obj-1")
	be.Equal(t, 1, head.Num())
	// content was written under the layout path
	byts, err := os.ReadFile(filepath.Join(fsys.Root(), "obj-1", "v1", "content", "a.txt"))
	be.NilErr(t, err)
	be.Equal(t, "hello", string(byts))
	// the object validates with content fixity checks
	be.NilErr(t, r.ValidateObject(ctx, "obj-1", true).Err())
	ok, err := r.ContainsObject(ctx, "obj-1")
	be.NilErr(t, err)
	be.True(t, ok)
}

func TestRepository_UpdaterOps(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	// overwrite is required to replace an existing file
	_, err := r.UpdateObject(ctx, "obj-1", 0, "conflict", testUser, func(u *repo.ObjectUpdater) error {
		_, err := u.WriteFile(ctx, "a.txt", strings.NewReader("other"))
		return err
	})
	be.True(t, errors.Is(err, repo.ErrOverwrite))
	// bad logical paths are rejected
	_, err = r.UpdateObject(ctx, "obj-1", 0, "bad path", testUser, func(u *repo.ObjectUpdater) error {
		_, err := u.WriteFile(ctx, "../escape.txt", strings.NewReader("x"))
		return err
	})
	be.True(t, errors.Is(err, repo.ErrPathConstraint))
	// rename, reinstate, remove
	head, err := r.UpdateObject(ctx, "obj-1", 0, "rename", testUser, func(u *repo.ObjectUpdater) error {
		return u.RenameFile("a.txt", "b.txt")
	})
	be.NilErr(t, err)
	be.Equal(t, 2, head.Num())
	head, err = r.UpdateObject(ctx, "obj-1", 0, "reinstate", testUser, func(u *repo.ObjectUpdater) error {
		if err := u.RemoveFile("b.txt"); err != nil {
			return err
		}
		return u.ReinstateFile(1, "a.txt", "a.txt")
	})
	be.NilErr(t, err)
	be.Equal(t, 3, head.Num())
	v, err := r.DescribeVersion(ctx, "obj-1", 0)
	be.NilErr(t, err)
	be.Equal(t, 1, len(v.Files))
	be.Equal(t, "a.txt", v.Files[0].LogicalPath)
	be.NilErr(t, r.ValidateObject(ctx, "obj-1", true).Err())
}

func TestRepository_ConcurrentUpdates(t *testing.T) {
	// several writers update the same object starting from the same observed
	// head: exactly one succeeds, the others fail with ErrOutOfSync.
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	const writers = 4
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.UpdateObject(ctx, "obj-1", 1, "race", testUser, func(u *repo.ObjectUpdater) error {
				_, err := u.WriteFile(ctx, "a.txt", strings.NewReader("changed"), repo.Overwrite)
				return err
			})
		}()
	}
	wg.Wait()
	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ocfl.ErrOutOfSync), errors.Is(err, ocfl.ErrLock):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	be.Equal(t, 1, wins)
	be.Equal(t, writers-1, conflicts)
	objDetails, err := r.DescribeObject(ctx, "obj-1")
	be.NilErr(t, err)
	be.Equal(t, 2, objDetails.Head.Num())
}

func TestRepository_ValidateCorrupt(t *testing.T) {
	// flipping a byte in a content file is caught by the fixity check with
	// validation code E092.
	ctx := context.Background()
	r, fsys := newTestRepo(t)
	writeHello(t, r, "obj-1")
	contentFile := filepath.Join(fsys.Root(), "obj-1", "v1", "content", "a.txt")
	be.NilErr(t, os.WriteFile(contentFile, []byte("hellp"), 0644))
	result := r.ValidateObject(ctx, "obj-1", true)
	be.True(t, result.Err() != nil)
	testutil.ErrorsIncludeOCFLCode(t, "E092", result.Errors()...)
	// without the fixity check, the corruption goes unnoticed
	be.NilErr(t, r.ValidateObject(ctx, "obj-1", false).Err())
}

func TestRepository_PutObject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	// a put replaces the head state wholesale: no carry-forward
	srcDir := t.TempDir()
	be.NilErr(t, os.WriteFile(filepath.Join(srcDir, "new.txt"), []byte("new state"), 0644))
	srcFS, err := local.NewFS(srcDir)
	be.NilErr(t, err)
	head, err := r.PutObject(ctx, "obj-1", 1, srcFS, ".", "replace all", testUser)
	be.NilErr(t, err)
	be.Equal(t, 2, head.Num())
	v, err := r.DescribeVersion(ctx, "obj-1", 2)
	be.NilErr(t, err)
	be.Equal(t, 1, len(v.Files))
	be.Equal(t, "new.txt", v.Files[0].LogicalPath)
}

func TestRepository_FileChangeHistory(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	_, err := r.UpdateObject(ctx, "obj-1", 0, "change a", testUser, func(u *repo.ObjectUpdater) error {
		_, err := u.WriteFile(ctx, "a.txt", strings.NewReader("changed"), repo.Overwrite)
		return err
	})
	be.NilErr(t, err)
	_, err = r.UpdateObject(ctx, "obj-1", 0, "remove a", testUser, func(u *repo.ObjectUpdater) error {
		return u.RemoveFile("a.txt")
	})
	be.NilErr(t, err)
	changes, err := r.FileChangeHistory(ctx, "obj-1", "a.txt")
	be.NilErr(t, err)
	be.Equal(t, 3, len(changes))
	be.Equal(t, repo.FileChangeUpdate, changes[0].Kind)
	be.Equal(t, repo.FileChangeUpdate, changes[1].Kind)
	be.Equal(t, repo.FileChangeRemove, changes[2].Kind)
	be.Equal(t, 3, changes[2].Version.Num())
}

func TestRepository_GetObject(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	outDir := t.TempDir()
	be.NilErr(t, r.GetObject(ctx, "obj-1", 0, outDir))
	byts, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	be.NilErr(t, err)
	be.Equal(t, "hello", string(byts))
	// lazy view
	view, err := r.GetObjectView(ctx, "obj-1", 0)
	be.NilErr(t, err)
	f, err := view.Open("a.txt")
	be.NilErr(t, err)
	defer f.Close()
}

func TestRepository_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, fsys := newTestRepo(t)
	writeHello(t, r, "obj-1")
	origInv, err := os.ReadFile(filepath.Join(fsys.Root(), "obj-1", "inventory.json"))
	be.NilErr(t, err)
	// export the whole object
	exportDir := t.TempDir()
	dstFS, err := local.NewFS(exportDir)
	be.NilErr(t, err)
	be.NilErr(t, r.ExportObject(ctx, "obj-1", dstFS, "."))
	// import into a fresh repository
	r2, fsys2 := newTestRepo(t)
	id, err := r2.ImportObject(ctx, dstFS, ".")
	be.NilErr(t, err)
	be.Equal(t, "obj-1", id)
	be.NilErr(t, r2.ValidateObject(ctx, "obj-1", true).Err())
	gotInv, err := os.ReadFile(filepath.Join(fsys2.Root(), "obj-1", "inventory.json"))
	be.NilErr(t, err)
	be.True(t, bytes.Equal(origInv, gotInv))
	// importing again fails
	_, err = r2.ImportObject(ctx, dstFS, ".")
	be.True(t, errors.Is(err, repo.ErrAlreadyExists))
}

func TestRepository_RollbackAndReplicate(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	_, err := r.UpdateObject(ctx, "obj-1", 0, "v2", testUser, func(u *repo.ObjectUpdater) error {
		_, err := u.WriteFile(ctx, "a.txt", strings.NewReader("v2"), repo.Overwrite)
		return err
	})
	be.NilErr(t, err)
	// replicate v1's state as a new head
	head, err := r.ReplicateVersionAsHead(ctx, "obj-1", 1, "back to v1 state", testUser)
	be.NilErr(t, err)
	be.Equal(t, 3, head.Num())
	v3, err := r.DescribeVersion(ctx, "obj-1", 3)
	be.NilErr(t, err)
	v1, err := r.DescribeVersion(ctx, "obj-1", 1)
	be.NilErr(t, err)
	be.Equal(t, v1.Files[0].Digest, v3.Files[0].Digest)
	// rollback to v1 removes later versions
	be.NilErr(t, r.RollbackToVersion(ctx, "obj-1", 1))
	obj, err := r.DescribeObject(ctx, "obj-1")
	be.NilErr(t, err)
	be.Equal(t, 1, obj.Head.Num())
	be.NilErr(t, r.ValidateObject(ctx, "obj-1", true).Err())
}

func TestRepository_PurgeAndList(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	writeHello(t, r, "obj-2")
	var ids []string
	for id, err := range r.ListObjectIDs(ctx) {
		be.NilErr(t, err)
		ids = append(ids, id)
	}
	be.Equal(t, 2, len(ids))
	be.NilErr(t, r.PurgeObject(ctx, "obj-1"))
	// purging a missing object is not an error
	be.NilErr(t, r.PurgeObject(ctx, "obj-1"))
	ok, err := r.ContainsObject(ctx, "obj-1")
	be.NilErr(t, err)
	be.True(t, !ok)
}

func TestRepository_StagedChanges(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)
	writeHello(t, r, "obj-1")
	stage, err := ocfl.StageBytes(map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("draft"),
	}, digest.SHA512)
	be.NilErr(t, err)
	vnum, rev, err := r.StageChanges(ctx, "obj-1", stage, "draft rev", testUser)
	be.NilErr(t, err)
	be.Equal(t, 2, vnum.Num())
	be.Equal(t, 1, rev)
	// regular updates are refused while changes are staged
	_, err = r.UpdateObject(ctx, "obj-1", 0, "nope", testUser, func(u *repo.ObjectUpdater) error {
		_, err := u.WriteFile(ctx, "c.txt", strings.NewReader("x"))
		return err
	})
	be.True(t, errors.Is(err, ocfl.ErrMutableHeadExists))
	// commit the staged changes as v2
	head, err := r.CommitStagedChanges(ctx, "obj-1")
	be.NilErr(t, err)
	be.Equal(t, 2, head.Num())
	be.NilErr(t, r.ValidateObject(ctx, "obj-1", true).Err())
}
