package s3_test

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/carlmjohnson/be"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/fs/s3"
	"github.com/ocflkit/ocfl-go/internal/testutil"
)

var (
	_ ocflfs.FS           = (*s3.BucketFS)(nil)
	_ ocflfs.DirEntriesFS = (*s3.BucketFS)(nil)
	_ ocflfs.CopyFS       = (*s3.BucketFS)(nil)
	_ ocflfs.WriteFS      = (*s3.BucketFS)(nil)
	_ ocflfs.FileWalker   = (*s3.BucketFS)(nil)

	fixtures = filepath.Join("..", "..", "testdata", "content-fixture")
)

// These tests run against a live S3-compatible service (e.g., minio) named by
// $OCFL_TEST_S3. Without it, they are no-ops.

func TestBucketFS_RoundTrip(t *testing.T) {
	if !testutil.S3Enabled() {
		t.Log("s3 test service is not running")
		return
	}
	ctx := context.Background()
	fsys := testutil.TmpS3FS(t, ocflfs.DirFS(fixtures))

	t.Run("open file", func(t *testing.T) {
		byts, err := ocflfs.ReadAll(ctx, fsys, "hello.csv")
		be.NilErr(t, err)
		be.Nonzero(t, len(byts))
	})
	t.Run("open missing file", func(t *testing.T) {
		_, err := fsys.OpenFile(ctx, "missing.csv")
		be.True(t, errors.Is(err, fs.ErrNotExist))
	})
	t.Run("stat file", func(t *testing.T) {
		info, err := ocflfs.StatFile(ctx, fsys, "hello.csv")
		be.NilErr(t, err)
		be.Equal(t, "hello.csv", info.Name())
		be.True(t, info.Size() > 0)
	})
	t.Run("dir entries", func(t *testing.T) {
		var names []string
		for entry, err := range fsys.DirEntries(ctx, ".") {
			be.NilErr(t, err)
			names = append(names, entry.Name())
		}
		sort.Strings(names)
		be.DeepEqual(t, []string{"folder1", "hello.csv"}, names)
	})
	t.Run("missing dir", func(t *testing.T) {
		for _, err := range fsys.DirEntries(ctx, "missing") {
			be.True(t, errors.Is(err, fs.ErrNotExist))
		}
	})
	t.Run("write and copy", func(t *testing.T) {
		content := "new file contents"
		n, err := fsys.Write(ctx, "new/file.txt", strings.NewReader(content))
		be.NilErr(t, err)
		be.Equal(t, int64(len(content)), n)
		n, err = fsys.Copy(ctx, "new/copy.txt", "new/file.txt")
		be.NilErr(t, err)
		be.Equal(t, int64(len(content)), n)
		byts, err := ocflfs.ReadAll(ctx, fsys, "new/copy.txt")
		be.NilErr(t, err)
		be.Equal(t, content, string(byts))
	})
	t.Run("walk files", func(t *testing.T) {
		count := 0
		for ref, err := range fsys.WalkFiles(ctx, "folder1") {
			be.NilErr(t, err)
			be.Nonzero(t, ref.Info)
			count++
		}
		be.Equal(t, 1, count)
	})
	t.Run("remove", func(t *testing.T) {
		be.NilErr(t, fsys.Remove(ctx, "new/copy.txt"))
		_, err := fsys.OpenFile(ctx, "new/copy.txt")
		be.True(t, errors.Is(err, fs.ErrNotExist))
		be.NilErr(t, fsys.RemoveAll(ctx, "new"))
	})
}
