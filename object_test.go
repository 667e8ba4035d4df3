package ocfl_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/carlmjohnson/be"
	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/fs/local"
)

func newTestObject(t *testing.T, ctx context.Context, contents map[string][]byte) (*ocfl.Object, *local.FS) {
	t.Helper()
	fsys, err := local.NewFS(t.TempDir())
	be.NilErr(t, err)
	obj, err := ocfl.NewObject(ctx, fsys, "obj", ocfl.ObjectWithID("info:test-object"))
	be.NilErr(t, err)
	stage, err := ocfl.StageBytes(contents, digest.SHA512)
	be.NilErr(t, err)
	_, err = obj.Update(ctx, stage, "first version", ocfl.User{Name: "T", Address: "mailto:t@example.org"})
	be.NilErr(t, err)
	return obj, fsys
}

func TestNewObject_Fixture(t *testing.T) {
	ctx := context.Background()
	fsys, err := local.NewFS(filepath.Join(objectFixturePath, "1.0", "good-objects"))
	be.NilErr(t, err)
	obj, err := ocfl.NewObject(ctx, fsys, "spec-ex-full", ocfl.ObjectMustExist())
	be.NilErr(t, err)
	be.Equal(t, "ark:/12345/bcd987", obj.ID())
	be.Equal(t, 3, obj.Head().Num())
	be.Equal(t, ocfl.Spec1_0, obj.Spec())
	// the fixture is fully valid
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, "spec-ex-full").Err())
}

func TestObject_FirstVersion(t *testing.T) {
	ctx := context.Background()
	obj, fsys := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("hello")})
	inv := obj.Inventory()
	// manifest maps the digest of "hello" to v1/content/a.txt
	digester := digest.SHA512.Digester()
	digester.Write([]byte("hello"))
	dig := digester.String()
	be.DeepEqual(t, []string{"v1/content/a.txt"}, inv.Manifest[dig])
	be.DeepEqual(t, []string{"a.txt"}, inv.Version(1).State[dig])
	// the content file exists with the right bytes
	gotBytes, err := fs.ReadFile(objVersionIOFS(t, ctx, obj, 1), "a.txt")
	be.NilErr(t, err)
	be.Equal(t, "hello", string(gotBytes))
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, obj.Path()).Err())
}

func objVersionIOFS(t *testing.T, ctx context.Context, obj *ocfl.Object, v int) fs.FS {
	t.Helper()
	vfs, err := obj.OpenVersion(ctx, v)
	be.NilErr(t, err)
	return vfs
}

func TestObject_Dedup(t *testing.T) {
	ctx := context.Background()
	obj, _ := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("hello")})
	// second version adds the same content at a second logical path
	stage, err := ocfl.StageBytes(map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("hello"),
	}, digest.SHA512)
	be.NilErr(t, err)
	_, err = obj.Update(ctx, stage, "add b.txt", ocfl.User{Name: "T", Address: "mailto:t@example.org"})
	be.NilErr(t, err)
	inv := obj.Inventory()
	be.Equal(t, 2, inv.Head.Num())
	digester := digest.SHA512.Digester()
	digester.Write([]byte("hello"))
	dig := digester.String()
	// no new content path was allocated: the manifest still has only the v1 path
	be.DeepEqual(t, []string{"v1/content/a.txt"}, inv.Manifest[dig])
	// v2 state includes both logical paths
	be.DeepEqual(t, []string{"a.txt", "b.txt"}, inv.Version(2).State[dig])
	// no content directory was created for v2
	entries, err := ocflfs.ReadDir(ctx, obj.FS(), obj.Path()+"/v2")
	be.NilErr(t, err)
	for _, e := range entries {
		be.True(t, !e.IsDir())
	}
}

func TestObject_RemoveKeepsHistory(t *testing.T) {
	ctx := context.Background()
	obj, fsys := newTestObject(t, ctx, map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("world"),
	})
	// new version without a.txt
	stage, err := ocfl.StageBytes(map[string][]byte{"b.txt": []byte("world")}, digest.SHA512)
	be.NilErr(t, err)
	_, err = obj.Update(ctx, stage, "remove a.txt", ocfl.User{Name: "T", Address: "mailto:t@example.org"})
	be.NilErr(t, err)
	inv := obj.Inventory()
	digester := digest.SHA512.Digester()
	digester.Write([]byte("hello"))
	helloDigest := digester.String()
	// manifest still maps the removed file's digest to the v1 content path
	be.DeepEqual(t, []string{"v1/content/a.txt"}, inv.Manifest[helloDigest])
	// v2 state has only b.txt
	be.Equal(t, 1, inv.Version(2).State.NumPaths())
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, obj.Path()).Err())
}

func TestObject_Rollback(t *testing.T) {
	ctx := context.Background()
	obj, fsys := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("v1 stuff")})
	v1Inv := obj.Inventory()
	for _, content := range []string{"v2 stuff", "v3 stuff"} {
		stage, err := ocfl.StageBytes(map[string][]byte{"a.txt": []byte(content)}, digest.SHA512)
		be.NilErr(t, err)
		_, err = obj.Update(ctx, stage, content, ocfl.User{Name: "T", Address: "mailto:t@example.org"})
		be.NilErr(t, err)
	}
	be.Equal(t, 3, obj.Head().Num())
	be.NilErr(t, obj.Rollback(ctx, ocfl.V(1)))
	be.Equal(t, 1, obj.Head().Num())
	// v2 and v3 directories are gone
	for _, dir := range []string{"obj/v2", "obj/v3"} {
		_, err := fsys.OpenFile(ctx, dir+"/inventory.json")
		be.True(t, errors.Is(err, fs.ErrNotExist))
	}
	// the root inventory is byte-for-byte the v1 inventory
	sameObj, err := ocfl.NewObject(ctx, fsys, "obj", ocfl.ObjectMustExist())
	be.NilErr(t, err)
	be.Equal(t, v1Inv.Digest(), sameObj.Inventory().Digest())
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, "obj").Err())
}

func TestObject_PutIdempotence(t *testing.T) {
	// committing the same state twice with AllowUnchanged yields a new
	// version with identical state and an unchanged manifest.
	ctx := context.Background()
	obj, _ := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("same")})
	v1State := obj.Inventory().Version(1).State
	v1Manifest := obj.Inventory().Manifest
	stage, err := ocfl.StageBytes(map[string][]byte{"a.txt": []byte("same")}, digest.SHA512)
	be.NilErr(t, err)
	_, err = obj.Update(ctx, stage, "again", ocfl.User{Name: "T", Address: "mailto:t@example.org"},
		ocfl.UpdateWithAllowUnchanged())
	be.NilErr(t, err)
	inv := obj.Inventory()
	be.Equal(t, 2, inv.Head.Num())
	be.True(t, inv.Version(2).State.Eq(v1State))
	be.True(t, inv.Manifest.Eq(v1Manifest))
}

func TestObject_UnchangedVersionError(t *testing.T) {
	ctx := context.Background()
	obj, _ := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("same")})
	stage, err := ocfl.StageBytes(map[string][]byte{"a.txt": []byte("same")}, digest.SHA512)
	be.NilErr(t, err)
	_, err = obj.Update(ctx, stage, "again", ocfl.User{Name: "T", Address: "mailto:t@example.org"})
	be.True(t, err != nil)
}

func TestObject_OpenVersion(t *testing.T) {
	ctx := context.Background()
	fsys, err := local.NewFS(filepath.Join(objectFixturePath, "1.0", "good-objects"))
	be.NilErr(t, err)
	obj, err := ocfl.NewObject(ctx, fsys, "spec-ex-full", ocfl.ObjectMustExist())
	be.NilErr(t, err)
	// v2 has foo/bar.xml with "version two" contents
	vfs, err := obj.OpenVersion(ctx, 2)
	be.NilErr(t, err)
	f, err := vfs.Open("foo/bar.xml")
	be.NilErr(t, err)
	defer f.Close()
	byts, err := io.ReadAll(f)
	be.NilErr(t, err)
	be.Equal(t, "<bar>version two</bar>\n", string(byts))
	be.Nonzero(t, vfs.Message())
	be.Nonzero(t, vfs.Created())
	// head version (0) resolves to v3, where bar.xml is reverted
	headFS, err := obj.OpenVersion(ctx, 0)
	be.NilErr(t, err)
	be.Equal(t, 3, headFS.Num().Num())
	byts, err = fs.ReadFile(headFS, "foo/bar.xml")
	be.NilErr(t, err)
	be.Equal(t, "<bar>version one</bar>\n", string(byts))
}
