package ocfl_test

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/carlmjohnson/be"
	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

func TestMutableHead_StageAndCommit(t *testing.T) {
	ctx := context.Background()
	user := ocfl.User{Name: "T", Address: "mailto:t@example.org"}
	obj, fsys := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("hello")})

	has, err := obj.HasMutableHead(ctx)
	be.NilErr(t, err)
	be.True(t, !has)

	// first revision stages a new file
	stage1, err := ocfl.StageBytes(map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("draft b"),
	}, digest.SHA512)
	be.NilErr(t, err)
	mh, err := obj.StageMutableHead(ctx, stage1, "draft one", user)
	be.NilErr(t, err)
	be.Equal(t, 1, mh.Revision())
	be.Equal(t, 2, mh.Inventory().Head.Num())
	// the object's own head is unchanged
	be.Equal(t, 1, obj.Head().Num())
	// staged content is under the extension's r1 directory
	dig := sha512Of("draft b")
	cps := mh.Inventory().Manifest[dig]
	be.Equal(t, 1, len(cps))
	be.True(t, strings.HasPrefix(cps[0], "extensions/0005-mutable-head/head/content/r1/"))

	// regular commits are refused while the mutable HEAD exists
	stage, err := ocfl.StageBytes(map[string][]byte{"x.txt": []byte("x")}, digest.SHA512)
	be.NilErr(t, err)
	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "nope", User: user})
	be.True(t, errors.Is(err, ocfl.ErrMutableHeadExists))

	// second revision replaces b.txt
	stage2, err := ocfl.StageBytes(map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("draft b, edited"),
	}, digest.SHA512)
	be.NilErr(t, err)
	mh2, err := obj.StageMutableHead(ctx, stage2, "draft two", user)
	be.NilErr(t, err)
	be.Equal(t, 2, mh2.Revision())
	be.Equal(t, 2, mh2.Inventory().Head.Num())

	// commit the staged changes as a regular version
	be.NilErr(t, obj.CommitMutableHead(ctx, mh2))
	be.Equal(t, 2, obj.Head().Num())
	// the extension directory is gone
	_, err = ocflfs.ReadDir(ctx, fsys, obj.Path()+"/extensions/0005-mutable-head")
	be.True(t, errors.Is(err, fs.ErrNotExist))
	// content paths were rewritten into the version directory
	dig2 := sha512Of("draft b, edited")
	cps2 := obj.Inventory().Manifest[dig2]
	be.Equal(t, 1, len(cps2))
	be.True(t, strings.HasPrefix(cps2[0], "v2/content/"))
	// the object fully validates
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, obj.Path()).Err())
	// state of v2 is the second revision's state
	vfs, err := obj.OpenVersion(ctx, 2)
	be.NilErr(t, err)
	byts, err := fs.ReadFile(vfs, "b.txt")
	be.NilErr(t, err)
	be.Equal(t, "draft b, edited", string(byts))
}

func TestMutableHead_Purge(t *testing.T) {
	ctx := context.Background()
	user := ocfl.User{Name: "T", Address: "mailto:t@example.org"}
	obj, fsys := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("hello")})
	stage, err := ocfl.StageBytes(map[string][]byte{"b.txt": []byte("draft")}, digest.SHA512)
	be.NilErr(t, err)
	_, err = obj.StageMutableHead(ctx, stage, "draft", user)
	be.NilErr(t, err)
	has, err := obj.HasMutableHead(ctx)
	be.NilErr(t, err)
	be.True(t, has)
	be.NilErr(t, obj.PurgeMutableHead(ctx))
	has, err = obj.HasMutableHead(ctx)
	be.NilErr(t, err)
	be.True(t, !has)
	// purge is idempotent
	be.NilErr(t, obj.PurgeMutableHead(ctx))
	// the object is unchanged and valid
	be.Equal(t, 1, obj.Head().Num())
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, obj.Path()).Err())
}

func TestMutableHead_StaleWriter(t *testing.T) {
	ctx := context.Background()
	user := ocfl.User{Name: "T", Address: "mailto:t@example.org"}
	obj, fsys := newTestObject(t, ctx, map[string][]byte{"a.txt": []byte("hello")})
	stage, err := ocfl.StageBytes(map[string][]byte{"b.txt": []byte("draft")}, digest.SHA512)
	be.NilErr(t, err)
	mh, err := obj.StageMutableHead(ctx, stage, "draft", user)
	be.NilErr(t, err)
	// a second writer advances the mutable HEAD
	otherObj, err := ocfl.NewObject(ctx, fsys, obj.Path(), ocfl.ObjectMustExist())
	be.NilErr(t, err)
	otherStage, err := ocfl.StageBytes(map[string][]byte{"c.txt": []byte("other")}, digest.SHA512)
	be.NilErr(t, err)
	_, err = otherObj.StageMutableHead(ctx, otherStage, "other draft", user)
	be.NilErr(t, err)
	// committing the first writer's stale handle fails
	err = obj.CommitMutableHead(ctx, mh)
	be.True(t, errors.Is(err, ocfl.ErrOutOfSync))
}

func sha512Of(s string) string {
	digester := digest.SHA512.Digester()
	digester.Write([]byte(s))
	return digester.String()
}
