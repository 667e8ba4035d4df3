package ocfl_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/carlmjohnson/be"
	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/digest"
	"github.com/ocflkit/ocfl-go/fs/local"
)

func TestUpdatePlan_Marshal(t *testing.T) {
	ctx := context.Background()
	fixture := filepath.Join(objectFixturePath, `1.0`, `good-objects`)
	fsys, err := local.NewFS(fixture)
	be.NilErr(t, err)
	obj, err := ocfl.NewObject(ctx, fsys, "spec-ex-full", ocfl.ObjectMustExist())
	be.NilErr(t, err)
	stage, err := ocfl.StageBytes(map[string][]byte{
		"new-file.txt": []byte("new stuff"),
	}, digest.SHA512)
	be.NilErr(t, err)
	update, err := obj.NewUpdatePlan(stage, "new version", ocfl.User{Name: "Me", Address: "mailto:me@example.org"})
	be.NilErr(t, err)
	count := 0
	for range update.Steps() {
		count++
	}
	be.Nonzero(t, count)
	updateBytes, err := update.MarshalBinary()
	be.NilErr(t, err)
	sameUpdate := &ocfl.UpdatePlan{}
	be.NilErr(t, sameUpdate.UnmarshalBinary(updateBytes))
	be.True(t, update.Eq(sameUpdate))
	be.Equal(t, update.ObjectID(), sameUpdate.ObjectID())
	be.Equal(t, update.BaseInventoryDigest(), sameUpdate.BaseInventoryDigest())
}

func TestUpdatePlan_ApplyAndRevert(t *testing.T) {
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	be.NilErr(t, err)
	obj, err := ocfl.NewObject(ctx, fsys, "new-object", ocfl.ObjectWithID("info:new-object"))
	be.NilErr(t, err)
	stage, err := ocfl.StageBytes(map[string][]byte{
		"a.txt": []byte("content a"),
		"b.txt": []byte("content b"),
	}, digest.SHA512)
	be.NilErr(t, err)
	plan, err := obj.NewUpdatePlan(stage, "v1", ocfl.User{Name: "Me", Address: "mailto:me@example.org"})
	be.NilErr(t, err)
	be.NilErr(t, obj.ApplyUpdatePlan(ctx, plan, stage))
	be.True(t, plan.Completed())
	be.NilErr(t, plan.Err())
	be.Equal(t, 1, obj.Head().Num())
	// reverting a completed plan is an error
	err = plan.Revert(ctx, fsys, "new-object", stage)
	be.True(t, errors.Is(err, ocfl.ErrRevertUpdate))
	// the object validates
	be.NilErr(t, ocfl.ValidateObject(ctx, fsys, "new-object").Err())
}
