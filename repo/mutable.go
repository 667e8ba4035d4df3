package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/details"
)

// StageChanges adds the stage as a new revision of the object's mutable
// HEAD, creating the mutable HEAD if the object doesn't have one. The staged
// version's number and the new revision number are returned. The object's
// immutable history is not changed until CommitStagedChanges is called.
func (r *Repository) StageChanges(ctx context.Context, objectID string, stage *ocfl.Stage, msg string, user ocfl.User) (ocfl.VNum, int, error) {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return ocfl.VNum{}, 0, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return ocfl.VNum{}, 0, err
	}
	mh, err := obj.StageMutableHead(ctx, stage, msg, user)
	if err != nil {
		return ocfl.VNum{}, 0, err
	}
	if err := r.recordRevision(ctx, obj, mh); err != nil {
		return ocfl.VNum{}, 0, err
	}
	return mh.Inventory().Head, mh.Revision(), nil
}

// CommitStagedChanges converts the object's mutable HEAD into a regular,
// immutable object version and returns the new head version number.
func (r *Repository) CommitStagedChanges(ctx context.Context, objectID string) (ocfl.VNum, error) {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return ocfl.VNum{}, err
	}
	mh, err := obj.OpenMutableHead(ctx)
	if err != nil {
		return ocfl.VNum{}, err
	}
	if err := obj.CommitMutableHead(ctx, mh); err != nil {
		return ocfl.VNum{}, err
	}
	// the committed version replaces the staged revision; the record's
	// revision transition ((v, r) -> (v+1, 0)) isn't a legal forward step,
	// so drop the row and re-record the new head.
	r.dropRecord(ctx, objectID)
	if err := r.recordHead(ctx, obj, 0); err != nil {
		return ocfl.VNum{}, err
	}
	return obj.Head(), nil
}

// PurgeStagedChanges discards the object's mutable HEAD, if any.
func (r *Repository) PurgeStagedChanges(ctx context.Context, objectID string) error {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return err
	}
	if err := obj.PurgeMutableHead(ctx); err != nil {
		return err
	}
	r.dropRecord(ctx, objectID)
	return nil
}

// recordRevision writes a mutable-HEAD revision to the details store: the
// record keeps the committed head version number with the staged version's
// revision, so the legal transitions are (v, r) -> (v, r+1).
func (r *Repository) recordRevision(ctx context.Context, obj *ocfl.Object, mh *ocfl.MutableHead) error {
	if r.details == nil {
		return nil
	}
	inv := mh.Inventory()
	rec := details.Record{
		RootID:          r.rootID,
		ObjectID:        obj.ID(),
		ObjectRootPath:  obj.Path(),
		VersionNum:      obj.Head().Num(),
		RevisionNum:     mh.Revision(),
		DigestAlgorithm: inv.DigestAlgorithm,
		InventoryDigest: inv.Digest(),
		Inventory:       inv.Bytes(),
		UpdatedAt:       time.Now().Unix(),
	}
	if err := r.details.Put(ctx, rec); err != nil {
		return fmt.Errorf("recording mutable HEAD revision: %w", err)
	}
	return nil
}
