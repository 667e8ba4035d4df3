package ocfl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

const (
	// mutableHeadExtName is the name of the mutable-HEAD community extension.
	mutableHeadExtName = "0005-mutable-head"
	// mutableHeadExtDir is the extension's directory, relative to an object
	// root.
	mutableHeadExtDir = extensionsDir + "/" + mutableHeadExtName
	// mutableHeadDir holds the staged "next version", relative to an object
	// root.
	mutableHeadDir = mutableHeadExtDir + "/head"
	// mutableHeadRevisionsDir holds marker files for each revision, relative
	// to an object root.
	mutableHeadRevisionsDir = mutableHeadDir + "/revisions"
)

var (
	// ErrMutableHeadNotExist is returned when an object has no staged
	// mutable HEAD.
	ErrMutableHeadNotExist = fmt.Errorf("object has no mutable HEAD: %w", fs.ErrNotExist)
	// ErrMutableHeadExists is returned by operations that are not allowed
	// while an object has a staged mutable HEAD.
	ErrMutableHeadExists = errors.New("object has a staged mutable HEAD that must be committed or purged first")
)

// MutableHead provides access to an object's staged mutable HEAD: an
// in-progress "next version" stored under extensions/0005-mutable-head that
// can be extended through any number of revisions before being committed as a
// regular, immutable object version.
type MutableHead struct {
	obj       *Object
	inventory *StoredInventory // head inventory; its Head is the staged (next) version number
	revision  int              // most recent revision number (1,2,3...)
}

// Inventory returns the mutable HEAD's inventory. Its head version number is
// the number the staged version will have once committed.
func (mh *MutableHead) Inventory() *StoredInventory { return mh.inventory }

// Revision returns the mutable HEAD's most recent revision number.
func (mh *MutableHead) Revision() int { return mh.revision }

// HasMutableHead returns true if the object has a staged mutable HEAD.
func (obj *Object) HasMutableHead(ctx context.Context) (bool, error) {
	_, err := StatFile(ctx, obj.fs, path.Join(obj.path, mutableHeadDir, inventoryBase))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OpenMutableHead returns the object's staged MutableHead. It returns
// ErrMutableHeadNotExist if the object has no staged mutable HEAD.
func (obj *Object) OpenMutableHead(ctx context.Context) (*MutableHead, error) {
	headDir := path.Join(obj.path, mutableHeadDir)
	inv, err := ReadInventory(ctx, obj.fs, headDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", obj.path, ErrMutableHeadNotExist)
		}
		return nil, err
	}
	rev, err := obj.mutableHeadRevision(ctx)
	if err != nil {
		return nil, err
	}
	return &MutableHead{obj: obj, inventory: inv, revision: rev}, nil
}

// StageMutableHead adds the stage as a new revision of the object's mutable
// HEAD, creating the mutable HEAD if the object doesn't have one. The stage's
// state completely replaces the staged version's state, just like a regular
// commit; content that is new to the object is stored under the extension's
// content directory for the new revision. The object's root inventory is not
// changed.
func (obj *Object) StageMutableHead(ctx context.Context, stage *Stage, msg string, user User, opts ...UpdateOption) (*MutableHead, error) {
	writeFS, ok := obj.fs.(WriteFS)
	if !ok {
		return nil, errors.New("object's backing file system doesn't support write operations")
	}
	if !obj.Exists() {
		return nil, ErrObjectNotExist
	}
	updateOpts := updateOptions{}
	for _, o := range opts {
		o(&updateOpts)
	}
	prev, err := obj.OpenMutableHead(ctx)
	if err != nil && !errors.Is(err, ErrMutableHeadNotExist) {
		return nil, err
	}
	newRev := 1
	baseInv := obj.inventory
	if prev != nil {
		newRev = prev.revision + 1
		baseInv = prev.inventory
	}
	if stage.DigestAlgorithm.ID() != baseInv.DigestAlgorithm {
		return nil, fmt.Errorf("stage must use the object's digest algorithm (%s)", baseInv.DigestAlgorithm)
	}
	newInv := baseInv.Inventory
	newInv.Versions = InventoryVersions{}
	maps.Copy(newInv.Versions, baseInv.Versions)
	newInv.Manifest = baseInv.Manifest.Clone()
	if prev == nil {
		// allocate the staged version number
		next, err := baseInv.Head.Next()
		if err != nil {
			return nil, err
		}
		newInv.Head = next
	} else {
		// drop the previous revision's version entry; it is replaced below
		delete(newInv.Versions, newInv.Head)
	}
	created := updateOpts.created
	if created.IsZero() {
		created = time.Now()
	}
	newVersion := &InventoryVersion{
		State:   stage.State.Clone(),
		Created: created.Truncate(time.Second),
		Message: msg,
	}
	if user.Name != "" {
		newVersion.User = &user
	}
	newInv.Versions[newInv.Head] = newVersion
	// content paths for digests not already in the manifest go under the new
	// revision's content directory.
	revContentPrefix := path.Join(mutableHeadDir, newInv.contentDirectory(), "r"+strconv.Itoa(newRev))
	newContent := DigestMap{}
	for dig, logicalPaths := range newVersion.State {
		if len(newInv.Manifest[dig]) > 0 {
			continue
		}
		if !stage.HasContent(dig) {
			return nil, fmt.Errorf("stage doesn't provide content for digest: %s", dig)
		}
		cps := make([]string, len(logicalPaths))
		for i, lp := range logicalPaths {
			cps[i] = path.Join(revContentPrefix, lp)
		}
		newInv.Manifest[dig] = cps
		newContent[dig] = cps
	}
	// prune manifest entries staged by earlier revisions that no longer
	// appear in any version state: those files never reach a committed
	// version, so they can be dropped from the staged manifest. Files from
	// committed versions are always retained.
	for dig, cps := range newInv.Manifest {
		if len(cps) < 1 || !strings.HasPrefix(cps[0], mutableHeadDir+"/") {
			continue
		}
		var used bool
		for _, ver := range newInv.Versions {
			if len(ver.State[dig]) > 0 {
				used = true
				break
			}
		}
		if !used {
			delete(newInv.Manifest, dig)
		}
	}
	// stale-read check: the mutable HEAD on storage must still be the one
	// this update was built from.
	if err := obj.checkMutableHeadUnchanged(ctx, prev); err != nil {
		return nil, err
	}
	// write new content files
	err = transferContent(ctx, &transferOpts{
		Source:   stage,
		DestFS:   writeFS,
		DestRoot: obj.path,
		Manifest: newContent,
	})
	if err != nil {
		return nil, fmt.Errorf("transferring mutable HEAD contents: %w", err)
	}
	// write the head inventory, its sidecar, and the revision marker
	if err := writeInventory(ctx, writeFS, &newInv, path.Join(obj.path, mutableHeadDir)); err != nil {
		return nil, err
	}
	marker := path.Join(obj.path, mutableHeadRevisionsDir, "r"+strconv.Itoa(newRev))
	if _, err := writeFS.Write(ctx, marker, strings.NewReader("")); err != nil {
		return nil, fmt.Errorf("writing revision marker: %w", err)
	}
	newBytes, newDigest, err := newInv.marshal()
	if err != nil {
		return nil, err
	}
	stored, err := newStoredInventory(newBytes)
	if err != nil {
		return nil, err
	}
	stored.digest = newDigest
	return &MutableHead{obj: obj, inventory: stored, revision: newRev}, nil
}

// CommitMutableHead converts the object's staged mutable HEAD into a regular
// object version: content paths under the extension directory are rewritten
// into the new version directory, content files are moved accordingly, the
// root inventory is updated, and the extension directory is removed.
func (obj *Object) CommitMutableHead(ctx context.Context, mh *MutableHead) (err error) {
	writeFS, ok := obj.fs.(WriteFS)
	if !ok {
		return errors.New("object's backing file system doesn't support write operations")
	}
	if mh == nil || mh.obj != obj {
		return errors.New("mutable HEAD was not opened from this object")
	}
	if err := obj.checkMutableHeadUnchanged(ctx, mh); err != nil {
		return err
	}
	newInv := mh.inventory.Inventory
	newHead := newInv.Head
	verContentDir := path.Join(newHead.String(), newInv.contentDirectory())
	// rewrite extension content paths into the version directory, keeping
	// the revision directory as a path segment, and move the files.
	moves := map[string]string{} // src -> dst, relative to object root
	newInv.Manifest = newInv.Manifest.Clone()
	for dig, cps := range newInv.Manifest {
		newCps := slices.Clone(cps)
		for i, cp := range newCps {
			tail, found := strings.CutPrefix(cp, path.Join(mutableHeadDir, newInv.contentDirectory())+"/")
			if !found {
				continue
			}
			dst := path.Join(verContentDir, tail)
			moves[cp] = dst
			newCps[i] = dst
		}
		newInv.Manifest[dig] = newCps
	}
	for src, dst := range moves {
		if _, err := ocflfs.Copy(ctx, obj.fs, path.Join(obj.path, dst), obj.fs, path.Join(obj.path, src)); err != nil {
			return fmt.Errorf("moving mutable HEAD content: %w", err)
		}
	}
	// write the version directory inventory first, then the root inventory:
	// a crash in between leaves the prior head intact.
	if err := writeInventory(ctx, writeFS, &newInv, path.Join(obj.path, newHead.String()), obj.path); err != nil {
		return err
	}
	if err := writeFS.RemoveAll(ctx, path.Join(obj.path, mutableHeadExtDir)); err != nil {
		return fmt.Errorf("removing mutable HEAD extension directory: %w", err)
	}
	newBytes, newDigest, err := newInv.marshal()
	if err != nil {
		return err
	}
	stored, err := newStoredInventory(newBytes)
	if err != nil {
		return err
	}
	stored.digest = newDigest
	obj.inventory = stored
	return nil
}

// PurgeMutableHead removes the object's staged mutable HEAD, discarding all
// of its revisions. It is a no-op if the object has no mutable HEAD.
func (obj *Object) PurgeMutableHead(ctx context.Context) error {
	writeFS, ok := obj.fs.(WriteFS)
	if !ok {
		return errors.New("object's backing file system doesn't support write operations")
	}
	err := writeFS.RemoveAll(ctx, path.Join(obj.path, mutableHeadExtDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// mutableHeadRevision returns the object's most recent mutable HEAD revision
// number, based on the extension's revision marker files.
func (obj *Object) mutableHeadRevision(ctx context.Context) (int, error) {
	entries, err := ocflfs.ReadDir(ctx, obj.fs, path.Join(obj.path, mutableHeadRevisionsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	maxRev := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		numStr, found := strings.CutPrefix(e.Name(), "r")
		if !found {
			continue
		}
		num, err := strconv.Atoi(numStr)
		if err != nil || num < 1 {
			continue
		}
		if num > maxRev {
			maxRev = num
		}
	}
	return maxRev, nil
}

// checkMutableHeadUnchanged confirms that the mutable HEAD on storage is
// still the one in expect (or absent, if expect is nil). It returns
// ErrOutOfSync if another writer has changed it.
func (obj *Object) checkMutableHeadUnchanged(ctx context.Context, expect *MutableHead) error {
	raw, err := ocflfs.ReadAll(ctx, obj.fs, path.Join(obj.path, mutableHeadDir, inventoryBase))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if expect != nil {
			return fmt.Errorf("mutable HEAD was purged by another writer: %w", ErrOutOfSync)
		}
		return nil
	case err != nil:
		return err
	}
	if expect == nil {
		return fmt.Errorf("another writer staged a mutable HEAD: %w", ErrOutOfSync)
	}
	if !bytes.Equal(raw, expect.inventory.bytes) {
		return fmt.Errorf("mutable HEAD was changed by another writer: %w", ErrOutOfSync)
	}
	return nil
}
