package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"runtime"
	"slices"

	"github.com/ocflkit/ocfl-go"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/internal/xfer"
)

// ErrValidation is returned when an import tree is well-formed but fails
// validation.
var ErrValidation = errors.New("import tree failed validation")

// ExportObject copies the object's storage tree verbatim to dstDir in dstFS.
// Objects with a staged mutable HEAD cannot be exported.
func (r *Repository) ExportObject(ctx context.Context, objectID string, dstFS ocflfs.WriteFS, dstDir string) error {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return err
	}
	if hasMH, err := obj.HasMutableHead(ctx); err != nil {
		return err
	} else if hasMH {
		return fmt.Errorf("can't export %q: %w", objectID, ocfl.ErrMutableHeadExists)
	}
	return copyTree(ctx, obj.FS(), obj.Path(), dstFS, dstDir, r)
}

// ExportVersion materializes the logical contents of an object version into
// dstDir in dstFS. If v is 0, the object's head version is used.
func (r *Repository) ExportVersion(ctx context.Context, objectID string, v int, dstFS ocflfs.WriteFS, dstDir string) error {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return err
	}
	return copyVersionState(ctx, obj, v, dstFS, dstDir, r)
}

// ImportObject copies a complete object tree at srcDir in srcFS into the
// repository. The object's id is read from the tree's root inventory; an
// object with the same id must not already exist. The tree is validated
// first unless the NoValidation flag is given.
func (r *Repository) ImportObject(ctx context.Context, srcFS ocflfs.FS, srcDir string, flags ...Flag) (string, error) {
	srcInv, err := ocfl.ReadInventory(ctx, srcFS, srcDir)
	if err != nil {
		return "", fmt.Errorf("reading inventory of import tree: %w", err)
	}
	objectID := srcInv.ID
	if !hasFlag(flags, NoValidation) {
		result := ocfl.ValidateObject(ctx, srcFS, srcDir, ocfl.ValidationLogger(r.logger))
		if err := result.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return "", err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, false)
	if err != nil {
		return "", err
	}
	if obj.Exists() {
		return "", fmt.Errorf("can't import %q: %w", objectID, ErrAlreadyExists)
	}
	writeFS, ok := r.root.FS().(ocflfs.WriteFS)
	if !ok {
		return "", errors.New("storage root backend is not writable")
	}
	if err := copyTree(ctx, srcFS, srcDir, writeFS, obj.Path(), r); err != nil {
		return "", fmt.Errorf("importing object %q: %w", objectID, err)
	}
	obj, err = r.openObject(ctx, objectID, true)
	if err != nil {
		return "", err
	}
	if err := r.recordHead(ctx, obj, 0); err != nil {
		return "", err
	}
	return objectID, nil
}

// ImportVersion imports a single version directory (with its own
// inventory.json) as the object's next version. The version's number must be
// exactly head+1, and the version inventory's history must match the
// object's existing inventory on every shared field.
func (r *Repository) ImportVersion(ctx context.Context, srcFS ocflfs.FS, srcDir string, flags ...Flag) (ocfl.VNum, error) {
	srcInv, err := ocfl.ReadInventory(ctx, srcFS, srcDir)
	if err != nil {
		return ocfl.VNum{}, fmt.Errorf("reading inventory of import version: %w", err)
	}
	objectID := srcInv.ID
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return ocfl.VNum{}, err
	}
	curInv := obj.Inventory()
	if srcInv.Head.Num() != curInv.Head.Num()+1 {
		err := fmt.Errorf("import version is %s, expected v%d: %w", srcInv.Head, curInv.Head.Num()+1, ocfl.ErrOutOfSync)
		return ocfl.VNum{}, err
	}
	if err := checkSharedHistory(curInv, srcInv); err != nil {
		return ocfl.VNum{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	writeFS, ok := r.root.FS().(ocflfs.WriteFS)
	if !ok {
		return ocfl.VNum{}, errors.New("storage root backend is not writable")
	}
	// copy the version directory (content + its inventory), then replace the
	// root inventory and sidecar.
	verDir := path.Join(obj.Path(), srcInv.Head.String())
	if err := copyTree(ctx, srcFS, srcDir, writeFS, verDir, r); err != nil {
		return ocfl.VNum{}, fmt.Errorf("importing version %s: %w", srcInv.Head, err)
	}
	if _, err := writeFS.Write(ctx, path.Join(obj.Path(), "inventory.json"), bytes.NewReader(srcInv.Bytes())); err != nil {
		return ocfl.VNum{}, err
	}
	sidecar := srcInv.Digest() + " inventory.json\n"
	sidecarFile := path.Join(obj.Path(), "inventory.json."+srcInv.DigestAlgorithm)
	if _, err := writeFS.Write(ctx, sidecarFile, bytes.NewReader([]byte(sidecar))); err != nil {
		return ocfl.VNum{}, err
	}
	r.cache.evict(objectID)
	obj, err = r.openObject(ctx, objectID, true)
	if err != nil {
		return ocfl.VNum{}, err
	}
	if err := r.recordHead(ctx, obj, 0); err != nil {
		return ocfl.VNum{}, err
	}
	return obj.Head(), nil
}

// checkSharedHistory confirms that the imported inventory agrees with the
// current inventory on id, digest algorithm, content directory, and every
// shared version block.
func checkSharedHistory(cur, imported *ocfl.StoredInventory) error {
	if cur.ID != imported.ID {
		return fmt.Errorf("import inventory id %q doesn't match object id %q", imported.ID, cur.ID)
	}
	if cur.DigestAlgorithm != imported.DigestAlgorithm {
		return errors.New("import inventory uses a different digest algorithm")
	}
	if cur.ContentDirectory != imported.ContentDirectory {
		return errors.New("import inventory uses a different content directory")
	}
	for vnum, curVer := range cur.Versions {
		impVer := imported.Versions[vnum]
		if impVer == nil {
			return fmt.Errorf("import inventory is missing version %s", vnum)
		}
		if !curVer.State.Eq(impVer.State) {
			return fmt.Errorf("import inventory has different state for %s", vnum)
		}
		if !curVer.Created.Equal(impVer.Created) || curVer.Message != impVer.Message {
			return fmt.Errorf("import inventory has different metadata for %s", vnum)
		}
		if !reflect.DeepEqual(curVer.User, impVer.User) {
			return fmt.Errorf("import inventory has different user for %s", vnum)
		}
	}
	for dig, curPaths := range cur.Manifest {
		impPaths := slices.Clone(imported.Manifest[dig])
		if len(impPaths) < 1 {
			return fmt.Errorf("import inventory manifest is missing digest %s", dig)
		}
		curSorted := slices.Clone(curPaths)
		slices.Sort(curSorted)
		slices.Sort(impPaths)
		if !slices.Equal(curSorted, impPaths) {
			return fmt.Errorf("import inventory has different content paths for digest %s", dig)
		}
	}
	return nil
}

// copyTree copies all files under srcDir in srcFS to dstDir in dstFS.
func copyTree(ctx context.Context, srcFS ocflfs.FS, srcDir string, dstFS ocflfs.WriteFS, dstDir string, r *Repository) error {
	files := map[string]string{}
	for ref, err := range ocflfs.WalkFiles(ctx, srcFS, srcDir) {
		if err != nil {
			return err
		}
		files[path.Join(dstDir, ref.Path)] = ref.FullPath()
	}
	return xfer.Copy(ctx, srcFS, dstFS, files, runtime.NumCPU(), r.logger)
}
