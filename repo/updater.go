package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/fs/local"
)

// ObjectUpdater is the handle passed to the update function given to
// [Repository.UpdateObject]. Its methods edit the state of the version under
// construction. New content is staged in a private scratch directory that is
// removed when the update completes or aborts.
type ObjectUpdater struct {
	alg      digest.Algorithm
	baseInv  *ocfl.StoredInventory // nil for new objects
	state    ocfl.DigestMap
	stageFS  *local.FS
	stageDir string            // os path of the scratch directory
	staged   map[string]string // digest -> staged filename
	fixity   map[string]digest.Set
}

func newObjectUpdater(alg digest.Algorithm, baseInv *ocfl.StoredInventory) (*ObjectUpdater, error) {
	scratch := filepath.Join(os.TempDir(), "ocfl-work-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, err
	}
	stageFS, err := local.NewFS(scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}
	u := &ObjectUpdater{
		alg:      alg,
		baseInv:  baseInv,
		state:    ocfl.DigestMap{},
		stageFS:  stageFS,
		stageDir: scratch,
		staged:   map[string]string{},
		fixity:   map[string]digest.Set{},
	}
	if baseInv != nil {
		u.state = baseInv.Version(0).State.Clone()
	}
	return u, nil
}

// close removes the updater's scratch directory.
func (u *ObjectUpdater) close() {
	os.RemoveAll(u.stageDir)
}

// checkLogicalPath returns ErrPathConstraint if p is not a valid logical
// path.
func checkLogicalPath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrPathConstraint)
	}
	if strings.ContainsRune(p, '\\') {
		return fmt.Errorf("%w: %q: backslashes are not allowed", ErrPathConstraint, p)
	}
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return fmt.Errorf("%w: %q: leading or trailing slash", ErrPathConstraint, p)
	}
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "":
			return fmt.Errorf("%w: %q: empty path segment", ErrPathConstraint, p)
		case ".", "..":
			return fmt.Errorf("%w: %q: path segment is %q", ErrPathConstraint, p, part)
		}
	}
	return nil
}

// resolveConflicts checks the path against existing logical paths in the
// state. An exact match is removed if overwrite is set, and is an
// ErrOverwrite otherwise. A path that conflicts with an existing path as a
// directory (or vice versa) is always an error.
func (u *ObjectUpdater) resolveConflicts(logicalPath string, overwrite bool) error {
	var replaces bool
	for existing := range u.state.Paths() {
		switch {
		case existing == logicalPath:
			if !overwrite {
				return fmt.Errorf("%w: %q", ErrOverwrite, logicalPath)
			}
			replaces = true
		case strings.HasPrefix(existing, logicalPath+"/"), strings.HasPrefix(logicalPath, existing+"/"):
			return fmt.Errorf("%w: %q conflicts with %q", ErrPathConstraint, logicalPath, existing)
		}
	}
	if replaces {
		u.state.Mutate(ocfl.RemovePath(logicalPath))
	}
	return nil
}

// WriteFile adds the contents of r to the version state at logicalPath,
// digesting and staging the content as it is read. Pass the Overwrite flag
// to replace an existing file at the same path. The content's digest is
// returned.
func (u *ObjectUpdater) WriteFile(ctx context.Context, logicalPath string, r io.Reader, flags ...Flag) (string, error) {
	if err := checkLogicalPath(logicalPath); err != nil {
		return "", err
	}
	if err := u.resolveConflicts(logicalPath, hasFlag(flags, Overwrite)); err != nil {
		return "", err
	}
	// digest while staging
	digester := u.alg.Digester()
	stagedName := uuid.NewString()
	if _, err := u.stageFS.Write(ctx, stagedName, io.TeeReader(r, digester)); err != nil {
		return "", err
	}
	dig := digester.String()
	switch {
	case u.knownDigest(dig):
		// content already exists in the object or was already staged; drop
		// the duplicate staged file.
		if err := u.stageFS.Remove(ctx, stagedName); err != nil {
			return "", err
		}
	default:
		u.staged[dig] = stagedName
	}
	u.state[dig] = append(u.state[dig], logicalPath)
	return dig, nil
}

// knownDigest returns true if content with the digest is already part of the
// object or staged by this update.
func (u *ObjectUpdater) knownDigest(dig string) bool {
	if _, isStaged := u.staged[dig]; isStaged {
		return true
	}
	return u.baseInv != nil && len(u.baseInv.Manifest[dig]) > 0
}

// RemoveFile removes logicalPath from the version state.
func (u *ObjectUpdater) RemoveFile(logicalPath string) error {
	if u.state.DigestFor(logicalPath) == "" {
		return fmt.Errorf("no such logical path %q: %w", logicalPath, fs.ErrNotExist)
	}
	u.state.Mutate(ocfl.RemovePath(logicalPath))
	return nil
}

// RenameFile renames src to dst in the version state. Pass the Overwrite
// flag to replace an existing file at dst.
func (u *ObjectUpdater) RenameFile(src, dst string, flags ...Flag) error {
	if err := checkLogicalPath(dst); err != nil {
		return err
	}
	srcDigest := u.state.DigestFor(src)
	if srcDigest == "" {
		return fmt.Errorf("no such logical path %q: %w", src, fs.ErrNotExist)
	}
	u.state.Mutate(ocfl.RemovePath(src))
	if err := u.resolveConflicts(dst, hasFlag(flags, Overwrite)); err != nil {
		// restore src before failing
		u.state[srcDigest] = append(u.state[srcDigest], src)
		return err
	}
	u.state[srcDigest] = append(u.state[srcDigest], dst)
	return nil
}

// ReinstateFile copies the file src, as it existed in version srcVersion,
// into the version state at dst. Pass the Overwrite flag to replace an
// existing file at dst.
func (u *ObjectUpdater) ReinstateFile(srcVersion int, src, dst string, flags ...Flag) error {
	if err := checkLogicalPath(dst); err != nil {
		return err
	}
	if u.baseInv == nil {
		return ocfl.ErrObjectNotExist
	}
	ver := u.baseInv.Version(srcVersion)
	if ver == nil {
		return fmt.Errorf("%w: v%d", ocfl.ErrVersionNotExist, srcVersion)
	}
	srcDigest := ver.State.DigestFor(src)
	if srcDigest == "" {
		return fmt.Errorf("no such logical path %q in v%d: %w", src, srcVersion, fs.ErrNotExist)
	}
	if err := u.resolveConflicts(dst, hasFlag(flags, Overwrite)); err != nil {
		return err
	}
	u.state[srcDigest] = append(u.state[srcDigest], dst)
	return nil
}

// AddFixity records an additional digest for the file at logicalPath. The
// path must exist in the version state.
func (u *ObjectUpdater) AddFixity(logicalPath string, alg string, value string) error {
	dig := u.state.DigestFor(logicalPath)
	if dig == "" {
		return fmt.Errorf("no such logical path %q: %w", logicalPath, fs.ErrNotExist)
	}
	if u.fixity[dig] == nil {
		u.fixity[dig] = digest.Set{}
	}
	return u.fixity[dig].Add(digest.Set{alg: value})
}

// ClearState removes all logical paths from the version state. Staged
// content is not removed; content that is no longer referenced will not be
// written to the object.
func (u *ObjectUpdater) ClearState() {
	u.state = ocfl.DigestMap{}
}

// ClearFixity removes fixity values recorded by this update.
func (u *ObjectUpdater) ClearFixity() {
	u.fixity = map[string]digest.Set{}
}

// State returns the state of the version under construction.
func (u *ObjectUpdater) State() ocfl.DigestMap { return u.state }

// GetContent implements ocfl.ContentSource for staged content.
func (u *ObjectUpdater) GetContent(dig string) (ocfl.FS, string) {
	name, ok := u.staged[dig]
	if !ok {
		return nil, ""
	}
	return u.stageFS, name
}

// GetFixity implements ocfl.FixitySource for staged content.
func (u *ObjectUpdater) GetFixity(dig string) digest.Set {
	return u.fixity[dig]
}

// stage returns an ocfl.Stage for the updater's state and staged content.
func (u *ObjectUpdater) stage() (*ocfl.Stage, error) {
	if err := u.state.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPathConstraint, err)
	}
	return &ocfl.Stage{
		State:           u.state,
		DigestAlgorithm: u.alg,
		ContentSource:   u,
		FixitySource:    u,
	}, nil
}

// UpdateObject builds and commits a new version of the object through a
// transactional update. The updateFn receives an *ObjectUpdater whose state
// is initialized from the object's current head version (or empty, for a new
// object). If expectHead > 0 and the object's head version is not
// expectHead, the update fails with ocfl.ErrOutOfSync before updateFn is
// called. The new head version number is returned.
func (r *Repository) UpdateObject(ctx context.Context, objectID string, expectHead int, msg string, user ocfl.User, updateFn func(*ObjectUpdater) error) (ocfl.VNum, error) {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, false)
	if err != nil {
		return ocfl.VNum{}, err
	}
	if hasMH, err := obj.HasMutableHead(ctx); err != nil {
		return ocfl.VNum{}, err
	} else if hasMH {
		return ocfl.VNum{}, ocfl.ErrMutableHeadExists
	}
	if expectHead > 0 && obj.Head().Num() != expectHead {
		err := fmt.Errorf("object %q: expected head v%d, found %s: %w", objectID, expectHead, obj.Head(), ocfl.ErrOutOfSync)
		return ocfl.VNum{}, err
	}
	algID := digest.SHA512.ID()
	if obj.Exists() {
		algID = obj.Inventory().DigestAlgorithm
	}
	alg, err := digest.DefaultRegistry().Get(algID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	updater, err := newObjectUpdater(alg, obj.Inventory())
	if err != nil {
		return ocfl.VNum{}, err
	}
	defer updater.close()
	if err := updateFn(updater); err != nil {
		return ocfl.VNum{}, err
	}
	stage, err := updater.stage()
	if err != nil {
		return ocfl.VNum{}, err
	}
	return r.commitStage(ctx, obj, stage, msg, user, ocfl.UpdateWithAllowUnchanged())
}

// commitStage applies the stage as the object's next version using an update
// plan: a failed update is reverted before returning. The caller must hold
// the object's write lock.
func (r *Repository) commitStage(ctx context.Context, obj *ocfl.Object, stage *ocfl.Stage, msg string, user ocfl.User, opts ...ocfl.UpdateOption) (ocfl.VNum, error) {
	opts = append(opts, ocfl.UpdateWithLogger(r.logger))
	plan, err := obj.NewUpdatePlan(stage, msg, user, opts...)
	if err != nil {
		return ocfl.VNum{}, err
	}
	if err := obj.ApplyUpdatePlan(ctx, plan, stage); err != nil {
		if revertErr := plan.Revert(ctx, obj.FS(), obj.Path(), stage); revertErr != nil {
			err = errors.Join(err, fmt.Errorf("reverting failed update: %w", revertErr))
		}
		return ocfl.VNum{}, err
	}
	if err := r.recordHead(ctx, obj, 0); err != nil {
		return ocfl.VNum{}, err
	}
	return obj.Head(), nil
}

// PutObject creates a new version of the object whose state exactly matches
// the contents of the directory dir in srcFS: there is no carry-forward of
// files from the previous version. If expectHead > 0, the object's current
// head must match it. Pass the MoveSource flag to remove the source files
// after a successful commit. The new head version number is returned.
func (r *Repository) PutObject(ctx context.Context, objectID string, expectHead int, srcFS ocflfs.FS, dir string, msg string, user ocfl.User, flags ...Flag) (ocfl.VNum, error) {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, false)
	if err != nil {
		return ocfl.VNum{}, err
	}
	if hasMH, err := obj.HasMutableHead(ctx); err != nil {
		return ocfl.VNum{}, err
	} else if hasMH {
		return ocfl.VNum{}, ocfl.ErrMutableHeadExists
	}
	if expectHead > 0 && obj.Head().Num() != expectHead {
		err := fmt.Errorf("object %q: expected head v%d, found %s: %w", objectID, expectHead, obj.Head(), ocfl.ErrOutOfSync)
		return ocfl.VNum{}, err
	}
	algID := digest.SHA512.ID()
	if obj.Exists() {
		algID = obj.Inventory().DigestAlgorithm
	}
	alg, err := digest.DefaultRegistry().Get(algID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	stage, err := ocfl.StageDir(ctx, srcFS, dir, alg)
	if err != nil {
		return ocfl.VNum{}, err
	}
	head, err := r.commitStage(ctx, obj, stage, msg, user, ocfl.UpdateWithAllowUnchanged())
	if err != nil {
		return ocfl.VNum{}, err
	}
	if hasFlag(flags, MoveSource) {
		if writeFS, ok := srcFS.(ocflfs.WriteFS); ok {
			if err := writeFS.RemoveAll(ctx, dir); err != nil {
				r.logger.Error("removing source directory after put", "dir", dir, "error", err)
			}
		}
	}
	return head, nil
}

// ReplicateVersionAsHead creates a new head version whose state is identical
// to the state of version v. The new head version number is returned.
func (r *Repository) ReplicateVersionAsHead(ctx context.Context, objectID string, v int, msg string, user ocfl.User) (ocfl.VNum, error) {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return ocfl.VNum{}, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return ocfl.VNum{}, err
	}
	vfs, err := obj.OpenVersion(ctx, v)
	if err != nil {
		return ocfl.VNum{}, err
	}
	alg, err := digest.DefaultRegistry().Get(obj.Inventory().DigestAlgorithm)
	if err != nil {
		return ocfl.VNum{}, err
	}
	stage := &ocfl.Stage{
		State:           vfs.State().Clone(),
		DigestAlgorithm: alg,
		ContentSource:   vfs,
		FixitySource:    vfs,
	}
	return r.commitStage(ctx, obj, stage, msg, user, ocfl.UpdateWithAllowUnchanged())
}

// RollbackToVersion resets the object's head to version v, removing all
// later versions.
func (r *Repository) RollbackToVersion(ctx context.Context, objectID string, v int) error {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return err
	}
	if err := obj.Rollback(ctx, ocfl.V(v, obj.Head().Padding())); err != nil {
		return err
	}
	// the rollback rewinds the details record, which is not a legal forward
	// transition; drop the row and let the next read re-load from storage.
	r.dropRecord(ctx, objectID)
	return nil
}

// PurgeObject removes the object from the repository entirely. It is a
// best-effort, recursive delete: a missing object is not an error.
func (r *Repository) PurgeObject(ctx context.Context, objectID string) error {
	unlock, err := r.locks.WriteLock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()
	objPath, err := r.root.ResolveID(objectID)
	if err != nil {
		return err
	}
	writeFS, ok := r.root.FS().(ocflfs.WriteFS)
	if !ok {
		return errors.New("storage root backend is not writable")
	}
	fullPath := objPath
	if dir := r.root.Path(); dir != "." && dir != "" {
		fullPath = dir + "/" + objPath
	}
	if err := writeFS.RemoveAll(ctx, fullPath); err != nil {
		r.logger.Error("purging object", "object_id", objectID, "error", err)
	}
	r.dropRecord(ctx, objectID)
	return nil
}
