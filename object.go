package ocfl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	logical "github.com/ocflkit/ocfl-go/internal/logical-fs"
	"github.com/ocflkit/ocfl-go/logging"
)

const (
	// extensionsDir is the name of the extensions directory in object roots
	// and storage roots.
	extensionsDir = "extensions"
)

var (
	// ErrObjectNotExist is returned when an object is expected to exist but
	// does not.
	ErrObjectNotExist = fmt.Errorf("OCFL object not found: %w", fs.ErrNotExist)
	// ErrObjectNamasteNotExist is returned when an object's NAMASTE
	// declaration file is missing.
	ErrObjectNamasteNotExist = fmt.Errorf("OCFL object declaration not found: %w", ErrNamasteNotExist)
	// ErrObjRootStructure is returned when an object root includes invalid
	// files or directories.
	ErrObjRootStructure = errors.New("object includes invalid files or directories")
	// ErrVersionNotExist is returned when an object version is expected to
	// exist but does not.
	ErrVersionNotExist = errors.New("object version not found")
)

// Object is used to access and update an OCFL object.
type Object struct {
	// fs where the object is stored.
	fs FS
	// path of object root directory relative to fs.
	path string
	// object's expected or actual id.
	id string
	// inventory from the object's root inventory.json, or nil if the object
	// does not exist (yet).
	inventory *StoredInventory
	// the storage root the object was opened from, if any.
	root *Root
	// options
	mustExist bool
}

// NewObject returns an *Object for managing the OCFL object at dir in fsys.
// If the object does not exist, the returned *Object can be used to create
// it, unless the ObjectMustExist option is used.
func NewObject(ctx context.Context, fsys FS, dir string, opts ...ObjectOption) (*Object, error) {
	if !fs.ValidPath(dir) {
		return nil, fmt.Errorf("invalid object path: %q: %w", dir, fs.ErrInvalid)
	}
	obj := &Object{fs: fsys, path: dir}
	for _, optFn := range opts {
		optFn(obj)
	}
	inv, err := ReadInventory(ctx, fsys, dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading object inventory: %w", err)
		}
		if obj.mustExist {
			return nil, fmt.Errorf("%s: %w", dir, ErrObjectNotExist)
		}
		// dir must be empty or not exist for the object to be created later.
		entries, err := ocflfs.ReadDir(ctx, fsys, dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if state := ParseObjectDir(entries); !state.Empty() {
			return nil, fmt.Errorf("directory is not an OCFL object or an empty directory: %s: %w", dir, ErrObjRootStructure)
		}
		return obj, nil
	}
	if obj.id != "" && obj.id != inv.ID {
		return nil, fmt.Errorf("object has unexpected id: %q, expected: %q", inv.ID, obj.id)
	}
	obj.id = inv.ID
	obj.inventory = inv
	return obj, nil
}

// ObjectOption is used to configure the behavior of [NewObject].
type ObjectOption func(*Object)

// ObjectWithID sets the expected object id. If the object exists, its
// inventory's id must match. If the object does not exist, the id is used
// when the object is created.
func ObjectWithID(id string) ObjectOption {
	return func(o *Object) {
		o.id = id
	}
}

// ObjectMustExist makes NewObject return an error if the object does not
// exist.
func ObjectMustExist() ObjectOption {
	return func(o *Object) {
		o.mustExist = true
	}
}

// objectWithRoot associates the object with the storage root it was opened
// from.
func objectWithRoot(root *Root) ObjectOption {
	return func(o *Object) {
		o.root = root
	}
}

// Exists returns true if the object exists: its root inventory was found and
// read.
func (obj *Object) Exists() bool { return obj.inventory != nil }

// FS returns the FS where the object is stored.
func (obj *Object) FS() FS { return obj.fs }

// ID returns the object's id, which may be empty if the object does not
// exist and was opened without the ObjectWithID option.
func (obj *Object) ID() string { return obj.id }

// Inventory returns the object's root inventory, or nil if the object does
// not exist.
func (obj *Object) Inventory() *StoredInventory { return obj.inventory }

// Head returns the object's current head version number. The zero value is
// returned if the object doesn't exist.
func (obj *Object) Head() VNum {
	if obj.inventory == nil {
		return VNum{}
	}
	return obj.inventory.Head
}

// Path returns the object's root directory, relative to its FS.
func (obj *Object) Path() string { return obj.path }

// Root returns the storage root the object was opened from, which may be
// nil.
func (obj *Object) Root() *Root { return obj.root }

// Spec returns the object's OCFL specification number. The zero value is
// returned if the object doesn't exist.
func (obj *Object) Spec() Spec {
	if obj.inventory == nil {
		return Spec("")
	}
	return obj.inventory.Type.Spec
}

// ExtensionNames returns the names of directories in the object's
// extensions directory.
func (obj *Object) ExtensionNames(ctx context.Context) ([]string, error) {
	entries, err := ocflfs.ReadDir(ctx, obj.fs, path.Join(obj.path, extensionsDir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Commit builds a new object version from the commit's stage and writes it to
// the object, updating the object's root inventory. If an error occurs after
// the object may have been modified, the returned error is a *CommitError.
func (obj *Object) Commit(ctx context.Context, commit *Commit) error {
	writeFS, ok := obj.fs.(WriteFS)
	if !ok {
		return &CommitError{Err: errors.New("object's backing file system doesn't support write operations")}
	}
	if hasMH, err := obj.HasMutableHead(ctx); err != nil {
		return &CommitError{Err: err}
	} else if hasMH {
		return &CommitError{Err: ErrMutableHeadExists}
	}
	if !obj.Exists() {
		switch {
		case obj.id != "" && commit.ID != "" && obj.id != commit.ID:
			return &CommitError{Err: fmt.Errorf("commit ID doesn't match object ID: %q != %q", commit.ID, obj.id)}
		case commit.ID == "":
			commit.ID = obj.id
		}
	}
	newInv, err := buildInventory(commit, obj.inventory)
	if err != nil {
		return &CommitError{Err: fmt.Errorf("building new inventory: %w", err)}
	}
	logger := commit.Logger
	if logger == nil {
		logger = logging.DisabledLogger()
	}
	logger = logger.With("path", obj.path, "id", newInv.ID, "head", newInv.Head, "ocfl_spec", newInv.Type.Spec, "alg", newInv.DigestAlgorithm)
	// xfers is a subset of the manifest with the new content to add
	xfers, err := newVersionContent(newInv)
	if err != nil {
		return &CommitError{Err: err}
	}
	// check that the stage includes all the new content
	for dig := range xfers {
		if !commit.Stage.HasContent(dig) {
			err := fmt.Errorf("stage doesn't provide content for digest: %s", dig)
			return &CommitError{Err: err}
		}
	}
	// file changes start here: declaration, then content, then inventories
	var oldSpec Spec
	if obj.inventory != nil {
		oldSpec = obj.inventory.Type.Spec
	}
	if err := updateObjectDeclaration(ctx, writeFS, obj.path, newInv.Type.Spec, oldSpec, logger); err != nil {
		return &CommitError{Err: err, Dirty: true}
	}
	if len(xfers) > 0 {
		logger.DebugContext(ctx, "copying new object files", "count", len(xfers))
		err := transferContent(ctx, &transferOpts{
			Source:   commit.Stage,
			DestFS:   writeFS,
			DestRoot: obj.path,
			Manifest: xfers,
		})
		if err != nil {
			err = fmt.Errorf("transferring new object contents: %w", err)
			return &CommitError{Err: err, Dirty: true}
		}
	}
	logger.DebugContext(ctx, "writing inventories for new object version")
	newVersionDir := path.Join(obj.path, newInv.Head.String())
	if err := writeInventory(ctx, writeFS, newInv, newVersionDir, obj.path); err != nil {
		err = fmt.Errorf("writing new inventories or inventory sidecars: %w", err)
		return &CommitError{Err: err, Dirty: true}
	}
	newBytes, newDigest, err := newInv.marshal()
	if err != nil {
		return &CommitError{Err: err, Dirty: true}
	}
	stored, err := newStoredInventory(newBytes)
	if err != nil {
		return &CommitError{Err: err, Dirty: true}
	}
	stored.digest = newDigest
	obj.inventory = stored
	obj.id = stored.ID
	return nil
}

// NewUpdatePlan returns an *UpdatePlan for adding the stage as the object's
// next version with the given message and user.
func (obj *Object) NewUpdatePlan(stage *Stage, msg string, user User, opts ...UpdateOption) (*UpdatePlan, error) {
	commit := &Commit{
		ID:      obj.id,
		Stage:   stage,
		Message: msg,
		User:    user,
	}
	updateOpts := updateOptions{}
	for _, o := range opts {
		o(&updateOpts)
	}
	commit.Created = updateOpts.created
	commit.Spec = updateOpts.spec
	commit.NewHEAD = updateOpts.newHEAD
	commit.AllowUnchanged = updateOpts.allowUnchanged
	commit.ContentPathFunc = updateOpts.contentPathFunc
	newInv, err := buildInventory(commit, obj.inventory)
	if err != nil {
		return nil, fmt.Errorf("building new inventory: %w", err)
	}
	plan, err := newUpdatePlan(newInv, obj.inventory)
	if err != nil {
		return nil, err
	}
	plan.setLogger(updateOpts.logger)
	plan.setGoLimit(updateOpts.goLimit)
	return plan, nil
}

// Update adds the stage as the object's next version, creating and applying
// an UpdatePlan in one step. If applying the plan fails, the completed steps
// are reverted. The new root inventory is returned.
func (obj *Object) Update(ctx context.Context, stage *Stage, msg string, user User, opts ...UpdateOption) (*StoredInventory, error) {
	plan, err := obj.NewUpdatePlan(stage, msg, user, opts...)
	if err != nil {
		return nil, err
	}
	if err := obj.ApplyUpdatePlan(ctx, plan, stage); err != nil {
		if revertErr := plan.Revert(ctx, obj.fs, obj.path, stage); revertErr != nil {
			err = errors.Join(err, fmt.Errorf("reverting failed update: %w", revertErr))
		}
		return nil, err
	}
	return obj.inventory, nil
}

// ApplyUpdatePlan runs all incomplete steps in the update plan, using src to
// access new content, and updates the object's inventory if the plan
// completes successfully.
func (obj *Object) ApplyUpdatePlan(ctx context.Context, plan *UpdatePlan, src ContentSource) error {
	newInv, err := plan.Apply(ctx, obj.fs, obj.path, src)
	if err != nil {
		return err
	}
	obj.inventory = newInv
	obj.id = newInv.ID
	return nil
}

// updateOptions are options used when building an object update.
type updateOptions struct {
	created         time.Time
	spec            Spec
	newHEAD         int
	allowUnchanged  bool
	contentPathFunc PathMutation
	logger          *slog.Logger
	goLimit         int
}

// UpdateOption is used to configure options for object updates.
type UpdateOption func(*updateOptions)

// UpdateWithCreated sets the timestamp for the new object version.
func UpdateWithCreated(c time.Time) UpdateOption {
	return func(o *updateOptions) { o.created = c }
}

// UpdateWithSpec sets the OCFL specification for the new object version.
func UpdateWithSpec(spec Spec) UpdateOption {
	return func(o *updateOptions) { o.spec = spec }
}

// UpdateWithNewHEAD sets the required version number for the update.
func UpdateWithNewHEAD(v int) UpdateOption {
	return func(o *updateOptions) { o.newHEAD = v }
}

// UpdateWithAllowUnchanged allows the new version to have the same state as
// the existing head version.
func UpdateWithAllowUnchanged() UpdateOption {
	return func(o *updateOptions) { o.allowUnchanged = true }
}

// UpdateWithContentPathFunc sets a function used to transform logical paths
// into content paths for new files.
func UpdateWithContentPathFunc(fn PathMutation) UpdateOption {
	return func(o *updateOptions) { o.contentPathFunc = fn }
}

// UpdateWithLogger sets a logger used while applying the update.
func UpdateWithLogger(logger *slog.Logger) UpdateOption {
	return func(o *updateOptions) { o.logger = logger }
}

// UpdateWithGoLimit sets the number of goroutines used for concurrent steps
// while applying the update.
func UpdateWithGoLimit(gos int) UpdateOption {
	return func(o *updateOptions) { o.goLimit = gos }
}

// OpenVersion returns an ObjectVersionFS for accessing the contents of the
// version with the given number (1 is the first version). If i is 0, the
// object's head version is used.
func (obj *Object) OpenVersion(ctx context.Context, i int) (*ObjectVersionFS, error) {
	if !obj.Exists() {
		return nil, ErrObjectNotExist
	}
	inv := obj.inventory
	ver := inv.Version(i)
	if ver == nil {
		return nil, fmt.Errorf("%w: v%d", ErrVersionNotExist, i)
	}
	if i < 1 {
		i = inv.Head.num
	}
	refs := make(map[string]string, ver.State.NumPaths())
	for logicalPath, dig := range ver.State.Paths() {
		realPaths := inv.Manifest[dig]
		if len(realPaths) < 1 {
			return nil, fmt.Errorf("inventory manifest has no content path for %q", logicalPath)
		}
		refs[logicalPath] = path.Join(obj.path, realPaths[0])
	}
	vfs := &ObjectVersionFS{
		FS:      logical.NewLogicalFS(ctx, obj.fs, refs, ver.Created),
		obj:     obj,
		num:     V(i, inv.Head.padding),
		version: ver,
	}
	return vfs, nil
}

// ObjectVersionFS is an io/fs.FS for accessing the logical contents of an
// object version.
type ObjectVersionFS struct {
	fs.FS
	obj     *Object
	num     VNum
	version *InventoryVersion
}

// Created returns the version's timestamp.
func (vfs *ObjectVersionFS) Created() time.Time { return vfs.version.Created }

// Message returns the version's message.
func (vfs *ObjectVersionFS) Message() string { return vfs.version.Message }

// Num returns the version's number.
func (vfs *ObjectVersionFS) Num() VNum { return vfs.num }

// State returns the version's state.
func (vfs *ObjectVersionFS) State() DigestMap { return vfs.version.State }

// User returns the version's user, which may be nil.
func (vfs *ObjectVersionFS) User() *User { return vfs.version.User }

// GetContent implements ContentSource for the version: content in the
// version's state can be accessed by digest.
func (vfs *ObjectVersionFS) GetContent(dig string) (FS, string) {
	if len(vfs.version.State[dig]) < 1 {
		return nil, ""
	}
	realPaths := vfs.obj.inventory.Manifest[dig]
	if len(realPaths) < 1 {
		return nil, ""
	}
	return vfs.obj.fs, path.Join(vfs.obj.path, realPaths[0])
}

// GetFixity implements FixitySource for the version.
func (vfs *ObjectVersionFS) GetFixity(dig string) digest.Set {
	return vfs.obj.inventory.GetFixity(dig)
}

// Rollback resets the object's head to the version with the given number:
// version directories after v are removed and the root inventory is replaced
// with the copy stored in v's version directory. Rollback fails if v's
// version directory doesn't include an inventory.json.
func (obj *Object) Rollback(ctx context.Context, v VNum) error {
	writeFS, ok := obj.fs.(WriteFS)
	if !ok {
		return errors.New("object's backing file system doesn't support write operations")
	}
	if !obj.Exists() {
		return ErrObjectNotExist
	}
	inv := obj.inventory
	if inv.Versions[v] == nil {
		return fmt.Errorf("%w: %s", ErrVersionNotExist, v)
	}
	if v.num >= inv.Head.num {
		return fmt.Errorf("rollback version (%s) is not before the object's current head (%s)", v, inv.Head)
	}
	verDir := path.Join(obj.path, v.String())
	verInv, err := ReadInventory(ctx, obj.fs, verDir)
	if err != nil {
		return fmt.Errorf("reading inventory for rollback target %s: %w", v, err)
	}
	if verInv.Head != v {
		return fmt.Errorf("inventory in %s has unexpected head: %s", v, verInv.Head)
	}
	// order matters here: the root inventory is replaced first so that a
	// crash mid-rollback leaves the object with a valid inventory. The
	// version directories being removed are not referenced by the new root
	// inventory.
	if _, err := writeFS.Write(ctx, path.Join(obj.path, inventoryBase), bytes.NewReader(verInv.bytes)); err != nil {
		return fmt.Errorf("replacing root inventory: %w", err)
	}
	if inv.DigestAlgorithm != verInv.DigestAlgorithm {
		// remove sidecar for the old algorithm
		oldSidecar := path.Join(obj.path, inventoryBase+"."+inv.DigestAlgorithm)
		if err := writeFS.Remove(ctx, oldSidecar); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := writeInventorySidecar(ctx, obj.fs, obj.path, verInv.digest, verInv.DigestAlgorithm); err != nil {
		return err
	}
	// remove version directories after v, descending
	toRemove := make(VNums, 0, inv.Head.num-v.num)
	for num := range inv.Versions {
		if num.num > v.num {
			toRemove = append(toRemove, num)
		}
	}
	sort.Sort(sort.Reverse(toRemove))
	for _, num := range toRemove {
		if err := writeFS.RemoveAll(ctx, path.Join(obj.path, num.String())); err != nil {
			return fmt.Errorf("removing version directory %s: %w", num, err)
		}
	}
	obj.inventory = verInv
	return nil
}

// versionDirs returns the names of version directories in the object root.
func (obj *Object) versionDirs(ctx context.Context) (VNums, error) {
	entries, err := ocflfs.ReadDir(ctx, obj.fs, obj.path)
	if err != nil {
		return nil, err
	}
	var vnums VNums
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var v VNum
		if err := ParseVNum(e.Name(), &v); err == nil {
			vnums = append(vnums, v)
		}
	}
	sort.Sort(vnums)
	return vnums, nil
}
