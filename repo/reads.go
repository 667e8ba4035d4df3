package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path"
	"runtime"
	"sort"
	"time"

	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/fs/local"
	"github.com/ocflkit/ocfl-go/internal/xfer"
)

// ObjectDetails describes an object's id, head, and versions.
type ObjectDetails struct {
	ID              string
	Head            ocfl.VNum
	Spec            ocfl.Spec
	DigestAlgorithm string
	Versions        []VersionDetails
}

// VersionDetails describes a single object version.
type VersionDetails struct {
	Num     ocfl.VNum
	Created time.Time
	Message string
	User    *ocfl.User
	Files   []FileDetails
}

// FileDetails describes a file in a version's logical state.
type FileDetails struct {
	LogicalPath  string
	Digest       string
	ContentPaths []string
	Fixity       digest.Set
}

// ContainsObject returns true if an object with the given id exists in the
// repository.
func (r *Repository) ContainsObject(ctx context.Context, objectID string) (bool, error) {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return false, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return obj.Exists(), nil
}

// DescribeObject returns details for the object with the given id.
func (r *Repository) DescribeObject(ctx context.Context, objectID string) (*ObjectDetails, error) {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return nil, err
	}
	inv := obj.Inventory()
	objDetails := &ObjectDetails{
		ID:              inv.ID,
		Head:            inv.Head,
		Spec:            inv.Type.Spec,
		DigestAlgorithm: inv.DigestAlgorithm,
	}
	for _, vnum := range inv.VNums() {
		objDetails.Versions = append(objDetails.Versions, versionDetails(inv, vnum))
	}
	return objDetails, nil
}

// DescribeVersion returns details for a single object version. If v is 0,
// the object's head version is described.
func (r *Repository) DescribeVersion(ctx context.Context, objectID string, v int) (*VersionDetails, error) {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return nil, err
	}
	inv := obj.Inventory()
	if v < 1 {
		v = inv.Head.Num()
	}
	vnum := ocfl.V(v, inv.Head.Padding())
	if inv.Versions[vnum] == nil {
		return nil, ocfl.ErrVersionNotExist
	}
	details := versionDetails(inv, vnum)
	return &details, nil
}

func versionDetails(inv *ocfl.StoredInventory, vnum ocfl.VNum) VersionDetails {
	ver := inv.Versions[vnum]
	details := VersionDetails{
		Num:     vnum,
		Created: ver.Created,
		Message: ver.Message,
		User:    ver.User,
	}
	for logicalPath, dig := range ver.State.Paths() {
		details.Files = append(details.Files, FileDetails{
			LogicalPath:  logicalPath,
			Digest:       dig,
			ContentPaths: inv.Manifest[dig],
			Fixity:       inv.GetFixity(dig),
		})
	}
	sort.Slice(details.Files, func(i, j int) bool {
		return details.Files[i].LogicalPath < details.Files[j].LogicalPath
	})
	return details
}

// GetObjectView returns a lazy-loading, read-only file system for the
// contents of an object version. If v is 0, the object's head version is
// used.
func (r *Repository) GetObjectView(ctx context.Context, objectID string, v int) (*ocfl.ObjectVersionFS, error) {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return nil, err
	}
	return obj.OpenVersion(ctx, v)
}

// GetObject materializes the logical contents of an object version into the
// local directory outDir. If v is 0, the object's head version is used.
func (r *Repository) GetObject(ctx context.Context, objectID string, v int, outDir string) error {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return err
	}
	dstFS, err := local.NewFS(outDir)
	if err != nil {
		return err
	}
	return copyVersionState(ctx, obj, v, dstFS, ".", r)
}

// copyVersionState copies a version's logical files into dstDir in dstFS.
func copyVersionState(ctx context.Context, obj *ocfl.Object, v int, dstFS ocflfs.WriteFS, dstDir string, r *Repository) error {
	vfs, err := obj.OpenVersion(ctx, v)
	if err != nil {
		return err
	}
	inv := obj.Inventory()
	files := map[string]string{} // dst -> src, relative to obj's FS
	for logicalPath, dig := range vfs.State().Paths() {
		realPaths := inv.Manifest[dig]
		if len(realPaths) < 1 {
			return errors.New("inventory manifest has no content path for digest " + dig)
		}
		files[path.Join(dstDir, logicalPath)] = path.Join(obj.Path(), realPaths[0])
	}
	return xfer.Copy(ctx, obj.FS(), dstFS, files, runtime.NumCPU(), r.logger)
}

// FileChangeKind describes how a logical path changed in a version.
type FileChangeKind string

const (
	// FileChangeUpdate indicates the path was added or its content changed.
	FileChangeUpdate FileChangeKind = "update"
	// FileChangeRemove indicates the path was removed.
	FileChangeRemove FileChangeKind = "remove"
)

// FileChange describes a change to a logical path in one object version.
type FileChange struct {
	Version   ocfl.VNum
	Kind      FileChangeKind
	Timestamp time.Time
	User      *ocfl.User
	Digest    string // digest after the change; empty for removals
}

// FileChangeHistory returns the ordered list of changes to the logical path
// across the object's versions. A version records a change for the path only
// when the path is added, its content digest changes, or the path is
// removed.
func (r *Repository) FileChangeHistory(ctx context.Context, objectID string, logicalPath string) ([]FileChange, error) {
	unlock, err := r.locks.ReadLock(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	obj, err := r.openObject(ctx, objectID, true)
	if err != nil {
		return nil, err
	}
	inv := obj.Inventory()
	var changes []FileChange
	prevDigest := ""
	for _, vnum := range inv.VNums() {
		ver := inv.Versions[vnum]
		dig := ver.State.DigestFor(logicalPath)
		switch {
		case dig != "" && dig != prevDigest:
			changes = append(changes, FileChange{
				Version:   vnum,
				Kind:      FileChangeUpdate,
				Timestamp: ver.Created,
				User:      ver.User,
				Digest:    dig,
			})
		case dig == "" && prevDigest != "":
			changes = append(changes, FileChange{
				Version:   vnum,
				Kind:      FileChangeRemove,
				Timestamp: ver.Created,
				User:      ver.User,
			})
		}
		prevDigest = dig
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("logical path %q not found in any version of %q: %w", logicalPath, objectID, fs.ErrNotExist)
	}
	return changes, nil
}

// ListObjectIDs returns an iterator over the ids of all objects in the
// repository. The sequence is finite and single-pass; ids are yielded in
// arbitrary order.
func (r *Repository) ListObjectIDs(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for obj, err := range r.root.Objects(ctx) {
			if err != nil {
				if !yield("", err) {
					return
				}
				continue
			}
			if !yield(obj.ID(), nil) {
				return
			}
		}
	}
}

// ValidateObject validates the object with the given id. Content digests are
// recomputed and checked against the inventory manifest only when
// contentFixityCheck is true.
func (r *Repository) ValidateObject(ctx context.Context, objectID string, contentFixityCheck bool) *ocfl.ObjectValidation {
	opts := []ocfl.ObjectValidationOption{ocfl.ValidationLogger(r.logger)}
	if !contentFixityCheck {
		opts = append(opts, ocfl.ValidationSkipDigest())
	}
	return r.root.ValidateObject(ctx, objectID, opts...)
}
