package ocfl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"golang.org/x/sync/errgroup"
)

// Commit describes a new object version: the stage holding the version's
// state and content, the version metadata, and options controlling how the
// version is built.
type Commit struct {
	ID      string // required for new objects in storage roots without a layout.
	Stage   *Stage // required
	Message string // required
	User    User   // required

	// advanced options
	Created         time.Time // time.Now is used, if not set
	Spec            Spec      // OCFL specification version for the new object version
	NewHEAD         int       // enforces new object version number
	AllowUnchanged  bool
	ContentPathFunc func(oldPaths []string) (newPaths []string)

	Logger *slog.Logger
}

// CommitError wraps an error from a commit.
type CommitError struct {
	Err error // The wrapped error

	// Dirty indicates the object may be incomplete or invalid as a result of
	// the error.
	Dirty bool
}

func (c CommitError) Error() string { return c.Err.Error() }

func (c CommitError) Unwrap() error { return c.Err }

// updateObjectDeclaration writes the NAMASTE declaration for newSpec in the
// object directory, removing the declaration for oldSpec if it differs. It
// is a no-op when the two specs match.
func updateObjectDeclaration(ctx context.Context, fsys WriteFS, objDir string, newSpec, oldSpec Spec, logger *slog.Logger) error {
	if newSpec == oldSpec {
		return nil
	}
	if !oldSpec.Empty() {
		oldDecl := Namaste{Type: NamasteTypeObject, Version: oldSpec}
		logger.DebugContext(ctx, "deleting previous OCFL object declaration", "name", oldDecl)
		if err := fsys.Remove(ctx, path.Join(objDir, oldDecl.Name())); err != nil {
			return err
		}
	}
	newDecl := Namaste{Type: NamasteTypeObject, Version: newSpec}
	logger.DebugContext(ctx, "writing new OCFL object declaration", "name", newDecl)
	return WriteDeclaration(ctx, fsys, objDir, newDecl)
}

// newVersionContent returns the subset of the inventory manifest with
// content paths in the head version's directory: the files a commit must
// transfer into the object.
func newVersionContent(inv *Inventory) (DigestMap, error) {
	versionPrefix := inv.Head.String() + "/"
	pm := PathMap{}
	for pth, dig := range inv.Manifest.Paths() {
		if !strings.HasPrefix(pth, versionPrefix) {
			continue
		}
		if _, exists := pm[pth]; exists {
			return nil, fmt.Errorf("path duplicate in manifest: %q", pth)
		}
		pm[pth] = dig
	}
	dm := pm.DigestMap()
	if err := dm.Valid(); err != nil {
		return nil, err
	}
	return dm, nil
}

// transferOpts configures transferContent.
type transferOpts struct {
	Source      ContentSource // where file contents come from, looked up by digest
	DestFS      ocflfs.FS
	DestRoot    string    // object root directory in DestFS
	Manifest    DigestMap // content paths (relative to DestRoot) to write
	Concurrency int
}

// transferContent copies every file named in the manifest from the content
// source into the destination, using a bounded number of goroutines.
func transferContent(ctx context.Context, opts *transferOpts) error {
	if opts.Source == nil {
		return errors.New("missing content source")
	}
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(max(opts.Concurrency, 1))
	for dig, dstPaths := range opts.Manifest {
		srcFS, srcPath := opts.Source.GetContent(dig)
		if srcFS == nil {
			return fmt.Errorf("content source doesn't provide %q", dig)
		}
		for _, dstPath := range dstPaths {
			fullDst := path.Join(opts.DestRoot, dstPath)
			grp.Go(func() error {
				_, err := ocflfs.Copy(ctx, opts.DestFS, fullDst, srcFS, srcPath)
				return err
			})
		}
	}
	return grp.Wait()
}
