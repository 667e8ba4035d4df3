package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/logging"
)

// ValidateObject fully validates the OCFL object at dir in fsys and returns
// the results as an *ObjectValidation.
func ValidateObject(ctx context.Context, fsys FS, dir string, opts ...ObjectValidationOption) *ObjectValidation {
	v := newObjectValidation(fsys, dir, opts...)
	entries, err := ocflfs.ReadDir(ctx, fsys, dir)
	if err != nil {
		v.AddFatal(err)
		return v
	}
	state := ParseObjectDir(entries)
	impl, err := getOCFL(state.Spec)
	if err != nil {
		v.AddFatal(fmt.Errorf("object at %q: %w", dir, err))
		return v
	}
	if err := impl.ValidateObjectRoot(ctx, v, state); err != nil {
		return v
	}
	// validate each version directory, using the version directory's own
	// inventory (if present).
	sort.Sort(state.VersionDirs)
	var prevInv *StoredInventory
	for _, vnum := range state.VersionDirs {
		var verInv *StoredInventory
		verInvBytes, err := ocflfs.ReadAll(ctx, fsys, path.Join(dir, vnum.String(), inventoryBase))
		switch {
		case err == nil:
			var invValid *Validation
			verInv, invValid = impl.ValidateInventoryBytes(verInvBytes)
			v.PrefixAdd(vnum.String()+"/inventory.json", invValid)
		case !errors.Is(err, fs.ErrNotExist):
			v.AddFatal(err)
		}
		if err := impl.ValidateObjectVersion(ctx, v, vnum, verInv, prevInv); err != nil {
			return v
		}
		if verInv != nil {
			prevInv = verInv
		}
	}
	impl.ValidateObjectContent(ctx, v)
	return v
}

// logsDir is the name of the optional logs directory in an object root.
const logsDir = "logs"

// ObjectValidation accumulates validation results for an OCFL object, along
// with options and state used during validation.
type ObjectValidation struct {
	Validation

	fs          FS
	path        string
	obj         *Object // set during validation, if the root inventory is OK
	logger      *slog.Logger
	skipDigests bool
	concurrency int
	registry    digest.AlgorithmRegistry
	files       map[string]*validationFileInfo
}

// newObjectValidation constructs a new *ObjectValidation for validating the
// object at dir in fsys.
func newObjectValidation(fsys FS, dir string, opts ...ObjectValidationOption) *ObjectValidation {
	v := &ObjectValidation{
		fs:       fsys,
		path:     dir,
		logger:   logging.DisabledLogger(),
		registry: digest.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ObjectValidationOption is used to configure an ObjectValidation.
type ObjectValidationOption func(*ObjectValidation)

// ValidationSkipDigest skips digest (checksum) validation of object content.
func ValidationSkipDigest() ObjectValidationOption {
	return func(opts *ObjectValidation) {
		opts.skipDigests = true
	}
}

// ValidationLogger sets a logger used to log validation errors and warnings
// as they occur.
func ValidationLogger(logger *slog.Logger) ObjectValidationOption {
	return func(opts *ObjectValidation) {
		opts.logger = logger
	}
}

// ValidationDigestConcurrency sets the number of goroutines used for digest
// validation of object content.
func ValidationDigestConcurrency(num int) ObjectValidationOption {
	return func(opts *ObjectValidation) {
		opts.concurrency = num
	}
}

// ValidationAlgorithms sets the registry of digest algorithms used to
// validate fixity entries.
func ValidationAlgorithms(reg digest.AlgorithmRegistry) ObjectValidationOption {
	return func(opts *ObjectValidation) {
		opts.registry = reg
	}
}

// AddFatal adds fatal errors to the validation, logging them with the
// validation's logger.
func (v *ObjectValidation) AddFatal(errs ...error) {
	v.Validation.AddFatal(errs...)
	for _, err := range errs {
		v.logger.Error(err.Error())
	}
}

// AddWarn adds warning errors to the validation, logging them with the
// validation's logger.
func (v *ObjectValidation) AddWarn(errs ...error) {
	v.Validation.AddWarn(errs...)
	for _, err := range errs {
		v.logger.Warn(err.Error())
	}
}

// Add adds and logs all fatal errors and warnings from v2.
func (v *ObjectValidation) Add(v2 *Validation) {
	if v2 == nil {
		return
	}
	v.AddFatal(v2.Errors()...)
	v.AddWarn(v2.WarnErrors()...)
}

// PrefixAdd adds and logs all fatal errors and warnings from v2, prepending
// each error message with the prefix.
func (v *ObjectValidation) PrefixAdd(prefix string, v2 *Validation) {
	if v2 == nil {
		return
	}
	for _, err := range v2.Errors() {
		v.AddFatal(prefixErr(prefix, err))
	}
	for _, err := range v2.WarnErrors() {
		v.AddWarn(prefixErr(prefix, err))
	}
}

// FS returns the FS for the object being validated.
func (v *ObjectValidation) FS() FS { return v.fs }

// Path returns the path of the object being validated, relative to its FS.
func (v *ObjectValidation) Path() string { return v.path }

// Object returns the validated object, or nil if the object's root inventory
// failed validation.
func (v *ObjectValidation) Object() *Object { return v.obj }

// SkipDigests returns true if the validation is configured to skip digest
// (checksum) validation of object content.
func (v *ObjectValidation) SkipDigests() bool { return v.skipDigests }

// DigestConcurrency returns the configured number of goroutines used for
// digest validation.
func (v *ObjectValidation) DigestConcurrency() int {
	if v.concurrency > 0 {
		return v.concurrency
	}
	return runtime.NumCPU()
}

// ValidationAlgorithms returns the registry of digest algorithms used for
// validating fixity values.
func (v *ObjectValidation) ValidationAlgorithms() digest.AlgorithmRegistry {
	return v.registry
}

// AddInventoryDigests records the digests of all content paths in inv's
// manifest and fixity blocks as expected values for the object's content
// files. An error is returned if any recorded digest conflicts with a
// previously recorded value; the error is not added to the validation.
func (v *ObjectValidation) AddInventoryDigests(inv *StoredInventory) error {
	if v.files == nil {
		v.files = map[string]*validationFileInfo{}
	}
	var errs []error
	addDigest := func(name string, alg string, value string) {
		entry := v.files[name]
		if entry == nil {
			entry = &validationFileInfo{expected: digest.Set{}}
			v.files[name] = entry
		}
		if err := entry.expected.Add(digest.Set{alg: value}); err != nil {
			var digErr *digest.DigestError
			if errors.As(err, &digErr) {
				digErr.Path = name
			}
			errs = append(errs, err)
		}
	}
	for pth, dig := range inv.Manifest.Paths() {
		addDigest(pth, inv.DigestAlgorithm, dig)
	}
	for alg, fixity := range inv.Fixity {
		for pth, dig := range fixity.Paths() {
			addDigest(pth, alg, dig)
		}
	}
	return errors.Join(errs...)
}

// AddExistingContent marks the content path (relative to the object root) as
// existing on storage.
func (v *ObjectValidation) AddExistingContent(name string) {
	if v.files == nil {
		v.files = map[string]*validationFileInfo{}
	}
	if v.files[name] == nil {
		v.files[name] = &validationFileInfo{}
	}
	v.files[name].exists = true
}

// MissingContent yields content paths referenced in inventories that were not
// marked as existing on storage.
func (v *ObjectValidation) MissingContent() iter.Seq[string] {
	return func(yield func(string) bool) {
		for name, entry := range v.files {
			if !entry.exists && len(entry.expected) > 0 {
				if !yield(name) {
					return
				}
			}
		}
	}
}

// UnexpectedContent yields content paths found on storage that are not
// referenced in any inventory manifest.
func (v *ObjectValidation) UnexpectedContent() iter.Seq[string] {
	return func(yield func(string) bool) {
		for name, entry := range v.files {
			if entry.exists && len(entry.expected) == 0 {
				if !yield(name) {
					return
				}
			}
		}
	}
}

// ExistingContentDigests yields a *FileDigests for each content file that
// exists on storage with digest values recorded from inventories.
func (v *ObjectValidation) ExistingContentDigests(fsys FS, objPath string, alg digest.Algorithm) FileDigestsSeq {
	return func(yield func(*FileDigests) bool) {
		for name, entry := range v.files {
			if !entry.exists || len(entry.expected) == 0 {
				continue
			}
			fd := &FileDigests{
				FileRef: FileRef{
					FS:      fsys,
					BaseDir: objPath,
					Path:    name,
				},
				Algorithm: alg,
				Digests:   entry.expected,
			}
			if !yield(fd) {
				return
			}
		}
	}
}

type validationFileInfo struct {
	expected digest.Set
	exists   bool
}

func prefixErr(prefix string, err error) error {
	return &prefixedError{prefix: prefix, err: err}
}

type prefixedError struct {
	prefix string
	err    error
}

func (e *prefixedError) Error() string {
	return e.prefix + ": " + e.err.Error()
}

func (e *prefixedError) Unwrap() error { return e.err }

// ObjectState provides details of an OCFL object root based on the names of
// files and directories in the object's root directory.
type ObjectState struct {
	Spec        Spec     // the OCFL spec from the object's NAMASTE declaration file
	VersionDirs VNums    // version directories found in the object directory
	SidecarAlg  string   // digest algorithm from the inventory sidecar file
	Invalid     []string // filenames that aren't valid object root entries
	HasInventory bool    // object directory has an inventory.json file
	HasSidecar   bool    // object directory has an inventory sidecar file
	HasNamaste   bool    // object directory has an object NAMASTE declaration
	HasLogs       bool   // object directory has a logs directory
	HasExtensions bool   // object directory has an extensions directory
}

// ParseObjectDir returns an ObjectState based on dir entries from an object's
// root directory.
func ParseObjectDir(entries []fs.DirEntry) *ObjectState {
	state := &ObjectState{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			var v VNum
			switch {
			case name == logsDir:
				state.HasLogs = true
			case name == extensionsDir:
				state.HasExtensions = true
			case ParseVNum(name, &v) == nil:
				state.VersionDirs = append(state.VersionDirs, v)
			default:
				state.Invalid = append(state.Invalid, name)
			}
		case okFileType(e.Type()):
			switch {
			case name == inventoryBase:
				state.HasInventory = true
			case strings.HasPrefix(name, inventoryBase+"."):
				if state.HasSidecar {
					// duplicate sidecar-like file
					state.Invalid = append(state.Invalid, name)
					break
				}
				state.SidecarAlg = strings.TrimPrefix(name, inventoryBase+".")
				state.HasSidecar = true
			default:
				decl, err := ParseNamaste(name)
				if err == nil && decl.IsObject() {
					state.Spec = decl.Version
					state.HasNamaste = true
					break
				}
				state.Invalid = append(state.Invalid, name)
			}
		default:
			// entries with invalid file types are irregular
			state.Invalid = append(state.Invalid, name)
		}
	}
	return state
}

// Empty returns true if the object root directory includes no entries.
func (state ObjectState) Empty() bool {
	return !state.HasNamaste && !state.HasInventory && !state.HasSidecar &&
		!state.HasLogs && !state.HasExtensions &&
		len(state.VersionDirs) == 0 && len(state.Invalid) == 0
}
