package ocfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path"

	"github.com/ocflkit/ocfl-go/extension"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/internal/pipeline"
)

const (
	layoutConfigFile    = "ocfl_layout.json"
	extensionConfigFile = "config.json"
)

// ErrLayoutUndefined is returned when an operation requires the storage
// root's layout and none is configured.
var ErrLayoutUndefined = errors.New("storage root's layout is undefined")

// rootLayout models the contents of a storage root's ocfl_layout.json.
type rootLayout struct {
	Extension   string `json:"extension"`
	Description string `json:"description"`
}

// Root is an OCFL storage root: a directory (or key prefix) holding a
// NAMASTE declaration, an optional layout configuration, and object roots.
type Root struct {
	fs     ocflfs.FS
	dir    string           // root directory relative to fs
	spec   Spec             // from the root's NAMASTE declaration
	layout extension.Layout // resolves object ids to paths; may be nil
	config rootLayout       // decoded ocfl_layout.json, zero if absent

	// initArgs are settings for initializing a new root, set with the
	// InitRoot option.
	initArgs *initRootArgs
}

type initRootArgs struct {
	spec       Spec
	layoutDesc string
	extensions []extension.Extension
}

// RootOption is used to configure the behavior of [NewRoot]().
type RootOption func(*Root)

// InitRoot returns a RootOption that initializes a new storage root as part
// of the call to NewRoot, if the root directory is empty or missing. The
// first layout extension in extensions becomes the root's layout.
func InitRoot(spec Spec, layoutDesc string, extensions ...extension.Extension) RootOption {
	return func(root *Root) {
		root.initArgs = &initRootArgs{
			spec:       spec,
			layoutDesc: layoutDesc,
			extensions: extensions,
		}
	}
}

// NewRoot returns a *Root for the OCFL storage root at dir in fsys. With the
// [InitRoot] option, a new storage root is initialized if dir is missing or
// empty (fsys must be a WriteFS).
func NewRoot(ctx context.Context, fsys ocflfs.FS, dir string, opts ...RootOption) (*Root, error) {
	r := &Root{fs: fsys, dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	entries, err := ocflfs.ReadDir(ctx, fsys, dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if len(entries) == 0 && r.initArgs != nil {
		if err := r.init(ctx); err != nil {
			return nil, fmt.Errorf("initializing new storage root: %w", err)
		}
		return r, nil
	}
	// open an existing root: check its declaration, then load the layout.
	decl, err := FindNamaste(entries)
	if err == nil && !decl.IsRoot() {
		err = fmt.Errorf("NAMASTE declaration has wrong type: %q", decl.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("not an OCFL storage root: %w", err)
	}
	if _, err := getOCFL(decl.Version); err != nil {
		return nil, fmt.Errorf("OCFL v%s: %w", decl.Version, err)
	}
	r.spec = decl.Version
	if err := r.loadLayout(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// init writes a new storage root: NAMASTE declaration, specification text
// file, layout config, and extension configs.
func (r *Root) init(ctx context.Context) error {
	args := r.initArgs
	if args.spec.Empty() {
		return errors.New("missing OCFL spec version")
	}
	if _, err := getOCFL(args.spec); err != nil {
		return fmt.Errorf("OCFL v%s: %w", args.spec, err)
	}
	writeFS, ok := r.fs.(ocflfs.WriteFS)
	if !ok {
		return errors.New("storage root backend is not writable")
	}
	decl := Namaste{Type: NamasteTypeRoot, Version: args.spec}
	if err := WriteDeclaration(ctx, writeFS, r.dir, decl); err != nil {
		return err
	}
	if _, err := WriteSpecFile(ctx, writeFS, r.dir, args.spec); err != nil {
		return err
	}
	r.spec = args.spec
	for _, ext := range args.extensions {
		if layout, isLayout := ext.(extension.Layout); isLayout && r.layout == nil {
			if err := r.setLayout(ctx, layout, args.layoutDesc); err != nil {
				return err
			}
			continue
		}
		if err := writeExtensionConfig(ctx, writeFS, r.dir, ext); err != nil {
			return err
		}
	}
	return nil
}

// FS returns the Root's FS.
func (r *Root) FS() ocflfs.FS { return r.fs }

// Path returns the root's directory relative to its FS.
func (r *Root) Path() string { return r.dir }

// Spec returns the OCFL spec number from the root's NAMASTE declaration.
func (r *Root) Spec() Spec { return r.spec }

// Description returns the description string from the root's
// ocfl_layout.json, which may be empty.
func (r *Root) Description() string { return r.config.Description }

// Layout returns the root's layout extension, which may be nil.
func (r *Root) Layout() extension.Layout { return r.layout }

// LayoutName returns the name of the root's layout extension, or "" if the
// root has no layout.
func (r *Root) LayoutName() string {
	if r.layout == nil {
		return ""
	}
	return r.layout.Name()
}

// ResolveID resolves an object id to a path relative to the root using the
// root's layout. Without a layout, the error is ErrLayoutUndefined.
func (r *Root) ResolveID(id string) (string, error) {
	if r.layout == nil {
		return "", ErrLayoutUndefined
	}
	objPath, err := r.layout.Resolve(id)
	if err != nil {
		return "", fmt.Errorf("object id: %q: %w", id, err)
	}
	if !fs.ValidPath(objPath) {
		return "", fmt.Errorf("layout resolved id to an invalid path: %s", objPath)
	}
	return objPath, nil
}

// NewObject returns an *Object for the object with the given id in the root,
// resolving its path with the root's layout. If the object does not exist,
// the returned *Object can be used to create it.
func (r *Root) NewObject(ctx context.Context, id string, opts ...ObjectOption) (*Object, error) {
	objPath, err := r.ResolveID(id)
	if err != nil {
		return nil, err
	}
	opts = append(opts, ObjectWithID(id))
	return r.NewObjectDir(ctx, objPath, opts...)
}

// NewObjectDir returns an *Object for the object at path dir, relative to
// the root.
func (r *Root) NewObjectDir(ctx context.Context, dir string, opts ...ObjectOption) (*Object, error) {
	opts = append(opts, objectWithRoot(r))
	return NewObject(ctx, r.fs, path.Join(r.dir, dir), opts...)
}

// ObjectDeclarations yields a *FileRef for every OCFL object declaration
// file under the root, in arbitrary order.
func (r *Root) ObjectDeclarations(ctx context.Context) iter.Seq2[*ocflfs.FileRef, error] {
	return func(yield func(*ocflfs.FileRef, error) bool) {
		for ref, err := range ocflfs.WalkFiles(ctx, r.fs, r.dir) {
			if err != nil {
				yield(nil, err)
				return
			}
			if decl, err := ParseNamaste(path.Base(ref.Path)); err == nil && decl.IsObject() {
				if !yield(ref, nil) {
					return
				}
			}
		}
	}
}

// Objects yields every object in the root (or an error for each object that
// can't be opened), in arbitrary order.
func (r *Root) Objects(ctx context.Context, opts ...ObjectOption) iter.Seq2[*Object, error] {
	return r.ObjectsBatch(ctx, 0, opts...)
}

// ObjectsBatch is like Objects, except objects are opened concurrently in
// numgos goroutines.
func (r *Root) ObjectsBatch(ctx context.Context, numgos int, opts ...ObjectOption) iter.Seq2[*Object, error] {
	opts = append(opts, ObjectMustExist(), objectWithRoot(r))
	openObject := func(ref *ocflfs.FileRef) (*Object, error) {
		return NewObject(ctx, ref.FS, ref.FullPathDir(), opts...)
	}
	return func(yield func(*Object, error) bool) {
		decls, errFn := ocflfs.UntilErr(r.ObjectDeclarations(ctx))
		for result := range pipeline.Results(decls, openObject, numgos) {
			if !yield(result.Out, result.Err) {
				return
			}
		}
		if err := errFn(); err != nil {
			yield(nil, err)
		}
	}
}

// ValidateObject validates the object with the given id. If the id can't be
// resolved, the error is reported as a fatal error in the returned
// *ObjectValidation.
func (r *Root) ValidateObject(ctx context.Context, id string, opts ...ObjectValidationOption) *ObjectValidation {
	objPath, err := r.ResolveID(id)
	if err != nil {
		v := newObjectValidation(r.fs, path.Join(r.dir, objPath), opts...)
		v.AddFatal(err)
		return v
	}
	return r.ValidateObjectDir(ctx, objPath, opts...)
}

// ValidateObjectDir validates the object at a path relative to the root.
func (r *Root) ValidateObjectDir(ctx context.Context, dir string, opts ...ObjectValidationOption) *ObjectValidation {
	return ValidateObject(ctx, r.fs, path.Join(r.dir, dir), opts...)
}

// loadLayout reads the root's ocfl_layout.json (if any) and instantiates the
// named layout extension from its config file. A missing extension config is
// allowed: the extension's defaults are used.
func (r *Root) loadLayout(ctx context.Context) error {
	r.layout = nil
	r.config = rootLayout{}
	byts, err := ocflfs.ReadAll(ctx, r.fs, path.Join(r.dir, layoutConfigFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // roots without a layout are OK
		}
		return err
	}
	if err := json.Unmarshal(byts, &r.config); err != nil {
		return fmt.Errorf("decoding %s: %w", layoutConfigFile, err)
	}
	if r.config.Extension == "" {
		return nil
	}
	ext, err := readExtensionConfig(ctx, r.fs, r.dir, r.config.Extension)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// no config file: use the extension's default values
		if ext, err = extension.Get(r.config.Extension); err != nil {
			return err
		}
	}
	layout, isLayout := ext.(extension.Layout)
	if !isLayout {
		return fmt.Errorf("extension: %q: %w", r.config.Extension, extension.ErrNotLayout)
	}
	r.layout = layout
	return nil
}

// setLayout writes ocfl_layout.json and the layout's extension config,
// making layout the root's layout.
func (r *Root) setLayout(ctx context.Context, layout extension.Layout, desc string) error {
	writeFS, ok := r.fs.(ocflfs.WriteFS)
	if !ok {
		return errors.New("storage root backend is not writable")
	}
	newConfig := rootLayout{
		Extension:   layout.Name(),
		Description: desc,
	}
	byts, err := json.Marshal(newConfig)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", layoutConfigFile, err)
	}
	if _, err := writeFS.Write(ctx, path.Join(r.dir, layoutConfigFile), bytes.NewReader(byts)); err != nil {
		return fmt.Errorf("writing %s: %w", layoutConfigFile, err)
	}
	if err := writeExtensionConfig(ctx, writeFS, r.dir, layout); err != nil {
		return fmt.Errorf("setting root layout extension: %w", err)
	}
	r.config = newConfig
	r.layout = layout
	return nil
}

// readExtensionConfig loads and unmarshals the named extension's config file
// from the root's extensions directory.
func readExtensionConfig(ctx context.Context, fsys ocflfs.FS, root string, name string) (extension.Extension, error) {
	confPath := path.Join(root, extensionsDir, name, extensionConfigFile)
	byts, err := ocflfs.ReadAll(ctx, fsys, confPath)
	if err != nil {
		return nil, fmt.Errorf("reading config for extension %s: %w", name, err)
	}
	return extension.DefaultRegistry().Unmarshal(byts)
}

// writeExtensionConfig writes the extension's config file to the root's
// extensions directory.
func writeExtensionConfig(ctx context.Context, fsys ocflfs.WriteFS, root string, config extension.Extension) error {
	confPath := path.Join(root, extensionsDir, config.Name(), extensionConfigFile)
	byts, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding config for extension %s: %w", config.Name(), err)
	}
	if _, err := fsys.Write(ctx, confPath, bytes.NewReader(byts)); err != nil {
		return fmt.Errorf("writing config for extension %s: %w", config.Name(), err)
	}
	return nil
}
