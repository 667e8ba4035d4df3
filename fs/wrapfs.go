package fs

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"reflect"
)

// NewFS wraps an [io/fs.FS] as an [FS]
func NewFS(fsys fs.FS) *WrapFS { return &WrapFS{FS: fsys} }

// NewWrapFS is an alias for [NewFS].
func NewWrapFS(fsys fs.FS) *WrapFS { return NewFS(fsys) }

// DirFS is shorthand for NewFS(os.DirFS(dir))
func DirFS(dir string) *WrapFS { return NewFS(os.DirFS(dir)) }

// WrapFS wraps an [io/fs.FS] an implements [DirEntriesFS].
type WrapFS struct {
	fs.FS
}

// Eq returns true if other is a *WrapFS wrapping the same [io/fs.FS] value.
func (fsys *WrapFS) Eq(other FS) bool {
	otherWrap, ok := other.(*WrapFS)
	if !ok {
		return false
	}
	a, b := reflect.ValueOf(fsys.FS), reflect.ValueOf(otherWrap.FS)
	if a.Type() != b.Type() || !a.Comparable() {
		return false
	}
	return a.Equal(b)
}

// OpenFile implementes FS for WrapFS
func (fsys *WrapFS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{
			Op:   "openfile",
			Path: name,
			Err:  err,
		}
	}
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{
			Op:   "openfile",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	f, err := fsys.Open(name)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// replace system path with name
			pathErr.Path = name
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: ErrNotFile}
	}
	return f, nil
}

// DirEntries implements DirEntriesFS for WrapFS.
func (fsys *WrapFS) DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		if !fs.ValidPath(name) {
			yield(nil, &fs.PathError{
				Op:   "readdir",
				Path: name,
				Err:  fs.ErrInvalid,
			})
			return
		}
		entries, err := fs.ReadDir(fsys.FS, name)
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				yield(nil, &fs.PathError{
					Op:   "readdir",
					Path: name,
					Err:  err,
				})
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}
