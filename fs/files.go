package fs

import (
	"context"
	"io/fs"
	"iter"
	"path"
)

// FileRef locates a file on an FS: the FS itself, a base directory, and the
// file's path below it. Info may hold file metadata from a previous Stat.
type FileRef struct {
	FS      FS
	BaseDir string      // directory relative to the FS root
	Path    string      // file path relative to BaseDir
	Info    fs.FileInfo // may be nil
}

// FullPath returns the file's path relative to its FS.
func (ref FileRef) FullPath() string {
	return path.Join(ref.BaseDir, ref.Path)
}

// FullPathDir returns the path of the directory holding the file, relative
// to its FS.
func (ref FileRef) FullPathDir() string {
	return path.Dir(ref.FullPath())
}

// Open opens the referenced file for reading.
func (ref *FileRef) Open(ctx context.Context) (fs.File, error) {
	return ref.FS.OpenFile(ctx, ref.FullPath())
}

// Stat updates ref.Info with current file metadata.
func (ref *FileRef) Stat(ctx context.Context) error {
	info, err := StatFile(ctx, ref.FS, ref.FullPath())
	ref.Info = info
	return err
}

// Files returns an iterator of *FileRefs for the named files in fsys. Names
// are cleaned but not otherwise checked; missing files are not detected
// until a ref is opened.
func Files(fsys FS, names ...string) iter.Seq[*FileRef] {
	return func(yield func(*FileRef) bool) {
		for _, name := range names {
			ref := &FileRef{
				FS:      fsys,
				BaseDir: ".",
				Path:    path.Clean(name),
			}
			if !yield(ref) {
				return
			}
		}
	}
}

// UntilErr splits a (value, error) iterator: the returned iterator yields
// values up to (not including) the first error, and errFn reports that error
// after iteration completes.
func UntilErr[T any](seq iter.Seq2[T, error]) (iter.Seq[T], func() error) {
	var firstErr error
	values := func(yield func(T) bool) {
		for v, err := range seq {
			if err != nil {
				firstErr = err
				return
			}
			if !yield(v) {
				return
			}
		}
	}
	return values, func() error { return firstErr }
}
