package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"path"
	"runtime"
	"strings"

	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

// FileRef is an alias for [ocflfs.FileRef].
type FileRef = ocflfs.FileRef

// FileSeq is an iterator of *[FileRef] values.
type FileSeq iter.Seq[*FileRef]

// FileErrSeq is an iterator of *[FileRef] values or errors from accessing
// them.
type FileErrSeq iter.Seq2[*FileRef, error]

// Files returns a FileSeq for the named files in fsys.
func Files(fsys FS, names ...string) FileSeq {
	return FilesSub(fsys, ".", names...)
}

// FilesSub returns a FileSeq for the named files below the directory dir in
// fsys.
func FilesSub(fsys FS, dir string, names ...string) FileSeq {
	return func(yield func(*FileRef) bool) {
		for _, name := range names {
			ref := &FileRef{
				FS:      fsys,
				BaseDir: path.Clean(dir),
				Path:    path.Clean(name),
			}
			if !yield(ref) {
				return
			}
		}
	}
}

// FileWalker is an FS with its own WalkFiles implementation.
type FileWalker interface {
	FS
	// WalkFiles returns an iterator that yields all files in dir and its
	// subdirectories.
	WalkFiles(ctx context.Context, dir string) (FileSeq, func() error)
}

// WalkFiles returns a FileSeq over the files in dir and its subdirectories.
// Iteration stops on files with types that can't appear in an OCFL object
// (symlinks, devices, etc.); the terminating error, if any, is returned by
// errFn after iteration.
func WalkFiles(ctx context.Context, fsys FS, dir string) (FileSeq, func() error) {
	if walkFS, ok := fsys.(FileWalker); ok {
		return walkFS.WalkFiles(ctx, dir)
	}
	var walkErr error
	if !fs.ValidPath(dir) {
		walkErr = &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrInvalid}
		return func(func(*FileRef) bool) {}, func() error { return walkErr }
	}
	files := func(yield func(*FileRef) bool) {
		for ref, err := range ocflfs.WalkFiles(ctx, fsys, dir) {
			if err != nil {
				walkErr = err
				return
			}
			if ref.Info != nil && !okFileType(ref.Info.Mode()) {
				walkErr = &fs.PathError{Op: "readdir", Path: ref.Path, Err: ErrFileType}
				return
			}
			if !yield(ref) {
				return
			}
		}
	}
	return files, func() error { return walkErr }
}

// okFileType returns true for modes a file in an OCFL object may have.
func okFileType(mode fs.FileMode) bool {
	return mode.IsDir() || mode.IsRegular() || mode.Type() == fs.ModeIrregular
}

// Filter returns a FileSeq yielding the values in files that satisfy keep.
func (files FileSeq) Filter(keep func(*FileRef) bool) FileSeq {
	return func(yield func(*FileRef) bool) {
		for ref := range files {
			if !keep(ref) {
				continue
			}
			if !yield(ref) {
				return
			}
		}
	}
}

// IgnoreHidden returns a FileSeq without hidden files (files with a path
// element starting with '.'). Only a FileRef's Path is considered, not its
// BaseDir.
func (files FileSeq) IgnoreHidden() FileSeq {
	return files.Filter(func(ref *FileRef) bool {
		for _, elem := range strings.Split(ref.Path, "/") {
			if strings.HasPrefix(elem, ".") {
				return false
			}
		}
		return true
	})
}

// Stat yields a stat-ed copy of each FileRef in files, paired with any error
// from the stat call. The input refs are not modified.
func (files FileSeq) Stat(ctx context.Context) FileErrSeq {
	return func(yield func(*FileRef, error) bool) {
		for ref := range files {
			statted := *ref
			err := statted.Stat(ctx)
			if !yield(&statted, err) {
				return
			}
		}
	}
}

// UntilErr splits a FileErrSeq into a FileSeq that stops at the first error
// and a function reporting that error.
func (fileErrs FileErrSeq) UntilErr() (FileSeq, func() error) {
	files, errFn := ocflfs.UntilErr(iter.Seq2[*FileRef, error](fileErrs))
	return FileSeq(files), errFn
}

// Digest computes digests for each file in files using [runtime.NumCPU]
// goroutines. See DigestBatch.
func (files FileSeq) Digest(ctx context.Context, alg digest.Algorithm, fixityAlgs ...digest.Algorithm) FileDigestsErrSeq {
	return files.DigestBatch(ctx, runtime.NumCPU(), alg, fixityAlgs...)
}

// DigestBatch concurrently digests each file in files with the primary
// algorithm alg and any fixityAlgs, using numgos goroutines. It yields a
// *FileDigests per file, or an error if the file couldn't be read.
func (files FileSeq) DigestBatch(ctx context.Context, numgos int, alg digest.Algorithm, fixityAlgs ...digest.Algorithm) FileDigestsErrSeq {
	results := digest.DigestFilesBatch(ctx, iter.Seq[*FileRef](files), numgos, alg, fixityAlgs...)
	return func(yield func(*FileDigests, error) bool) {
		for result, err := range results {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			all := make(digest.Set, len(result.Digests)+len(result.Fixity))
			maps.Copy(all, result.Digests)
			maps.Copy(all, result.Fixity)
			fd := &FileDigests{
				FileRef:   result.FileRef,
				Algorithm: alg,
				Digests:   all,
			}
			if !yield(fd, nil) {
				return
			}
		}
	}
}

// FileDigests is a FileRef plus digests of the file's contents.
type FileDigests struct {
	FileRef
	Algorithm digest.Algorithm // the primary digest algorithm (sha512 or sha256)
	Digests   digest.Set       // all computed digests, including the primary algorithm's
}

// Validate re-reads the file and checks its contents against all digests in
// pd, using algorithm definitions from reg. Mismatches are reported as a
// *[digest.DigestError].
func (pd *FileDigests) Validate(ctx context.Context, reg digest.AlgorithmRegistry) error {
	f, err := pd.Open(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pd.Digests.Validate(f, reg); err != nil {
		var digestErr *digest.DigestError
		if errors.As(err, &digestErr) {
			digestErr.Path = pd.FullPath()
		}
		return err
	}
	return nil
}

// FileDigestsSeq is an iterator of *[FileDigests] values.
type FileDigestsSeq iter.Seq[*FileDigests]

// FileDigestsErrSeq is an iterator of *[FileDigests] values or errors from
// digesting file contents.
type FileDigestsErrSeq iter.Seq2[*FileDigests, error]

// UntilErr splits a FileDigestsErrSeq into a FileDigestsSeq that stops at
// the first error and a function reporting that error.
func (dfs FileDigestsErrSeq) UntilErr() (FileDigestsSeq, func() error) {
	seq, errFn := ocflfs.UntilErr(iter.Seq2[*FileDigests, error](dfs))
	return FileDigestsSeq(seq), errFn
}

// ValidateBatch re-validates each file's digests using numgos goroutines,
// yielding an error for each file that fails. Content mismatches are
// *[digest.DigestError] values.
func (files FileDigestsSeq) ValidateBatch(ctx context.Context, reg digest.AlgorithmRegistry, numgos int) iter.Seq[error] {
	asDigestRefs := func(yield func(*digest.FileRef) bool) {
		for fd := range files {
			ref := &digest.FileRef{
				FileRef: fd.FileRef,
				Digests: fd.Digests,
			}
			if !yield(ref) {
				return
			}
		}
	}
	return digest.ValidateFilesBatch(ctx, asDigestRefs, reg, numgos)
}

// Stage builds a *Stage from the digest results, stopping at the first
// error.
func (dfs FileDigestsErrSeq) Stage() (*Stage, error) {
	files, errFn := dfs.UntilErr()
	stage, err := files.Stage()
	if err != nil {
		return nil, err
	}
	if err := errFn(); err != nil {
		return nil, err
	}
	return stage, nil
}

// Stage builds a *Stage whose state maps each file's primary digest to its
// Path. All values must share the same FS, base directory, and primary
// algorithm.
func (files FileDigestsSeq) Stage() (*Stage, error) {
	man := &dirManifest{manifest: map[string]dirManifestEntry{}}
	var primaryAlg digest.Algorithm
	state := DigestMap{}
	for fd := range files {
		switch {
		case man.fs == nil:
			man.fs = fd.FS
			man.baseDir = fd.BaseDir
			primaryAlg = fd.Algorithm
		case man.fs != fd.FS:
			return nil, errors.New("inconsistent backend FS for staged files")
		case man.baseDir != fd.BaseDir:
			return nil, errors.New("inconsistent base directory for staged files")
		case primaryAlg.ID() != fd.Algorithm.ID():
			return nil, errors.New("inconsistent digest algorithms for staged files")
		}
		fixity := maps.Clone(fd.Digests)
		primary := fixity.Delete(primaryAlg.ID())
		if primary == "" {
			return nil, fmt.Errorf("missing %s value for %s", primaryAlg.ID(), fd.FullPath())
		}
		state[primary] = append(state[primary], fd.Path)
		entry := man.manifest[primary]
		entry.addPaths(fd.Path)
		entry.addFixity(fixity)
		man.manifest[primary] = entry
	}
	return &Stage{
		State:           state,
		DigestAlgorithm: primaryAlg,
		ContentSource:   man,
		FixitySource:    man,
	}, nil
}
