package ocfl

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path"
	"slices"
	"time"

	"github.com/ocflkit/ocfl-go/digest"
)

// Stage is a staged version state: a DigestMap of logical paths along with
// sources for any content that is new in this version.
type Stage struct {
	// State is the logical state for a new object version.
	State DigestMap
	// DigestAlgorithm is the primary digest algorithm (sha512 or sha256) used
	// for digests in State.
	DigestAlgorithm digest.Algorithm
	// ContentSource provides access to content for new files in State.
	// It may be nil if the stage introduces no new content.
	ContentSource
	// FixitySource provides alternate digests for new files in State. It may
	// be nil.
	FixitySource
}

// StageDir builds a stage based on the contents of the directory dir in fsys.
// Files are digested with alg and any additional fixityAlgs. The stage's
// state uses file paths relative to dir as logical paths.
func StageDir(ctx context.Context, fsys FS, dir string, alg digest.Algorithm, fixityAlgs ...digest.Algorithm) (*Stage, error) {
	files, walkErrFn := WalkFiles(ctx, fsys, dir)
	stage, err := files.IgnoreHidden().Digest(ctx, alg, fixityAlgs...).Stage()
	if err != nil {
		return nil, err
	}
	if err := walkErrFn(); err != nil {
		return nil, err
	}
	return stage, nil
}

// StageBytes builds a stage from a map of logical paths to file contents.
func StageBytes(content map[string][]byte, alg digest.Algorithm, fixityAlgs ...digest.Algorithm) (*Stage, error) {
	state := DigestMap{}
	manifest := byteManifest{}
	for logical, byts := range content {
		digester := digest.NewMultiDigester(append([]digest.Algorithm{alg}, fixityAlgs...)...)
		if _, err := digester.Write(byts); err != nil {
			return nil, err
		}
		sums := digester.Sums()
		primary := sums.Delete(alg.ID())
		state[primary] = append(state[primary], logical)
		if _, exists := manifest[primary]; !exists {
			manifest[primary] = &byteManifestEntry{bytes: slices.Clone(byts), fixity: sums}
		}
	}
	if err := state.Valid(); err != nil {
		return nil, err
	}
	return &Stage{
		State:           state,
		DigestAlgorithm: alg,
		ContentSource:   manifest,
		FixitySource:    manifest,
	}, nil
}

// Overlay merges the state from each stage in stages into s. The stages must
// all use the same digest algorithm. Logical paths in later stages replace
// those from earlier stages. Content and fixity sources from the stages are
// combined with s's.
func (s *Stage) Overlay(stages ...*Stage) error {
	var err error
	for _, over := range stages {
		if s.DigestAlgorithm.ID() != over.DigestAlgorithm.ID() {
			return errors.New("can't overlay stage with different digest algorithm")
		}
		s.State, err = s.State.Merge(over.State, true)
		if err != nil {
			return err
		}
		if over.ContentSource != nil {
			s.ContentSource = overlaySources(s.ContentSource, over.ContentSource)
		}
		if over.FixitySource != nil {
			s.FixitySource = overlayFixities(s.FixitySource, over.FixitySource)
		}
	}
	return nil
}

// HasContent returns true if the stage's content source provides a file for
// the given digest.
func (s Stage) HasContent(dig string) bool {
	if s.ContentSource == nil {
		return false
	}
	fsys, _ := s.GetContent(dig)
	return fsys != nil
}

// overlaySources combines multiple ContentSources; values are resolved from
// the last source that provides the digest.
func overlaySources(sources ...ContentSource) ContentSource {
	return contentSources(sources)
}

type contentSources []ContentSource

func (ss contentSources) GetContent(dig string) (FS, string) {
	for i := len(ss) - 1; i >= 0; i-- {
		if ss[i] == nil {
			continue
		}
		if fsys, p := ss[i].GetContent(dig); fsys != nil {
			return fsys, p
		}
	}
	return nil, ""
}

func overlayFixities(sources ...FixitySource) FixitySource {
	return fixitySources(sources)
}

type fixitySources []FixitySource

func (ss fixitySources) GetFixity(dig string) digest.Set {
	set := digest.Set{}
	for _, s := range ss {
		if s == nil {
			continue
		}
		for alg, val := range s.GetFixity(dig) {
			set[alg] = val
		}
	}
	return set
}

// dirManifest implements ContentSource and FixitySource for staged files in a
// common base directory of an FS.
type dirManifest struct {
	fs       FS
	baseDir  string
	manifest map[string]dirManifestEntry
}

type dirManifestEntry struct {
	paths  []string   // content paths relative to baseDir
	fixity digest.Set // additional digests
}

func (entry *dirManifestEntry) addPaths(paths ...string) {
	for _, p := range paths {
		if !slices.Contains(entry.paths, p) {
			entry.paths = append(entry.paths, p)
		}
	}
}

func (entry *dirManifestEntry) addFixity(fixity digest.Set) {
	if len(fixity) < 1 {
		return
	}
	if entry.fixity == nil {
		entry.fixity = digest.Set{}
	}
	for alg, val := range fixity {
		entry.fixity[alg] = val
	}
}

func (m *dirManifest) GetContent(dig string) (FS, string) {
	if m.fs == nil || len(m.manifest[dig].paths) < 1 {
		return nil, ""
	}
	return m.fs, path.Join(m.baseDir, m.manifest[dig].paths[0])
}

func (m *dirManifest) GetFixity(dig string) digest.Set {
	return m.manifest[dig].fixity
}

// byteManifest implements ContentSource and FixitySource for in-memory staged
// content.
type byteManifest map[string]*byteManifestEntry

type byteManifestEntry struct {
	bytes  []byte
	fixity digest.Set
}

func (m byteManifest) GetContent(dig string) (FS, string) {
	if _, exists := m[dig]; !exists {
		return nil, ""
	}
	return &byteManifestFS{manifest: m}, dig
}

func (m byteManifest) GetFixity(dig string) digest.Set {
	if entry, exists := m[dig]; exists {
		return entry.fixity
	}
	return nil
}

// byteManifestFS is a read-only FS for accessing a byteManifest's content by
// digest.
type byteManifestFS struct {
	manifest byteManifest
}

func (fsys *byteManifestFS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	entry, exists := fsys.manifest[name]
	if !exists {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: fs.ErrNotExist}
	}
	return &byteFile{name: name, Reader: bytes.NewReader(entry.bytes)}, nil
}

type byteFile struct {
	name string
	*bytes.Reader
}

func (f *byteFile) Close() error { return nil }

func (f *byteFile) Stat() (fs.FileInfo, error) {
	return &byteFileInfo{name: path.Base(f.name), size: f.Size()}, nil
}

type byteFileInfo struct {
	name string
	size int64
}

func (i byteFileInfo) Name() string       { return i.name }
func (i byteFileInfo) Size() int64        { return i.size }
func (i byteFileInfo) Mode() fs.FileMode  { return 0444 }
func (i byteFileInfo) ModTime() time.Time { return time.Time{} }
func (i byteFileInfo) IsDir() bool        { return false }
func (i byteFileInfo) Sys() any           { return nil }
