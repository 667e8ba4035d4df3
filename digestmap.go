package ocfl

import (
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"path"
	"slices"
	"strings"
)

// DigestMap maps digest values to the file paths with that digest. It is the
// representation used for inventory manifests, version states, and fixity
// blocks. Digest strings may use any case; two digests that differ only in
// case refer to the same content.
type DigestMap map[string][]string

// NumPaths returns the total number of paths in m.
func (m DigestMap) NumPaths() int {
	var total int
	for _, paths := range m {
		total += len(paths)
	}
	return total
}

// AllPaths returns a sorted slice of every path in m.
func (m DigestMap) AllPaths() []string {
	all := make([]string, 0, m.NumPaths())
	for _, paths := range m {
		all = append(all, paths...)
	}
	slices.Sort(all)
	return all
}

// Digests returns the digest values in m, in arbitrary order and without
// case normalization.
func (m DigestMap) Digests() []string {
	return slices.Collect(maps.Keys(m))
}

// Paths is an iterator yielding each (path, digest) pair in m, in arbitrary
// order.
func (m DigestMap) Paths() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for dig, paths := range m {
			for _, p := range paths {
				if !yield(p, dig) {
					return
				}
			}
		}
	}
}

// DigestFor returns the digest for the path p, or "" if p is not in m.
func (m DigestMap) DigestFor(p string) string {
	if p == "" {
		return ""
	}
	for dig, paths := range m {
		if slices.Contains(paths, p) {
			return dig
		}
	}
	return ""
}

// PathMap inverts m into a path→digest map. If m has duplicate paths, the
// result keeps one of the digests arbitrarily.
func (m DigestMap) PathMap() PathMap {
	pm := make(PathMap, m.NumPaths())
	for p, dig := range m.Paths() {
		pm[p] = dig
	}
	return pm
}

// Clone returns a deep copy of m.
func (m DigestMap) Clone() DigestMap {
	cp := make(DigestMap, len(m))
	for dig, paths := range m {
		cp[dig] = slices.Clone(paths)
	}
	return cp
}

// Eq reports whether m and other map the same paths to the same
// (case-normalized) digests. Invalid maps are never equal to anything.
func (m DigestMap) Eq(other DigestMap) bool {
	mNorm, err := m.Normalize()
	if err != nil {
		return false
	}
	otherNorm, err := other.Normalize()
	if err != nil {
		return false
	}
	return maps.Equal(mNorm.PathMap(), otherNorm.PathMap())
}

// Normalize validates m and returns a copy with lowercase digests and sorted
// paths.
func (m DigestMap) Normalize() (DigestMap, error) {
	if err := m.Valid(); err != nil {
		return nil, err
	}
	norm := make(DigestMap, len(m))
	for dig, paths := range m {
		sorted := slices.Clone(paths)
		slices.Sort(sorted)
		norm[normalizeDigest(dig)] = sorted
	}
	return norm, nil
}

// Merge combines m and m2 into a new DigestMap with lowercase digests; path
// order within a digest is not sorted. If a path has
// different digests in the two maps, an error is returned unless replace is
// true, in which case m2's digest wins.
func (m DigestMap) Merge(m2 DigestMap, replace bool) (DigestMap, error) {
	norm1, err := m.Normalize()
	if err != nil {
		return nil, err
	}
	norm2, err := m2.Normalize()
	if err != nil {
		return nil, err
	}
	combined := norm1.PathMap()
	for p, dig := range norm2.PathMap() {
		prev, exists := combined[p]
		if exists && prev != dig && !replace {
			return nil, &MapPathConflictErr{Path: p}
		}
		combined[p] = dig
	}
	merged := combined.DigestMap()
	if err := checkPaths(merged.AllPaths()); err != nil {
		return nil, err
	}
	return merged, nil
}

// Mutate applies the path mutations to every digest's path list, removing
// digests left with no paths. Mutations may leave m invalid; callers that
// care should check with Valid.
func (m DigestMap) Mutate(fns ...PathMutation) {
	for dig := range m {
		for _, fn := range fns {
			m[dig] = fn(m[dig])
		}
		if len(m[dig]) == 0 {
			delete(m, dig)
		}
	}
}

// Valid checks m's invariants: no case-conflicting digests, at least one
// path per digest, every path well-formed, and no path used as both a file
// and a directory.
func (m DigestMap) Valid() error {
	seen := make(map[string]string, len(m))
	for dig, paths := range m {
		norm := normalizeDigest(dig)
		if _, exists := seen[norm]; exists {
			return &MapDigestConflictErr{Digest: dig}
		}
		seen[norm] = dig
		if len(paths) == 0 {
			return fmt.Errorf("no paths for digest %q", dig)
		}
	}
	return checkPaths(m.AllPaths())
}

// checkPaths confirms every path is well-formed, that no path repeats, and
// that no path is also used as a parent directory of another.
func checkPaths(paths []string) error {
	exists := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "." || !fs.ValidPath(p) {
			return &MapPathInvalidErr{Path: p}
		}
		if _, dup := exists[p]; dup {
			return &MapPathConflictErr{Path: p}
		}
		exists[p] = struct{}{}
	}
	for _, p := range paths {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if _, isFile := exists[dir]; isFile {
				return &MapPathConflictErr{Path: dir}
			}
		}
	}
	return nil
}

func normalizeDigest(d string) string {
	return strings.ToLower(d)
}

// PathMap maps file paths to digest values.
type PathMap map[string]string

// DigestMap inverts pm into a DigestMap. The result is not checked for
// validity.
func (pm PathMap) DigestMap() DigestMap {
	dm := DigestMap{}
	for p, dig := range pm {
		dm[dig] = append(dm[dig], p)
	}
	return dm
}

// SortedPaths is an iterator yielding pm's (path, digest) pairs ordered by
// path.
func (pm PathMap) SortedPaths() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, p := range slices.Sorted(maps.Keys(pm)) {
			if !yield(p, pm[p]) {
				return
			}
		}
	}
}

// PathMutation transforms a digest's path list; used with
// [DigestMap.Mutate].
type PathMutation func(oldPaths []string) (newPaths []string)

// RenamePaths returns a PathMutation that renames src to dst. A src that
// names a file replaces that path; a src that names a directory (including
// ".") moves the directory's contents under dst.
func RenamePaths(src, dst string) PathMutation {
	return func(paths []string) []string {
		for i, p := range paths {
			switch {
			case src == ".":
				paths[i] = path.Join(dst, p)
			case p == src:
				paths[i] = dst
			default:
				if tail, inDir := strings.CutPrefix(p, src+"/"); inDir {
					paths[i] = path.Join(dst, tail)
				}
			}
		}
		return paths
	}
}

// RemovePath returns a PathMutation that removes the named path.
func RemovePath(name string) PathMutation {
	return func(paths []string) []string {
		return slices.DeleteFunc(paths, func(p string) bool {
			return p == name
		})
	}
}
