package digest

import (
	"errors"
	"fmt"
	"maps"
)

// ErrUnknownAlg is returned when an algorithm id has no registered
// implementation.
var ErrUnknownAlg = errors.New("unknown digest algorithm")

// AlgorithmRegistry is an immutable collection of [Algorithm]s.
type AlgorithmRegistry struct {
	algs map[string]Algorithm
}

// NewAlgorithmRegistry returns an AlgorithmRegistry for the given algs.
func NewAlgorithmRegistry(algs ...Algorithm) AlgorithmRegistry {
	newR := AlgorithmRegistry{
		algs: make(map[string]Algorithm, len(algs)),
	}
	for _, alg := range algs {
		newR.algs[alg.ID()] = alg
	}
	return newR
}

// DefaultRegistry returns an AlgorithmRegistry with the built-in algorithms:
// sha512, sha256, sha1, md5, and blake2b-512.
func DefaultRegistry() AlgorithmRegistry {
	return defaultRegistry
}

var defaultRegistry = NewAlgorithmRegistry(SHA512, SHA256, SHA1, MD5, BLAKE2B)

// Get returns the Algorithm with the given id or an error if the algorithm
// is not present in the registry.
func (r AlgorithmRegistry) Get(id string) (Algorithm, error) {
	alg, ok := r.algs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlg, id)
	}
	return alg, nil
}

// MustGet is like Get, except it panics if the algorithm is not present.
func (r AlgorithmRegistry) MustGet(id string) Algorithm {
	alg, err := r.Get(id)
	if err != nil {
		panic(err)
	}
	return alg
}

// GetAny returns Algorithms for ids present in the registry; unknown ids are
// ignored.
func (r AlgorithmRegistry) GetAny(ids ...string) []Algorithm {
	algs := make([]Algorithm, 0, len(ids))
	for _, id := range ids {
		if alg, ok := r.algs[id]; ok {
			algs = append(algs, alg)
		}
	}
	return algs
}

// Names returns the ids of algorithms in the registry.
func (r AlgorithmRegistry) Names() []string {
	names := make([]string, 0, len(r.algs))
	for name := range r.algs {
		names = append(names, name)
	}
	return names
}

// IDs is an alias for Names.
func (r AlgorithmRegistry) IDs() []string { return r.Names() }

// All returns all algorithms in the registry.
func (r AlgorithmRegistry) All() []Algorithm {
	algs := make([]Algorithm, 0, len(r.algs))
	for _, alg := range r.algs {
		algs = append(algs, alg)
	}
	return algs
}

// Len returns the number of algorithms in the registry.
func (r AlgorithmRegistry) Len() int { return len(r.algs) }

// NewDigester returns a Digester for the algorithm with the given id, which
// must be present in the registry.
func (r AlgorithmRegistry) NewDigester(id string) (Digester, error) {
	alg, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return alg.Digester(), nil
}

// NewMultiDigester returns a MultiDigester using registry algorithms with the
// given ids. Unknown ids are ignored.
func (r AlgorithmRegistry) NewMultiDigester(ids ...string) *MultiDigester {
	return NewMultiDigester(r.GetAny(ids...)...)
}

// Append returns a new AlgorithmRegistry that includes algs from r plus
// additional algs. If the added algs have the same id as those in r, the new
// registry uses the added versions.
func (r AlgorithmRegistry) Append(algs ...Algorithm) AlgorithmRegistry {
	newR := AlgorithmRegistry{
		algs: make(map[string]Algorithm, len(r.algs)+len(algs)),
	}
	maps.Copy(newR.algs, r.algs)
	for _, alg := range algs {
		newR.algs[alg.ID()] = alg
	}
	return newR
}
