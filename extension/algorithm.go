package extension

import (
	"github.com/ocflkit/ocfl-go/digest"
)

// Algorithm is a digest.Algorithm provided by an extension
type Algorithm interface {
	digest.Algorithm
	// Extension returns the AlgorithmRegistry extension that provides the
	// algorithm.
	Extension() AlgorithmRegistry
}

// AlgorithmRegistry is an extension that provides a registry of digest
// algorithms
type AlgorithmRegistry interface {
	Extension
	Algorithms() digest.AlgorithmRegistry
}

// algRegistry is an implementation of AlgorithmRegistry
type algRegistry struct {
	Base
	algs digest.AlgorithmRegistry
}

// newAlgRegistry builds an AlgorithmRegistry extension that provides the
// given algorithms, each wrapped so it reports the extension it came from.
func newAlgRegistry(name string, algs ...digest.Algorithm) *algRegistry {
	ext := &algRegistry{Base: Base{ExtensionName: name}}
	provided := make([]digest.Algorithm, len(algs))
	for i, a := range algs {
		provided[i] = &alg{Algorithm: a, ext: ext}
	}
	ext.algs = digest.NewAlgorithmRegistry(provided...)
	return ext
}

// Algorithms implements AlgorithmRegistry for algRegistry
func (d algRegistry) Algorithms() digest.AlgorithmRegistry { return d.algs }

// alg is an implementation of Algorithm used by all extension digest
// algorithms
type alg struct {
	digest.Algorithm
	ext AlgorithmRegistry
}

// Extension implements Algorithm for alg
func (a alg) Extension() AlgorithmRegistry { return a.ext }
