package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Algorithm is implemented by digest algorithms.
type Algorithm interface {
	// ID returns the algorithm name (e.g., 'sha512')
	ID() string
	// Digester returns a new digester for generating a new digest value
	Digester() Digester
}

// Built-in algorithms. The first group covers the algorithms an inventory
// may use for its digestAlgorithm and fixity blocks; the second group covers
// values defined by the digest-algorithm extensions.
var (
	SHA512  = hashAlg("sha512", sha512.New)
	SHA256  = hashAlg("sha256", sha256.New)
	SHA1    = hashAlg("sha1", sha1.New)
	MD5     = hashAlg("md5", md5.New)
	BLAKE2B = blakeAlg("blake2b-512", 64)

	BLAKE2B_160 = blakeAlg("blake2b-160", 20)
	BLAKE2B_256 = blakeAlg("blake2b-256", 32)
	BLAKE2B_384 = blakeAlg("blake2b-384", 48)
	SHA512_256  = hashAlg("sha512/256", sha512.New512_256)
	SIZE        = Algorithm(sizeAlg{})
)

// alg implements Algorithm for hash.Hash-based digests.
type alg struct {
	id      string
	newHash func() hash.Hash
}

func (a alg) ID() string { return a.id }

func (a alg) Digester() Digester {
	return &hashDigester{Hash: a.newHash()}
}

func hashAlg(id string, newHash func() hash.Hash) Algorithm {
	return alg{id: id, newHash: newHash}
}

func blakeAlg(id string, size int) Algorithm {
	return alg{id: id, newHash: func() hash.Hash {
		h, err := blake2b.New(size, nil)
		if err != nil {
			panic("creating new blake2b hash")
		}
		return h
	}}
}

// hashDigester implements Digester over a hash.Hash.
type hashDigester struct {
	hash.Hash
}

func (h hashDigester) String() string {
	return hex.EncodeToString(h.Sum(nil))
}

// sizeAlg implements the "size" algorithm from extension 0009: the digest is
// the content's size in bytes.
type sizeAlg struct{}

func (sizeAlg) ID() string { return "size" }

func (sizeAlg) Digester() Digester { return &sizeDigester{} }

type sizeDigester struct {
	size int64
}

func (d *sizeDigester) Write(b []byte) (int, error) {
	d.size += int64(len(b))
	return len(b), nil
}

func (d *sizeDigester) String() string {
	return strconv.FormatInt(d.size, 10)
}
