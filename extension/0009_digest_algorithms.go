package extension

import (
	"github.com/ocflkit/ocfl-go/digest"
)

const ext0009 = "0009-digest-algorithms"

// Ext0009 returns a new instance of the 0009-digest-algorithms extension:
// the 0001 algorithms plus "size", whose digest value is the content's size
// in bytes.
func Ext0009() Extension {
	return newAlgRegistry(ext0009,
		digest.BLAKE2B_160,
		digest.BLAKE2B_256,
		digest.BLAKE2B_384,
		digest.SHA512_256,
		digest.SIZE,
	)
}
