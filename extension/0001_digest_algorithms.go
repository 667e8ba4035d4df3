package extension

import (
	"github.com/ocflkit/ocfl-go/digest"
)

const ext0001 = "0001-digest-algorithms"

// Ext0001 returns a new instance of the 0001-digest-algorithms extension,
// which registers additional fixity algorithms: the blake2b family and
// sha512/256.
func Ext0001() Extension {
	return newAlgRegistry(ext0001,
		digest.BLAKE2B_160,
		digest.BLAKE2B_256,
		digest.BLAKE2B_384,
		digest.SHA512_256,
	)
}
