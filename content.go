package ocfl

import "github.com/ocflkit/ocfl-go/digest"

// ContentSource is used to access content with a given digest (i.e., during
// object updates).
type ContentSource interface {
	// GetContent returns an FS and path to a file in FS for a file with the given digest
	GetContent(digest string) (FS, string)
}

// FixitySource is used to access alternate digests for content with a given
// digest (i.e., during object updates).
type FixitySource interface {
	// GetFixity returns digest values for the content with the given primary
	// digest.
	GetFixity(digest string) digest.Set
}
