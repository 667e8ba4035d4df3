package ocfl

import (
	"context"
	"io/fs"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

// Aliases for types and values defined in the fs package, re-exported here for
// convenience and backwards compatibility.
type (
	FS      = ocflfs.FS
	WriteFS = ocflfs.WriteFS
	CopyFS  = ocflfs.CopyFS
)

// InvType is an alias for [InventoryType].
type InvType = InventoryType

// ErrFileType: see [ocflfs.ErrFileType]
var ErrFileType = ocflfs.ErrFileType

// NewFS: see [ocflfs.NewFS]
func NewFS(fsys fs.FS) FS {
	return ocflfs.NewFS(fsys)
}

// DirFS: see [ocflfs.DirFS]
func DirFS(dir string) FS {
	return ocflfs.DirFS(dir)
}

// StatFile: see [ocflfs.StatFile]
func StatFile(ctx context.Context, fsys FS, name string) (fs.FileInfo, error) {
	return ocflfs.StatFile(ctx, fsys, name)
}
