// Package memfs provides an in-memory storage backend, useful for tests. It
// is implemented as a cloud backend over gocloud.dev's in-memory bucket.
package memfs

import (
	"context"
	"io"

	"github.com/ocflkit/ocfl-go/fs/cloud"
	"gocloud.dev/blob/memblob"
)

type FS struct {
	*cloud.FS
}

func New() *FS {
	return &FS{
		FS: cloud.NewFS(memblob.OpenBucket(nil)),
	}
}

func NewWith(cont map[string]io.Reader) (*FS, error) {
	ctx := context.Background()
	fsys := New()
	for p, reader := range cont {
		if _, err := fsys.Write(ctx, p, reader); err != nil {
			return nil, err
		}
		if closer, ok := reader.(io.Closer); ok {
			closer.Close()
		}
	}
	return fsys, nil
}
