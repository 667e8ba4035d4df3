// Package cloud provides a generic storage backend for cloud services
// supported by gocloud.dev's blob API (GCS, Azure Blob, and in-memory
// buckets, among others).
package cloud

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"time"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// FS is a storage backend for cloud services using a blob.Bucket
type FS struct {
	*blob.Bucket
	log        *slog.Logger
	writerOpts *blob.WriterOptions
	readerOpts *blob.ReaderOptions
}

var (
	_ ocflfs.WriteFS      = (*FS)(nil)
	_ ocflfs.CopyFS       = (*FS)(nil)
	_ ocflfs.DirEntriesFS = (*FS)(nil)
)

// Option is used to configure an FS.
type Option func(*FS)

// NewFS returns an FS for the bucket.
func NewFS(b *blob.Bucket, opts ...Option) *FS {
	fsys := &FS{
		Bucket: b,
	}
	for _, opt := range opts {
		opt(fsys)
	}
	return fsys
}

// WithLogger sets a logger used to log method calls at the debug level.
func WithLogger(l *slog.Logger) Option {
	return func(fsys *FS) {
		fsys.log = l
	}
}

// WriterOptions returns a copy of the FS that uses opts for writes.
func (fsys *FS) WriterOptions(opts *blob.WriterOptions) *FS {
	return &FS{
		Bucket:     fsys.Bucket,
		log:        fsys.log,
		writerOpts: opts,
		readerOpts: fsys.readerOpts,
	}
}

// ReaderOptions returns a copy of the FS that uses opts for reads.
func (fsys *FS) ReaderOptions(opts *blob.ReaderOptions) *FS {
	return &FS{
		Bucket:     fsys.Bucket,
		log:        fsys.log,
		writerOpts: fsys.writerOpts,
		readerOpts: opts,
	}
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	fsys.debugLog(ctx, "cloud:openfile", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: fs.ErrInvalid}
	}
	reader, err := fsys.Bucket.NewReader(ctx, name, fsys.readerOpts)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	return &file{
		ReadCloser: reader,
		info: &fileInfo{
			name:    path.Base(name),
			size:    reader.Size(),
			modTime: reader.ModTime(),
		},
	}, nil
}

func (fsys *FS) DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error] {
	fsys.debugLog(ctx, "cloud:dir_entries", "name", name)
	return func(yield func(fs.DirEntry, error) bool) {
		if !fs.ValidPath(name) {
			yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid})
			return
		}
		const pageSize = 1000
		opts := &blob.ListOptions{Delimiter: "/"}
		if name != "." {
			opts.Prefix = name + "/"
		}
		token := blob.FirstPageToken
		yielded := false
		for {
			list, nextToken, err := fsys.Bucket.ListPage(ctx, token, pageSize, opts)
			if err != nil && !errors.Is(err, io.EOF) {
				if gcerrors.Code(err) == gcerrors.NotFound {
					err = errors.Join(err, fs.ErrNotExist)
				}
				yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: err})
				return
			}
			for _, item := range list {
				inf := &fileInfo{
					name:    path.Base(item.Key),
					size:    item.Size,
					modTime: item.ModTime,
				}
				if item.IsDir {
					inf.mode = fs.ModeDir
				}
				yielded = true
				if !yield(inf, nil) {
					return
				}
			}
			if len(nextToken) == 0 {
				break
			}
			token = nextToken
		}
		// an empty prefix is considered a non-existent directory, except
		// for the top-level directory.
		if !yielded && name != "." {
			yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist})
		}
	}
}

func (fsys *FS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	fsys.debugLog(ctx, "cloud:write", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	writer, err := fsys.Bucket.NewWriter(ctx, name, fsys.writerOpts)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	n, writeErr := writer.ReadFrom(r)
	closeErr := writer.Close()
	if writeErr != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: writeErr}
	}
	if closeErr != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: closeErr}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	fsys.debugLog(ctx, "cloud:remove", "name", name)
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	if err := fsys.Bucket.Delete(ctx, name); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	fsys.debugLog(ctx, "cloud:removeall", "name", name)
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "remove_all", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &fs.PathError{Op: "remove_all", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	list := fsys.Bucket.List(&blob.ListOptions{Prefix: name + "/"})
	for {
		next, err := list.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return &fs.PathError{Op: "remove_all", Path: name, Err: err}
		}
		fsys.debugLog(ctx, "cloud:removeall.delete", "name", next.Key)
		if err := fsys.Bucket.Delete(ctx, next.Key); err != nil {
			return &fs.PathError{Op: "remove_all", Path: next.Key, Err: err}
		}
	}
	return nil
}

func (fsys *FS) Copy(ctx context.Context, dst, src string) (int64, error) {
	fsys.debugLog(ctx, "cloud:copy", "dst", dst, "src", src)
	for _, p := range []string{src, dst} {
		if !fs.ValidPath(p) || p == "." {
			return 0, &fs.PathError{Op: "copy", Path: p, Err: fs.ErrInvalid}
		}
	}
	if err := fsys.Bucket.Copy(ctx, dst, src, &blob.CopyOptions{}); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return 0, &fs.PathError{Op: "copy", Path: src, Err: err}
	}
	attrs, err := fsys.Bucket.Attributes(ctx, dst)
	if err != nil {
		return 0, nil
	}
	return attrs.Size, nil
}

func (fsys *FS) debugLog(ctx context.Context, method string, args ...any) {
	if fsys.log != nil {
		fsys.log.DebugContext(ctx, method, args...)
	}
}

// file implements fs.File for a blob read
type file struct {
	io.ReadCloser
	info *fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }

// fileInfo implements fs.FileInfo and fs.DirEntry
type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i *fileInfo) Name() string               { return i.name }
func (i *fileInfo) Size() int64                { return i.size }
func (i *fileInfo) Mode() fs.FileMode          { return i.mode }
func (i *fileInfo) ModTime() time.Time         { return i.modTime }
func (i *fileInfo) IsDir() bool                { return i.mode.IsDir() }
func (i *fileInfo) Sys() any                   { return nil }
func (i *fileInfo) Info() (fs.FileInfo, error) { return i, nil }
func (i *fileInfo) Type() fs.FileMode          { return i.mode.Type() }
