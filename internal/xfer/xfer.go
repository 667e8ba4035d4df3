// Package xfer implements concurrent file transfer between storage backends.
package xfer

import (
	"context"
	"log/slog"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"golang.org/x/sync/errgroup"
)

// Copy transfers files from srcFS to dstFS using conc goroutines. The files
// map keys are destination paths; values are the corresponding source paths.
func Copy(ctx context.Context, srcFS ocflfs.FS, dstFS ocflfs.WriteFS, files map[string]string, conc int, logger *slog.Logger) error {
	if conc < 1 {
		conc = 1
	}
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(conc)
	for dst, src := range files {
		grp.Go(func() error {
			if logger != nil {
				logger.DebugContext(ctx, "file xfer", "src", src, "dst", dst)
			}
			_, err := ocflfs.Copy(ctx, dstFS, dst, srcFS, src)
			return err
		})
	}
	return grp.Wait()
}
