package ocfl

import "errors"

// ErrOutOfSync is returned when a caller-supplied base version (or the
// version recorded by an object-details store) no longer matches the
// repository's current head. Operations do not retry automatically; the
// caller decides whether to reload and reapply.
var ErrOutOfSync = errors.New("object is out of sync with its current version")

// ErrLock is returned when a per-object lock (in-process or backed by an
// object-details store) could not be acquired within the configured wait
// time.
var ErrLock = errors.New("timed out acquiring object lock")
