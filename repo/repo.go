// Package repo provides a high-level façade over an OCFL storage root. It
// coordinates per-object locking, an inventory cache, an optional
// object-details store for cross-process out-of-sync detection, and the
// object read/write protocol implemented by the ocfl package.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocflkit/ocfl-go"
	"github.com/ocflkit/ocfl-go/details"
	"github.com/ocflkit/ocfl-go/logging"
)

var (
	// ErrOverwrite is returned when a write would replace an existing
	// logical path and the Overwrite flag was not given.
	ErrOverwrite = errors.New("logical path exists and would be overwritten")
	// ErrPathConstraint is returned when a logical path violates the rules
	// for paths in a version state.
	ErrPathConstraint = errors.New("invalid logical path")
	// ErrAlreadyExists is returned when importing an object whose id is
	// already present in the repository.
	ErrAlreadyExists = errors.New("object already exists")
)

// defaultLockWait is how long operations wait for a per-object lock before
// failing with ocfl.ErrLock.
const defaultLockWait = 10 * time.Second

// Flag is an option flag for repository write operations.
type Flag int

const (
	// Overwrite allows logical-path writes to replace existing files.
	Overwrite Flag = iota + 1
	// MoveSource removes source files after they are copied into the
	// repository.
	MoveSource
	// NoValidation skips validation during import operations.
	NoValidation
)

func hasFlag(flags []Flag, f Flag) bool {
	for _, have := range flags {
		if have == f {
			return true
		}
	}
	return false
}

// Repository is a façade over an OCFL storage root.
type Repository struct {
	root    *ocfl.Root
	details *details.Store // optional
	rootID  string         // identifies this storage root in the details store
	locks   *lockMap
	cache   *invCache
	logger  *slog.Logger
}

// Option is used to configure a Repository.
type Option func(*Repository)

// WithDetails configures the repository to record each object's head in
// store, enabling cross-process out-of-sync detection and inventory
// caching.
func WithDetails(store *details.Store, rootID string) Option {
	return func(r *Repository) {
		r.details = store
		r.rootID = rootID
	}
}

// WithLogger sets the logger used by repository operations.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithLockWait sets how long operations wait for a per-object lock before
// failing with ocfl.ErrLock.
func WithLockWait(wait time.Duration) Option {
	return func(r *Repository) {
		r.locks = newLockMap(wait)
	}
}

// New returns a Repository for the storage root. The root must have a
// storage layout for resolving object ids.
func New(root *ocfl.Root, opts ...Option) (*Repository, error) {
	if root.Layout() == nil {
		return nil, ocfl.ErrLayoutUndefined
	}
	r := &Repository{
		root:   root,
		locks:  newLockMap(defaultLockWait),
		cache:  newInvCache(),
		logger: logging.DisabledLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the repository's storage root.
func (r *Repository) Root() *ocfl.Root { return r.root }

// Config describes a repository's configuration.
type Config struct {
	Spec        ocfl.Spec // OCFL spec declared by the storage root
	Layout      string    // name of the storage root's layout extension
	Description string    // storage root description
	LockWait    time.Duration
	HasDetails  bool // an object-details store is configured
}

// Config returns the repository's configuration.
func (r *Repository) Config() Config {
	return Config{
		Spec:        r.root.Spec(),
		Layout:      r.root.LayoutName(),
		Description: r.root.Description(),
		LockWait:    r.locks.wait,
		HasDetails:  r.details != nil,
	}
}

// Close releases resources held by the repository, including the details
// store connection pool, if configured.
func (r *Repository) Close() error {
	if r.details != nil {
		return r.details.Close()
	}
	return nil
}

// InvalidateCache evicts cached inventories. With no arguments the entire
// cache is cleared; otherwise only entries for the given object ids are
// evicted.
func (r *Repository) InvalidateCache(objectIDs ...string) {
	if len(objectIDs) == 0 {
		r.cache.clear()
		return
	}
	for _, id := range objectIDs {
		r.cache.evict(id)
	}
}

// openObject opens the object with the given id, reading its root inventory
// from storage, and puts that inventory in the cache. With a details store, a
// cached inventory whose digest differs from the details record is evicted
// first. Objects are not opened from cached inventories. Callers must hold
// the object's lock.
func (r *Repository) openObject(ctx context.Context, objectID string, mustExist bool) (*ocfl.Object, error) {
	if r.details != nil {
		// the cached inventory is stale if its digest doesn't match the
		// details record.
		rec, err := r.details.Get(ctx, r.rootID, objectID)
		switch {
		case err == nil:
			if inv, ok := r.cache.get(objectID); ok && inv.Digest() != rec.InventoryDigest {
				r.cache.evict(objectID)
			}
		case errors.Is(err, details.ErrNotFound):
			// no record: nothing to compare against
		default:
			return nil, err
		}
	}
	opts := []ocfl.ObjectOption{ocfl.ObjectWithID(objectID)}
	if mustExist {
		opts = append(opts, ocfl.ObjectMustExist())
	}
	obj, err := r.root.NewObject(ctx, objectID, opts...)
	if err != nil {
		return nil, err
	}
	if obj.Exists() {
		r.cache.put(objectID, obj.Inventory())
	}
	return obj, nil
}

// recordHead writes the object's new position to the details store (if
// configured) and updates the inventory cache. The record pairs the object's
// head version number with revision (0 for a committed head).
func (r *Repository) recordHead(ctx context.Context, obj *ocfl.Object, revision int) error {
	inv := obj.Inventory()
	r.cache.put(obj.ID(), inv)
	if r.details == nil {
		return nil
	}
	rec := details.Record{
		RootID:          r.rootID,
		ObjectID:        obj.ID(),
		ObjectRootPath:  obj.Path(),
		VersionNum:      inv.Head.Num(),
		RevisionNum:     revision,
		DigestAlgorithm: inv.DigestAlgorithm,
		InventoryDigest: inv.Digest(),
		Inventory:       inv.Bytes(),
		UpdatedAt:       time.Now().Unix(),
	}
	if err := r.details.Put(ctx, rec); err != nil {
		return fmt.Errorf("recording object head: %w", err)
	}
	return nil
}

// dropRecord removes the object from the details store and the cache.
func (r *Repository) dropRecord(ctx context.Context, objectID string) {
	r.cache.evict(objectID)
	if r.details != nil {
		if err := r.details.Invalidate(ctx, r.rootID, objectID); err != nil {
			r.logger.Error("removing object details record", "object_id", objectID, "error", err)
		}
	}
}
