package ocfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"runtime"
	"slices"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/logging"
	"golang.org/x/sync/errgroup"
)

// ErrRevertUpdate is returned by Revert when the update ran to completion
// and can no longer be undone.
var ErrRevertUpdate = errors.New("the update has completed and cannot be reverted")

// UpdatePlan is an object update broken into discrete steps, each with a
// compensating action. The per-step completion state survives serialization
// (MarshalBinary/UnmarshalBinary), so an interrupted update can be resumed,
// retried, or rolled back by a later process.
type UpdatePlan struct {
	steps  PlanSteps
	newInv *StoredInventory
	oldInv *StoredInventory // nil when the plan creates a new object

	goLimit int
	logger  *slog.Logger
}

// newUpdatePlan builds the *UpdatePlan that transitions an object from
// oldInv to newInv.
func newUpdatePlan(newInv *Inventory, oldInv *StoredInventory) (*UpdatePlan, error) {
	byts, _, err := newInv.marshal()
	if err != nil {
		return nil, fmt.Errorf("building new inventory: %w", err)
	}
	stored, err := newStoredInventory(byts)
	if err != nil {
		return nil, fmt.Errorf("building new inventory: %w", err)
	}
	steps, err := buildPlanSteps(stored, oldInv)
	if err != nil {
		return nil, err
	}
	return &UpdatePlan{steps: steps, newInv: stored, oldInv: oldInv}, nil
}

// ObjectID returns the id of the object the plan applies to.
func (u *UpdatePlan) ObjectID() string { return u.newInv.ID }

// BaseInventoryDigest returns the digest of the object's existing root
// inventory, or "" if the plan creates a new object.
func (u *UpdatePlan) BaseInventoryDigest() string {
	if u.oldInv == nil {
		return ""
	}
	return u.oldInv.digest
}

func (u *UpdatePlan) setGoLimit(gos int) { u.goLimit = gos }

func (u *UpdatePlan) setLogger(logger *slog.Logger) { u.logger = logger }

// Steps iterates over all steps in the plan, in execution order.
func (u *UpdatePlan) Steps() iter.Seq[*PlanStep] {
	return func(yield func(*PlanStep) bool) {
		for i := range u.steps {
			if !yield(&u.steps[i]) {
				return
			}
		}
	}
}

// IncompleteSteps iterates over steps that have not completed, in execution
// order.
func (u *UpdatePlan) IncompleteSteps() iter.Seq[*PlanStep] {
	return func(yield func(*PlanStep) bool) {
		for i := range u.steps {
			if u.steps[i].record.Completed {
				continue
			}
			if !yield(&u.steps[i]) {
				return
			}
		}
	}
}

// CompletedSteps iterates over completed steps in reverse execution order
// (most recent first), the order they should be reverted in.
func (u *UpdatePlan) CompletedSteps() iter.Seq[*PlanStep] {
	return func(yield func(*PlanStep) bool) {
		for i := len(u.steps) - 1; i >= 0; i-- {
			if !u.steps[i].record.Completed {
				continue
			}
			if !yield(&u.steps[i]) {
				return
			}
		}
	}
}

// Completed returns true if every step in the plan has completed.
func (u *UpdatePlan) Completed() bool {
	for range u.IncompleteSteps() {
		return false
	}
	return true
}

// Err joins the error messages recorded by the plan's steps.
func (u *UpdatePlan) Err() error {
	var errs []error
	for i := range u.steps {
		if msg := u.steps[i].record.Err; msg != "" {
			errs = append(errs, errors.New(msg))
		}
	}
	return errors.Join(errs...)
}

// Eq returns true if u and other are plans for the same update: the same
// inventories and the same step sequence.
func (u *UpdatePlan) Eq(other *UpdatePlan) bool {
	if !slices.Equal(u.newInv.bytes, other.newInv.bytes) {
		return false
	}
	switch {
	case u.oldInv == nil:
		if other.oldInv != nil {
			return false
		}
	case other.oldInv == nil:
		return false
	default:
		if !slices.Equal(u.oldInv.bytes, other.oldInv.bytes) {
			return false
		}
	}
	return u.steps.Eq(other.steps)
}

// Apply runs the plan's incomplete steps and, on success, returns the
// object's new inventory. Execution stops at the first step that fails.
// Steps marked async (content transfers) run concurrently, bounded by the
// plan's goroutine limit.
func (u *UpdatePlan) Apply(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) (*StoredInventory, error) {
	runner := u.runner(objFS, objDir, src)
	if err := runner.run(ctx, u.IncompleteSteps(), stepDo); err != nil {
		return nil, err
	}
	return u.newInv, nil
}

// Revert undoes the plan's completed steps, in reverse order. A fully
// completed plan can't be reverted: Revert returns ErrRevertUpdate.
func (u *UpdatePlan) Revert(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) error {
	if u.Completed() {
		return ErrRevertUpdate
	}
	runner := u.runner(objFS, objDir, src)
	return runner.run(ctx, u.CompletedSteps(), stepUndo)
}

// MarshalBinary encodes the plan, including per-step completion state.
func (u *UpdatePlan) MarshalBinary() ([]byte, error) {
	rec := planRecord{
		NewInventory: u.newInv.bytes,
		Steps:        make([]stepRecord, len(u.steps)),
	}
	if u.oldInv != nil {
		rec.OldInventory = u.oldInv.bytes
	}
	for i := range u.steps {
		rec.Steps[i] = u.steps[i].record
	}
	return json.Marshal(rec)
}

// UnmarshalBinary decodes a plan produced by MarshalBinary. The step
// functions are regenerated from the encoded inventories; decoding fails if
// the recorded steps don't line up with the regenerated plan.
func (u *UpdatePlan) UnmarshalBinary(b []byte) error {
	var rec planRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	newInv, err := newStoredInventory(rec.NewInventory)
	if err != nil {
		return err
	}
	var oldInv *StoredInventory
	if len(rec.OldInventory) > 0 {
		if oldInv, err = newStoredInventory(rec.OldInventory); err != nil {
			return err
		}
	}
	steps, err := buildPlanSteps(newInv, oldInv)
	if err != nil {
		return err
	}
	if len(steps) != len(rec.Steps) {
		return errors.New("previous update log doesn't reflect current update plan")
	}
	for i := range steps {
		if steps[i].record.Name != rec.Steps[i].Name ||
			steps[i].record.ContentDigest != rec.Steps[i].ContentDigest {
			return errors.New("previous update log doesn't reflect current update plan")
		}
		steps[i].record = rec.Steps[i]
	}
	u.newInv = newInv
	u.oldInv = oldInv
	u.steps = steps
	return nil
}

// planRecord is the serialized form of an UpdatePlan.
type planRecord struct {
	NewInventory []byte       `json:"new_inventory"`
	OldInventory []byte       `json:"old_inventory,omitempty"`
	Steps        []stepRecord `json:"steps"`
}

// stepRecord is the serializable state of a single step.
type stepRecord struct {
	Name          string `json:"name"`
	ContentDigest string `json:"content_digest,omitempty"`
	Completed     bool   `json:"completed,omitempty"`
	Size          int64  `json:"size,omitempty"`
	Err           string `json:"error,omitempty"`
	RevertErr     string `json:"revert_error,omitempty"`
}

// stepFn is a step's action: it returns the number of content bytes written
// (zero for bookkeeping steps).
type stepFn func(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) (int64, error)

// PlanStep is one step of an UpdatePlan: a named action plus the
// compensating action that undoes it.
type PlanStep struct {
	record stepRecord
	async  bool // may run concurrently with adjacent async steps
	do     stepFn
	undo   stepFn
}

// Name returns the step's unique name within its plan.
func (step *PlanStep) Name() string { return step.record.Name }

// Completed returns true if the step ran without error and has not been
// reverted.
func (step *PlanStep) Completed() bool { return step.record.Completed }

// ContentDigest returns the digest of the content transferred by the step,
// if any.
func (step *PlanStep) ContentDigest() string { return step.record.ContentDigest }

// ErrMsg returns the error message from the step's last run, if any.
func (step *PlanStep) ErrMsg() string { return step.record.Err }

// Size returns the number of bytes the step wrote to the object; set after
// the step runs.
func (step *PlanStep) Size() int64 { return step.record.Size }

// Run performs the step's action unless it is already complete. A
// successful run marks the step complete and clears any recorded error.
func (step *PlanStep) Run(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) error {
	if step.do == nil || step.record.Completed {
		return nil
	}
	size, err := step.do(ctx, objFS, objDir, src)
	if err != nil {
		step.record.Err = errMsg(err)
		return err
	}
	step.record.Size = size
	step.record.Completed = true
	step.record.Err = ""
	return nil
}

// Revert performs the step's compensating action if the step is complete. A
// successful revert marks the step incomplete again.
func (step *PlanStep) Revert(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) error {
	if step.undo == nil || !step.record.Completed {
		return nil
	}
	if _, err := step.undo(ctx, objFS, objDir, src); err != nil {
		step.record.RevertErr = errMsg(err)
		return err
	}
	step.record.Completed = false
	step.record.RevertErr = ""
	return nil
}

func errMsg(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unspecified error"
}

// PlanSteps is an ordered sequence of plan steps.
type PlanSteps []PlanStep

// Eq returns true if s and other have the same steps: names and content
// digests match pairwise.
func (s PlanSteps) Eq(other PlanSteps) bool {
	return slices.EqualFunc(s, other, func(a, b PlanStep) bool {
		return a.record.Name == b.record.Name &&
			a.record.ContentDigest == b.record.ContentDigest
	})
}

// planBuilder accumulates steps for an update plan.
type planBuilder struct {
	steps PlanSteps
}

func (b *planBuilder) add(name string, do, undo stepFn) {
	b.steps = append(b.steps, PlanStep{
		record: stepRecord{Name: name},
		do:     do,
		undo:   undo,
	})
}

func (b *planBuilder) addContent(name string, dig string, do, undo stepFn) {
	b.steps = append(b.steps, PlanStep{
		record: stepRecord{Name: name, ContentDigest: dig},
		async:  true,
		do:     do,
		undo:   undo,
	})
}

// noop is a stepFn with no effect; used for guard steps that exist only for
// their compensating action.
func noop(context.Context, ocflfs.FS, string, ContentSource) (int64, error) {
	return 0, nil
}

// removeFileStep returns a stepFn that removes the named file (relative to
// the object root), ignoring missing files.
func removeFileStep(name string) stepFn {
	return func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
		err := ocflfs.Remove(ctx, objFS, path.Join(objDir, name))
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		return 0, err
	}
}

// buildPlanSteps lays out the steps for updating an object from oldInv to
// newInv. The step sequence preserves the commit ordering invariant: the
// new version directory is fully written before the root inventory is
// replaced, so a crash mid-plan leaves the prior head intact.
func buildPlanSteps(newInv *StoredInventory, oldInv *StoredInventory) (PlanSteps, error) {
	var oldSpec Spec
	var oldHead VNum
	var oldAlg, oldDigest string
	var oldBytes []byte
	if oldInv != nil {
		if oldInv.ID != newInv.ID {
			return nil, fmt.Errorf("new inventory ID does not match previous inventory's: %q != %q", newInv.ID, oldInv.ID)
		}
		oldSpec = oldInv.Type.Spec
		oldHead = oldInv.Head
		oldAlg = oldInv.DigestAlgorithm
		oldDigest = oldInv.digest
		oldBytes = oldInv.bytes
	}
	newSpec := newInv.Type.Spec
	if newSpec.Cmp(oldSpec) < 0 {
		return nil, fmt.Errorf("new version's OCFL spec (%q) cannot be lower than the previous version's (%q)", newSpec, oldSpec)
	}
	if newInv.Head.num != oldHead.num+1 {
		return nil, errors.New("new inventory 'head' is not incremented by 1")
	}
	isFirstVersion := newInv.Head.num == 1
	newAlg := newInv.DigestAlgorithm
	verDir := newInv.Head.String()

	b := &planBuilder{}
	// guard step: reverting a new object's first version removes the whole
	// object root.
	b.add("object root", noop, func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
		if isFirstVersion {
			return 0, ocflfs.RemoveAll(ctx, objFS, objDir)
		}
		return 0, nil
	})
	// declaration steps, when the spec changes (or the object is new)
	if newSpec != oldSpec {
		newDecl := Namaste{Type: NamasteTypeObject, Version: newSpec}
		b.add("write "+newDecl.Name(),
			func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
				return 0, WriteDeclaration(ctx, objFS, objDir, newDecl)
			},
			removeFileStep(newDecl.Name()),
		)
		if !oldSpec.Empty() {
			oldDecl := Namaste{Type: NamasteTypeObject, Version: oldSpec}
			b.add("remove "+oldDecl.Name(),
				removeFileStep(oldDecl.Name()),
				func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
					return 0, WriteDeclaration(ctx, objFS, objDir, oldDecl)
				},
			)
		}
	}
	// guard step: reverting removes the entire new version directory.
	b.add("version directory "+verDir, noop,
		func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
			return 0, ocflfs.RemoveAll(ctx, objFS, path.Join(objDir, verDir))
		})
	// content transfer steps (async)
	for dstName, dig := range newInv.versionContent(newInv.Head).SortedPaths() {
		b.addContent("copy "+dstName, dig,
			func(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) (int64, error) {
				srcFS, srcPath := src.GetContent(dig)
				if srcFS == nil {
					return 0, fmt.Errorf("content source doesn't provide %q", dig)
				}
				return ocflfs.Copy(ctx, objFS, path.Join(objDir, dstName), srcFS, srcPath)
			},
			removeFileStep(dstName),
		)
	}
	// version directory inventory + sidecar
	verDirInv := path.Join(verDir, inventoryBase)
	b.add("write "+verDirInv,
		func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
			return ocflfs.Write(ctx, objFS, path.Join(objDir, verDirInv), bytes.NewReader(newInv.bytes))
		},
		removeFileStep(verDirInv),
	)
	b.add("write "+verDirInv+"."+newAlg,
		func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
			return 0, writeInventorySidecar(ctx, objFS, path.Join(objDir, verDir), newInv.digest, newAlg)
		},
		removeFileStep(verDirInv+"."+newAlg),
	)
	// root inventory: reverting restores the previous inventory (or removes
	// the file entirely, for a first version).
	b.add("write "+inventoryBase,
		func(ctx context.Context, objFS ocflfs.FS, objDir string, _ ContentSource) (int64, error) {
			return ocflfs.Write(ctx, objFS, path.Join(objDir, inventoryBase), bytes.NewReader(newInv.bytes))
		},
		func(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) (int64, error) {
			if isFirstVersion {
				return removeFileStep(inventoryBase)(ctx, objFS, objDir, src)
			}
			return ocflfs.Write(ctx, objFS, path.Join(objDir, inventoryBase), bytes.NewReader(oldBytes))
		},
	)
	// root sidecar: if the digest algorithm changed, the old sidecar file is
	// removed going forward and restored on revert.
	rootSidecar := inventoryBase + "." + newAlg
	b.add("write "+rootSidecar,
		func(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) (int64, error) {
			if err := writeInventorySidecar(ctx, objFS, objDir, newInv.digest, newAlg); err != nil {
				return 0, err
			}
			if oldAlg != "" && oldAlg != newAlg {
				return removeFileStep(inventoryBase + "." + oldAlg)(ctx, objFS, objDir, src)
			}
			return 0, nil
		},
		func(ctx context.Context, objFS ocflfs.FS, objDir string, src ContentSource) (int64, error) {
			if isFirstVersion {
				return removeFileStep(rootSidecar)(ctx, objFS, objDir, src)
			}
			if err := writeInventorySidecar(ctx, objFS, objDir, oldDigest, oldAlg); err != nil {
				return 0, err
			}
			if oldAlg != newAlg {
				return removeFileStep(rootSidecar)(ctx, objFS, objDir, src)
			}
			return 0, nil
		},
	)
	return b.steps, nil
}

// stepDirection selects a step's forward or compensating action.
type stepDirection int

const (
	stepDo stepDirection = iota
	stepUndo
)

// stepRunner executes plan steps against an object, batching consecutive
// async steps into concurrent groups.
type stepRunner struct {
	objFS   ocflfs.FS
	objDir  string
	src     ContentSource
	goLimit int
	logger  *slog.Logger
}

func (u *UpdatePlan) runner(objFS ocflfs.FS, objDir string, src ContentSource) *stepRunner {
	r := &stepRunner{
		objFS:   objFS,
		objDir:  objDir,
		src:     src,
		goLimit: u.goLimit,
		logger:  u.logger,
	}
	if r.goLimit < 1 {
		r.goLimit = runtime.NumCPU()
	}
	if r.logger == nil {
		r.logger = logging.DisabledLogger()
	}
	return r
}

func (r *stepRunner) runStep(ctx context.Context, step *PlanStep, dir stepDirection) error {
	var err error
	switch dir {
	case stepUndo:
		r.logger.Info("reverting", "step", step.Name())
		err = step.Revert(ctx, r.objFS, r.objDir, r.src)
	default:
		r.logger.Info(step.Name())
		err = step.Run(ctx, r.objFS, r.objDir, r.src)
	}
	if err != nil {
		r.logger.Error(err.Error())
	}
	return err
}

// run executes the steps in order. Runs of consecutive async steps are
// executed concurrently; execution stops at the first error.
func (r *stepRunner) run(ctx context.Context, steps iter.Seq[*PlanStep], dir stepDirection) error {
	var batch []*PlanStep
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		grp, grpCtx := errgroup.WithContext(ctx)
		grp.SetLimit(r.goLimit)
		for _, step := range batch {
			grp.Go(func() error {
				return r.runStep(grpCtx, step, dir)
			})
		}
		batch = batch[:0]
		return grp.Wait()
	}
	for step := range steps {
		if step.async {
			batch = append(batch, step)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := r.runStep(ctx, step, dir); err != nil {
			return err
		}
	}
	return flush()
}
