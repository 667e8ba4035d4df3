package ocfl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ocflkit/ocfl-go/digest"
	"github.com/ocflkit/ocfl-go/extension"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
	"github.com/ocflkit/ocfl-go/validation/code"
)

// ocflV1 is an implementation of OCFL v1.x
type ocflV1 struct {
	spec Spec // "1.0" or "1.1"
}

func (imp ocflV1) Spec() Spec {
	return imp.spec
}

// ValidateInventoryBytes fully validates raw as serialized inventory for the
// implemented spec. The returned inventory is nil if the validation includes
// fatal errors.
func (imp ocflV1) ValidateInventoryBytes(raw []byte) (*StoredInventory, *Validation) {
	specStr := string(imp.spec)
	v := &Validation{}
	invMap := map[string]any{}
	if err := json.Unmarshal(raw, &invMap); err != nil {
		err = fmt.Errorf("decoding inventory json: %w", err)
		v.AddFatal(verr(err, code.E033(specStr)))
		return nil, v
	}
	const requiredErrMsg = "required field is missing or has unexpected json value"
	const optionalErrMsg = "optional field has unexpected json value"
	id, exists, typeOK := jsonMapGet[string](invMap, `id`)
	if !exists || !typeOK {
		err := errors.New(requiredErrMsg + `: 'id'`)
		v.AddFatal(verr(err, code.E036(specStr)))
	}
	typeStr, exists, typeOK := jsonMapGet[string](invMap, `type`)
	if !exists || !typeOK {
		err := errors.New(requiredErrMsg + `: 'type'`)
		v.AddFatal(verr(err, code.E036(specStr)))
	}
	if typeStr != "" && typeStr != imp.spec.InventoryType().String() {
		err := fmt.Errorf("invalid inventory type value: %q", typeStr)
		v.AddFatal(verr(err, code.E038(specStr)))
	}
	digestAlg, exists, typeOK := jsonMapGet[string](invMap, `digestAlgorithm`)
	if !exists || !typeOK {
		err := errors.New(requiredErrMsg + `: 'digestAlgorithm'`)
		v.AddFatal(verr(err, code.E036(specStr)))
	}
	if digestAlg != "" && digestAlg != digest.SHA512.ID() && digestAlg != digest.SHA256.ID() {
		err := fmt.Errorf("invalid digest algorithm: %q", digestAlg)
		v.AddFatal(verr(err, code.E025(specStr)))
	}
	head, exists, typeOK := jsonMapGet[string](invMap, `head`)
	if !exists || !typeOK {
		err := errors.New(requiredErrMsg + `: 'head'`)
		v.AddFatal(verr(err, code.E036(specStr)))
	}
	manifestVals, exists, typeOK := jsonMapGet[map[string]any](invMap, `manifest`)
	if !exists || !typeOK {
		err := errors.New(requiredErrMsg + `: 'manifest'`)
		v.AddFatal(verr(err, code.E041(specStr)))
	}
	versionsVals, exists, typeOK := jsonMapGet[map[string]any](invMap, `versions`)
	if !exists || !typeOK {
		err := errors.New(requiredErrMsg + `: 'versions'`)
		v.AddFatal(verr(err, code.E043(specStr)))
	}
	contentDirectory, exists, typeOK := jsonMapGet[string](invMap, `contentDirectory`)
	if exists && !typeOK {
		// contentDirectory is optional
		err := errors.New(optionalErrMsg + `: 'contentDirectory'`)
		v.AddFatal(err)
	}
	// fixity is optional
	fixityVals, exists, typeOK := jsonMapGet[map[string]any](invMap, `fixity`)
	if exists && !typeOK {
		err := errors.New(optionalErrMsg + `: 'fixity'`)
		v.AddFatal(verr(err, code.E111(specStr)))
	}
	// any remaining values in invMap are invalid
	for extra := range invMap {
		err := fmt.Errorf("inventory json has unexpected field: %q", extra)
		v.AddFatal(err)
	}
	inv := &StoredInventory{
		Inventory: Inventory{
			ID:               id,
			ContentDirectory: contentDirectory,
			DigestAlgorithm:  digestAlg,
			Fixity:           map[string]DigestMap{},
			Versions:         InventoryVersions{},
		},
	}
	if err := inv.Type.UnmarshalText([]byte(typeStr)); err != nil {
		v.AddFatal(verr(err, code.E038(specStr)))
	}
	if err := inv.Head.UnmarshalText([]byte(head)); err != nil {
		v.AddFatal(verr(err, code.E040(specStr)))
	}
	var err error
	if inv.Manifest, err = convertJSONDigestMap(manifestVals); err != nil {
		err = fmt.Errorf("invalid manifest: %w", err)
		v.AddFatal(verr(err, code.E092(specStr)))
	}
	// build versions
	for vnumStr, val := range versionsVals {
		var (
			vnum        VNum
			versionVals map[string]any
			userVals    map[string]any
			stateVals   map[string]any
			createdStr  string
			created     time.Time
			message     string
			state       DigestMap
			user        *User
		)
		if err := ParseVNum(vnumStr, &vnum); err != nil {
			err = fmt.Errorf("invalid key %q in versions block: %w", vnumStr, err)
			v.AddFatal(verr(err, code.E046(specStr)))
			continue
		}
		versionErrPrefix := "version '" + vnumStr + "'"
		versionVals, typeOK = val.(map[string]any)
		if !typeOK {
			err := errors.New(versionErrPrefix + ": value is not a json object")
			v.AddFatal(verr(err, code.E045(specStr)))
		}
		createdStr, exists, typeOK = jsonMapGet[string](versionVals, `created`)
		if !exists || !typeOK {
			err := fmt.Errorf("%s: %s: %s", versionErrPrefix, requiredErrMsg, `'created'`)
			v.AddFatal(verr(err, code.E048(specStr)))
		}
		if createdStr != "" {
			if err := created.UnmarshalText([]byte(createdStr)); err != nil {
				err = fmt.Errorf("%s: created: %w", versionErrPrefix, err)
				v.AddFatal(verr(err, code.E049(specStr)))
			}
		}
		stateVals, exists, typeOK = jsonMapGet[map[string]any](versionVals, `state`)
		if !exists || !typeOK {
			err := fmt.Errorf("%s: %s: %q", versionErrPrefix, requiredErrMsg, `state`)
			v.AddFatal(verr(err, code.E048(specStr)))
		}
		// message is optional
		message, exists, typeOK = jsonMapGet[string](versionVals, `message`)
		if exists && !typeOK {
			err := fmt.Errorf("%s: %s: %q", versionErrPrefix, optionalErrMsg, `message`)
			v.AddFatal(verr(err, code.E094(specStr)))
		}
		// user is optional
		userVals, exists, typeOK = jsonMapGet[map[string]any](versionVals, `user`)
		switch {
		case exists && !typeOK:
			err := fmt.Errorf("%s: %s: %q", versionErrPrefix, optionalErrMsg, `user`)
			v.AddFatal(verr(err, code.E054(specStr)))
		case exists:
			var userName, userAddress string
			userName, exists, typeOK = jsonMapGet[string](userVals, `name`)
			if !exists || !typeOK {
				err := fmt.Errorf("%s: user: %s: %q", versionErrPrefix, requiredErrMsg, `name`)
				v.AddFatal(verr(err, code.E054(specStr)))
			}
			// address is optional
			userAddress, exists, typeOK = jsonMapGet[string](userVals, `address`)
			if exists && !typeOK {
				err := fmt.Errorf("%s: user: %s: %q", versionErrPrefix, optionalErrMsg, `address`)
				v.AddFatal(verr(err, code.E054(specStr)))
			}
			user = &User{Name: userName, Address: userAddress}
		}
		// any additional fields in versionVals are invalid.
		for extra := range versionVals {
			err := fmt.Errorf("%s: invalid key: %q", versionErrPrefix, extra)
			v.AddFatal(err)
		}
		state, err := convertJSONDigestMap(stateVals)
		if err != nil {
			err = fmt.Errorf("%s: state: %w", versionErrPrefix, err)
			v.AddFatal(err)
		}
		inv.Versions[vnum] = &InventoryVersion{
			Created: created,
			State:   state,
			Message: message,
			User:    user,
		}
	}
	// build fixity
	for algStr, val := range fixityVals {
		var digestVals map[string]any
		digestVals, typeOK = val.(map[string]any)
		fixityErrPrefix := "fixity '" + algStr + "'"
		if !typeOK {
			err := fmt.Errorf("%s: value is not a json object", fixityErrPrefix)
			v.AddFatal(verr(err, code.E057(specStr)))
			continue
		}
		digests, err := convertJSONDigestMap(digestVals)
		if err != nil {
			err = fmt.Errorf("%s: %w", fixityErrPrefix, err)
			v.AddFatal(verr(err, code.E057(specStr)))
			continue
		}
		inv.Fixity[algStr] = digests
	}
	if inv.DigestAlgorithm != "" {
		if err := inv.setDigest(raw); err != nil {
			v.AddFatal(err)
		}
	}
	v.Add(imp.validateInventory(&inv.Inventory))
	if v.Err() != nil {
		return nil, v
	}
	return inv, v
}

// validateInventory validates the inventory's structure against the
// implemented spec, adding codes from the spec to each error.
func (imp ocflV1) validateInventory(inv *Inventory) *Validation {
	v := &Validation{}
	specStr := string(imp.spec)
	if inv.Type.Empty() {
		err := errors.New("missing required field: 'type'")
		v.AddFatal(err)
	}
	if inv.Type.Spec != imp.spec {
		err := fmt.Errorf("inventory declares v%s, not v%s", inv.Type.Spec, imp.spec)
		v.AddFatal(err)
	}
	if inv.ID == "" {
		err := errors.New("missing required field: 'id'")
		v.AddFatal(verr(err, code.E036(specStr)))
	}
	if inv.Head.IsZero() {
		err := errors.New("missing required field: 'head'")
		v.AddFatal(verr(err, code.E036(specStr)))
	}
	if inv.Manifest == nil {
		err := errors.New("missing required field 'manifest'")
		v.AddFatal(verr(err, code.E041(specStr)))
	}
	if inv.Versions == nil {
		err := errors.New("missing required field: 'versions'")
		v.AddFatal(verr(err, code.E041(specStr)))
	}
	if u, err := url.ParseRequestURI(inv.ID); err != nil || u.Scheme == "" {
		err := fmt.Errorf(`object ID is not a URI: %q`, inv.ID)
		v.AddWarn(verr(err, code.W005(specStr)))
	}
	switch inv.DigestAlgorithm {
	case digest.SHA512.ID():
		break
	case digest.SHA256.ID():
		err := fmt.Errorf(`'digestAlgorithm' is %q`, digest.SHA256.ID())
		v.AddWarn(verr(err, code.W004(specStr)))
	default:
		err := fmt.Errorf(`'digestAlgorithm' is not %q or %q`, digest.SHA512.ID(), digest.SHA256.ID())
		v.AddFatal(verr(err, code.E025(specStr)))
	}
	if err := inv.Head.Valid(); err != nil {
		err = fmt.Errorf("head is invalid: %w", err)
		v.AddFatal(verr(err, code.E011(specStr)))
	}
	if strings.Contains(inv.ContentDirectory, "/") {
		err := errors.New("contentDirectory contains '/'")
		v.AddFatal(verr(err, code.E017(specStr)))
	}
	if inv.ContentDirectory == "." || inv.ContentDirectory == ".." {
		err := errors.New("contentDirectory is '.' or '..'")
		v.AddFatal(verr(err, code.E017(specStr)))
	}
	if inv.Manifest != nil {
		err := inv.Manifest.Valid()
		if err != nil {
			var dcErr *MapDigestConflictErr
			var pcErr *MapPathConflictErr
			var piErr *MapPathInvalidErr
			if errors.As(err, &dcErr) {
				err = verr(err, code.E096(specStr))
			} else if errors.As(err, &pcErr) {
				err = verr(err, code.E101(specStr))
			} else if errors.As(err, &piErr) {
				err = verr(err, code.E099(specStr))
			}
			v.AddFatal(err)
		}
		// check that each manifest entry is used in at least one state
		for _, digest := range inv.Manifest.Digests() {
			var found bool
			for _, version := range inv.Versions {
				if version == nil {
					continue
				}
				if len(version.State[digest]) > 0 {
					found = true
					break
				}
			}
			if !found {
				err := fmt.Errorf("digest in manifest not used in version state: %s", digest)
				v.AddFatal(verr(err, code.E107(specStr)))
			}
		}
	}
	// version names
	var versionNums VNums = inv.VNums()
	if err := versionNums.Valid(); err != nil {
		if errors.Is(err, ErrVerEmpty) {
			err = verr(err, code.E008(specStr))
		} else if errors.Is(err, ErrVNumMissing) {
			err = verr(err, code.E010(specStr))
		} else if errors.Is(err, ErrVNumPadding) {
			err = verr(err, code.E012(specStr))
		}
		v.AddFatal(err)
	}
	if versionNums.Head() != inv.Head {
		err := fmt.Errorf(`version head not most recent version: %s`, inv.Head)
		v.AddFatal(verr(err, code.E040(specStr)))
	}
	// version state
	for vname, ver := range inv.Versions {
		if ver == nil {
			err := fmt.Errorf(`missing required version block for %q`, vname)
			v.AddFatal(verr(err, code.E048(specStr)))
			continue
		}
		if ver.Created.IsZero() {
			err := fmt.Errorf(`version %s missing required field: 'created'`, vname)
			v.AddFatal(verr(err, code.E048(specStr)))
		}
		if ver.Message == "" {
			err := fmt.Errorf("version %s missing recommended field: 'message'", vname)
			v.AddWarn(verr(err, code.W007(specStr)))
		}
		if ver.User == nil {
			err := fmt.Errorf("version %s missing recommended field: 'user'", vname)
			v.AddWarn(verr(err, code.W007(specStr)))
		}
		if ver.User != nil {
			if ver.User.Name == "" {
				err := fmt.Errorf("version %s user missing required field: 'name'", vname)
				v.AddFatal(verr(err, code.E054(specStr)))
			}
			if ver.User.Address == "" {
				err := fmt.Errorf("version %s user missing recommended field: 'address'", vname)
				v.AddWarn(verr(err, code.W008(specStr)))
			}
			if u, err := url.ParseRequestURI(ver.User.Address); err != nil || u.Scheme == "" {
				err := fmt.Errorf("version %s user address is not a URI", vname)
				v.AddWarn(verr(err, code.W009(specStr)))
			}
		}
		if ver.State == nil {
			err := fmt.Errorf(`version %s missing required field: 'state'`, vname)
			v.AddFatal(verr(err, code.E048(specStr)))
			continue
		}
		err := ver.State.Valid()
		if err != nil {
			var dcErr *MapDigestConflictErr
			var pcErr *MapPathConflictErr
			var piErr *MapPathInvalidErr
			if errors.As(err, &dcErr) {
				err = verr(err, code.E050(specStr))
			} else if errors.As(err, &pcErr) {
				err = verr(err, code.E095(specStr))
			} else if errors.As(err, &piErr) {
				err = verr(err, code.E052(specStr))
			}
			v.AddFatal(err)
		}
		// check that each state digest appears in manifest
		for _, digest := range ver.State.Digests() {
			if len(inv.Manifest[digest]) == 0 {
				err := fmt.Errorf("digest in %s state not in manifest: %s", vname, digest)
				v.AddFatal(verr(err, code.E050(specStr)))
			}
		}
	}
	// fixity
	for _, fixity := range inv.Fixity {
		err := fixity.Valid()
		if err != nil {
			var dcErr *MapDigestConflictErr
			var piErr *MapPathInvalidErr
			var pcErr *MapPathConflictErr
			if errors.As(err, &dcErr) {
				err = verr(err, code.E097(specStr))
			} else if errors.As(err, &piErr) {
				err = verr(err, code.E099(specStr))
			} else if errors.As(err, &pcErr) {
				err = verr(err, code.E101(specStr))
			}
			v.AddFatal(err)
		}
	}
	return v
}

func (imp *ocflV1) ValidateObjectRoot(ctx context.Context, vldr *ObjectValidation, state *ObjectState) error {
	// validate namaste
	specStr := string(imp.spec)
	fsys := vldr.FS()
	dir := vldr.Path()
	decl := Namaste{Type: NamasteTypeObject, Version: imp.spec}
	name := path.Join(dir, decl.Name())
	err := ValidateNamaste(ctx, fsys, name)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			err = fmt.Errorf("%s: %w", name, ErrObjectNamasteNotExist)
			vldr.AddFatal(verr(err, code.E001(specStr)))
		default:
			vldr.AddFatal(verr(err, code.E007(specStr)))
		}
		return err
	}
	// validate root inventory
	invBytes, err := ocflfs.ReadAll(ctx, fsys, path.Join(dir, inventoryBase))
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			vldr.AddFatal(err, verr(err, code.E063(specStr)))
		default:
			vldr.AddFatal(err)
		}
		return err
	}
	inv, invValidation := imp.ValidateInventoryBytes(invBytes)
	vldr.PrefixAdd("root inventory.json", invValidation)
	if err := invValidation.Err(); err != nil {
		return err
	}
	if err := inv.ValidateSidecar(ctx, fsys, dir); err != nil {
		var digestErr *digest.DigestError
		switch {
		case errors.As(err, &digestErr):
			vldr.AddFatal(verr(err, code.E060(specStr)))
		default:
			vldr.AddFatal(verr(err, code.E061(specStr)))
		}
	}
	vldr.PrefixAdd("extensions directory", validateExtensionsDir(ctx, imp.spec, fsys, dir))
	if err := vldr.AddInventoryDigests(inv); err != nil {
		vldr.AddFatal(err)
	}
	vldr.PrefixAdd("root contents", validateRootState(imp.spec, state))
	if err := vldr.Err(); err != nil {
		return err
	}
	vldr.obj = &Object{
		fs:        fsys,
		path:      dir,
		inventory: inv,
	}
	return nil
}

func (imp *ocflV1) ValidateObjectVersion(ctx context.Context, vldr *ObjectValidation, vnum VNum, verInv *StoredInventory, prevInv *StoredInventory) error {
	fsys := vldr.FS()
	vnumStr := vnum.String()
	fullVerDir := path.Join(vldr.Path(), vnumStr) // version directory path relative to FS
	specStr := string(imp.spec)
	rootInv := vldr.obj.Inventory() // root inventory is assumed to be valid
	vDirEntries, err := ocflfs.ReadDir(ctx, fsys, fullVerDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// can't read version directory for some reason, but not because it
		// doesn't exist.
		vldr.AddFatal(err)
		return err
	}
	vdirState := parseVersionDirState(vDirEntries)
	for _, f := range vdirState.extraFiles {
		err := fmt.Errorf(`unexpected file in %s: %s`, vnum, f)
		vldr.AddFatal(verr(err, code.E015(specStr)))
	}
	if !vdirState.hasInventory {
		err := fmt.Errorf("missing %s/inventory.json", vnumStr)
		vldr.AddWarn(verr(err, code.W010(specStr)))
	}
	if verInv != nil {
		if err := verInv.ValidateSidecar(ctx, fsys, fullVerDir); err != nil {
			err := fmt.Errorf("%s/inventory.json: %w", vnumStr, err)
			var digestErr *digest.DigestError
			switch {
			case errors.As(err, &digestErr):
				vldr.AddFatal(verr(err, code.E060(specStr)))
			default:
				vldr.AddFatal(verr(err, code.E061(specStr)))
			}
		}
		if prevInv != nil && verInv.Type.Spec.Cmp(prevInv.Type.Spec) < 0 {
			err := fmt.Errorf("%s/inventory.json uses an older OCFL specification than than the previous version", vnum)
			vldr.AddFatal(verr(err, code.E103(specStr)))
		}
		if verInv.Head != vnum {
			err := fmt.Errorf("%s/inventory.json: 'head' does not matchs its directory", vnum)
			vldr.AddFatal(verr(err, code.E040(specStr)))
		}
		if verInv.Digest() != rootInv.Digest() {
			imp.compareVersionInventory(vldr.obj, vnum, verInv, vldr)
			if verInv.Digest() != rootInv.Digest() {
				if err := vldr.AddInventoryDigests(verInv); err != nil {
					err = fmt.Errorf("%s/inventory.json digests are inconsistent with other inventories: %w", vnum, err)
					vldr.AddFatal(verr(err, code.E066(specStr)))
				}
			}
		}
	}
	cdName := rootInv.contentDirectory()
	for _, d := range vdirState.dirs {
		// the only directory in the version directory SHOULD be the content directory
		if d != cdName {
			err := fmt.Errorf(`extra directory in %s: %s`, vnum, d)
			vldr.AddWarn(verr(err, code.W002(specStr)))
			continue
		}
		// add version content files to validation state
		var added int
		fullVerContDir := path.Join(fullVerDir, cdName)
		for contentFile, err := range ocflfs.WalkFiles(ctx, fsys, fullVerContDir) {
			if err != nil {
				vldr.AddFatal(err)
				return err
			}
			// convert from path relative to version content directory to path
			// relative to the object
			vldr.AddExistingContent(path.Join(vnumStr, cdName, contentFile.Path))
			added++
		}
		if added == 0 {
			// content directory exists but it's empty
			err := fmt.Errorf("content directory (%s) is empty directory", fullVerContDir)
			vldr.AddFatal(verr(err, code.E016(specStr)))
		}
	}
	return nil
}

func (imp *ocflV1) ValidateObjectContent(ctx context.Context, vldr *ObjectValidation) error {
	specStr := string(imp.spec)
	newVld := &Validation{}
	for name := range vldr.MissingContent() {
		err := fmt.Errorf("missing content: %s", name)
		newVld.AddFatal(verr(err, code.E092(specStr)))
	}
	for name := range vldr.UnexpectedContent() {
		err := fmt.Errorf("unexpected content: %s", name)
		newVld.AddFatal(verr(err, code.E023(specStr)))
	}
	if !vldr.SkipDigests() {
		obj := vldr.Object()
		alg := digest.DefaultRegistry().MustGet(obj.Inventory().DigestAlgorithm)
		digests := vldr.ExistingContentDigests(vldr.FS(), vldr.Path(), alg)
		numgos := vldr.DigestConcurrency()
		registry := vldr.ValidationAlgorithms()
		for err := range digests.ValidateBatch(ctx, registry, numgos) {
			var digestErr *digest.DigestError
			switch {
			case errors.As(err, &digestErr):
				newVld.AddFatal(verr(digestErr, code.E092(specStr)))
			default:
				newVld.AddFatal(err)
			}
		}
	}
	vldr.Add(newVld)
	return newVld.Err()
}

func (imp ocflV1) compareVersionInventory(obj *Object, dirNum VNum, verInv *StoredInventory, vldr *ObjectValidation) {
	rootInv := obj.Inventory()
	specStr := string(imp.spec)
	if verInv.Head == rootInv.Head && verInv.Digest() != rootInv.Digest() {
		err := fmt.Errorf("%s/inventory.json is not the same as the root inventory: digests don't match", dirNum)
		vldr.AddFatal(verr(err, code.E064(specStr)))
	}
	if verInv.ID != rootInv.ID {
		err := fmt.Errorf("%s/inventory.json: 'id' doesn't match value in root inventory", dirNum)
		vldr.AddFatal(verr(err, code.E037(specStr)))
	}
	if verInv.contentDirectory() != rootInv.contentDirectory() {
		err := fmt.Errorf("%s/inventory.json: 'contentDirectory' doesn't match value in root inventory", dirNum)
		vldr.AddFatal(verr(err, code.E019(specStr)))
	}
	// check that all version blocks in the version inventory
	// match version blocks in the root inventory
	for _, v := range verInv.Head.Lineage() {
		thisVersion := verInv.Version(v.Num())
		rootVersion := rootInv.Version(v.Num())
		if rootVersion == nil {
			err := fmt.Errorf("root inventory.json has missing version: %s", v)
			vldr.AddFatal(verr(err, code.E046(specStr)))
			continue
		}
		thisVerState := logicalState{
			state:    thisVersion.State,
			manifest: verInv.Manifest,
		}
		rootVerState := logicalState{
			state:    rootVersion.State,
			manifest: rootInv.Manifest,
		}
		if !thisVerState.Eq(rootVerState) {
			err := fmt.Errorf("%s/inventory.json has different logical state in its %s version block than the root inventory.json", dirNum, v)
			vldr.AddFatal(verr(err, code.E066(specStr)))
		}
		if thisVersion.Message != rootVersion.Message {
			err := fmt.Errorf("%s/inventory.json has different 'message' in its %s version block than the root inventory.json", dirNum, v)
			vldr.AddWarn(verr(err, code.W011(specStr)))
		}
		if !reflect.DeepEqual(thisVersion.User, rootVersion.User) {
			err := fmt.Errorf("%s/inventory.json has different 'user' in its %s version block than the root inventory.json", dirNum, v)
			vldr.AddWarn(verr(err, code.W011(specStr)))
		}
		if !thisVersion.Created.Equal(rootVersion.Created) {
			err := fmt.Errorf("%s/inventory.json has different 'created' in its %s version block than the root inventory.json", dirNum, v)
			vldr.AddWarn(verr(err, code.W011(specStr)))
		}
	}
}

func jsonMapGet[T any](m map[string]any, key string) (val T, exists bool, typeOK bool) {
	var anyVal any
	anyVal, exists = m[key]
	val, typeOK = anyVal.(T)
	delete(m, key)
	return
}

func convertJSONDigestMap(jsonMap map[string]any) (DigestMap, error) {
	m := DigestMap{}
	msg := "invalid json type: expected array of strings"
	for key, mapVal := range jsonMap {
		slice, isSlice := mapVal.([]any)
		if !isSlice {
			return nil, errors.New(msg)
		}
		m[key] = make([]string, len(slice))
		for i := range slice {
			strVal, isStr := slice[i].(string)
			if !isStr {
				return nil, errors.New(msg)
			}
			m[key][i] = strVal
		}
	}
	return m, nil
}

type versionDirState struct {
	hasInventory bool
	sidecarAlg   string
	extraFiles   []string
	dirs         []string
}

func parseVersionDirState(entries []fs.DirEntry) versionDirState {
	var info versionDirState
	for _, e := range entries {
		if e.Type().IsDir() {
			info.dirs = append(info.dirs, e.Name())
			continue
		}
		if e.Type().IsRegular() || e.Type() == fs.ModeIrregular {
			if e.Name() == inventoryBase {
				info.hasInventory = true
				continue
			}
			if strings.HasPrefix(e.Name(), inventoryBase+".") && info.sidecarAlg == "" {
				info.sidecarAlg = strings.TrimPrefix(e.Name(), inventoryBase+".")
				continue
			}
		}
		// unexpected files
		info.extraFiles = append(info.extraFiles, e.Name())
	}
	return info
}

type logicalState struct {
	manifest DigestMap
	state    DigestMap
}

func (a logicalState) Eq(b logicalState) bool {
	if a.state == nil || b.state == nil || a.manifest == nil || b.manifest == nil {
		return false
	}
	for name, dig := range a.state.Paths() {
		otherDig := b.state.DigestFor(name)
		if otherDig == "" {
			return false
		}
		contentPaths := slices.Clone(a.manifest[dig])
		otherPaths := slices.Clone(b.manifest[otherDig])
		if len(contentPaths) != len(otherPaths) {
			return false
		}
		sort.Strings(contentPaths)
		sort.Strings(otherPaths)
		if !slices.Equal(contentPaths, otherPaths) {
			return false
		}
	}
	// make sure all logical paths in other state are also in state
	for otherName := range b.state.Paths() {
		if a.state.DigestFor(otherName) == "" {
			return false
		}
	}
	return true
}

func validateRootState(spec Spec, state *ObjectState) *Validation {
	specStr := string(spec)
	v := &Validation{}
	for _, name := range state.Invalid {
		err := fmt.Errorf(`%w: %s`, ErrObjRootStructure, name)
		v.AddFatal(verr(err, code.E001(specStr)))
	}
	if !state.HasInventory {
		err := fmt.Errorf(`root inventory.json: %w`, fs.ErrNotExist)
		v.AddFatal(verr(err, code.E063(specStr)))
	}
	if !state.HasSidecar {
		err := fmt.Errorf(`root inventory.json sidecar: %w`, fs.ErrNotExist)
		v.AddFatal(verr(err, code.E058(specStr)))
	}
	err := state.VersionDirs.Valid()
	if err != nil {
		if errors.Is(err, ErrVerEmpty) {
			err = verr(err, code.E008(specStr))
		} else if errors.Is(err, ErrVNumPadding) {
			err = verr(err, code.E011(specStr))
		} else if errors.Is(err, ErrVNumMissing) {
			err = verr(err, code.E010(specStr))
		}
		v.AddFatal(err)
	}
	if err == nil && state.VersionDirs.Padding() > 0 {
		err := errors.New("version directory names are zero-padded")
		v.AddWarn(verr(err, code.W001(specStr)))
	}
	return v
}

func validateExtensionsDir(ctx context.Context, spec Spec, fsys FS, objDir string) *Validation {
	specStr := string(spec)
	v := &Validation{}
	extDir := path.Join(objDir, extensionsDir)
	items, err := ocflfs.ReadDir(ctx, fsys, extDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		v.AddFatal(err)
		return v
	}
	for _, i := range items {
		if !i.IsDir() {
			err := fmt.Errorf(`invalid file: %s`, i.Name())
			v.AddFatal(verr(err, code.E067(specStr)))
			continue
		}
		if i.Name() == mutableHeadExtName {
			// 0005-mutable-head is managed by this module
			continue
		}
		if _, err := extension.Get(i.Name()); err != nil {
			// unknown extension
			err := fmt.Errorf("%w: %s", err, i.Name())
			v.AddWarn(verr(err, code.W013(specStr)))
		}
	}
	return v
}
