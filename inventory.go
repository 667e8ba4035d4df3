package ocfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ocflkit/ocfl-go/digest"
	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

const (
	// inventoryBase is the name of the inventory file in object roots and
	// version directories.
	inventoryBase = "inventory.json"
	// contentDir is the default content directory name.
	contentDir = "content"
)

var (
	// ErrInventoryNotExist is returned when an object's root inventory.json
	// does not exist.
	ErrInventoryNotExist = fmt.Errorf("missing inventory file: %w", fs.ErrNotExist)
	// ErrInvSidecarContents is returned when an inventory sidecar file has
	// unexpected contents.
	ErrInvSidecarContents = errors.New("invalid inventory sidecar contents")

	invSidecarContentsRexp = regexp.MustCompile(`^([a-fA-F0-9]+)\s+inventory\.json[\n]?$`)
)

// Inventory represents the contents of an object's inventory.json file.
type Inventory struct {
	ID               string               `json:"id"`
	Type             InventoryType        `json:"type"`
	DigestAlgorithm  string               `json:"digestAlgorithm"`
	Head             VNum                 `json:"head"`
	ContentDirectory string               `json:"contentDirectory,omitempty"`
	Manifest         DigestMap            `json:"manifest"`
	Versions         InventoryVersions    `json:"versions"`
	Fixity           map[string]DigestMap `json:"fixity,omitempty"`
}

// InventoryVersion represents the values of a version entry in an object's
// inventory.json.
type InventoryVersion struct {
	Created time.Time `json:"created"`
	State   DigestMap `json:"state"`
	Message string    `json:"message,omitempty"`
	User    *User     `json:"user,omitempty"`
}

// InventoryVersions maps version numbers to *InventoryVersions. It has a
// custom json marshaler so that version keys are always encoded in numeric
// order.
type InventoryVersions map[VNum]*InventoryVersion

// MarshalJSON implements json.Marshaler for InventoryVersions. Version keys
// are encoded in ascending numeric order rather than the lexical order used
// for regular go maps.
func (vs InventoryVersions) MarshalJSON() ([]byte, error) {
	vnums := make(VNums, 0, len(vs))
	for v := range vs {
		vnums = append(vnums, v)
	}
	slices.SortFunc(vnums, func(a, b VNum) int { return a.num - b.num })
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range vnums {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(v.String())
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(vs[v])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Version returns the inventory's version entry for the version with the
// given number (1 is the first version). If i is 0, the inventory's head
// version is returned. If the version does not exist, nil is returned.
func (inv Inventory) Version(i int) *InventoryVersion {
	if inv.Versions == nil {
		return nil
	}
	if i < 1 {
		i = inv.Head.num
	}
	return inv.Versions[V(i, inv.Head.padding)]
}

// VNums returns a sorted slice of the version numbers in the inventory.
func (inv Inventory) VNums() VNums {
	vnums := make(VNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		vnums = append(vnums, v)
	}
	slices.SortFunc(vnums, func(a, b VNum) int { return a.num - b.num })
	return vnums
}

// GetFixity returns altnerate digest values for the content with the given
// primary digest value.
func (inv Inventory) GetFixity(dig string) digest.Set {
	paths := inv.Manifest[dig]
	if len(paths) < 1 {
		return nil
	}
	set := digest.Set{}
	for fixAlg, fixMap := range inv.Fixity {
		for p, fixDigest := range fixMap.Paths() {
			if slices.Contains(paths, p) {
				set[fixAlg] = fixDigest
				break
			}
		}
	}
	return set
}

// FixityAlgorithms returns the algorithm ids used in the inventory's fixity
// block.
func (inv Inventory) FixityAlgorithms() []string {
	if len(inv.Fixity) < 1 {
		return nil
	}
	algs := make([]string, 0, len(inv.Fixity))
	for alg := range inv.Fixity {
		algs = append(algs, alg)
	}
	slices.Sort(algs)
	return algs
}

// contentDirectory returns the inventory's effective content directory: its
// ContentDirectory value, or "content" if it is empty.
func (inv Inventory) contentDirectory() string {
	if inv.ContentDirectory == "" {
		return contentDir
	}
	return inv.ContentDirectory
}

// normalize returns a copy of the inventory with normalized (lowercase,
// sorted) manifest, version states, and fixity entries.
func (inv Inventory) normalize() (Inventory, error) {
	newInv := inv
	var err error
	if newInv.Manifest != nil {
		newInv.Manifest, err = inv.Manifest.Normalize()
		if err != nil {
			return newInv, fmt.Errorf("in manifest: %w", err)
		}
	}
	newInv.Versions = make(InventoryVersions, len(inv.Versions))
	for vnum, ver := range inv.Versions {
		newVer := &InventoryVersion{
			Created: ver.Created.Truncate(time.Second),
			Message: ver.Message,
			User:    ver.User,
		}
		newVer.State, err = ver.State.Normalize()
		if err != nil {
			return newInv, fmt.Errorf("in version %s state: %w", vnum, err)
		}
		newInv.Versions[vnum] = newVer
	}
	if inv.Fixity != nil {
		newInv.Fixity = make(map[string]DigestMap, len(inv.Fixity))
		for alg, m := range inv.Fixity {
			newInv.Fixity[alg], err = m.Normalize()
			if err != nil {
				return newInv, fmt.Errorf("in %s fixity: %w", alg, err)
			}
		}
	}
	return newInv, nil
}

// marshal returns the canonical serialization of the inventory along with the
// digest of the serialized bytes, computed with the inventory's digest
// algorithm.
func (inv Inventory) marshal() ([]byte, string, error) {
	normInv, err := inv.normalize()
	if err != nil {
		return nil, "", err
	}
	byts, err := json.Marshal(normInv)
	if err != nil {
		return nil, "", err
	}
	alg, err := digest.DefaultRegistry().Get(inv.DigestAlgorithm)
	if err != nil {
		return nil, "", err
	}
	digester := alg.Digester()
	if _, err := digester.Write(byts); err != nil {
		return nil, "", err
	}
	return byts, digester.String(), nil
}

// StoredInventory is an Inventory plus the serialized inventory bytes it was
// decoded from and the digest of those bytes.
type StoredInventory struct {
	Inventory
	bytes  []byte
	digest string
}

// newStoredInventory decodes raw as an Inventory and returns a new
// *StoredInventory that includes raw and its digest. An error is returned if
// raw cannot be decoded or if the decoded inventory is missing required
// fields.
func newStoredInventory(raw []byte) (*StoredInventory, error) {
	var inv StoredInventory
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&inv.Inventory); err != nil {
		return nil, err
	}
	if err := inv.setDigest(raw); err != nil {
		return nil, err
	}
	if err := inv.basicCheck(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// basicCheck returns an error if the inventory is missing values required to
// use it at all. Full validation is separate (see Validate).
func (inv *StoredInventory) basicCheck() error {
	if inv.ID == "" {
		return errors.New("inventory is missing required field: 'id'")
	}
	if inv.Type.Empty() {
		return errors.New("inventory is missing required field: 'type'")
	}
	if inv.DigestAlgorithm == "" {
		return errors.New("inventory is missing required field: 'digestAlgorithm'")
	}
	if inv.Head.IsZero() {
		return errors.New("inventory is missing required field: 'head'")
	}
	if inv.Versions[inv.Head] == nil {
		return fmt.Errorf("inventory has no version entry for 'head' value: %s", inv.Head)
	}
	return nil
}

// Bytes returns the inventory's serialized form.
func (inv *StoredInventory) Bytes() []byte { return inv.bytes }

// Digest returns the digest of the inventory's serialized form, computed with
// the inventory's digest algorithm.
func (inv *StoredInventory) Digest() string { return inv.digest }

func (inv *StoredInventory) setDigest(raw []byte) error {
	alg, err := digest.DefaultRegistry().Get(inv.DigestAlgorithm)
	if err != nil {
		return err
	}
	digester := alg.Digester()
	if _, err := io.Copy(digester, bytes.NewReader(raw)); err != nil {
		return err
	}
	inv.bytes = slices.Clone(raw)
	inv.digest = digester.String()
	return nil
}

// versionContent returns a PathMap of manifest entries with content paths in
// the given version's content directory.
func (inv *StoredInventory) versionContent(v VNum) PathMap {
	prefix := v.String() + "/"
	pm := PathMap{}
	for pth, dig := range inv.Manifest.Paths() {
		if strings.HasPrefix(pth, prefix) {
			pm[pth] = dig
		}
	}
	return pm
}

// ReadInventory reads, parses, and verifies the inventory.json file in dir.
// The inventory's digest is checked against the inventory sidecar file.
func ReadInventory(ctx context.Context, fsys FS, dir string) (*StoredInventory, error) {
	raw, err := ocflfs.ReadAll(ctx, fsys, path.Join(dir, inventoryBase))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrInventoryNotExist)
		}
		return nil, err
	}
	inv, err := newStoredInventory(raw)
	if err != nil {
		return nil, err
	}
	if err := inv.ValidateSidecar(ctx, fsys, dir); err != nil {
		return nil, err
	}
	return inv, nil
}

// ValidateSidecar reads the inventory sidecar file for the inventory in dir
// and confirms that the inventory's digest matches the sidecar's value. The
// returned error is a *[digest.DigestError] if the values don't match.
func (inv *StoredInventory) ValidateSidecar(ctx context.Context, fsys FS, dir string) error {
	sidecarFile := path.Join(dir, inventoryBase+"."+inv.DigestAlgorithm)
	expected, err := ReadSidecarDigest(ctx, fsys, sidecarFile)
	if err != nil {
		return err
	}
	if !strings.EqualFold(expected, inv.digest) {
		return &digest.DigestError{
			Path:     path.Join(dir, inventoryBase),
			Alg:      inv.DigestAlgorithm,
			Got:      inv.digest,
			Expected: expected,
		}
	}
	return nil
}

// ReadSidecarDigest reads the digest from an inventory sidecar file. The name
// is the full path of the sidecar file, which must have `inventory.json.` as
// part of its filename.
func ReadSidecarDigest(ctx context.Context, fsys FS, name string) (string, error) {
	if !strings.Contains(path.Base(name), inventoryBase+".") {
		return "", fmt.Errorf("%s: %w", name, ErrInvSidecarFilename)
	}
	byts, err := ocflfs.ReadAll(ctx, fsys, name)
	if err != nil {
		return "", err
	}
	matches := invSidecarContentsRexp.FindSubmatch(byts)
	if len(matches) != 2 {
		return "", fmt.Errorf("reading %s: %w", name, ErrInvSidecarContents)
	}
	return string(matches[1]), nil
}

// ErrInvSidecarFilename is returned when an inventory sidecar file name is
// not formed correctly.
var ErrInvSidecarFilename = errors.New("invalid inventory sidecar filename")

// writeInventorySidecar writes the inventory sidecar file in dir, recording
// the digest value.
func writeInventorySidecar(ctx context.Context, fsys FS, dir string, digestVal string, alg string) error {
	sidecarFile := path.Join(dir, inventoryBase+"."+alg)
	content := strings.NewReader(digestVal + " " + inventoryBase + "\n")
	if _, err := ocflfs.Write(ctx, fsys, sidecarFile, content); err != nil {
		return fmt.Errorf("writing inventory sidecar: %w", err)
	}
	return nil
}

// writeInventory marshals the inventory and writes inventory.json and its
// sidecar file to each directory in dirs.
func writeInventory(ctx context.Context, fsys WriteFS, inv *Inventory, dirs ...string) error {
	byts, dig, err := inv.marshal()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		invFile := path.Join(dir, inventoryBase)
		if _, err := fsys.Write(ctx, invFile, bytes.NewReader(byts)); err != nil {
			return fmt.Errorf("writing %s: %w", invFile, err)
		}
		if err := writeInventorySidecar(ctx, fsys, dir, dig, inv.DigestAlgorithm); err != nil {
			return err
		}
	}
	return nil
}

// buildInventory returns a new Inventory that adds the commit's stage as the
// next version of the inventory in prev. If prev is nil, the returned
// inventory is for a new object with a single version.
func buildInventory(commit *Commit, prev *StoredInventory) (*Inventory, error) {
	if commit.Stage == nil {
		return nil, errors.New("commit is missing new version state")
	}
	if commit.Stage.DigestAlgorithm == nil {
		return nil, errors.New("commit has no digest algorithm")
	}
	algID := commit.Stage.DigestAlgorithm.ID()
	if algID != digest.SHA512.ID() && algID != digest.SHA256.ID() {
		return nil, fmt.Errorf("stage's digest algorithm must be %q or %q", digest.SHA512.ID(), digest.SHA256.ID())
	}
	if commit.Stage.State == nil {
		commit.Stage.State = DigestMap{}
	}
	newInv := &Inventory{
		Versions: InventoryVersions{},
		Fixity:   map[string]DigestMap{},
	}
	switch {
	case prev != nil:
		if prev.DigestAlgorithm != algID {
			return nil, fmt.Errorf("commit must use same digest algorithm as existing inventory (%s)", prev.DigestAlgorithm)
		}
		newInv.ID = prev.ID
		newInv.ContentDirectory = prev.ContentDirectory
		newInv.Type = prev.Type
		var err error
		newInv.Head, err = prev.Head.Next()
		if err != nil {
			return nil, fmt.Errorf("existing inventory's version scheme doesn't support additional versions: %w", err)
		}
		if !commit.Spec.Empty() {
			// new inventory spec must be >= prev spec
			if commit.Spec.Cmp(prev.Type.Spec) < 0 {
				return nil, fmt.Errorf("new inventory's OCFL spec can't be lower than the existing inventory's (%s)", prev.Type.Spec)
			}
			newInv.Type = commit.Spec.InventoryType()
		}
		if !commit.AllowUnchanged {
			lastV := prev.Version(0)
			if lastV.State.Eq(commit.Stage.State) {
				return nil, errors.New("version state unchanged")
			}
		}
		// copy and normalize all digests in the inventory. If we don't do this
		// non-normalized digests in previous version states might cause
		// problems since the updated manifest/fixity will be normalized.
		prevInv, err := prev.normalize()
		if err != nil {
			return nil, fmt.Errorf("in existing inventory: %w", err)
		}
		newInv.Manifest = prevInv.Manifest
		if prevInv.Fixity != nil {
			newInv.Fixity = prevInv.Fixity
		}
		maps.Copy(newInv.Versions, prevInv.Versions)
	default:
		// new object inventory
		newInv.ID = commit.ID
		newInv.DigestAlgorithm = algID
		newInv.Head = V(1, 0)
		newInv.Type = commit.Spec.InventoryType()
		if commit.Spec.Empty() {
			newInv.Type = defaultOCFL().Spec().InventoryType()
		}
		newInv.Manifest = DigestMap{}
	}
	if newInv.ID == "" {
		return nil, errors.New("missing object ID")
	}
	newInv.DigestAlgorithm = algID
	if commit.NewHEAD > 0 && newInv.Head.num != commit.NewHEAD {
		return nil, fmt.Errorf("commit requires new object version to be %d, not %d", commit.NewHEAD, newInv.Head.num)
	}
	// build new version
	newVersion := &InventoryVersion{
		State:   commit.Stage.State.Clone(),
		Created: commit.Created,
		Message: commit.Message,
	}
	if newVersion.Created.IsZero() {
		newVersion.Created = time.Now()
	}
	newVersion.Created = newVersion.Created.Truncate(time.Second)
	if commit.User.Name != "" {
		newVersion.User = &commit.User
	}
	newInv.Versions[newInv.Head] = newVersion
	// add new manifest and fixity entries
	newContentFunc := func(paths []string) []string {
		// apply user-specified path transform first
		if commit.ContentPathFunc != nil {
			paths = commit.ContentPathFunc(paths)
		}
		// prefix paths with "{head}/content"
		for i, p := range paths {
			paths[i] = path.Join(newInv.Head.String(), newInv.contentDirectory(), p)
		}
		return paths
	}
	for dig, logicPaths := range newVersion.State {
		if len(newInv.Manifest[dig]) > 0 {
			// version content already exists in the manifest
			continue
		}
		newInv.Manifest[dig] = newContentFunc(slices.Clone(logicPaths))
		if commit.Stage.FixitySource != nil {
			for fixAlg, fixDigest := range commit.Stage.FixitySource.GetFixity(dig) {
				if newInv.Fixity[fixAlg] == nil {
					newInv.Fixity[fixAlg] = DigestMap{}
				}
				for _, cp := range newInv.Manifest[dig] {
					newInv.Fixity[fixAlg][fixDigest] = append(newInv.Fixity[fixAlg][fixDigest], cp)
				}
			}
		}
	}
	if len(newInv.Fixity) == 0 {
		newInv.Fixity = nil
	}
	// check that resulting inventory is valid
	if err := newInv.Manifest.Valid(); err != nil {
		return nil, fmt.Errorf("building inventory manifest: %w", err)
	}
	return newInv, nil
}
