package ocfl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/carlmjohnson/be"
	"github.com/ocflkit/ocfl-go/fs/memfs"
)

// buildTestInventory returns an inventory with the given number of versions,
// each adding one file.
func buildTestInventory(numVersions int) *Inventory {
	inv := &Inventory{
		ID:              "info:test",
		Type:            Spec1_1.InventoryType(),
		DigestAlgorithm: "sha512",
		Head:            V(numVersions),
		Manifest:        DigestMap{},
		Versions:        InventoryVersions{},
	}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := DigestMap{}
	for i := 1; i <= numVersions; i++ {
		dig := fmt.Sprintf("%0128d", i) // stand-in digest
		name := fmt.Sprintf("file-%d.txt", i)
		inv.Manifest[dig] = []string{fmt.Sprintf("v%d/content/%s", i, name)}
		state[dig] = []string{name}
		inv.Versions[V(i)] = &InventoryVersion{
			Created: created.Add(time.Duration(i) * time.Hour),
			Message: fmt.Sprintf("version %d", i),
			State:   state.Clone(),
			User:    &User{Name: "T", Address: "mailto:t@example.org"},
		}
	}
	return inv
}

func TestInventoryMarshalVersionOrder(t *testing.T) {
	// version keys are serialized in numeric order, even without padding
	inv := buildTestInventory(11)
	byts, dig, err := inv.marshal()
	be.NilErr(t, err)
	be.Nonzero(t, dig)
	json := string(byts)
	prev := -1
	for i := 1; i <= 11; i++ {
		idx := strings.Index(json, fmt.Sprintf("%q:", fmt.Sprintf("v%d", i)))
		be.True(t, idx > prev)
		prev = idx
	}
}

func TestInventoryMarshalDeterministic(t *testing.T) {
	inv := buildTestInventory(3)
	byts1, dig1, err := inv.marshal()
	be.NilErr(t, err)
	byts2, dig2, err := inv.marshal()
	be.NilErr(t, err)
	be.Equal(t, string(byts1), string(byts2))
	be.Equal(t, dig1, dig2)
	// round trip through newStoredInventory preserves bytes and digest
	stored, err := newStoredInventory(byts1)
	be.NilErr(t, err)
	be.Equal(t, dig1, stored.Digest())
	be.Equal(t, string(byts1), string(stored.Bytes()))
}

func TestInventorySidecar(t *testing.T) {
	ctx := context.Background()
	fsys := memfs.New()
	inv := buildTestInventory(2)
	be.NilErr(t, writeInventory(ctx, fsys, inv, "obj"))
	// read back with sidecar verification
	stored, err := ReadInventory(ctx, fsys, "obj")
	be.NilErr(t, err)
	be.Equal(t, inv.ID, stored.ID)
	be.Equal(t, 2, stored.Head.Num())
	// corrupting the sidecar makes the read fail
	_, err = fsys.Write(ctx, "obj/inventory.json.sha512", strings.NewReader(strings.Repeat("0", 128)+" inventory.json\n"))
	be.NilErr(t, err)
	_, err = ReadInventory(ctx, fsys, "obj")
	be.True(t, err != nil)
	// garbage sidecar contents are a distinct error
	_, err = fsys.Write(ctx, "obj/inventory.json.sha512", strings.NewReader("not a sidecar"))
	be.NilErr(t, err)
	_, err = ReadInventory(ctx, fsys, "obj")
	be.True(t, errors.Is(err, ErrInvSidecarContents))
}

func TestReadSidecarDigest(t *testing.T) {
	ctx := context.Background()
	fsys := memfs.New()
	_, err := fsys.Write(ctx, "inventory.json.sha512", strings.NewReader("abc123 inventory.json\n"))
	be.NilErr(t, err)
	dig, err := ReadSidecarDigest(ctx, fsys, "inventory.json.sha512")
	be.NilErr(t, err)
	be.Equal(t, "abc123", dig)
	// the sidecar file name must include "inventory.json."
	_, err = ReadSidecarDigest(ctx, fsys, "some-other-file")
	be.True(t, errors.Is(err, ErrInvSidecarFilename))
}
