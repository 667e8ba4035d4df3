// Package ocfl implements the Oxford Common File Layout (OCFL) specifications
// (v1.0 and v1.1) for building and accessing repositories of versioned,
// content-addressed digital objects.
package ocfl

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrOCFLNotImplemented is returned when an OCFL spec number has no registered
// implementation.
var ErrOCFLNotImplemented = errors.New("unimplemented or missing version of the OCFL specification")

const (
	// Spec1_0 is the OCFL v1.0 specification number
	Spec1_0 = Spec("1.0")
	// Spec1_1 is the OCFL v1.1 specification number
	Spec1_1 = Spec("1.1")
)

// OCFL is an interface implemented by types that implement a specific version
// of the OCFL specification.
type OCFL interface {
	// Spec returns the implemented specification number.
	Spec() Spec
	// ValidateInventoryBytes fully validates bytes as a serialized inventory
	// for the implemented spec.
	ValidateInventoryBytes([]byte) (*StoredInventory, *Validation)
	// ValidateObjectRoot validates the object's root contents (NAMASTE, root
	// inventory, sidecar, and the set of entries in the root directory).
	ValidateObjectRoot(ctx context.Context, vldr *ObjectValidation, state *ObjectState) error
	// ValidateObjectVersion validates a version directory and its inventory.
	ValidateObjectVersion(ctx context.Context, vldr *ObjectValidation, vnum VNum, verInv *StoredInventory, prevInv *StoredInventory) error
	// ValidateObjectContent validates the object's content files against the
	// root inventory's manifest.
	ValidateObjectContent(ctx context.Context, vldr *ObjectValidation) error
}

// ocfls is the registry of available OCFL implementations, keyed by spec.
var ocfls = map[Spec]OCFL{}

// RegisterOCFL adds an OCFL implementation to the package's registry,
// overwriting any implementation previously registered for the same spec.
// Implementations for v1.0 and v1.1 are registered automatically.
func RegisterOCFL(imp OCFL) {
	ocfls[imp.Spec()] = imp
}

// getOCFL returns the OCFL implementation for the given spec, or an error if
// the spec has no registered implementation.
func getOCFL(spec Spec) (OCFL, error) {
	if imp, ok := ocfls[spec]; ok {
		return imp, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrOCFLNotImplemented, string(spec))
}

// mustGetOCFL is like getOCFL, except it panics if the spec has no registered
// implementation.
func mustGetOCFL(spec Spec) OCFL {
	imp, err := getOCFL(spec)
	if err != nil {
		panic(err)
	}
	return imp
}

// defaultOCFL returns the registered OCFL implementation with the highest
// spec number.
func defaultOCFL() OCFL {
	specs := make([]string, 0, len(ocfls))
	for spec := range ocfls {
		specs = append(specs, string(spec))
	}
	sort.Strings(specs)
	if len(specs) < 1 {
		panic("no registered OCFL implementations")
	}
	return ocfls[Spec(specs[len(specs)-1])]
}

func init() {
	RegisterOCFL(&ocflV1{spec: Spec1_0})
	RegisterOCFL(&ocflV1{spec: Spec1_1})
}
