// Package extension implements OCFL community extensions: storage root
// layouts and additional digest algorithm registries.
package extension

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	// extension name key for config.json
	extensionName = "extensionName"
	// extensions directory name
	extensions = "extensions"
)

var (
	ErrMarshal         = errors.New("extension config doesn't include '" + extensionName + "' string")
	ErrNotLayout       = errors.New("not a layout extension")
	ErrUnknown         = errors.New("unrecognized extension")
	ErrInvalidLayoutID = errors.New("invalid object id for layout")
)

// register is the global register of extension constructors. It includes the
// built-in extensions plus any added with Register.
var register = map[string]func() Extension{
	ext0001: Ext0001,
	ext0002: Ext0002,
	ext0003: Ext0003,
	ext0004: Ext0004,
	ext0006: Ext0006,
	ext0007: Ext0007,
	ext0009: Ext0009,
}

// Register adds the extension returned by extfunc to the global extension
// register. The extension instance returned by extfunc must have default
// values.
func Register(extfunc func() Extension) {
	ext := extfunc()
	register[ext.Name()] = extfunc
}

// Registered returns the names of all registered extensions.
func Registered() []string {
	names := make([]string, 0, len(register))
	for name := range register {
		names = append(names, name)
	}
	return names
}

// IsRegistered returns true if the named extension is present in the
// register.
func IsRegistered(name string) bool {
	_, ok := register[name]
	return ok
}

// Unmarshal decodes the extension config json and returns a new extension
// instance.
func Unmarshal(jsonBytes []byte) (Extension, error) {
	return DefaultRegistry().Unmarshal(jsonBytes)
}

// UnmarshalLayout is like Unmarshal with an additional check that the
// extension is a layout.
func UnmarshalLayout(jsonBytes []byte) (Layout, error) {
	ext, err := Unmarshal(jsonBytes)
	if err != nil {
		return nil, err
	}
	if layout, isLayout := ext.(Layout); isLayout {
		return layout, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotLayout, ext.Name())
}

// Extension is implemented by types that represent specific OCFL Extensions.
// See https://github.com/OCFL/extensions
type Extension interface {
	Name() string // Name returns the extension name
}

// Layout is an extension that provides a function for resolving object IDs to
// storage root paths
type Layout interface {
	Extension
	Resolve(id string) (path string, err error)
}

// Base is a type for embedding in extension implementations that only need to
// store and marshal the extension name.
type Base struct {
	ExtensionName string `json:"extensionName"`
}

// Name implements Extension for Base
func (b Base) Name() string { return b.ExtensionName }

func getAlg(name string) hash.Hash {
	switch name {
	case `sha512`:
		return sha512.New()
	case `sha256`:
		return sha256.New()
	case `sha1`:
		return sha1.New()
	case `md5`:
		return md5.New()
	case `blake2b-512`:
		h, err := blake2b.New512(nil)
		if err != nil {
			panic("creating new blake2b hash")
		}
		return h
	default:
		return nil
	}
}
