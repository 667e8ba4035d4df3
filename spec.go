package ocfl

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

const (
	invTypePrefix = "https://ocfl.io/"
	invTypeSuffix = "/spec/#inventory"
)

var (
	ErrSpecInvalid  = errors.New("invalid OCFL spec version")
	ErrSpecNotFound = errors.New("OCFL spec file not found")
)

// The plain-text specification documents written into new storage roots.
//
//go:embed specs/*
var specFS embed.FS

// Spec is an OCFL specification number: a major and minor number separated by
// '.', with an optional '-' suffix for drafts (e.g., "1.1", "2.0-draft").
type Spec string

// Empty returns true if s is the empty string.
func (s Spec) Empty() bool { return s == "" }

// Valid returns ErrSpecInvalid unless s is a well-formed spec number.
func (s Spec) Valid() error {
	_, _, _, err := s.parse()
	return err
}

// parse splits s into major/minor numbers and a draft suffix.
func (s Spec) parse() (major int, minor int, suffix string, err error) {
	numPart, suffix, hasSuffix := strings.Cut(string(s), "-")
	if hasSuffix && !isWord(suffix) {
		return 0, 0, "", ErrSpecInvalid
	}
	majStr, minStr, hasDot := strings.Cut(numPart, ".")
	if !hasDot || len(majStr) != 1 {
		return 0, 0, "", ErrSpecInvalid
	}
	if major, err = parseDigits(majStr); err != nil {
		return 0, 0, "", err
	}
	if minor, err = parseDigits(minStr); err != nil {
		return 0, 0, "", err
	}
	return major, minor, suffix, nil
}

func parseDigits(str string) (int, error) {
	if str == "" {
		return 0, ErrSpecInvalid
	}
	for _, r := range str {
		if r < '0' || r > '9' {
			return 0, ErrSpecInvalid
		}
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0, ErrSpecInvalid
	}
	return n, nil
}

// isWord returns true if str is a non-empty string of word characters
// (letters, digits, '_').
func isWord(str string) bool {
	if str == "" {
		return false
	}
	for _, r := range str {
		ok := r == '_' ||
			(r >= '0' && r <= '9') ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}

// Cmp orders spec numbers: it returns -1, 0, or 1 as s is less than, equal
// to, or greater than other. Numbers are compared major then minor; at the
// same number, a draft (suffixed) spec sorts before the final (unsuffixed)
// one. A valid spec is always greater than an invalid one; Cmp panics if
// both are invalid.
func (s Spec) Cmp(other Spec) int {
	maj1, min1, suf1, err1 := s.parse()
	maj2, min2, suf2, err2 := other.parse()
	switch {
	case err1 != nil && err2 != nil:
		panic(errors.Join(err1, err2))
	case err1 != nil:
		return -1
	case err2 != nil:
		return 1
	}
	if c := cmpInt(maj1, maj2); c != 0 {
		return c
	}
	if c := cmpInt(min1, min2); c != 0 {
		return c
	}
	switch {
	case suf1 == "" && suf2 != "":
		return 1
	case suf1 != "" && suf2 == "":
		return -1
	default:
		return 0
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// InventoryType returns the inventory type tag for the spec.
func (s Spec) InventoryType() InventoryType {
	return InventoryType{Spec: s}
}

// WriteSpecFile writes the specification document for spec number n into the
// directory dir in fsys, returning the path of the written file. An error is
// returned if the file already exists or if no document for n is bundled
// with this module.
func WriteSpecFile(ctx context.Context, fsys ocflfs.WriteFS, dir string, n Spec) (string, error) {
	if err := n.Valid(); err != nil {
		return "", err
	}
	src := "specs/ocfl_" + string(n) + ".txt"
	f, err := specFS.Open(src)
	if err != nil {
		return "", fmt.Errorf("OCFL v%s: %w", n, ErrSpecNotFound)
	}
	defer f.Close()
	dst := path.Join(dir, path.Base(src))
	if existing, err := fsys.OpenFile(ctx, dst); err == nil {
		existing.Close()
		return "", fmt.Errorf("already exists: %s", dst)
	}
	if _, err := fsys.Write(ctx, dst, f); err != nil {
		return "", fmt.Errorf("writing OCFL spec file %q: %w", dst, err)
	}
	return dst, nil
}

// InventoryType is the value of an inventory's `type` field: a URI naming
// the inventory section of an OCFL specification, e.g.,
// "https://ocfl.io/1.1/spec/#inventory".
type InventoryType struct {
	Spec
}

func (invT InventoryType) String() string {
	return invTypePrefix + string(invT.Spec) + invTypeSuffix
}

// UnmarshalText implements encoding.TextUnmarshaler for InventoryType.
func (invT *InventoryType) UnmarshalText(text []byte) error {
	spec, prefixOK := strings.CutPrefix(string(text), invTypePrefix)
	spec, suffixOK := strings.CutSuffix(spec, invTypeSuffix)
	if !prefixOK || !suffixOK {
		return fmt.Errorf("%w: inventory type: %q", ErrSpecInvalid, string(text))
	}
	if err := Spec(spec).Valid(); err != nil {
		return err
	}
	invT.Spec = Spec(spec)
	return nil
}

// MarshalText implements encoding.TextMarshaler for InventoryType.
func (invT InventoryType) MarshalText() ([]byte, error) {
	return []byte(invT.String()), nil
}
