package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	ocflfs "github.com/ocflkit/ocfl-go/fs"
)

const (
	NamasteTypeObject = "ocfl_object" // type string for OCFL Object declaration
	NamasteTypeRoot   = "ocfl"        // type string for OCFL Storage Root declaration

	namastePrefix = "0="
)

var (
	ErrNamasteNotExist = fmt.Errorf("missing NAMASTE declaration: %w", fs.ErrNotExist)
	ErrNamasteContents = errors.New("invalid NAMASTE declaration contents")
	ErrNamasteMultiple = errors.New("multiple NAMASTE declarations found")
)

// Namaste is a NAMASTE declaration: a tag file whose name and contents
// declare a directory's type and the spec version it conforms to.
type Namaste struct {
	Type    string
	Version Spec
}

// ParseNamaste parses a file name as a NAMASTE declaration
// ("0=<type>_<version>"). The type must be lowercase letters and
// underscores; the version must be of the form <digits>.<digits>.
func ParseNamaste(name string) (Namaste, error) {
	tag, hasPrefix := strings.CutPrefix(name, namastePrefix)
	if !hasPrefix {
		return Namaste{}, ErrNamasteNotExist
	}
	sep := strings.LastIndexByte(tag, '_')
	if sep < 1 {
		return Namaste{}, ErrNamasteNotExist
	}
	typ, ver := tag[:sep], tag[sep+1:]
	for _, r := range typ {
		if r != '_' && (r < 'a' || r > 'z') {
			return Namaste{}, ErrNamasteNotExist
		}
	}
	major, minor, ok := strings.Cut(ver, ".")
	if !ok {
		return Namaste{}, ErrNamasteNotExist
	}
	for _, part := range []string{major, minor} {
		if _, err := parseDigits(part); err != nil {
			return Namaste{}, ErrNamasteNotExist
		}
	}
	return Namaste{Type: typ, Version: Spec(ver)}, nil
}

// FindNamaste returns the single NAMASTE declaration among the directory
// entries. Zero declarations is ErrNamasteNotExist; more than one is
// ErrNamasteMultiple.
func FindNamaste(entries []fs.DirEntry) (Namaste, error) {
	var match Namaste
	var count int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		decl, err := ParseNamaste(e.Name())
		if err != nil {
			continue
		}
		match = decl
		count++
	}
	switch count {
	case 0:
		return Namaste{}, ErrNamasteNotExist
	case 1:
		return match, nil
	default:
		return Namaste{}, ErrNamasteMultiple
	}
}

// Name returns the declaration's file name ("0=<type>_<version>"), or an
// empty string for an incomplete declaration.
func (n Namaste) Name() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return namastePrefix + n.Type + "_" + string(n.Version)
}

// Body returns the declaration's required file contents.
func (n Namaste) Body() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return n.Type + "_" + string(n.Version) + "\n"
}

// IsObject returns true if n declares an OCFL object.
func (n Namaste) IsObject() bool { return n.Type == NamasteTypeObject }

// IsRoot returns true if n declares an OCFL storage root.
func (n Namaste) IsRoot() bool { return n.Type == NamasteTypeRoot }

// ValidateNamaste checks that the file at name in fsys is a NAMASTE
// declaration with the contents its name requires.
func ValidateNamaste(ctx context.Context, fsys ocflfs.FS, name string) error {
	decl, err := ParseNamaste(path.Base(name))
	if err != nil {
		return err
	}
	byts, err := ocflfs.ReadAll(ctx, fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("opening %q: %w", name, ErrNamasteNotExist)
		}
		return fmt.Errorf("reading %q: %w", name, err)
	}
	if string(byts) != decl.Body() {
		return fmt.Errorf("contents of %q: %w", name, ErrNamasteContents)
	}
	return nil
}

// WriteDeclaration writes the declaration d as a tag file in the directory
// dir in fsys.
func WriteDeclaration(ctx context.Context, fsys ocflfs.FS, dir string, d Namaste) error {
	body := strings.NewReader(d.Body())
	if _, err := ocflfs.Write(ctx, fsys, path.Join(dir, d.Name()), body); err != nil {
		return fmt.Errorf("writing declaration: %w", err)
	}
	return nil
}
