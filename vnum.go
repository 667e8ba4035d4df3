package ocfl

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrVNumInvalid = errors.New(`invalid version`)
	ErrVNumPadding = errors.New(`inconsistent version padding in version sequence`)
	ErrVNumMissing = errors.New(`missing version in version sequence`)
	ErrVerEmpty    = errors.New("no versions found")
)

// VNum is an OCFL object version number: a positive sequence number (1,2,3...)
// plus a padding. The padding is the number of digits, including leading
// zeros, used when the version number is printed ("v02" has padding 2). A
// padding of zero means no leading zeros and no limit on the sequence number;
// a non-zero padding caps the largest sequence number that can be
// represented.
type VNum struct {
	num     int
	padding int
}

// V constructs a VNum from a sequence number and, optionally, a padding (any
// further arguments are ignored). With no arguments it returns the zero
// value.
func V(ns ...int) VNum {
	v := VNum{}
	if len(ns) > 0 {
		v.num = ns[0]
	}
	if len(ns) > 1 {
		v.padding = ns[1]
	}
	return v
}

// ParseVNum parses a version directory name ("v3", "v0042") and stores the
// result in the VNum pointed to by vn. Names without the 'v' prefix, with
// non-digit characters, or naming version zero are rejected with
// ErrVNumInvalid.
func ParseVNum(name string, vn *VNum) error {
	digits, ok := strings.CutPrefix(name, "v")
	if !ok || digits == "" {
		return fmt.Errorf("%s: %w", name, ErrVNumInvalid)
	}
	num, err := strconv.Atoi(digits)
	if err != nil || num < 1 || strings.ContainsAny(digits, "+- .") {
		return fmt.Errorf("%s: %w", name, ErrVNumInvalid)
	}
	vn.num = num
	vn.padding = 0
	if digits[0] == '0' {
		vn.padding = len(digits)
	}
	return nil
}

// MustParseVNum is like ParseVNum except it returns the parsed VNum and
// panics if str is not a valid version name.
func MustParseVNum(str string) VNum {
	var v VNum
	if err := ParseVNum(str, &v); err != nil {
		panic(err)
	}
	return v
}

// Num returns the version's sequence number.
func (v VNum) Num() int { return v.num }

// Padding returns the version's padding.
func (v VNum) Padding() int { return v.padding }

// IsZero returns true if v is the zero value.
func (v VNum) IsZero() bool { return v == VNum{} }

// Next returns the version after v, keeping v's padding. If the padding
// can't represent the next sequence number, an error is returned.
func (v VNum) Next() (VNum, error) {
	next := VNum{num: v.num + 1, padding: v.padding}
	if next.overflows() {
		return VNum{}, fmt.Errorf("next version: padding overflow: %w", ErrVNumInvalid)
	}
	return next, nil
}

// String formats v as a version directory name, with leading zeros as
// required by the padding.
func (v VNum) String() string {
	digits := strconv.Itoa(v.num)
	if pad := v.padding - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return "v" + digits
}

// Valid returns an error unless v has a positive sequence number that fits
// in its padding.
func (v VNum) Valid() error {
	if v.num < 1 || v.overflows() {
		return fmt.Errorf("%w: num=%d, padding=%d", ErrVNumInvalid, v.num, v.padding)
	}
	return nil
}

// overflows reports whether v's sequence number needs more digits than the
// padding allows. The largest number a padding can represent keeps one
// leading zero ("v0999" is the last version with padding 4).
func (v VNum) overflows() bool {
	return v.padding > 0 && len(strconv.Itoa(v.num)) > v.padding-1
}

// Lineage returns the full sequence of versions from v1 up to and including
// v, all with v's padding.
func (v VNum) Lineage() VNums {
	nums := make(VNums, 0, v.num)
	for i := 1; i <= v.num; i++ {
		nums = append(nums, VNum{num: i, padding: v.padding})
	}
	return nums
}

// UnmarshalText implements encoding.TextUnmarshaler for VNum.
func (v *VNum) UnmarshalText(text []byte) error {
	return ParseVNum(string(text), v)
}

// MarshalText implements encoding.TextMarshaler for VNum.
func (v VNum) MarshalText() ([]byte, error) {
	if err := v.Valid(); err != nil {
		return nil, err
	}
	return []byte(v.String()), nil
}

// VNums is a sortable slice of VNums.
type VNums []VNum

var _ sort.Interface = (VNums)(nil)

func (vs VNums) Len() int           { return len(vs) }
func (vs VNums) Less(i, j int) bool { return vs[i].num < vs[j].num }
func (vs VNums) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }

// Valid checks that vs is a complete version sequence: v1 through head with
// no gaps, consistent padding throughout, and no padding overflow. The
// receiver is sorted in place if needed.
func (vs VNums) Valid() error {
	if len(vs) == 0 {
		return ErrVerEmpty
	}
	sort.Sort(vs)
	padding := vs[0].padding
	for i, v := range vs {
		switch {
		case v.num != i+1:
			return fmt.Errorf("%w: %s", ErrVNumMissing, V(i+1, padding))
		case v.padding != padding:
			return ErrVNumPadding
		}
	}
	return vs.Head().Valid()
}

// Head returns the largest version in vs, or the zero value if vs is empty.
func (vs VNums) Head() VNum {
	if len(vs) == 0 {
		return VNum{}
	}
	return vs[len(vs)-1]
}

// Padding returns the padding shared by versions in vs.
func (vs VNums) Padding() int {
	if len(vs) == 0 {
		return 0
	}
	return vs[0].padding
}
