// Package units parses memory sizes and addresses given on the command line.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// ParseSize parses a size string as number[gGmMkK]. The multiplier is optional,
// and if not set, the unit passed in is used. The number can be any base.
func ParseSize(s, unit string) (uint64, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return 0, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(strings.ReplaceAll(sz, "_", ""), 0, 64)
	if err != nil {
		return 0, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	var shift uint
	switch unit {
	case "G", "g":
		shift = 30
	case "M", "m":
		shift = 20
	case "K", "k":
		shift = 10
	case "":
	default:
		return 0, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	if amt > math.MaxUint64>>shift {
		return 0, fmt.Errorf("%q:%w", s, strconv.ErrRange)
	}
	return amt << shift, nil
}

// Size is a pflag.Value holding a byte count.
type Size uint64

var _ pflag.Value = (*Size)(nil)

func (s *Size) String() string { return fmt.Sprintf("%#x", uint64(*s)) }
func (s *Size) Type() string   { return "size" }

func (s *Size) Set(v string) error {
	n, err := ParseSize(v, "")
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// SizeVarP defines a size flag with a shorthand.
func SizeVarP(fs *pflag.FlagSet, p *uint64, name, shorthand string, value uint64, usage string) {
	*p = value
	fs.VarP((*Size)(p), name, shorthand, usage)
}
