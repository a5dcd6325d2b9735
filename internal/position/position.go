// Package position encodes reading positions.
//
// A position currently names a whole section. Its external form is a
// synthetic CFI, epubcfi(/N!/) with N = 2*section+2, kept so saved
// bookmarks stay readable by other clients of the same storage.
package position

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCFI reports a string that is not a synthetic section CFI.
var ErrInvalidCFI = errors.New("position: invalid cfi")

const (
	cfiPrefix = "epubcfi(/"
	cfiSuffix = "!/)"
)

// Position identifies a place in a book.
type Position struct {
	Section int `json:"section"`
}

// AtSection returns the position at the start of a section.
func AtSection(index int) Position {
	return Position{Section: index}
}

// CFI formats the position as epubcfi(/N!/).
func (p Position) CFI() string {
	return cfiPrefix + strconv.Itoa(p.Section*2+2) + cfiSuffix
}

// InRange reports whether the section exists in a book of total sections.
func (p Position) InRange(total int) bool {
	return p.Section >= 0 && p.Section < total
}

func (p Position) String() string {
	return p.CFI()
}

// ParseCFI inverts CFI. N must be an even integer of at least 2.
func ParseCFI(s string) (Position, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, cfiPrefix) || !strings.HasSuffix(s, cfiSuffix) {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidCFI, s)
	}
	step := s[len(cfiPrefix) : len(s)-len(cfiSuffix)]
	if step == "" || strings.TrimLeft(step, "0123456789") != "" {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidCFI, s)
	}
	n, err := strconv.Atoi(step)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidCFI, s)
	}
	if n < 2 || n%2 != 0 {
		return Position{}, fmt.Errorf("%w: step %d is not an even element index", ErrInvalidCFI, n)
	}
	return Position{Section: (n - 2) / 2}, nil
}

// Fraction is index/total, the progress value reported for a section. It is
// 0 for an empty book.
func Fraction(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(index) / float64(total)
}

// FromFraction maps f onto a section: floor(f*total), clamped into range.
func FromFraction(f float64, total int) int {
	if total <= 0 || math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 1 {
		return total - 1
	}
	return min(int(math.Floor(f*float64(total))), total-1)
}
