package id

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a textual id is not 32 hex digits
var ErrMalformed = errors.New("malformed id")

// UUID is a 128-bit identifier carried as two 64-bit halves.
// Topic ids and request ids both use it.
type UUID struct {
	Hi uint64 `msgpack:"hi"`
	Lo uint64 `msgpack:"lo"`
}

// IsZero reports whether both halves are zero
func (u UUID) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// String renders the id as 32 lowercase hex digits, most significant half first
func (u UUID) String() string {
	return fmt.Sprintf("%016x%016x", u.Hi, u.Lo)
}

// Parse decodes exactly 32 lowercase hex digits
func Parse(s string) (UUID, error) {
	if len(s) != 32 {
		return UUID{}, fmt.Errorf("%w: want 32 hex digits, got %d characters", ErrMalformed, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return UUID{}, fmt.Errorf("%w: invalid character %q at %d", ErrMalformed, c, i)
		}
	}

	hi, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	lo, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return UUID{Hi: hi, Lo: lo}, nil
}

// ParseLoose accepts user input: surrounding whitespace, dashes and uppercase digits are tolerated
func ParseLoose(s string) (UUID, error) {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	return Parse(s)
}
