// Package topic maps topic ids to backend table names and manages topic lifecycle.
package topic

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/db2q/db2q/id"
)

// DefaultPrefix is lowercase so generated names survive identifier case folding in every backend
const DefaultPrefix = "t"

const hexDigits = 32

// ErrInvalidName is returned when a table name was not produced by the codec
var ErrInvalidName = errors.New("invalid topic table name")

var prefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Codec converts between topic ids and table names.
// Decode(Encode(x)) == x for every id.
type Codec interface {
	Encode(topic id.UUID) string
	Decode(table string) (id.UUID, error)
}

// PrefixCodec names tables as prefix followed by the 32 lowercase hex digits of the id
type PrefixCodec struct {
	prefix string
}

// NewPrefixCodec validates the prefix and returns a codec
func NewPrefixCodec(prefix string) (*PrefixCodec, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &PrefixCodec{prefix: prefix}, nil
}

// DefaultCodec returns the codec using DefaultPrefix
func DefaultCodec() *PrefixCodec {
	return &PrefixCodec{prefix: DefaultPrefix}
}

// Prefix returns the table name prefix
func (c *PrefixCodec) Prefix() string {
	return c.prefix
}

// Encode is total and deterministic
func (c *PrefixCodec) Encode(topic id.UUID) string {
	return c.prefix + topic.String()
}

// Decode accepts exactly prefix + 32 lowercase hex digits
func (c *PrefixCodec) Decode(table string) (id.UUID, error) {
	if len(table) != len(c.prefix)+hexDigits || table[:len(c.prefix)] != c.prefix {
		return id.UUID{}, fmt.Errorf("%w: %q", ErrInvalidName, table)
	}
	u, err := id.Parse(table[len(c.prefix):])
	if err != nil {
		return id.UUID{}, fmt.Errorf("%w: %q: %v", ErrInvalidName, table, err)
	}
	return u, nil
}
