package model

import (
	"bytes"
	"errors"
	"fmt"
)

// ContainerIDLen is the fixed size of a ContainerID, including the NUL
// terminator.
const ContainerIDLen = 64

// ErrInvalidID is returned for empty, oversized or NUL-containing ids.
var ErrInvalidID = errors.New("invalid container id")

// ContainerID is an opaque fixed-size container identifier. It is comparable
// and used directly as a registry key.
type ContainerID [ContainerIDLen]byte

// NewContainerID builds a ContainerID from its string form. The string must be
// 1 to ContainerIDLen-1 bytes long and must not contain NUL.
func NewContainerID(s string) (ContainerID, error) {
	var id ContainerID
	if s == "" {
		return id, fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(s) >= ContainerIDLen {
		return id, fmt.Errorf("%w: %d bytes, max %d", ErrInvalidID, len(s), ContainerIDLen-1)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return id, fmt.Errorf("%w: contains NUL", ErrInvalidID)
	}
	copy(id[:], s)
	return id, nil
}

// MustContainerID is NewContainerID for constants and tests.
func MustContainerID(s string) ContainerID {
	id, err := NewContainerID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether id is the zero value.
func (id ContainerID) IsZero() bool {
	return id == ContainerID{}
}

func (id ContainerID) String() string {
	n := bytes.IndexByte(id[:], 0)
	if n < 0 {
		n = len(id)
	}
	return string(id[:n])
}

// Short returns the first 12 characters, the form container runtimes print.
func (id ContainerID) Short() string {
	s := id.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (id ContainerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ContainerID) UnmarshalText(b []byte) error {
	v, err := NewContainerID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
