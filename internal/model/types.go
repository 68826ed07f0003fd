package model

import (
	"errors"
	"fmt"
)

// PolicyLevel is the trust level assigned to a container at creation.
// The numeric values of the three real levels are part of the registration
// ABI: 0=restricted, 1=baseline, 2=privileged.
type PolicyLevel int8

const (
	// Inconsistent means a process record references a container that no
	// longer exists. Hooks fail closed on it.
	Inconsistent PolicyLevel = -2
	// NotFound means the process is not tracked. Hooks allow it.
	NotFound PolicyLevel = -1

	Restricted PolicyLevel = 0
	Baseline   PolicyLevel = 1
	Privileged PolicyLevel = 2
)

// ErrInvalidLevel is returned when a policy level is outside the ABI range.
var ErrInvalidLevel = errors.New("invalid policy level")

var levelNames = map[PolicyLevel]string{
	Inconsistent: "inconsistent",
	NotFound:     "not-found",
	Restricted:   "restricted",
	Baseline:     "baseline",
	Privileged:   "privileged",
}

// LevelFromABI converts the small integer used by the registration protocol
// into a PolicyLevel. Resolver sentinels are rejected.
func LevelFromABI(v int32) (PolicyLevel, error) {
	l := PolicyLevel(v)
	if int32(l) != v || !l.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLevel, v)
	}
	return l, nil
}

// ParseLevel parses the text form of one of the three assignable levels.
func ParseLevel(s string) (PolicyLevel, error) {
	switch s {
	case "restricted":
		return Restricted, nil
	case "baseline":
		return Baseline, nil
	case "privileged":
		return Privileged, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Valid reports whether l is an assignable level (not a resolver sentinel).
func (l PolicyLevel) Valid() bool {
	return l == Restricted || l == Baseline || l == Privileged
}

func (l PolicyLevel) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int8(l))
}

// MarshalText implements encoding.TextMarshaler.
func (l PolicyLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Only assignable levels
// are accepted.
func (l *PolicyLevel) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Decision is the enforcement outcome of a hook.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Container is the value stored in the container registry.
type Container struct {
	Level PolicyLevel `cbor:"level" json:"level"`
}

// Process is the value stored in the process registry.
type Process struct {
	ContainerID ContainerID `cbor:"container_id" json:"container_id"`
	// StartTime is the process start time in clock ticks since boot, as
	// reported by procfs. Zero means unknown. It tells a restored record
	// apart from an unrelated process that was given the same pid.
	StartTime uint64 `cbor:"start_time,omitempty" json:"start_time,omitempty"`
}
