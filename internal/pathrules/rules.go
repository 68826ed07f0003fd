// Package pathrules holds the six path rule sets consulted by the mount and
// open hooks, and the matcher that scans them.
package pathrules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"os"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lockwatch/internal/model"
)

// DefaultPath is where the daemon looks for rules when no path is given.
const DefaultPath = "/etc/lockwatch/rules.yaml"

// Stable set names.
const (
	MountAllowRestricted = "ap_mnt_restr"
	MountAllowBaseline   = "ap_mnt_base"
	OpenAllowRestricted  = "ap_acc_restr"
	OpenAllowBaseline    = "ap_acc_base"
	OpenDenyRestricted   = "dp_acc_restr"
	OpenDenyBaseline     = "dp_acc_base"
)

// Patterns holds the raw path lists as they appear in the rules file.
type Patterns struct {
	MountAllowRestricted []string `yaml:"allowed_paths_mount_restricted"`
	MountAllowBaseline   []string `yaml:"allowed_paths_mount_baseline"`
	OpenAllowRestricted  []string `yaml:"allowed_paths_access_restricted"`
	OpenAllowBaseline    []string `yaml:"allowed_paths_access_baseline"`
	OpenDenyRestricted   []string `yaml:"denied_paths_access_restricted"`
	OpenDenyBaseline     []string `yaml:"denied_paths_access_baseline"`
}

// Rules is one immutable generation of the six path rule sets.
type Rules struct {
	mountAllowRestr *Set
	mountAllowBase  *Set
	openAllowRestr  *Set
	openAllowBase   *Set
	openDenyRestr   *Set
	openDenyBase    *Set

	hash string
}

// New builds rule sets from raw patterns. Any entry that does not fit its set
// is an error.
func New(p Patterns) (*Rules, error) {
	r := &Rules{}
	var errs []error
	fill := func(name string, paths []string) *Set {
		s := NewSet(name)
		for _, path := range paths {
			if err := s.Add(path); err != nil {
				errs = append(errs, err)
			}
		}
		return s
	}
	r.mountAllowRestr = fill(MountAllowRestricted, p.MountAllowRestricted)
	r.mountAllowBase = fill(MountAllowBaseline, p.MountAllowBaseline)
	r.openAllowRestr = fill(OpenAllowRestricted, p.OpenAllowRestricted)
	r.openAllowBase = fill(OpenAllowBaseline, p.OpenAllowBaseline)
	r.openDenyRestr = fill(OpenDenyRestricted, p.OpenDenyRestricted)
	r.openDenyBase = fill(OpenDenyBaseline, p.OpenDenyBaseline)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	r.hash = hashBytes(nil)
	return r, nil
}

// NewDefault builds the built-in rule sets.
func NewDefault() *Rules {
	r, err := New(DefaultPatterns)
	if err != nil {
		panic("pathrules: invalid default patterns: " + err.Error())
	}
	return r
}

// Load reads rules from a YAML file. Empty path means DefaultPath. A missing
// file yields the defaults. Lists present in the file replace the matching
// default list; absent lists keep their defaults.
func Load(path string) (*Rules, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	p := DefaultPatterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	r, err := New(p)
	if err != nil {
		return nil, fmt.Errorf("invalid rules in %s: %w", path, err)
	}
	r.hash = hashBytes(data)
	return r, nil
}

// Hash identifies the rules file contents this generation was built from.
func (r *Rules) Hash() string { return r.hash }

// MountAllow returns the bind-mount allow set for a level, or nil for levels
// that have none.
func (r *Rules) MountAllow(l model.PolicyLevel) *Set {
	switch l {
	case model.Restricted:
		return r.mountAllowRestr
	case model.Baseline:
		return r.mountAllowBase
	}
	return nil
}

// OpenAllow returns the file-open allow set for a level.
func (r *Rules) OpenAllow(l model.PolicyLevel) *Set {
	switch l {
	case model.Restricted:
		return r.openAllowRestr
	case model.Baseline:
		return r.openAllowBase
	}
	return nil
}

// OpenDeny returns the file-open deny set for a level.
func (r *Rules) OpenDeny(l model.PolicyLevel) *Set {
	switch l {
	case model.Restricted:
		return r.openDenyRestr
	case model.Baseline:
		return r.openDenyBase
	}
	return nil
}

// Sets yields all six sets in a fixed order.
func (r *Rules) Sets() iter.Seq[*Set] {
	return func(yield func(*Set) bool) {
		for _, s := range []*Set{
			r.mountAllowRestr, r.mountAllowBase,
			r.openAllowRestr, r.openAllowBase,
			r.openDenyRestr, r.openDenyBase,
		} {
			if !yield(s) {
				return
			}
		}
	}
}

func hashBytes(data []byte) string {
	h := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(h[:])
}
