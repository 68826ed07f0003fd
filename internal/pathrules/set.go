package pathrules

import (
	"errors"
	"fmt"
	"iter"
)

const (
	// MaxPathLen is the longest path a rule entry may hold.
	MaxPathLen = 64
	// MaxEntries is the fixed number of entries a Set can hold.
	MaxEntries = 128
)

var (
	ErrPathTooLong = errors.New("path too long")
	ErrSetFull     = errors.New("rule set full")
)

// Set is a fixed-capacity collection of path entries. A Set is filled before
// it is published to the enforcement engine and is read-only afterwards, so
// Matches takes no locks and allocates nothing.
type Set struct {
	name    string
	n       int
	entries [MaxEntries]string
}

// NewSet creates an empty set with a stable name.
func NewSet(name string) *Set {
	return &Set{name: name}
}

// Name returns the set's stable name.
func (s *Set) Name() string { return s.name }

// Len returns the number of stored entries, including empty ones.
func (s *Set) Len() int { return s.n }

// Add appends an entry. Empty entries are stored but never match.
func (s *Set) Add(path string) error {
	if len(path) > MaxPathLen {
		return fmt.Errorf("%s: %w: %q is %d bytes, max %d", s.name, ErrPathTooLong, path, len(path), MaxPathLen)
	}
	if s.n == MaxEntries {
		return fmt.Errorf("%s: %w (max %d entries)", s.name, ErrSetFull, MaxEntries)
	}
	s.entries[s.n] = path
	s.n++
	return nil
}

// All yields the stored entries. The order is unspecified.
func (s *Set) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; i < s.n && i < MaxEntries; i++ {
			if !yield(s.entries[i]) {
				return
			}
		}
	}
}

// Matches reports whether any entry matches candidate. A nil set matches
// nothing.
func (s *Set) Matches(candidate string) bool {
	if s == nil {
		return false
	}
	for i := 0; i < s.n && i < MaxEntries; i++ {
		if Match(s.entries[i], candidate) {
			return true
		}
	}
	return false
}

// Match compares one entry against a candidate path. The entry must be a
// prefix of the candidate ending on a component boundary: either the
// candidate ends right after it, the next candidate byte is '/', or the entry
// itself ends with a separator ('/' or ':'). "/etc" matches "/etc" and
// "/etc/passwd" but not "/etcx"; "pipe:" matches "pipe:[4026]".
// Empty entries never match.
func Match(entry, candidate string) bool {
	n := len(entry)
	if n == 0 || len(candidate) < n {
		return false
	}
	if candidate[:n] != entry {
		return false
	}
	if len(candidate) == n {
		return true
	}
	switch entry[n-1] {
	case '/', ':':
		return true
	}
	return candidate[n] == '/'
}
