package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Filter selects entries from a log. Zero fields match everything.
type Filter struct {
	Container string
	PID       int32
	Hook      string
	Decision  string
	From      time.Time
	To        time.Time
}

func (f Filter) match(e Entry) bool {
	if f.Container != "" && e.Container != f.Container {
		return false
	}
	if f.PID != 0 && e.PID != f.PID {
		return false
	}
	if f.Hook != "" && e.Hook != f.Hook {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// Summary counts the entries returned by Query.
type Summary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	DenyCount      int            `json:"deny_count"`
	ByHook         map[string]int `json:"by_hook"`
	FirstTimestamp string         `json:"first_timestamp,omitempty"`
	LastTimestamp  string         `json:"last_timestamp,omitempty"`
}

func (s *Summary) add(e Entry) {
	s.Total++
	switch e.Decision {
	case "allow":
		s.AllowCount++
	case "deny":
		s.DenyCount++
	}
	if s.ByHook == nil {
		s.ByHook = make(map[string]int)
	}
	s.ByHook[e.Hook]++
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

// QueryResult holds the matching entries in log order.
type QueryResult struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Query reads the log at path and returns entries matching f. Malformed
// lines are skipped; use Verify to detect them.
func Query(path string, f Filter) (*QueryResult, error) {
	res := &QueryResult{}
	err := scanFile(path, func(_ int, line []byte) error {
		var e Entry
		if json.Unmarshal(line, &e) != nil || !f.match(e) {
			return nil
		}
		res.Entries = append(res.Entries, e)
		res.Summary.add(e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return res, nil
}
