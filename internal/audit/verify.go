package audit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// VerifyResult is the outcome of checking a log's hash chain.
type VerifyResult struct {
	Valid bool `json:"valid"`
	Lines int  `json:"lines"`
	// Head is the hash the next appended entry must carry.
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

type chainError struct {
	line int
	msg  string
}

func (e *chainError) Error() string { return e.msg }

// Verify reads the log at path and checks that every entry references the
// hash of the line before it. The first broken link is reported.
func Verify(path string) VerifyResult {
	res := VerifyResult{Head: GenesisHash}
	err := scanFile(path, func(num int, line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return &chainError{num, fmt.Sprintf("line is not an entry: %v", err)}
		}
		switch {
		case e.PrevHash == res.Head:
		case num == 1:
			return &chainError{num, fmt.Sprintf("first entry links to %q instead of the genesis hash", e.PrevHash)}
		default:
			return &chainError{num, fmt.Sprintf("broken link: prev_hash %s, previous line hashes to %s", e.PrevHash, res.Head)}
		}
		res.Head = HashLine(line)
		res.Lines = num
		return nil
	})

	var ce *chainError
	switch {
	case err == nil:
		res.Valid = true
		return res
	case errors.As(err, &ce):
		return VerifyResult{Lines: ce.line - 1, Error: ce.msg, ErrorLine: ce.line}
	default:
		return VerifyResult{Error: err.Error()}
	}
}
