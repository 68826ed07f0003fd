package audit

import (
	"bufio"
	"os"
)

// maxLine bounds a single audit line.
const maxLine = 1 << 20

// scanFile calls fn for each line of path, numbering lines from 1. The
// slice passed to fn is only valid until fn returns.
func scanFile(path string, fn func(num int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for num := 1; sc.Scan(); num++ {
		if err := fn(num, sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
