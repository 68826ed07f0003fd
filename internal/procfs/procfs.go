// Package procfs inspects running processes through /proc. Linux-only at
// runtime.
package procfs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultRoot is the procfs mount point.
const DefaultRoot = "/proc"

// FS reads process information from a procfs tree.
type FS struct {
	root string
}

// New returns an FS rooted at root. An empty root means DefaultRoot.
func New(root string) FS {
	if root == "" {
		root = DefaultRoot
	}
	return FS{root: root}
}

func (fs FS) path(pid int32, elem ...string) string {
	return filepath.Join(append([]string{fs.root, strconv.Itoa(int(pid))}, elem...)...)
}

// Alive reports whether pid exists. It probes with signal 0, so a process
// owned by another user still counts as alive.
func (fs FS) Alive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Exe returns the resolved executable path of pid.
func (fs FS) Exe(pid int32) (string, error) {
	exe, err := os.Readlink(fs.path(pid, "exe"))
	if err != nil {
		return "", fmt.Errorf("read exe of pid %d: %w", pid, err)
	}
	return exe, nil
}

// Comm returns the short command name of pid.
func (fs FS) Comm(pid int32) (string, error) {
	data, err := os.ReadFile(fs.path(pid, "comm"))
	if err != nil {
		return "", fmt.Errorf("read comm of pid %d: %w", pid, err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// Cmdline returns the command line of pid with arguments joined by spaces.
func (fs FS) Cmdline(pid int32) (string, error) {
	data, err := os.ReadFile(fs.path(pid, "cmdline"))
	if err != nil {
		return "", fmt.Errorf("read cmdline of pid %d: %w", pid, err)
	}
	var args []string
	for _, p := range strings.Split(string(data), "\x00") {
		if p != "" {
			args = append(args, p)
		}
	}
	return strings.Join(args, " "), nil
}

// Children returns the direct children of pid across all its threads.
func (fs FS) Children(pid int32) ([]int32, error) {
	taskDir := fs.path(pid, "task")
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return nil, fmt.Errorf("read tasks of pid %d: %w", pid, err)
	}

	seen := make(map[int32]bool)
	var out []int32
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(taskDir, entry.Name(), "children"))
		if err != nil {
			continue
		}
		for _, field := range strings.Fields(string(data)) {
			child, err := strconv.ParseInt(field, 10, 32)
			if err != nil || seen[int32(child)] {
				continue
			}
			seen[int32(child)] = true
			out = append(out, int32(child))
		}
	}
	return out, nil
}

// statStartTime is the 1-based index of starttime in /proc/<pid>/stat.
const statStartTime = 22

// StartTime returns the start time of pid in clock ticks since boot. The
// second result is false if the process is gone or its stat is unreadable.
func (fs FS) StartTime(pid int32) (uint64, bool) {
	data, err := os.ReadFile(fs.path(pid, "stat"))
	if err != nil {
		return 0, false
	}
	// comm (field 2) may contain spaces and parentheses; fields resume after
	// the last ')'.
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data[end+1:]))
	if len(fields) < statStartTime-2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[statStartTime-3], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
