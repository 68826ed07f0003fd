// Package tracker propagates container membership from parent to child
// processes and reclaims process records when processes exit.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/registry"
	"github.com/ppiankov/lockwatch/internal/store"
)

// ErrInconsistent is returned when a tracked parent references a container
// that does not exist.
var ErrInconsistent = errors.New("parent process references a missing container")

// TaskCommLen matches the kernel's TASK_COMM_LEN, including the NUL.
const TaskCommLen = 16

// Task describes a process as seen at a trigger point.
type Task struct {
	PID       int32
	ParentPID int32
	Comm      string
}

// Tracker maintains the process registry on fork and exit.
type Tracker struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// New creates a Tracker. A nil logger discards output.
func New(reg *registry.Registry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{reg: reg, logger: logger}
}

// OnNewProcess registers child under its parent's container. It is a no-op
// when the parent is untracked or the child is already registered, so the
// same fork may be delivered more than once.
func (t *Tracker) OnNewProcess(parentPID, childPID int32, childName string) error {
	parent, ok := t.reg.Processes.Lookup(parentPID)
	if !ok {
		return nil
	}
	if _, ok := t.reg.Processes.Lookup(childPID); ok {
		return nil
	}

	if _, ok := t.reg.Containers.Lookup(parent.ContainerID); !ok {
		t.logger.Error("tracked process has no container",
			"ppid", parentPID, "pid", childPID, "container", parent.ContainerID.String())
		return fmt.Errorf("pid %d: %w: %s", parentPID, ErrInconsistent, parent.ContainerID)
	}

	// Insert rather than Update: if the other trigger point registered the
	// child in the meantime, keep its record.
	err := t.reg.Processes.Insert(childPID, model.Process{ContainerID: parent.ContainerID})
	if errors.Is(err, store.ErrExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("register pid %d: %w", childPID, err)
	}

	t.logger.Debug("new containerized process",
		"pid", childPID, "ppid", parentPID, "comm", trimComm(childName),
		"container", parent.ContainerID.String())
	return nil
}

// OnProcessExit removes pid from the registry. Absent pids are ignored.
func (t *Tracker) OnProcessExit(pid int32) {
	if err := t.reg.Processes.Delete(pid); err == nil {
		t.logger.Debug("containerized process exited", "pid", pid)
	}
}

// SchedProcessFork is the process-creation notification trigger point.
func (t *Tracker) SchedProcessFork(parent, child Task) error {
	return t.OnNewProcess(parent.PID, child.PID, child.Comm)
}

// TaskAlloc is the task-allocation security check trigger point. It is
// chained like an enforcement hook: a prior error is returned unchanged.
func (t *Tracker) TaskAlloc(task Task, prior error) error {
	err := t.OnNewProcess(task.ParentPID, task.PID, task.Comm)
	if prior != nil {
		return prior
	}
	return err
}

// SchedProcessExit is the process-exit trigger point.
func (t *Tracker) SchedProcessExit(task Task) {
	t.OnProcessExit(task.PID)
}

func trimComm(s string) string {
	if len(s) > TaskCommLen-1 {
		return s[:TaskCommLen-1]
	}
	return s
}

// ProcessSource reports live process state, typically from procfs.
type ProcessSource interface {
	Alive(pid int32) bool
	StartTime(pid int32) (uint64, bool)
	Children(pid int32) ([]int32, error)
}

// Reconcile brings a restored registry in line with the running system.
// A record is kept only if its pid is alive and still has the recorded start
// time; anything else has exited or had its pid reused, and is removed.
// Descendants forked while no tracker was running are then registered under
// their nearest tracked ancestor's container. Each pid's children are read
// at most once.
func (t *Tracker) Reconcile(src ProcessSource) (added, removed int) {
	owner := make(map[int32]model.ContainerID)
	var queue []int32
	for pid, proc := range t.reg.Processes.All() {
		if sameProcess(src, pid, proc) {
			owner[pid] = proc.ContainerID
			queue = append(queue, pid)
			continue
		}
		if t.reg.Processes.Delete(pid) == nil {
			removed++
		}
	}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		children, err := src.Children(pid)
		if err != nil {
			continue
		}
		for _, child := range children {
			if _, seen := owner[child]; seen {
				continue
			}
			proc := model.Process{ContainerID: owner[pid]}
			if st, ok := src.StartTime(child); ok {
				proc.StartTime = st
			}
			err := t.reg.Processes.Insert(child, proc)
			switch {
			case err == nil:
				added++
			case errors.Is(err, store.ErrExists):
				// Registered concurrently; its own record decides the subtree.
				if cur, ok := t.reg.Processes.Lookup(child); ok {
					proc.ContainerID = cur.ContainerID
				}
			default:
				t.logger.Warn("reconcile: cannot register descendant", "pid", child, "ancestor", pid, "error", err)
				continue
			}
			owner[child] = proc.ContainerID
			queue = append(queue, child)
		}
	}

	t.logger.Info("process registry reconciled", "added", added, "removed", removed)
	return added, removed
}

// sameProcess reports whether the live process at pid is the one proc was
// recorded for. A record without a start time cannot be verified.
func sameProcess(src ProcessSource, pid int32, proc model.Process) bool {
	if proc.StartTime == 0 || !src.Alive(pid) {
		return false
	}
	st, ok := src.StartTime(pid)
	return ok && st == proc.StartTime
}
