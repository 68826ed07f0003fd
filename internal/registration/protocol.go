// Package registration implements the calls a container-runtime agent makes
// to register containers and their processes. Each call reports its outcome
// by writing a Status into a caller-owned slot rather than returning it.
package registration

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/registry"
	"github.com/ppiankov/lockwatch/internal/store"
)

// Protocol applies registration calls to a registry.
type Protocol struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// New creates a Protocol. A nil logger discards output.
func New(reg *registry.Registry, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Protocol{reg: reg, logger: logger}
}

func write(ret *Status, s Status) {
	if ret != nil {
		*ret = s
	}
}

// AddContainer records a new container at the given level and registers its
// init process. The two inserts are not atomic: if the process insert fails
// the container record stays behind. Registering an existing id at a
// different level fails with Exists and changes nothing; at the same level
// it only registers the init process.
func (p *Protocol) AddContainer(ret *Status, id model.ContainerID, initPID int32, level int32) {
	write(ret, p.addContainer(id, initPID, level))
}

func (p *Protocol) addContainer(id model.ContainerID, initPID int32, level int32) Status {
	if id.IsZero() {
		p.logger.Warn("add container: empty id", "pid", initPID)
		return Invalid
	}
	l, err := model.LevelFromABI(level)
	if err != nil {
		p.logger.Warn("add container: rejected", "container", id.String(), "error", err)
		return StatusOf(err)
	}

	if err := p.reg.Containers.Insert(id, model.Container{Level: l}); err != nil {
		if !errors.Is(err, store.ErrExists) {
			p.logger.Error("add container: containers", "container", id.String(), "error", err)
			return StatusOf(err)
		}
		// A level never changes once set. Repeating the same registration
		// only adds the init process.
		cur, ok := p.reg.Containers.Lookup(id)
		if !ok || cur.Level != l {
			p.logger.Warn("add container: already registered with another level",
				"container", id.String(), "level", cur.Level.String(), "requested", l.String())
			return Exists
		}
	}
	if err := p.reg.Processes.Update(initPID, model.Process{ContainerID: id}); err != nil {
		p.logger.Error("add container: processes", "container", id.String(), "pid", initPID, "error", err)
		return StatusOf(err)
	}

	p.logger.Info("container added", "container", id.String(), "pid", initPID, "level", l.String())
	return OK
}

// AddProcess registers pid as a member of container id, overwriting any
// existing record for pid. The container is not required to exist yet; a
// process without its container resolves as inconsistent.
func (p *Protocol) AddProcess(ret *Status, id model.ContainerID, pid int32) {
	if id.IsZero() {
		write(ret, Invalid)
		return
	}
	if err := p.reg.Processes.Update(pid, model.Process{ContainerID: id}); err != nil {
		p.logger.Error("add process", "container", id.String(), "pid", pid, "error", err)
		write(ret, StatusOf(err))
		return
	}
	p.logger.Debug("process added", "container", id.String(), "pid", pid)
	write(ret, OK)
}

// DeleteContainer removes container id and every process that references it.
// The process scan always runs to completion; the first failure is reported
// afterwards. Deleting an unknown container succeeds.
func (p *Protocol) DeleteContainer(ret *Status, id model.ContainerID) {
	write(ret, StatusOf(p.deleteContainer(id)))
}

func (p *Protocol) deleteContainer(id model.ContainerID) error {
	var first error
	note := func(err error) {
		if first == nil {
			first = err
		}
	}

	if err := p.reg.Containers.Delete(id); err != nil {
		p.logger.Debug("delete container: not registered", "container", id.String())
	}

	removed := 0
	for pid, proc := range p.reg.Processes.All() {
		if proc.ContainerID != id {
			continue
		}
		// A concurrent exit may have reclaimed the pid already.
		if err := p.reg.Processes.Delete(pid); err != nil {
			current, ok := p.reg.Processes.Lookup(pid)
			if ok && current.ContainerID == id {
				note(fmt.Errorf("delete pid %d: %w", pid, err))
			}
			continue
		}
		removed++
	}

	if first != nil {
		p.logger.Error("delete container", "container", id.String(), "removed", removed, "error", first)
		return first
	}
	p.logger.Info("container deleted", "container", id.String(), "processes", removed)
	return nil
}
