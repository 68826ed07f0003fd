// Package policy resolves the trust level that applies to a process.
package policy

import (
	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/registry"
)

// Resolve returns the policy level for pid.
//
// NotFound means the process is not tracked. Inconsistent means the process
// record points at a container that does not exist, or at a container whose
// stored level is not an assignable one. Callers must fail closed on
// Inconsistent.
func Resolve(reg *registry.Registry, pid int32) model.PolicyLevel {
	_, level := ResolveContainer(reg, pid)
	return level
}

// ResolveContainer is Resolve that also returns the owning container id. The
// id is zero when the level is NotFound.
func ResolveContainer(reg *registry.Registry, pid int32) (model.ContainerID, model.PolicyLevel) {
	p, ok := reg.Processes.Lookup(pid)
	if !ok {
		return model.ContainerID{}, model.NotFound
	}
	c, ok := reg.Containers.Lookup(p.ContainerID)
	if !ok || !c.Level.Valid() {
		return p.ContainerID, model.Inconsistent
	}
	return p.ContainerID, c.Level
}
