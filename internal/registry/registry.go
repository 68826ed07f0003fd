// Package registry holds the two shared membership tables: containers
// (ContainerID to trust level) and processes (pid to owning ContainerID).
// The registration protocol, the lifecycle tracker and the enforcement hooks
// all operate on the same Registry instance.
package registry

import (
	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/store"
)

// Stable table names.
const (
	ContainersTable = "containers"
	ProcessesTable  = "processes"
)

// DefaultMaxEntries matches the kernel's default pid_max, which bounds how
// many processes (and therefore containers) can exist at once.
const DefaultMaxEntries = 32768

// Capacity fixes the size of both tables at construction.
type Capacity struct {
	Containers int `yaml:"containers"`
	Processes  int `yaml:"processes"`
}

// DefaultCapacity returns the capacity used when none is configured.
func DefaultCapacity() Capacity {
	return Capacity{Containers: DefaultMaxEntries, Processes: DefaultMaxEntries}
}

// Registry is the pair of membership tables.
type Registry struct {
	Containers *store.Table[model.ContainerID, model.Container]
	Processes  *store.Table[int32, model.Process]
}

// New creates empty tables with the given capacity. Zero fields fall back to
// DefaultMaxEntries.
func New(c Capacity) *Registry {
	if c.Containers <= 0 {
		c.Containers = DefaultMaxEntries
	}
	if c.Processes <= 0 {
		c.Processes = DefaultMaxEntries
	}
	return &Registry{
		Containers: store.NewTable[model.ContainerID, model.Container](ContainersTable, c.Containers),
		Processes:  store.NewTable[int32, model.Process](ProcessesTable, c.Processes),
	}
}

// ContainerEntry is one row of a container listing.
type ContainerEntry struct {
	ID    model.ContainerID `cbor:"id" json:"id"`
	Level model.PolicyLevel `cbor:"level" json:"level"`
}

// ProcessEntry is one row of a process listing.
type ProcessEntry struct {
	PID         int32             `cbor:"pid" json:"pid"`
	ContainerID model.ContainerID `cbor:"container_id" json:"container_id"`
	StartTime   uint64            `cbor:"start_time,omitempty" json:"start_time,omitempty"`
}

// ListContainers returns every container record.
func (r *Registry) ListContainers() []ContainerEntry {
	out := make([]ContainerEntry, 0, r.Containers.Len())
	for id, c := range r.Containers.All() {
		out = append(out, ContainerEntry{ID: id, Level: c.Level})
	}
	return out
}

// ListProcesses returns every process record.
func (r *Registry) ListProcesses() []ProcessEntry {
	out := make([]ProcessEntry, 0, r.Processes.Len())
	for pid, p := range r.Processes.All() {
		out = append(out, ProcessEntry{PID: pid, ContainerID: p.ContainerID, StartTime: p.StartTime})
	}
	return out
}
