package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/ppiankov/lockwatch/internal/codec"
	"github.com/ppiankov/lockwatch/internal/model"
)

// snapshotVersion is bumped when the snapshot layout changes.
const snapshotVersion = 1

// snapshot is the on-disk form of a pinned registry. Tables are keyed by
// their stable names.
type snapshot struct {
	Version    int              `cbor:"version"`
	Containers []ContainerEntry `cbor:"containers"`
	Processes  []ProcessEntry   `cbor:"processes"`
}

// StartTimes reports the start time of a running process.
type StartTimes interface {
	StartTime(pid int32) (uint64, bool)
}

// Pin writes both tables to path as zstd-compressed CBOR. The file is
// written to a temporary sibling and renamed into place.
//
// When st is non-nil every process record is stamped with its start time so
// a later restore can detect pid reuse. Records whose process can no longer
// be read are left out of the snapshot.
func (r *Registry) Pin(path string, st StartTimes) error {
	snap := snapshot{
		Version:    snapshotVersion,
		Containers: r.ListContainers(),
		Processes:  stamp(r.ListProcesses(), st),
	}

	raw, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("pin: encode: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("pin: zstd: %w", err)
	}
	data := enc.EncodeAll(raw, nil)
	enc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("pin: create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("pin: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pin: rename: %w", err)
	}
	return nil
}

// Restore loads a snapshot written by Pin into r. A missing file is not an
// error and leaves r untouched. Entries are inserted with Update, so restoring
// into a non-empty registry overwrites matching keys. Capacity errors abort
// the restore.
func (r *Registry) Restore(path string) (containers, processes int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("restore: read: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, 0, fmt.Errorf("restore: zstd: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("restore: decompress: %w", err)
	}

	var snap snapshot
	if err := codec.Unmarshal(raw, &snap); err != nil {
		return 0, 0, fmt.Errorf("restore: decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, 0, fmt.Errorf("restore: unsupported snapshot version %d", snap.Version)
	}

	for _, c := range snap.Containers {
		if !c.Level.Valid() {
			return containers, processes, fmt.Errorf("restore: container %s: invalid level %d", c.ID, c.Level)
		}
		if err := r.Containers.Update(c.ID, model.Container{Level: c.Level}); err != nil {
			return containers, processes, fmt.Errorf("restore: %w", err)
		}
		containers++
	}
	for _, p := range snap.Processes {
		if err := r.Processes.Update(p.PID, model.Process{ContainerID: p.ContainerID, StartTime: p.StartTime}); err != nil {
			return containers, processes, fmt.Errorf("restore: %w", err)
		}
		processes++
	}
	return containers, processes, nil
}

func stamp(procs []ProcessEntry, st StartTimes) []ProcessEntry {
	if st == nil {
		return procs
	}
	out := procs[:0]
	for _, p := range procs {
		t, ok := st.StartTime(p.PID)
		if !ok || (p.StartTime != 0 && p.StartTime != t) {
			continue
		}
		p.StartTime = t
		out = append(out, p)
	}
	return out
}
