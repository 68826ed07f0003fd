package api

import "github.com/ppiankov/lockwatch/internal/registration"

type AddContainerRequest struct {
	ID    string `cbor:"id"`
	PID   int32  `cbor:"pid"`
	Level int32  `cbor:"level"`
}

type AddProcessRequest struct {
	ID  string `cbor:"id"`
	PID int32  `cbor:"pid"`
}

type DeleteContainerRequest struct {
	ID string `cbor:"id"`
}

// StatusResponse carries the status written by a registration call.
type StatusResponse struct {
	Status registration.Status `cbor:"status"`
}

// NewProcessRequest reports a fork observed by the caller.
type NewProcessRequest struct {
	ParentPID int32  `cbor:"ppid"`
	PID       int32  `cbor:"pid"`
	Comm      string `cbor:"comm,omitempty"`
}

type ExitProcessRequest struct {
	PID int32 `cbor:"pid"`
}

type Empty struct{}

// CheckRequest asks for a hook decision. A nil string argument means the
// value could not be read.
type CheckRequest struct {
	Hook   string  `cbor:"hook"`
	PID    int32   `cbor:"pid"`
	Source *string `cbor:"source,omitempty"`
	FSType *string `cbor:"fstype,omitempty"`
	Path   *string `cbor:"path,omitempty"`
}

type CheckResponse struct {
	Decision  string `cbor:"decision"`
	Reason    string `cbor:"reason"`
	Level     string `cbor:"level"`
	Container string `cbor:"container,omitempty"`
	RulesHash string `cbor:"rules_hash,omitempty"`
}

type ListRequest struct{}

type ContainerInfo struct {
	ID    string `cbor:"id"`
	Level string `cbor:"level"`
}

type ListContainersResponse struct {
	Containers []ContainerInfo `cbor:"containers"`
}

type ProcessInfo struct {
	PID         int32  `cbor:"pid"`
	ContainerID string `cbor:"container_id"`
	Level       string `cbor:"level"`
}

type ListProcessesResponse struct {
	Processes []ProcessInfo `cbor:"processes"`
}
