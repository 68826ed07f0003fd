package enforce

import (
	"errors"
	"fmt"

	"github.com/ppiankov/lockwatch/internal/model"
)

// ErrDenied matches every EnforcementError with errors.Is.
var ErrDenied = errors.New("operation denied by policy")

// EnforcementError is returned by a hook when policy blocks the operation.
type EnforcementError struct {
	Hook     Hook
	PID      int32
	Level    model.PolicyLevel
	Decision model.Decision
	Reason   string
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforcement blocked %s for pid %d (%s, %s): %s", e.Hook, e.PID, e.Decision, e.Level, e.Reason)
}

// Is reports whether target is ErrDenied.
func (e *EnforcementError) Is(target error) bool {
	return target == ErrDenied
}
