package registration

import (
	"errors"
	"fmt"

	"github.com/ppiankov/lockwatch/internal/model"
	"github.com/ppiankov/lockwatch/internal/store"
	"github.com/ppiankov/lockwatch/internal/tracker"
)

// Status is the result code written back to a registration caller: zero on
// success, a negated errno otherwise.
type Status int32

const (
	OK           Status = 0
	Inconsistent Status = -1  // EPERM
	NotFound     Status = -2  // ENOENT
	Full         Status = -7  // E2BIG
	Exists       Status = -17 // EEXIST
	Invalid      Status = -22 // EINVAL
)

var (
	// ErrInvalid is returned by Invalid.Err. The originating error was
	// either model.ErrInvalidLevel or model.ErrInvalidID.
	ErrInvalid = errors.New("invalid registration argument")
	// ErrUnknownStatus is returned by Err for codes outside the table above.
	ErrUnknownStatus = errors.New("unknown registration status")
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Inconsistent:
		return "inconsistent"
	case NotFound:
		return "not found"
	case Full:
		return "table full"
	case Exists:
		return "exists"
	case Invalid:
		return "invalid argument"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Err maps a status back to the sentinel error it was derived from. OK maps
// to nil.
func (s Status) Err() error {
	switch s {
	case OK:
		return nil
	case Inconsistent:
		return tracker.ErrInconsistent
	case NotFound:
		return store.ErrNotFound
	case Full:
		return store.ErrFull
	case Exists:
		return store.ErrExists
	case Invalid:
		return ErrInvalid
	}
	return fmt.Errorf("%w: %d", ErrUnknownStatus, int32(s))
}

// StatusOf maps an error from the registry layer to a status code. Errors
// that match no known sentinel become Inconsistent.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, store.ErrNotFound):
		return NotFound
	case errors.Is(err, store.ErrFull):
		return Full
	case errors.Is(err, store.ErrExists):
		return Exists
	case errors.Is(err, model.ErrInvalidLevel), errors.Is(err, model.ErrInvalidID), errors.Is(err, ErrInvalid):
		return Invalid
	}
	return Inconsistent
}
