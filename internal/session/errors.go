package session

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrInvalidRole = errors.New("invalid turn role")
)

// PersistenceError reports that a mutation was applied in memory but could
// not be written to the store. The registry stays usable; the next
// successful save writes the change out.
type PersistenceError struct {
	Op      string
	UserKey string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for user %s: %v", e.Op, e.UserKey, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
