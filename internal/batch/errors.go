package batch

import (
	"errors"
	"fmt"
)

// ErrDataUnavailable means the shared ephemeris run could not be fetched or
// loaded. No per-user work is attempted.
var ErrDataUnavailable = errors.New("ephemeris data unavailable")

// UserError is a failure scoped to one user, or to one of the user's
// connections when ConnectionID is set.
type UserError struct {
	UserID       string
	ConnectionID string
	Err          error
}

func (e *UserError) Error() string {
	if e.ConnectionID != "" {
		return fmt.Sprintf("user:%s connection:%s %v", e.UserID, e.ConnectionID, e.Err)
	}
	return fmt.Sprintf("user:%s %v", e.UserID, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}
