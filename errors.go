package dashlog

import (
	"github.com/pkg/errors"
)

// InitError marks a failure to bring up a device or the data directory at
// startup. Unlike device errors at runtime it is not retried.
type InitError struct {
	What string
	Err  error
}

func (e *InitError) Error() string {
	return e.What + ": " + e.Err.Error()
}

func (e *InitError) Cause() error {
	return e.Err
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// IsInitError reports whether err, or anything it wraps, is an InitError.
func IsInitError(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}

// NewInitError wraps err as an initialization failure. A nil err stays nil.
func NewInitError(err error, what string) error {
	if err == nil {
		return nil
	}
	return &InitError{What: what, Err: err}
}
