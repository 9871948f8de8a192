package collection

import (
	"errors"
	"fmt"
)

var (
	ErrNilValue        = errors.New("collection: cannot add nil, it cannot be tracked; use a sentinel value instead")
	ErrInvalidKey      = errors.New("collection: invalid key")
	ErrIndexOutOfRange = errors.New("collection: index out of range")
	ErrClosed          = errors.New("collection: closed")
)

// DecodeError reports a remote value that could not be converted to the
// collection's element type.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("collection: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
