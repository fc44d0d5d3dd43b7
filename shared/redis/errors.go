package redis

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned by PopMove when no member became due before the timeout.
var ErrEmpty = errors.New("no due member in sorted set")

// ConnectionError reports that the broker could not be reached or failed a command.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("redis %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is, or wraps, a *ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
