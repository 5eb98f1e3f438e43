// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound reports a missing object. Implementations wrap it so callers
// can test with errors.Is.
var ErrNotFound = errors.New("store: object not found")

// TransientError marks a failure worth retrying (network trouble,
// throttling, 5xx responses).
type TransientError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store: transient %s failure for %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying will not fix (access denied,
// invalid request, nonexistent bucket).
type PermanentError struct {
	Op  string
	Key string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("store: permanent %s failure for %s: %v", e.Op, e.Key, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
