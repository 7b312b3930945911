package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSessionID is returned when session creation succeeded at the HTTP
// level but the response carried neither chat_id nor id.
var ErrNoSessionID = errors.New("backend returned no session id")

// ErrStreamIdle ends a stream that sent nothing for the stream timeout.
var ErrStreamIdle = fmt.Errorf("stream idle: %w", context.DeadlineExceeded)

// BackendError reports a failed required call. StatusCode is zero for
// network faults.
type BackendError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: backend status %d: %v", e.Op, e.StatusCode, e.Err)
		}
		return fmt.Sprintf("%s: backend status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is a BackendError carrying the given status.
func IsStatus(err error, status int) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode == status
}
