package room

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCallback is returned by Listen when no callback is given.
	ErrNoCallback = errors.New("room: listen requires a callback")
	// ErrAlreadyListening is returned by Listen while another Listen on the same room is running.
	ErrAlreadyListening = errors.New("room: already listening")
	// ErrListenFailed is matched by every *ListenFailedError.
	ErrListenFailed = errors.New("room: listen failed")

	errUserMissing = errors.New("response has no user record")
)

// ListenFailedError ends a Listen call that the transport could not keep alive.
type ListenFailedError struct {
	Room    string
	Reason  string
	Payload []byte
	Retries int
	Err     error
}

func (e *ListenFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("room %s: %s: %v", e.Room, e.Reason, e.Err)
	}
	return fmt.Sprintf("room %s: %s", e.Room, e.Reason)
}

func (e *ListenFailedError) Is(target error) bool {
	return target == ErrListenFailed
}

func (e *ListenFailedError) Unwrap() error {
	return e.Err
}

// UserFetchError reports a failed single-user lookup.
type UserFetchError struct {
	UserID int64
	Err    error
}

func (e *UserFetchError) Error() string {
	return fmt.Sprintf("room: fetch user %d: %v", e.UserID, e.Err)
}

func (e *UserFetchError) Unwrap() error {
	return e.Err
}

// MalformedTimestampError reports a created_at value that could not be parsed.
type MalformedTimestampError struct {
	Value string
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("room: malformed timestamp %q", e.Value)
}
