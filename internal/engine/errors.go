package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when no session is active.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAccessDenied is returned when the access policy rejects an action.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidTransition is returned for a status change outside the room state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRoomNotFound is returned when the room is unknown locally or no longer
	// exists in the backing store. Backends return it from UpdateRoom when no row matched.
	ErrRoomNotFound = errors.New("room not found")
	// ErrStopped is returned when the engine loop is not running.
	ErrStopped = errors.New("engine stopped")
)

// BackingStoreError wraps a failed call at the backing store boundary.
type BackingStoreError struct {
	Op  string
	Err error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("backing store: %s: %v", e.Op, e.Err)
}

func (e *BackingStoreError) Unwrap() error {
	return e.Err
}
