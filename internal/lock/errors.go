package lock

import (
	"errors"
	"fmt"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

var (
	// ErrDenied is wrapped by DeniedError.
	ErrDenied = errors.New("lock denied")
	// ErrNotHeld is wrapped by NotHeldError.
	ErrNotHeld = errors.New("lock not held")
	// ErrNoSession is returned when an owner carries no session id.
	ErrNoSession = errors.New("lock owner has no session")
)

// DeniedError names the first key that could not be granted and its holder.
type DeniedError struct {
	Key    models.ResourceKey
	Holder Lock
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s held by session %s", ErrDenied, e.Key, e.Holder.SessionID)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// NotHeldError names the first key the session was expected to hold.
type NotHeldError struct {
	Key models.ResourceKey
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotHeld, e.Key)
}

func (e *NotHeldError) Unwrap() error { return ErrNotHeld }
