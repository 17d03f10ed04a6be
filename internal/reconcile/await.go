package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
)

// DefaultConfirmationTimeout bounds how long a client waits for the broadcast
// confirming its own mutation before it reloads.
const DefaultConfirmationTimeout = 15 * time.Second

var (
	// ErrConfirmationTimeout means no matching event arrived in time.
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
	// ErrStreamClosed means the event stream ended before a match.
	ErrStreamClosed = errors.New("event stream closed")
)

// Await reads events until match returns true. Every event read is passed to
// apply when it is non-nil, so the view keeps up while waiting.
func Await(ctx context.Context, events <-chan broadcast.Event, match func(broadcast.Event) bool, timeout time.Duration, apply func(broadcast.Event) bool) (broadcast.Event, error) {
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return broadcast.Event{}, ctx.Err()
		case <-timer.C:
			return broadcast.Event{}, ErrConfirmationTimeout
		case e, ok := <-events:
			if !ok {
				return broadcast.Event{}, ErrStreamClosed
			}
			if apply != nil {
				apply(e)
			}
			if match(e) {
				return e, nil
			}
		}
	}
}

// MatchSession matches events caused by sessionID with one of kinds.
func MatchSession(sessionID string, kinds ...broadcast.Kind) func(broadcast.Event) bool {
	return func(e broadcast.Event) bool {
		if e.SessionID != sessionID {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}
