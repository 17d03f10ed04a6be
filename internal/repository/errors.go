package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrSlotTaken is returned when an insert collides with the unique slot index.
	ErrSlotTaken = errors.New("schedule slot already taken")
	// ErrPositionsChanged is returned when rows expected in a transaction are gone.
	ErrPositionsChanged = errors.New("schedule positions changed concurrently")
	// ErrMoveNotPending is returned when a proposal was already confirmed or deleted.
	ErrMoveNotPending = errors.New("scheduled move is not pending")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func weeksArray(weeks []int) pq.Int64Array {
	out := make(pq.Int64Array, len(weeks))
	for i, w := range weeks {
		out[i] = int64(w)
	}
	return out
}

func intWeeks(arr pq.Int64Array) []int {
	out := make([]int, len(arr))
	for i, w := range arr {
		out[i] = int(w)
	}
	return out
}
