package models

import (
	"fmt"
	"sort"
)

// ResourceKind separates the two lockable namespaces.
type ResourceKind string

const (
	ResourceCourseEdition ResourceKind = "course_edition"
	ResourcePosition      ResourceKind = "position"
)

// ResourceKey identifies a lockable resource. Course edition keys use
// CourseID/EditionID; position keys use the slot fields only, so a position key
// stays the same whichever course occupies the slot.
type ResourceKey struct {
	Kind        ResourceKind `json:"kind"`
	CourseID    int64        `json:"courseId,omitempty"`
	EditionID   int64        `json:"editionId,omitempty"`
	RoomID      int64        `json:"roomId,omitempty"`
	PeriodIndex int          `json:"periodIndex,omitempty"`
	Day         int          `json:"day,omitempty"`
	Week        int          `json:"week,omitempty"`
}

// EditionKey builds the lock key of a course edition.
func EditionKey(courseID, editionID int64) ResourceKey {
	return ResourceKey{Kind: ResourceCourseEdition, CourseID: courseID, EditionID: editionID}
}

// PositionKey builds the lock key of one slot in one week.
func PositionKey(roomID int64, periodIndex, day, week int) ResourceKey {
	return ResourceKey{Kind: ResourcePosition, RoomID: roomID, PeriodIndex: periodIndex, Day: day, Week: week}
}

// String renders a stable textual id, e.g. "edition:10:1" or "position:3:2:1:7".
func (k ResourceKey) String() string {
	switch k.Kind {
	case ResourceCourseEdition:
		return fmt.Sprintf("edition:%d:%d", k.CourseID, k.EditionID)
	case ResourcePosition:
		return fmt.Sprintf("position:%d:%d:%d:%d", k.RoomID, k.PeriodIndex, k.Day, k.Week)
	default:
		return "unknown"
	}
}

// IsPosition reports whether the key belongs to the position namespace.
func (k ResourceKey) IsPosition() bool { return k.Kind == ResourcePosition }

// Edition returns the edition reference of a course edition key.
func (k ResourceKey) Edition() EditionRef {
	return EditionRef{CourseID: k.CourseID, EditionID: k.EditionID}
}

// Slot returns the weekless slot of a position key.
func (k ResourceKey) Slot() Slot {
	return Slot{RoomID: k.RoomID, PeriodIndex: k.PeriodIndex, Day: k.Day}
}

// SortKeys orders keys deterministically: editions first, then positions by
// room, day, period and week.
func SortKeys(keys []ResourceKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		if a.EditionID != b.EditionID {
			return a.EditionID < b.EditionID
		}
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.PeriodIndex != b.PeriodIndex {
			return a.PeriodIndex < b.PeriodIndex
		}
		return a.Week < b.Week
	})
}

// UniqueKeys drops duplicates while keeping the first occurrence order.
func UniqueKeys(keys []ResourceKey) []ResourceKey {
	seen := make(map[ResourceKey]struct{}, len(keys))
	out := make([]ResourceKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
