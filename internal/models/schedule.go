package models

import (
	"sort"
	"time"
)

// Slot is a room at a period of a weekday, independent of the week.
type Slot struct {
	RoomID      int64 `json:"roomId"`
	PeriodIndex int   `json:"periodIndex"`
	Day         int   `json:"day"`
}

// SlotWeeks addresses the same slot across several weeks.
type SlotWeeks struct {
	RoomID      int64 `json:"roomId" validate:"required,gt=0"`
	PeriodIndex int   `json:"periodIndex" validate:"required,gt=0"`
	Day         int   `json:"day" validate:"required,gt=0"`
	Weeks       []int `json:"weeks" validate:"required,min=1,dive,gt=0"`
}

// Slot drops the weeks.
func (s SlotWeeks) Slot() Slot {
	return Slot{RoomID: s.RoomID, PeriodIndex: s.PeriodIndex, Day: s.Day}
}

// Keys returns one position key per week.
func (s SlotWeeks) Keys() []ResourceKey {
	keys := make([]ResourceKey, 0, len(s.Weeks))
	for _, w := range s.Weeks {
		keys = append(keys, PositionKey(s.RoomID, s.PeriodIndex, s.Day, w))
	}
	return keys
}

// Normalized returns a copy with weeks sorted ascending and deduplicated.
func (s SlotWeeks) Normalized() SlotWeeks {
	s.Weeks = NormalizeWeeks(s.Weeks)
	return s
}

// NormalizeWeeks sorts and deduplicates a week list.
func NormalizeWeeks(weeks []int) []int {
	if len(weeks) == 0 {
		return nil
	}
	out := append([]int(nil), weeks...)
	sort.Ints(out)
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}

// WeeksOverlap reports whether two week lists share a week.
func WeeksOverlap(a, b []int) bool {
	set := make(map[int]struct{}, len(a))
	for _, w := range a {
		set[w] = struct{}{}
	}
	for _, w := range b {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// SchedulePosition is a course edition placed in a room slot for one week.
type SchedulePosition struct {
	RoomID      int64     `db:"room_id" json:"roomId"`
	PeriodIndex int       `db:"period_index" json:"periodIndex"`
	Day         int       `db:"day" json:"day"`
	Week        int       `db:"week" json:"week"`
	CourseID    int64     `db:"course_id" json:"courseId"`
	EditionID   int64     `db:"edition_id" json:"editionId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Key returns the position lock key of the row.
func (p SchedulePosition) Key() ResourceKey {
	return PositionKey(p.RoomID, p.PeriodIndex, p.Day, p.Week)
}

// Edition returns the edition occupying the position.
func (p SchedulePosition) Edition() EditionRef {
	return EditionRef{CourseID: p.CourseID, EditionID: p.EditionID}
}

// Slot drops the week.
func (p SchedulePosition) Slot() Slot {
	return Slot{RoomID: p.RoomID, PeriodIndex: p.PeriodIndex, Day: p.Day}
}

// PositionQuery narrows position listings. Zero values mean "any".
type PositionQuery struct {
	RoomID   int64
	Editions []EditionRef
	Weeks    []int
}

// PositionFilter is the caller-facing filter; coordinator and group are
// resolved to editions through the catalog.
type PositionFilter struct {
	RoomID        int64  `form:"roomId"`
	CoordinatorID string `form:"coordinatorId"`
	GroupID       int64  `form:"groupId"`
	Weeks         []int  `form:"weeks"`
}

// BacklogEntry reports how many units of a course edition are placed.
type BacklogEntry struct {
	CourseEdition
	PlacedUnits    int `json:"placedUnits"`
	RemainingUnits int `json:"remainingUnits"`
}
