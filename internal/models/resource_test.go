package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceKeyString(t *testing.T) {
	assert.Equal(t, "edition:10:1", EditionKey(10, 1).String())
	assert.Equal(t, "position:3:2:1:7", PositionKey(3, 2, 1, 7).String())
	assert.Equal(t, "unknown", ResourceKey{}.String())
}

func TestPositionKeyIgnoresOccupant(t *testing.T) {
	a := SchedulePosition{RoomID: 1, PeriodIndex: 2, Day: 3, Week: 4, CourseID: 10, EditionID: 1}
	b := SchedulePosition{RoomID: 1, PeriodIndex: 2, Day: 3, Week: 4, CourseID: 11, EditionID: 2}
	assert.Equal(t, a.Key(), b.Key())
}

func TestSortAndUniqueKeys(t *testing.T) {
	keys := []ResourceKey{
		PositionKey(2, 1, 1, 3),
		EditionKey(5, 1),
		PositionKey(1, 1, 1, 2),
		PositionKey(1, 1, 1, 2),
	}
	keys = UniqueKeys(keys)
	SortKeys(keys)
	assert.Equal(t, []ResourceKey{EditionKey(5, 1), PositionKey(1, 1, 1, 2), PositionKey(2, 1, 1, 3)}, keys)
}

func TestNormalizeWeeks(t *testing.T) {
	assert.Equal(t, []int{1, 3, 5}, NormalizeWeeks([]int{5, 1, 3, 1}))
	assert.Nil(t, NormalizeWeeks(nil))
	assert.True(t, WeeksOverlap([]int{1, 2}, []int{2, 9}))
	assert.False(t, WeeksOverlap([]int{1, 2}, []int{3}))
}

func TestSlotWeeksKeys(t *testing.T) {
	s := SlotWeeks{RoomID: 4, PeriodIndex: 2, Day: 1, Weeks: []int{1, 2}}
	assert.Equal(t, []ResourceKey{PositionKey(4, 2, 1, 1), PositionKey(4, 2, 1, 2)}, s.Keys())
	assert.Equal(t, Slot{RoomID: 4, PeriodIndex: 2, Day: 1}, s.Slot())
}
