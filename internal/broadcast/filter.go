package broadcast

import "github.com/noah-isme/sma-timetable-sync/internal/models"

// Filter is the relevance rule shared by server-side subscriptions and the
// client reconciliation layer. Zero fields match everything. When an event does
// not carry enough data to decide, it is treated as relevant.
type Filter struct {
	Weeks         []int  `json:"weeks,omitempty"`
	RoomID        int64  `json:"roomId,omitempty"`
	CoordinatorID string `json:"coordinatorId,omitempty"`
	GroupID       int64  `json:"groupId,omitempty"`
}

// IsZero reports whether the filter matches every event.
func (f Filter) IsZero() bool {
	return len(f.Weeks) == 0 && f.RoomID == 0 && f.CoordinatorID == "" && f.GroupID == 0
}

// Matches applies the relevance rule to e.
func (f Filter) Matches(e Event) bool {
	if f.IsZero() {
		return true
	}
	switch {
	case e.Lock != nil:
		return f.matchesLock(e.Lock)
	case e.Positions != nil:
		p := e.Positions
		if !f.matchesRouting(p.CoordinatorIDs, p.GroupIDs) {
			return false
		}
		return f.matchesSlot(p.Source) || f.matchesSlot(p.Destination)
	case e.Move != nil:
		m := e.Move
		if !f.matchesRouting(m.CoordinatorIDs, m.GroupIDs) {
			return false
		}
		return f.matchesSlot(&m.Move.Source) || f.matchesSlot(&m.Move.Destination)
	}
	return true
}

// MatchesEdition reports whether an edition belongs to the filtered audience.
func (f Filter) MatchesEdition(e models.CourseEdition) bool {
	return f.matchesRouting(e.Coordinators, e.Groups)
}

// MatchesWeek reports whether week is visible under the filter.
func (f Filter) MatchesWeek(week int) bool {
	if len(f.Weeks) == 0 {
		return true
	}
	for _, w := range f.Weeks {
		if w == week {
			return true
		}
	}
	return false
}

// MatchesRoom reports whether room is visible under the filter.
func (f Filter) MatchesRoom(roomID int64) bool {
	return f.RoomID == 0 || f.RoomID == roomID
}

func (f Filter) matchesLock(p *LockPayload) bool {
	for _, k := range p.Keys {
		if !k.IsPosition() {
			return true
		}
		if f.MatchesRoom(k.RoomID) && f.MatchesWeek(k.Week) {
			return true
		}
	}
	return false
}

func (f Filter) matchesSlot(s *models.SlotWeeks) bool {
	if s == nil {
		return false
	}
	if !f.MatchesRoom(s.RoomID) {
		return false
	}
	if len(f.Weeks) == 0 {
		return true
	}
	return models.WeeksOverlap(f.Weeks, s.Weeks)
}

func (f Filter) matchesRouting(coordinators []string, groups []int64) bool {
	if f.CoordinatorID != "" {
		found := false
		for _, c := range coordinators {
			if c == f.CoordinatorID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.GroupID != 0 {
		found := false
		for _, g := range groups {
			if g == f.GroupID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
