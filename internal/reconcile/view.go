// Package reconcile maintains a session's local projection of the shared
// timetable and patches it from broadcast events.
package reconcile

import (
	"sort"
	"sync"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// PlacedEntry is one course edition in one room within a grid cell.
type PlacedEntry struct {
	CourseID      int64 `json:"courseId"`
	EditionID     int64 `json:"editionId"`
	RoomID        int64 `json:"roomId"`
	Weeks         []int `json:"weeks"`
	LockedWeeks   []int `json:"lockedWeeks,omitempty"`
	Locked        bool  `json:"locked"`
	LockedByAdmin bool  `json:"lockedByAdmin"`
}

// BacklogItem is a course edition with units still to place.
type BacklogItem struct {
	models.CourseEdition
	PlacedUnits   int  `json:"placedUnits"`
	Locked        bool `json:"locked"`
	LockedByAdmin bool `json:"lockedByAdmin"`
}

// Snapshot is the initial state fetched before events are applied.
type Snapshot struct {
	Seq       uint64                    `json:"seq"`
	Positions []models.SchedulePosition `json:"positions"`
	Editions  []models.CourseEdition    `json:"editions"`
	Proposals []models.ScheduledMove    `json:"proposals"`
	Locks     []LockState               `json:"locks"`
}

// LockState seeds lock flags on load.
type LockState struct {
	Key     models.ResourceKey `json:"key"`
	IsAdmin bool               `json:"isAdmin"`
}

type cellKey struct {
	day    int
	period int
}

type entryKey struct {
	courseID  int64
	editionID int64
	roomID    int64
}

type entry struct {
	weeks map[int]struct{}
}

// View is the local grid plus backlog for one filter.
type View struct {
	mu      sync.RWMutex
	filter  broadcast.Filter
	days    int
	periods int

	cells     map[cellKey]map[entryKey]*entry
	locks     map[models.ResourceKey]bool
	editions  map[models.EditionRef]models.CourseEdition
	proposals map[string]models.ScheduledMove
	lastSeq   uint64
}

// NewView creates an empty view bounded by days and periods.
func NewView(filter broadcast.Filter, days, periods int) *View {
	return &View{
		filter:    filter,
		days:      days,
		periods:   periods,
		cells:     make(map[cellKey]map[entryKey]*entry),
		locks:     make(map[models.ResourceKey]bool),
		editions:  make(map[models.EditionRef]models.CourseEdition),
		proposals: make(map[string]models.ScheduledMove),
	}
}

// Filter returns the active filter.
func (v *View) Filter() broadcast.Filter { return v.filter }

// LastSeq returns the sequence of the newest applied event.
func (v *View) LastSeq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastSeq
}

// Load replaces the view's state with snap.
func (v *View) Load(snap Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.cells = make(map[cellKey]map[entryKey]*entry)
	v.locks = make(map[models.ResourceKey]bool)
	v.editions = make(map[models.EditionRef]models.CourseEdition)
	v.proposals = make(map[string]models.ScheduledMove)
	v.lastSeq = snap.Seq

	for _, e := range snap.Editions {
		if v.filter.MatchesEdition(e) {
			v.editions[e.Ref()] = e
		}
	}
	for _, p := range snap.Positions {
		if !v.filter.MatchesRoom(p.RoomID) || !v.filter.MatchesWeek(p.Week) {
			continue
		}
		if _, ok := v.editions[p.Edition()]; !ok && (v.filter.CoordinatorID != "" || v.filter.GroupID != 0) {
			continue
		}
		v.addWeeks(p.Edition(), models.SlotWeeks{RoomID: p.RoomID, PeriodIndex: p.PeriodIndex, Day: p.Day, Weeks: []int{p.Week}})
	}
	for _, m := range snap.Proposals {
		v.proposals[m.ID] = m
	}
	for _, l := range snap.Locks {
		v.locks[l.Key] = l.IsAdmin
	}
}

// Apply patches the view with e and reports whether anything changed.
// Events at or below the last applied sequence are ignored; applying the same
// delta twice leaves the view unchanged.
func (v *View) Apply(e broadcast.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if e.Seq != 0 && e.Seq <= v.lastSeq {
		return false
	}
	if e.Seq != 0 {
		v.lastSeq = e.Seq
	}
	if !v.filter.Matches(e) {
		return false
	}

	switch e.Kind {
	case broadcast.KindLockGranted:
		return v.setLocks(e.Lock, true)
	case broadcast.KindLockReleased:
		return v.setLocks(e.Lock, false)
	case broadcast.KindPositionsAdded:
		v.learnEdition(e.Positions)
		return v.addWeeks(positionsRef(e.Positions), v.visible(e.Positions.Destination))
	case broadcast.KindPositionsRemoved:
		return v.removeWeeks(positionsRef(e.Positions), v.visible(e.Positions.Source))
	case broadcast.KindPositionsModified:
		v.learnEdition(e.Positions)
		ref := positionsRef(e.Positions)
		removed := v.removeWeeks(ref, v.visible(e.Positions.Source))
		added := v.addWeeks(ref, v.visible(e.Positions.Destination))
		return removed || added
	case broadcast.KindProposalAdded:
		if e.Move == nil {
			return false
		}
		if _, ok := v.proposals[e.Move.Move.ID]; ok {
			return false
		}
		v.proposals[e.Move.Move.ID] = e.Move.Move
		return true
	case broadcast.KindProposalRemoved, broadcast.KindProposalAccepted:
		if e.Move == nil {
			return false
		}
		if _, ok := v.proposals[e.Move.Move.ID]; !ok {
			return false
		}
		delete(v.proposals, e.Move.Move.ID)
		return true
	}
	return false
}

// Cell returns copies of the entries at day/period, ordered by course, edition and room.
func (v *View) Cell(day, period int) []PlacedEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cellLocked(day, period)
}

// Schedule renders the grid as schedule[day-1][period-1].
func (v *View) Schedule() [][][]PlacedEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	grid := make([][][]PlacedEntry, v.days)
	for d := 0; d < v.days; d++ {
		grid[d] = make([][]PlacedEntry, v.periods)
		for p := 0; p < v.periods; p++ {
			grid[d][p] = v.cellLocked(d+1, p+1)
		}
	}
	return grid
}

// Backlog returns editions whose placed units are below the required count.
func (v *View) Backlog() []BacklogItem {
	v.mu.RLock()
	defer v.mu.RUnlock()

	placed := make(map[models.EditionRef]int)
	for _, cell := range v.cells {
		for k, e := range cell {
			placed[models.EditionRef{CourseID: k.courseID, EditionID: k.editionID}] += len(e.weeks)
		}
	}

	var out []BacklogItem
	for ref, ed := range v.editions {
		n := placed[ref]
		if ed.RequiredUnits > 0 && n >= ed.RequiredUnits {
			continue
		}
		isAdmin, locked := v.locks[ref.Key()]
		out = append(out, BacklogItem{
			CourseEdition: ed,
			PlacedUnits:   n,
			Locked:        locked,
			LockedByAdmin: locked && isAdmin,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseID != out[j].CourseID {
			return out[i].CourseID < out[j].CourseID
		}
		return out[i].EditionID < out[j].EditionID
	})
	return out
}

// Proposals returns pending proposals ordered by schedule order.
func (v *View) Proposals() []models.ScheduledMove {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.ScheduledMove, 0, len(v.proposals))
	for _, m := range v.proposals {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleOrder.Before(out[j].ScheduleOrder) })
	return out
}

func (v *View) cellLocked(day, period int) []PlacedEntry {
	cell := v.cells[cellKey{day: day, period: period}]
	out := make([]PlacedEntry, 0, len(cell))
	for k, e := range cell {
		pe := PlacedEntry{
			CourseID:  k.courseID,
			EditionID: k.editionID,
			RoomID:    k.roomID,
			Weeks:     sortedWeeks(e.weeks),
		}
		for _, w := range pe.Weeks {
			isAdmin, locked := v.locks[models.PositionKey(k.roomID, period, day, w)]
			if !locked {
				continue
			}
			pe.LockedWeeks = append(pe.LockedWeeks, w)
			pe.Locked = true
			if isAdmin {
				pe.LockedByAdmin = true
			}
		}
		out = append(out, pe)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		if a.EditionID != b.EditionID {
			return a.EditionID < b.EditionID
		}
		return a.RoomID < b.RoomID
	})
	return out
}

func (v *View) setLocks(p *broadcast.LockPayload, granted bool) bool {
	if p == nil {
		return false
	}
	changed := false
	for _, k := range p.Keys {
		prev, had := v.locks[k]
		if granted {
			if !had || prev != p.IsAdmin {
				v.locks[k] = p.IsAdmin
				changed = true
			}
			continue
		}
		if had {
			delete(v.locks, k)
			changed = true
		}
	}
	return changed
}

// visible trims a slot to the weeks and room the filter shows.
func (v *View) visible(s *models.SlotWeeks) models.SlotWeeks {
	if s == nil || !v.filter.MatchesRoom(s.RoomID) {
		return models.SlotWeeks{}
	}
	out := *s
	out.Weeks = nil
	for _, w := range s.Weeks {
		if v.filter.MatchesWeek(w) {
			out.Weeks = append(out.Weeks, w)
		}
	}
	return out
}

func (v *View) learnEdition(p *broadcast.PositionsPayload) {
	ref := positionsRef(p)
	if _, ok := v.editions[ref]; ok {
		return
	}
	ed := models.CourseEdition{
		CourseID:     p.CourseID,
		EditionID:    p.EditionID,
		Coordinators: p.CoordinatorIDs,
		Groups:       p.GroupIDs,
	}
	if v.filter.MatchesEdition(ed) {
		v.editions[ref] = ed
	}
}

func (v *View) addWeeks(ref models.EditionRef, s models.SlotWeeks) bool {
	if len(s.Weeks) == 0 {
		return false
	}
	ck := cellKey{day: s.Day, period: s.PeriodIndex}
	cell, ok := v.cells[ck]
	if !ok {
		cell = make(map[entryKey]*entry)
		v.cells[ck] = cell
	}
	ek := entryKey{courseID: ref.CourseID, editionID: ref.EditionID, roomID: s.RoomID}
	e, ok := cell[ek]
	if !ok {
		e = &entry{weeks: make(map[int]struct{})}
		cell[ek] = e
	}
	changed := false
	for _, w := range s.Weeks {
		if _, ok := e.weeks[w]; !ok {
			e.weeks[w] = struct{}{}
			changed = true
		}
	}
	return changed
}

func (v *View) removeWeeks(ref models.EditionRef, s models.SlotWeeks) bool {
	if len(s.Weeks) == 0 {
		return false
	}
	ck := cellKey{day: s.Day, period: s.PeriodIndex}
	cell, ok := v.cells[ck]
	if !ok {
		return false
	}
	ek := entryKey{courseID: ref.CourseID, editionID: ref.EditionID, roomID: s.RoomID}
	e, ok := cell[ek]
	if !ok {
		return false
	}
	changed := false
	for _, w := range s.Weeks {
		if _, ok := e.weeks[w]; ok {
			delete(e.weeks, w)
			changed = true
		}
	}
	if len(e.weeks) == 0 {
		delete(cell, ek)
	}
	if len(cell) == 0 {
		delete(v.cells, ck)
	}
	return changed
}

func positionsRef(p *broadcast.PositionsPayload) models.EditionRef {
	return models.EditionRef{CourseID: p.CourseID, EditionID: p.EditionID}
}

func sortedWeeks(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}
