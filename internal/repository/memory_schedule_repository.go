package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// MemoryScheduleRepository keeps positions and proposals in process memory.
// A single mutex gives every method the atomicity of a database transaction.
type MemoryScheduleRepository struct {
	mu        sync.Mutex
	positions map[models.ResourceKey]models.SchedulePosition
	moves     map[string]models.ScheduledMove
	now       func() time.Time
}

// NewMemoryScheduleRepository constructs an empty store.
func NewMemoryScheduleRepository() *MemoryScheduleRepository {
	return &MemoryScheduleRepository{
		positions: make(map[models.ResourceKey]models.SchedulePosition),
		moves:     make(map[string]models.ScheduledMove),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ListPositions returns positions matching the query ordered by slot and week.
func (r *MemoryScheduleRepository) ListPositions(_ context.Context, q models.PositionQuery) ([]models.SchedulePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	editions := make(map[models.EditionRef]struct{}, len(q.Editions))
	for _, ref := range q.Editions {
		editions[ref] = struct{}{}
	}
	weeks := make(map[int]struct{}, len(q.Weeks))
	for _, w := range q.Weeks {
		weeks[w] = struct{}{}
	}

	var out []models.SchedulePosition
	for _, p := range r.positions {
		if q.RoomID != 0 && p.RoomID != q.RoomID {
			continue
		}
		if len(weeks) > 0 {
			if _, ok := weeks[p.Week]; !ok {
				continue
			}
		}
		if len(editions) > 0 {
			if _, ok := editions[p.Edition()]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	sortPositions(out)
	return out, nil
}

// PositionsAt returns the occupied weeks of one slot, ordered by week.
func (r *MemoryScheduleRepository) PositionsAt(_ context.Context, slot models.Slot, weeks []int) ([]models.SchedulePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SchedulePosition
	for _, w := range models.NormalizeWeeks(weeks) {
		if p, ok := r.positions[models.PositionKey(slot.RoomID, slot.PeriodIndex, slot.Day, w)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// CountPlaced returns the number of placed units per edition.
func (r *MemoryScheduleRepository) CountPlaced(_ context.Context, refs []models.EditionRef) (map[models.EditionRef]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.EditionRef]int, len(refs))
	wanted := make(map[models.EditionRef]struct{}, len(refs))
	for _, ref := range refs {
		wanted[ref] = struct{}{}
	}
	for _, p := range r.positions {
		if _, ok := wanted[p.Edition()]; ok {
			counts[p.Edition()]++
		}
	}
	return counts, nil
}

// InsertPositions adds positions atomically; any taken slot yields ErrSlotTaken.
func (r *MemoryScheduleRepository) InsertPositions(_ context.Context, positions []models.SchedulePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(positions)
}

// ReplacePositions removes and adds positions atomically and cascades pending
// proposals on the removed positions.
func (r *MemoryScheduleRepository) ReplacePositions(_ context.Context, removed, added []models.SchedulePosition) ([]models.ScheduledMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPresentLocked(removed); err != nil {
		return nil, err
	}
	vacated := r.deleteLocked(removed)
	if err := r.insertLocked(added); err != nil {
		r.restoreLocked(vacated)
		return nil, err
	}
	return r.cascadeLocked(removed), nil
}

// DeletePositions removes positions and cascades pending proposals on them.
func (r *MemoryScheduleRepository) DeletePositions(_ context.Context, positions []models.SchedulePosition) ([]models.ScheduledMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPresentLocked(positions); err != nil {
		return nil, err
	}
	r.deleteLocked(positions)
	return r.cascadeLocked(positions), nil
}

// CreateMove stores a new pending proposal.
func (r *MemoryScheduleRepository) CreateMove(_ context.Context, move *models.ScheduledMove) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if move.ID == "" {
		move.ID = uuid.NewString()
	}
	if move.ScheduleOrder.IsZero() {
		move.ScheduleOrder = r.now()
	}
	r.moves[move.ID] = copyMove(*move)
	return nil
}

// GetMove fetches a proposal by id. Missing proposals yield sql.ErrNoRows.
func (r *MemoryScheduleRepository) GetMove(_ context.Context, id string) (*models.ScheduledMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.moves[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := copyMove(m)
	return &out, nil
}

// ListMoves returns proposals matching the filter ordered by schedule order.
func (r *MemoryScheduleRepository) ListMoves(_ context.Context, filter models.MoveFilter) ([]models.ScheduledMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ScheduledMove
	for _, m := range r.moves {
		if moveMatches(m, filter) {
			out = append(out, copyMove(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduleOrder.Equal(out[j].ScheduleOrder) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduleOrder.Before(out[j].ScheduleOrder)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountMoves counts proposals matching the filter, ignoring Limit and Offset.
func (r *MemoryScheduleRepository) CountMoves(_ context.Context, filter models.MoveFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, m := range r.moves {
		if moveMatches(m, filter) {
			total++
		}
	}
	return total, nil
}

func moveMatches(m models.ScheduledMove, filter models.MoveFilter) bool {
	switch {
	case filter.CourseID != 0 && m.CourseID != filter.CourseID:
		return false
	case filter.EditionID != 0 && m.EditionID != filter.EditionID:
		return false
	case filter.RoomID != 0 && m.Source.RoomID != filter.RoomID && m.Destination.RoomID != filter.RoomID:
		return false
	case filter.UserID != "" && m.UserID != filter.UserID:
		return false
	case filter.Confirmed != nil && m.IsConfirmed != *filter.Confirmed:
		return false
	}
	return true
}

// DeleteMove removes a pending proposal and returns it.
func (r *MemoryScheduleRepository) DeleteMove(_ context.Context, id string) (*models.ScheduledMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.moves[id]
	if !ok || m.IsConfirmed {
		return nil, ErrMoveNotPending
	}
	delete(r.moves, id)
	return &m, nil
}

// ConfirmMove applies an accepted proposal atomically.
func (r *MemoryScheduleRepository) ConfirmMove(_ context.Context, id string, removed, added []models.SchedulePosition, confirmedAt time.Time) ([]models.ScheduledMove, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.moves[id]
	if !ok || m.IsConfirmed {
		return nil, ErrMoveNotPending
	}
	if err := r.checkPresentLocked(removed); err != nil {
		return nil, err
	}
	vacated := r.deleteLocked(removed)
	if err := r.insertLocked(added); err != nil {
		r.restoreLocked(vacated)
		return nil, err
	}
	m.IsConfirmed = true
	at := confirmedAt
	m.ConfirmedAt = &at
	r.moves[id] = m
	return r.cascadeLocked(removed), nil
}

func (r *MemoryScheduleRepository) insertLocked(positions []models.SchedulePosition) error {
	seen := make(map[models.ResourceKey]struct{}, len(positions))
	for _, p := range positions {
		k := p.Key()
		if _, taken := r.positions[k]; taken {
			return ErrSlotTaken
		}
		if _, dup := seen[k]; dup {
			return ErrSlotTaken
		}
		seen[k] = struct{}{}
	}
	now := r.now()
	for _, p := range positions {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		r.positions[p.Key()] = p
	}
	return nil
}

func (r *MemoryScheduleRepository) checkPresentLocked(positions []models.SchedulePosition) error {
	for _, p := range positions {
		cur, ok := r.positions[p.Key()]
		if !ok || cur.Edition() != p.Edition() {
			return ErrPositionsChanged
		}
	}
	return nil
}

func (r *MemoryScheduleRepository) deleteLocked(positions []models.SchedulePosition) []models.SchedulePosition {
	vacated := make([]models.SchedulePosition, 0, len(positions))
	for _, p := range positions {
		if cur, ok := r.positions[p.Key()]; ok {
			vacated = append(vacated, cur)
			delete(r.positions, p.Key())
		}
	}
	return vacated
}

func (r *MemoryScheduleRepository) restoreLocked(positions []models.SchedulePosition) {
	for _, p := range positions {
		r.positions[p.Key()] = p
	}
}

func (r *MemoryScheduleRepository) cascadeLocked(removed []models.SchedulePosition) []models.ScheduledMove {
	var out []models.ScheduledMove
	for _, g := range groupBySlot(removed) {
		for id, m := range r.moves {
			if m.IsConfirmed || m.Source.Slot() != g.slot {
				continue
			}
			if models.WeeksOverlap(m.Source.Weeks, g.weeks) {
				out = append(out, m)
				delete(r.moves, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleOrder.Before(out[j].ScheduleOrder) })
	return out
}

func copyMove(m models.ScheduledMove) models.ScheduledMove {
	m.Source.Weeks = append([]int(nil), m.Source.Weeks...)
	m.Destination.Weeks = append([]int(nil), m.Destination.Weeks...)
	if m.ConfirmedAt != nil {
		t := *m.ConfirmedAt
		m.ConfirmedAt = &t
	}
	return m
}

func sortPositions(ps []models.SchedulePosition) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.PeriodIndex != b.PeriodIndex {
			return a.PeriodIndex < b.PeriodIndex
		}
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		return a.Week < b.Week
	})
}
