package service

import (
	"context"
	"time"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/pkg/config"
)

// ScheduleStore is the transactional position and proposal store. Both the
// PostgreSQL and the in-memory repositories satisfy it.
type ScheduleStore interface {
	ListPositions(ctx context.Context, q models.PositionQuery) ([]models.SchedulePosition, error)
	PositionsAt(ctx context.Context, slot models.Slot, weeks []int) ([]models.SchedulePosition, error)
	CountPlaced(ctx context.Context, refs []models.EditionRef) (map[models.EditionRef]int, error)
	InsertPositions(ctx context.Context, positions []models.SchedulePosition) error
	ReplacePositions(ctx context.Context, removed, added []models.SchedulePosition) ([]models.ScheduledMove, error)
	DeletePositions(ctx context.Context, positions []models.SchedulePosition) ([]models.ScheduledMove, error)
	CreateMove(ctx context.Context, move *models.ScheduledMove) error
	GetMove(ctx context.Context, id string) (*models.ScheduledMove, error)
	ListMoves(ctx context.Context, filter models.MoveFilter) ([]models.ScheduledMove, error)
	CountMoves(ctx context.Context, filter models.MoveFilter) (int, error)
	DeleteMove(ctx context.Context, id string) (*models.ScheduledMove, error)
	ConfirmMove(ctx context.Context, id string, removed, added []models.SchedulePosition, confirmedAt time.Time) ([]models.ScheduledMove, error)
}

// EditionCatalog resolves course editions for authority checks and routing.
type EditionCatalog interface {
	GetEdition(ctx context.Context, ref models.EditionRef) (*models.CourseEdition, error)
	ListEditions(ctx context.Context, filter models.EditionFilter) ([]models.CourseEdition, error)
}

// LockManager is the subset of *lock.Manager used by the services.
type LockManager interface {
	Lock(owner lock.Owner, keys []models.ResourceKey) (lock.Grant, error)
	Unlock(owner lock.Owner, keys []models.ResourceKey) []models.ResourceKey
	Commit(plan lock.CommitPlan, fn func() error) error
	HeldBy(sessionID string) []lock.Lock
	HeldByOthers(sessionID string, keys []models.ResourceKey) []lock.Lock
	Snapshot() []lock.Lock
}

// EventPublisher stamps and fans out committed changes.
type EventPublisher interface {
	Publish(e broadcast.Event) broadcast.Event
}

// ScheduleRules bounds the slot arguments of every lock and mutation call.
type ScheduleRules struct {
	TermWeeks        int
	DaysPerWeek      int
	PeriodsPerDay    int
	EnforceUnitLimit bool
}

// RulesFromConfig derives the rules from term settings.
func RulesFromConfig(cfg config.ScheduleConfig) ScheduleRules {
	return ScheduleRules{
		TermWeeks:        cfg.TermWeeks,
		DaysPerWeek:      cfg.DaysPerWeek,
		PeriodsPerDay:    cfg.PeriodsPerDay(),
		EnforceUnitLimit: cfg.EnforceUnitLimit,
	}
}

// ValidateSlot checks a slot against the configured bounds. Weeks must be
// distinct but keep their order, since moves pair weeks by index.
func (r ScheduleRules) ValidateSlot(field string, s models.SlotWeeks) error {
	if s.RoomID <= 0 {
		return invalid(field+".roomId must be positive", map[string]interface{}{"field": field + ".roomId"})
	}
	if s.Day < 1 || (r.DaysPerWeek > 0 && s.Day > r.DaysPerWeek) {
		return invalid(field+".day is outside the week", map[string]interface{}{"field": field + ".day", "day": s.Day, "max": r.DaysPerWeek})
	}
	if s.PeriodIndex < 1 || (r.PeriodsPerDay > 0 && s.PeriodIndex > r.PeriodsPerDay) {
		return invalid(field+".periodIndex is outside the day", map[string]interface{}{"field": field + ".periodIndex", "periodIndex": s.PeriodIndex, "max": r.PeriodsPerDay})
	}
	if len(s.Weeks) == 0 {
		return invalid(field+".weeks must not be empty", map[string]interface{}{"field": field + ".weeks"})
	}
	seen := make(map[int]struct{}, len(s.Weeks))
	for _, w := range s.Weeks {
		if w < 1 || (r.TermWeeks > 0 && w > r.TermWeeks) {
			return invalid(field+".weeks contains a week outside the term", map[string]interface{}{"field": field + ".weeks", "week": w, "max": r.TermWeeks})
		}
		if _, dup := seen[w]; dup {
			return invalid(field+".weeks contains a duplicate week", map[string]interface{}{"field": field + ".weeks", "week": w})
		}
		seen[w] = struct{}{}
	}
	return nil
}

// canActOn reports whether the actor has coordinator or administrator
// standing for the edition.
func canActOn(actor models.Actor, edition *models.CourseEdition) bool {
	return actor.IsAdmin || (edition != nil && edition.HasCoordinator(actor.UserID))
}

func ownerOf(actor models.Actor) lock.Owner {
	return lock.Owner{SessionID: actor.SessionID, UserID: actor.UserID, IsAdmin: actor.IsAdmin}
}

func editionRefs(editions []models.CourseEdition) []models.EditionRef {
	refs := make([]models.EditionRef, 0, len(editions))
	for _, e := range editions {
		refs = append(refs, e.Ref())
	}
	return refs
}

func positionKeys(positions []models.SchedulePosition) []models.ResourceKey {
	keys := make([]models.ResourceKey, 0, len(positions))
	for _, p := range positions {
		keys = append(keys, p.Key())
	}
	return keys
}

func placeAt(ref models.EditionRef, s models.SlotWeeks) []models.SchedulePosition {
	out := make([]models.SchedulePosition, 0, len(s.Weeks))
	for _, w := range s.Weeks {
		out = append(out, models.SchedulePosition{
			RoomID: s.RoomID, PeriodIndex: s.PeriodIndex, Day: s.Day, Week: w,
			CourseID: ref.CourseID, EditionID: ref.EditionID,
		})
	}
	return out
}
