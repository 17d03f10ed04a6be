package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/internal/reconcile"
	"github.com/noah-isme/sma-timetable-sync/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

// MutationServiceOption configures optional collaborators.
type MutationServiceOption func(*MutationService)

// WithMutationCache enables caching of position listings and backlogs.
func WithMutationCache(cache *CacheService, ttl time.Duration) MutationServiceOption {
	return func(s *MutationService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithMutationMetrics records mutation outcomes.
func WithMutationMetrics(metrics *MetricsService) MutationServiceOption {
	return func(s *MutationService) {
		s.metrics = metrics
	}
}

// WithMutationLogger overrides the logger.
func WithMutationLogger(logger *zap.Logger) MutationServiceOption {
	return func(s *MutationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMutationValidator overrides the validator instance.
func WithMutationValidator(v *validator.Validate) MutationServiceOption {
	return func(s *MutationService) {
		if v != nil {
			s.validator = v
		}
	}
}

// MutationService validates and applies add, move and remove operations on
// schedule positions and publishes exactly one position event per commit.
type MutationService struct {
	store     ScheduleStore
	catalog   EditionCatalog
	locks     LockManager
	bus       EventPublisher
	rules     ScheduleRules
	validator *validator.Validate
	logger    *zap.Logger
	cache     *CacheService
	cacheTTL  time.Duration
	metrics   *MetricsService
}

// NewMutationService constructs the coordinator.
func NewMutationService(store ScheduleStore, catalog EditionCatalog, locks LockManager, bus EventPublisher, rules ScheduleRules, opts ...MutationServiceOption) *MutationService {
	svc := &MutationService{
		store:     store,
		catalog:   catalog,
		locks:     locks,
		bus:       bus,
		rules:     rules,
		validator: validator.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// AddPositions places a course edition into every requested week of a slot,
// or into none of them.
func (s *MutationService) AddPositions(ctx context.Context, actor models.Actor, req dto.AddPositionsRequest) (result *dto.MutationResult, err error) {
	defer func() { s.metrics.ObserveMutation("add", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid placement")
	}
	slot := req.Slot()
	if err := s.rules.ValidateSlot("slot", slot); err != nil {
		return nil, err
	}
	slot = slot.Normalized()
	ref := req.Edition()

	edition, err := s.catalog.GetEdition(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !canActOn(actor, edition) {
		return nil, notAuthorized(ref)
	}
	keys := append(slot.Keys(), ref.Key())
	if held := s.locks.HeldByOthers(actor.SessionID, keys); len(held) > 0 {
		return nil, deniedError(held[0].Key, held[0])
	}

	occupied, err := s.store.PositionsAt(ctx, slot.Slot(), slot.Weeks)
	if err != nil {
		return nil, internalError(err, "failed to load slot positions")
	}
	if len(occupied) > 0 {
		return nil, slotOccupied(occupied[0])
	}
	if err := s.checkUnits(ctx, actor, edition, len(slot.Weeks)); err != nil {
		return nil, err
	}

	if err := s.store.InsertPositions(ctx, placeAt(ref, slot)); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			return nil, s.slotTakenError(ctx, slot)
		}
		return nil, internalError(err, "failed to add positions")
	}

	dst := slot
	e := s.publishPositions(ctx, broadcast.KindPositionsAdded, actor, edition, nil, &dst)
	s.logger.Info("positions added",
		zap.String("user_id", actor.UserID),
		zap.String("edition", ref.Key().String()),
		zap.Int64("room_id", slot.RoomID),
		zap.Ints("weeks", slot.Weeks))
	return &dto.MutationResult{Seq: e.Seq, CourseID: ref.CourseID, EditionID: ref.EditionID, Destination: &dst}, nil
}

// MovePositions relocates the source positions to the destination. Weeks are
// paired by index. The destination is checked first so that a caller without
// standing learns it has to propose instead.
func (s *MutationService) MovePositions(ctx context.Context, actor models.Actor, req dto.MovePositionsRequest) (result *dto.MutationResult, err error) {
	defer func() { s.metrics.ObserveMutation("move", err) }()

	src, dst, err := s.validatePair(req.Source, req.Destination)
	if err != nil {
		return nil, err
	}
	sources, ref, err := s.loadSource(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := s.checkDestinationFree(ctx, src, dst); err != nil {
		return nil, err
	}

	edition, err := s.catalog.GetEdition(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !canActOn(actor, edition) {
		return nil, notAuthorized(ref)
	}

	var superseded []models.ScheduledMove
	plan := lock.CommitPlan{
		SessionID: actor.SessionID,
		Held:      src.Keys(),
		Free:      append(dst.Keys(), ref.Key()),
		Vacated:   vacatedKeys(src, dst),
	}
	err = s.locks.Commit(plan, func() error {
		var err error
		superseded, err = s.store.ReplacePositions(ctx, sources, placeAt(ref, dst))
		return err
	})
	if err != nil {
		return nil, s.commitError(err, "failed to move positions")
	}

	e := s.publishPositions(ctx, broadcast.KindPositionsModified, actor, edition, &src, &dst)
	ids := s.publishSuperseded(actor, edition, superseded)
	s.logger.Info("positions moved",
		zap.String("user_id", actor.UserID),
		zap.String("edition", ref.Key().String()),
		zap.Int64("from_room_id", src.RoomID),
		zap.Int64("to_room_id", dst.RoomID),
		zap.Ints("weeks", dst.Weeks))
	return &dto.MutationResult{Seq: e.Seq, CourseID: ref.CourseID, EditionID: ref.EditionID, Source: &src, Destination: &dst, Superseded: ids}, nil
}

// RemovePositions unplaces positions the session holds locks on and removes
// pending proposals whose source overlaps them.
func (s *MutationService) RemovePositions(ctx context.Context, actor models.Actor, req dto.RemovePositionsRequest) (result *dto.MutationResult, err error) {
	defer func() { s.metrics.ObserveMutation("remove", err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid removal")
	}
	src := req.Slot()
	if err := s.rules.ValidateSlot("slot", src); err != nil {
		return nil, err
	}
	src = src.Normalized()

	positions, ref, err := s.loadSource(ctx, src)
	if err != nil {
		return nil, err
	}
	edition, err := s.catalog.GetEdition(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !canActOn(actor, edition) {
		return nil, notAuthorized(ref)
	}

	var superseded []models.ScheduledMove
	plan := lock.CommitPlan{SessionID: actor.SessionID, Held: src.Keys(), Vacated: src.Keys()}
	err = s.locks.Commit(plan, func() error {
		var err error
		superseded, err = s.store.DeletePositions(ctx, positions)
		return err
	})
	if err != nil {
		return nil, s.commitError(err, "failed to remove positions")
	}

	e := s.publishPositions(ctx, broadcast.KindPositionsRemoved, actor, edition, &src, nil)
	ids := s.publishSuperseded(actor, edition, superseded)
	s.logger.Info("positions removed",
		zap.String("user_id", actor.UserID),
		zap.String("edition", ref.Key().String()),
		zap.Int64("room_id", src.RoomID),
		zap.Ints("weeks", src.Weeks),
		zap.Int("superseded", len(ids)))
	return &dto.MutationResult{Seq: e.Seq, CourseID: ref.CourseID, EditionID: ref.EditionID, Source: &src, Superseded: ids}, nil
}

// ListPositions returns the positions visible through the filter.
func (s *MutationService) ListPositions(ctx context.Context, filter models.PositionFilter) ([]models.SchedulePosition, error) {
	return readThrough(ctx, s.cache, "views:positions:"+filterCacheKey(filter), s.cacheTTL, func() ([]models.SchedulePosition, error) {
		q := models.PositionQuery{RoomID: filter.RoomID, Weeks: models.NormalizeWeeks(filter.Weeks)}
		if filter.CoordinatorID != "" || filter.GroupID != 0 {
			editions, err := s.catalog.ListEditions(ctx, models.EditionFilter{CoordinatorID: filter.CoordinatorID, GroupID: filter.GroupID})
			if err != nil {
				return nil, err
			}
			if len(editions) == 0 {
				return []models.SchedulePosition{}, nil
			}
			q.Editions = editionRefs(editions)
		}
		positions, err := s.store.ListPositions(ctx, q)
		if err != nil {
			return nil, internalError(err, "failed to list positions")
		}
		if positions == nil {
			positions = []models.SchedulePosition{}
		}
		return positions, nil
	})
}

// Backlog returns the editions of the filtered audience that still have
// units to place.
func (s *MutationService) Backlog(ctx context.Context, filter models.PositionFilter) ([]models.BacklogEntry, error) {
	return readThrough(ctx, s.cache, "views:backlog:"+filterCacheKey(filter), s.cacheTTL, func() ([]models.BacklogEntry, error) {
		editions, err := s.catalog.ListEditions(ctx, models.EditionFilter{CoordinatorID: filter.CoordinatorID, GroupID: filter.GroupID})
		if err != nil {
			return nil, err
		}
		counts, err := s.store.CountPlaced(ctx, editionRefs(editions))
		if err != nil {
			return nil, internalError(err, "failed to count placed units")
		}
		backlog := make([]models.BacklogEntry, 0, len(editions))
		for _, e := range editions {
			placed := counts[e.Ref()]
			if placed >= e.RequiredUnits {
				continue
			}
			backlog = append(backlog, models.BacklogEntry{CourseEdition: e, PlacedUnits: placed, RemainingUnits: e.RequiredUnits - placed})
		}
		return backlog, nil
	})
}

// Snapshot assembles the initial load of a reconciliation view. Seq is read
// before the data so that events racing with the load are re-applied, which
// is harmless because events are idempotent deltas.
func (s *MutationService) Snapshot(ctx context.Context, filter models.PositionFilter, lastSeq func() uint64) (*reconcile.Snapshot, error) {
	snap := &reconcile.Snapshot{}
	if lastSeq != nil {
		snap.Seq = lastSeq()
	}
	editions, err := s.catalog.ListEditions(ctx, models.EditionFilter{CoordinatorID: filter.CoordinatorID, GroupID: filter.GroupID})
	if err != nil {
		return nil, err
	}
	snap.Editions = editions

	q := models.PositionQuery{RoomID: filter.RoomID, Weeks: models.NormalizeWeeks(filter.Weeks)}
	if filter.CoordinatorID != "" || filter.GroupID != 0 {
		q.Editions = editionRefs(editions)
	}
	if len(q.Editions) > 0 || (filter.CoordinatorID == "" && filter.GroupID == 0) {
		positions, err := s.store.ListPositions(ctx, q)
		if err != nil {
			return nil, internalError(err, "failed to list positions")
		}
		snap.Positions = positions
	}

	pending := false
	moves, err := s.store.ListMoves(ctx, models.MoveFilter{Confirmed: &pending, RoomID: filter.RoomID})
	if err != nil {
		return nil, internalError(err, "failed to list proposals")
	}
	snap.Proposals = moves

	for _, l := range s.locks.Snapshot() {
		snap.Locks = append(snap.Locks, reconcile.LockState{Key: l.Key, IsAdmin: l.IsAdmin})
	}
	return snap, nil
}

func (s *MutationService) validatePair(src, dst models.SlotWeeks) (models.SlotWeeks, models.SlotWeeks, error) {
	if err := s.validator.Struct(src); err != nil {
		return src, dst, validationError(err, "invalid source")
	}
	if err := s.validator.Struct(dst); err != nil {
		return src, dst, validationError(err, "invalid destination")
	}
	if err := s.rules.ValidateSlot("source", src); err != nil {
		return src, dst, err
	}
	if err := s.rules.ValidateSlot("destination", dst); err != nil {
		return src, dst, err
	}
	if len(src.Weeks) != len(dst.Weeks) {
		return src, dst, invalid("source and destination must list the same number of weeks", map[string]interface{}{
			"sourceWeeks": len(src.Weeks), "destinationWeeks": len(dst.Weeks),
		})
	}
	if src.Slot() == dst.Slot() && weeksEqual(src.Weeks, dst.Weeks) {
		return src, dst, invalid("source and destination are identical", nil)
	}
	return src, dst, nil
}

// loadSource returns the positions at src. Every week must be occupied and
// all by the same course edition.
func (s *MutationService) loadSource(ctx context.Context, src models.SlotWeeks) ([]models.SchedulePosition, models.EditionRef, error) {
	return loadSourcePositions(ctx, s.store, src)
}

func loadSourcePositions(ctx context.Context, store ScheduleStore, src models.SlotWeeks) ([]models.SchedulePosition, models.EditionRef, error) {
	positions, err := store.PositionsAt(ctx, src.Slot(), src.Weeks)
	if err != nil {
		return nil, models.EditionRef{}, internalError(err, "failed to load source positions")
	}
	byWeek := make(map[int]models.SchedulePosition, len(positions))
	for _, p := range positions {
		byWeek[p.Week] = p
	}
	ordered := make([]models.SchedulePosition, 0, len(src.Weeks))
	var ref models.EditionRef
	for i, w := range src.Weeks {
		p, ok := byWeek[w]
		if !ok {
			return nil, ref, appErrors.WithDetails(appErrors.ErrNotFound, "no position at source week", map[string]interface{}{
				"key": models.PositionKey(src.RoomID, src.PeriodIndex, src.Day, w).String(), "week": w,
			})
		}
		if i == 0 {
			ref = p.Edition()
		} else if p.Edition() != ref {
			return nil, ref, invalid("source positions belong to different course editions", map[string]interface{}{
				"week": w,
			})
		}
		ordered = append(ordered, p)
	}
	return ordered, ref, nil
}

// checkDestinationFree fails with DestinationBusy when a destination week is
// occupied by anything other than a position being vacated.
func (s *MutationService) checkDestinationFree(ctx context.Context, src, dst models.SlotWeeks) error {
	return destinationFree(ctx, s.store, src, dst)
}

func destinationFree(ctx context.Context, store ScheduleStore, src, dst models.SlotWeeks) error {
	occupied, err := store.PositionsAt(ctx, dst.Slot(), dst.Weeks)
	if err != nil {
		return internalError(err, "failed to load destination positions")
	}
	vacated := make(map[int]struct{}, len(src.Weeks))
	if src.Slot() == dst.Slot() {
		for _, w := range src.Weeks {
			vacated[w] = struct{}{}
		}
	}
	for _, p := range occupied {
		if _, ok := vacated[p.Week]; ok {
			continue
		}
		return destinationBusy(p)
	}
	return nil
}

func (s *MutationService) checkUnits(ctx context.Context, actor models.Actor, edition *models.CourseEdition, adding int) error {
	if !s.rules.EnforceUnitLimit || actor.IsAdmin || edition.RequiredUnits <= 0 {
		return nil
	}
	counts, err := s.store.CountPlaced(ctx, []models.EditionRef{edition.Ref()})
	if err != nil {
		return internalError(err, "failed to count placed units")
	}
	placed := counts[edition.Ref()]
	if placed+adding > edition.RequiredUnits {
		return appErrors.WithDetails(appErrors.ErrUnitsExceeded, "", map[string]interface{}{
			"key":           edition.Ref().Key().String(),
			"placedUnits":   placed,
			"requiredUnits": edition.RequiredUnits,
			"requested":     adding,
		})
	}
	return nil
}

// slotTakenError names the lowest week that won a concurrent insert race.
func (s *MutationService) slotTakenError(ctx context.Context, slot models.SlotWeeks) error {
	occupied, err := s.store.PositionsAt(ctx, slot.Slot(), slot.Weeks)
	if err == nil && len(occupied) > 0 {
		return slotOccupied(occupied[0])
	}
	return appErrors.WithDetails(appErrors.ErrSlotOccupied, "", map[string]interface{}{
		"key": models.PositionKey(slot.RoomID, slot.PeriodIndex, slot.Day, slot.Weeks[0]).String(), "week": slot.Weeks[0],
	})
}

func (s *MutationService) commitError(err error, message string) error {
	return commitError(err, message)
}

func commitError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrSlotTaken):
		return appErrors.Clone(appErrors.ErrDestinationBusy, "destination was taken concurrently")
	case errors.Is(err, repository.ErrPositionsChanged):
		return appErrors.Clone(appErrors.ErrConflict, "positions changed concurrently")
	case errors.Is(err, repository.ErrMoveNotPending):
		return appErrors.ErrProposalClosed
	case errors.Is(err, lock.ErrDenied), errors.Is(err, lock.ErrNotHeld), errors.Is(err, lock.ErrNoSession):
		return lockError(err)
	}
	return internalError(err, message)
}

func (s *MutationService) publishPositions(ctx context.Context, kind broadcast.Kind, actor models.Actor, edition *models.CourseEdition, src, dst *models.SlotWeeks) broadcast.Event {
	_ = s.cache.Invalidate(ctx, viewCachePattern)
	return s.bus.Publish(positionsEvent(kind, actor, edition, src, dst))
}

func (s *MutationService) publishSuperseded(actor models.Actor, edition *models.CourseEdition, moves []models.ScheduledMove) []string {
	return publishRemovedMoves(s.bus, actor, edition, moves, broadcast.ReasonSuperseded)
}

func positionsEvent(kind broadcast.Kind, actor models.Actor, edition *models.CourseEdition, src, dst *models.SlotWeeks) broadcast.Event {
	return broadcast.Event{
		Kind:      kind,
		SessionID: actor.SessionID,
		UserID:    actor.UserID,
		Positions: &broadcast.PositionsPayload{
			CourseID:       edition.CourseID,
			EditionID:      edition.EditionID,
			CoordinatorIDs: edition.Coordinators,
			GroupIDs:       edition.Groups,
			Source:         src,
			Destination:    dst,
		},
	}
}

func publishRemovedMoves(bus EventPublisher, actor models.Actor, edition *models.CourseEdition, moves []models.ScheduledMove, reason string) []string {
	ids := make([]string, 0, len(moves))
	for _, m := range moves {
		bus.Publish(moveEvent(broadcast.KindProposalRemoved, actor, edition, m, reason))
		ids = append(ids, m.ID)
	}
	return ids
}

func moveEvent(kind broadcast.Kind, actor models.Actor, edition *models.CourseEdition, m models.ScheduledMove, reason string) broadcast.Event {
	return broadcast.Event{
		Kind:      kind,
		SessionID: actor.SessionID,
		UserID:    actor.UserID,
		Reason:    reason,
		Move: &broadcast.MovePayload{
			Move:           m,
			CoordinatorIDs: edition.Coordinators,
			GroupIDs:       edition.Groups,
		},
	}
}

func slotOccupied(p models.SchedulePosition) error {
	return appErrors.WithDetails(appErrors.ErrSlotOccupied, fmt.Sprintf("week %d is already occupied", p.Week), map[string]interface{}{
		"key":      p.Key().String(),
		"week":     p.Week,
		"occupant": p.Edition().Key().String(),
	})
}

func destinationBusy(p models.SchedulePosition) error {
	return appErrors.WithDetails(appErrors.ErrDestinationBusy, fmt.Sprintf("destination week %d is occupied", p.Week), map[string]interface{}{
		"key":      p.Key().String(),
		"week":     p.Week,
		"occupant": p.Edition().Key().String(),
	})
}

// vacatedKeys returns source keys that are not re-occupied by the destination.
func vacatedKeys(src, dst models.SlotWeeks) []models.ResourceKey {
	reused := make(map[models.ResourceKey]struct{}, len(dst.Weeks))
	for _, k := range dst.Keys() {
		reused[k] = struct{}{}
	}
	out := make([]models.ResourceKey, 0, len(src.Weeks))
	for _, k := range src.Keys() {
		if _, ok := reused[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func weeksEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func filterCacheKey(f models.PositionFilter) string {
	weeks := models.NormalizeWeeks(f.Weeks)
	parts := make([]string, len(weeks))
	for i, w := range weeks {
		parts[i] = fmt.Sprint(w)
	}
	return fmt.Sprintf("%d:%s:%d:%s", f.RoomID, f.CoordinatorID, f.GroupID, strings.Join(parts, ","))
}
