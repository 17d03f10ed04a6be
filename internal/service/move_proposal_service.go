package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

// MoveProposalServiceOption configures optional collaborators.
type MoveProposalServiceOption func(*MoveProposalService)

// WithProposalLogger overrides the logger.
func WithProposalLogger(logger *zap.Logger) MoveProposalServiceOption {
	return func(s *MoveProposalService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProposalCache invalidates cached views when an accepted proposal
// moves positions.
func WithProposalCache(cache *CacheService) MoveProposalServiceOption {
	return func(s *MoveProposalService) {
		s.cache = cache
	}
}

// WithProposalMetrics records accept outcomes.
func WithProposalMetrics(metrics *MetricsService) MoveProposalServiceOption {
	return func(s *MoveProposalService) {
		s.metrics = metrics
	}
}

// WithProposalClock overrides the time source used for schedule order.
func WithProposalClock(clock func() time.Time) MoveProposalServiceOption {
	return func(s *MoveProposalService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// MoveProposalService runs the scheduled move workflow. A proposal is
// PROPOSED until it is accepted, withdrawn, rejected or superseded; none of
// those states reopen. Proposals never reserve their destination, so the
// first accepted proposal wins and the others stay pending.
type MoveProposalService struct {
	store     ScheduleStore
	catalog   EditionCatalog
	locks     LockManager
	bus       EventPublisher
	rules     ScheduleRules
	validator *validator.Validate
	logger    *zap.Logger
	cache     *CacheService
	metrics   *MetricsService
	clock     func() time.Time
}

// NewMoveProposalService constructs the workflow.
func NewMoveProposalService(store ScheduleStore, catalog EditionCatalog, locks LockManager, bus EventPublisher, rules ScheduleRules, opts ...MoveProposalServiceOption) *MoveProposalService {
	svc := &MoveProposalService{
		store:     store,
		catalog:   catalog,
		locks:     locks,
		bus:       bus,
		rules:     rules,
		validator: validator.New(),
		logger:    zap.NewNop(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Propose records a pending move of the source positions. The destination
// must not be locked by another session; it may be occupied.
func (s *MoveProposalService) Propose(ctx context.Context, actor models.Actor, req dto.ProposeMoveRequest) (*models.ScheduledMove, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid proposal")
	}
	src, dst := req.Source, req.Destination
	if err := s.rules.ValidateSlot("source", src); err != nil {
		return nil, err
	}
	if err := s.rules.ValidateSlot("destination", dst); err != nil {
		return nil, err
	}
	if len(src.Weeks) != len(dst.Weeks) {
		return nil, invalid("source and destination must list the same number of weeks", map[string]interface{}{
			"sourceWeeks": len(src.Weeks), "destinationWeeks": len(dst.Weeks),
		})
	}

	_, ref, err := loadSourcePositions(ctx, s.store, src)
	if err != nil {
		return nil, err
	}
	edition, err := s.catalog.GetEdition(ctx, ref)
	if err != nil {
		return nil, err
	}
	if held := s.locks.HeldByOthers(actor.SessionID, dst.Keys()); len(held) > 0 {
		return nil, deniedError(held[0].Key, held[0])
	}

	move := &models.ScheduledMove{
		CourseID:      ref.CourseID,
		EditionID:     ref.EditionID,
		Source:        src,
		Destination:   dst,
		UserID:        actor.UserID,
		ScheduleOrder: s.clock(),
		Message:       req.Message,
	}
	if err := s.store.CreateMove(ctx, move); err != nil {
		return nil, internalError(err, "failed to create proposal")
	}
	s.bus.Publish(moveEvent(broadcast.KindProposalAdded, actor, edition, *move, ""))
	s.logger.Info("move proposed",
		zap.String("move_id", move.ID),
		zap.String("user_id", actor.UserID),
		zap.String("edition", ref.Key().String()))
	return move, nil
}

// Accept applies a pending proposal. Only a coordinator of the source edition
// or an administrator may accept. Source and destination keys are locked for
// the duration of the commit; keys the session did not hold before are
// released afterwards. A busy destination leaves the proposal pending.
func (s *MoveProposalService) Accept(ctx context.Context, actor models.Actor, id string) (resp *dto.AcceptMoveResponse, err error) {
	defer func() { s.metrics.ObserveMutation("accept", err) }()

	move, edition, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canActOn(actor, edition) {
		return nil, notAuthorized(move.Edition())
	}

	owner := ownerOf(actor)
	owner.IsAdmin = false
	keys := append(move.Source.Keys(), move.Destination.Keys()...)
	grant, err := s.locks.Lock(owner, keys)
	if err != nil {
		return nil, lockError(err)
	}
	defer s.locks.Unlock(owner, grant.Acquired)

	removed, ref, err := loadSourcePositions(ctx, s.store, move.Source)
	if err != nil {
		return nil, err
	}
	if ref != move.Edition() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "source positions now belong to another course edition")
	}
	if err := destinationFree(ctx, s.store, move.Source, move.Destination); err != nil {
		return nil, err
	}

	confirmedAt := s.clock()
	var superseded []models.ScheduledMove
	plan := lock.CommitPlan{SessionID: actor.SessionID, Held: keys, Vacated: vacatedKeys(move.Source, move.Destination)}
	err = s.locks.Commit(plan, func() error {
		var err error
		superseded, err = s.store.ConfirmMove(ctx, move.ID, removed, placeAt(ref, move.Destination), confirmedAt)
		return err
	})
	if err != nil {
		return nil, commitError(err, "failed to accept proposal")
	}
	move.IsConfirmed = true
	move.ConfirmedAt = &confirmedAt
	_ = s.cache.Invalidate(ctx, viewCachePattern)

	src, dst := move.Source, move.Destination
	modified := s.bus.Publish(positionsEvent(broadcast.KindPositionsModified, actor, edition, &src, &dst))
	s.bus.Publish(moveEvent(broadcast.KindProposalAccepted, actor, edition, *move, ""))
	ids := publishRemovedMoves(s.bus, actor, edition, superseded, broadcast.ReasonSuperseded)

	s.logger.Info("move accepted",
		zap.String("move_id", move.ID),
		zap.String("user_id", actor.UserID),
		zap.Int("superseded", len(ids)))
	return &dto.AcceptMoveResponse{
		Move: dto.NewMoveResponse(*move),
		Mutation: dto.MutationResult{
			Seq: modified.Seq, CourseID: ref.CourseID, EditionID: ref.EditionID,
			Source: &src, Destination: &dst, Superseded: ids,
		},
	}, nil
}

// Withdraw deletes a pending proposal on behalf of its proposer or an
// administrator.
func (s *MoveProposalService) Withdraw(ctx context.Context, actor models.Actor, id string) (*models.ScheduledMove, error) {
	move, edition, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && move.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotAuthorized, "only the proposer can withdraw a proposal")
	}
	return s.remove(ctx, actor, edition, move.ID, broadcast.ReasonWithdrawn)
}

// Reject deletes a pending proposal on behalf of a coordinator of the source
// edition or an administrator.
func (s *MoveProposalService) Reject(ctx context.Context, actor models.Actor, id string) (*models.ScheduledMove, error) {
	move, edition, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canActOn(actor, edition) {
		return nil, notAuthorized(move.Edition())
	}
	return s.remove(ctx, actor, edition, move.ID, broadcast.ReasonRejected)
}

// Get returns one proposal.
func (s *MoveProposalService) Get(ctx context.Context, id string) (*models.ScheduledMove, error) {
	move, err := s.store.GetMove(ctx, id)
	if err != nil {
		return nil, notFoundIfMissing(err, "proposal %s", id)
	}
	return move, nil
}

// List returns one page of proposals in schedule order and the number of
// proposals matching the filter across all pages.
func (s *MoveProposalService) List(ctx context.Context, filter models.MoveFilter) ([]models.ScheduledMove, int, error) {
	moves, err := s.store.ListMoves(ctx, filter)
	if err != nil {
		return nil, 0, internalError(err, "failed to list proposals")
	}
	if moves == nil {
		moves = []models.ScheduledMove{}
	}
	total := len(moves)
	if filter.Limit > 0 || filter.Offset > 0 {
		if total, err = s.store.CountMoves(ctx, filter); err != nil {
			return nil, 0, internalError(err, "failed to count proposals")
		}
	}
	return moves, total, nil
}

func (s *MoveProposalService) loadPending(ctx context.Context, id string) (*models.ScheduledMove, *models.CourseEdition, error) {
	move, err := s.store.GetMove(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.WithDetails(appErrors.ErrNotFound, "proposal not found", map[string]interface{}{"moveId": id})
		}
		return nil, nil, internalError(err, "failed to load proposal")
	}
	if move.IsConfirmed {
		return nil, nil, appErrors.WithDetails(appErrors.ErrProposalClosed, "", map[string]interface{}{
			"moveId": id, "status": move.Status(),
		})
	}
	edition, err := s.catalog.GetEdition(ctx, move.Edition())
	if err != nil {
		return nil, nil, err
	}
	return move, edition, nil
}

func (s *MoveProposalService) remove(ctx context.Context, actor models.Actor, edition *models.CourseEdition, id, reason string) (*models.ScheduledMove, error) {
	deleted, err := s.store.DeleteMove(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMoveNotPending) {
			return nil, appErrors.WithDetails(appErrors.ErrProposalClosed, "", map[string]interface{}{"moveId": id})
		}
		return nil, internalError(err, "failed to delete proposal")
	}
	s.bus.Publish(moveEvent(broadcast.KindProposalRemoved, actor, edition, *deleted, reason))
	s.logger.Info("proposal removed",
		zap.String("move_id", id),
		zap.String("user_id", actor.UserID),
		zap.String("reason", reason))
	return deleted, nil
}

var _ LockManager = (*lock.Manager)(nil)
