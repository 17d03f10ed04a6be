package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

// LockService checks standing before delegating to the lock manager and
// expands the batch conveniences into primitive key sets.
//
// Empty position keys may be locked by anyone so that a placement can be
// prepared. Occupied positions and course editions require coordinator or
// administrator standing.
type LockService struct {
	locks     LockManager
	store     ScheduleStore
	catalog   EditionCatalog
	rules     ScheduleRules
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLockService constructs the service.
func NewLockService(locks LockManager, store ScheduleStore, catalog EditionCatalog, rules ScheduleRules, validate *validator.Validate, logger *zap.Logger) *LockService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockService{locks: locks, store: store, catalog: catalog, rules: rules, validator: validate, logger: logger}
}

// LockPositions locks every week of the listed slots, all or nothing.
func (s *LockService) LockPositions(ctx context.Context, actor models.Actor, req dto.LockPositionsRequest) (dto.LockResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.LockResponse{}, validationError(err, "invalid lock request")
	}
	if err := s.checkAdminFlag(actor, req.AsAdmin); err != nil {
		return dto.LockResponse{}, err
	}

	var keys []models.ResourceKey
	for _, slot := range req.Slots {
		if err := s.rules.ValidateSlot("slots", slot); err != nil {
			return dto.LockResponse{}, err
		}
		occupied, err := s.store.PositionsAt(ctx, slot.Slot(), slot.Weeks)
		if err != nil {
			return dto.LockResponse{}, internalError(err, "failed to load slot positions")
		}
		if err := s.requireStanding(ctx, actor, occupied); err != nil {
			return dto.LockResponse{}, err
		}
		keys = append(keys, slot.Keys()...)
	}
	return s.grant(actor, req.AsAdmin, keys)
}

// ReleasePositions releases position locks held by the session.
func (s *LockService) ReleasePositions(actor models.Actor, req dto.ReleasePositionsRequest) (dto.ReleaseResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ReleaseResponse{}, validationError(err, "invalid release request")
	}
	var keys []models.ResourceKey
	for _, slot := range req.Slots {
		keys = append(keys, slot.Keys()...)
	}
	return s.release(actor, keys), nil
}

// LockEditions locks course editions the actor has standing on.
func (s *LockService) LockEditions(ctx context.Context, actor models.Actor, req dto.LockEditionsRequest) (dto.LockResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.LockResponse{}, validationError(err, "invalid lock request")
	}
	if err := s.checkAdminFlag(actor, req.AsAdmin); err != nil {
		return dto.LockResponse{}, err
	}
	keys := make([]models.ResourceKey, 0, len(req.Editions))
	for _, ref := range req.Editions {
		edition, err := s.catalog.GetEdition(ctx, ref)
		if err != nil {
			return dto.LockResponse{}, err
		}
		if !canActOn(actor, edition) {
			return dto.LockResponse{}, notAuthorized(ref)
		}
		keys = append(keys, ref.Key())
	}
	return s.grant(actor, req.AsAdmin, keys)
}

// ReleaseEditions releases course edition locks held by the session.
func (s *LockService) ReleaseEditions(actor models.Actor, req dto.ReleaseEditionsRequest) (dto.ReleaseResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ReleaseResponse{}, validationError(err, "invalid release request")
	}
	keys := make([]models.ResourceKey, 0, len(req.Editions))
	for _, ref := range req.Editions {
		keys = append(keys, ref.Key())
	}
	return s.release(actor, keys), nil
}

// LockEditionPositions locks every placed position of one edition,
// optionally limited to some weeks.
func (s *LockService) LockEditionPositions(ctx context.Context, actor models.Actor, ref models.EditionRef, req dto.LockEditionPositionsRequest) (dto.LockResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.LockResponse{}, validationError(err, "invalid lock request")
	}
	if err := s.checkAdminFlag(actor, req.AsAdmin); err != nil {
		return dto.LockResponse{}, err
	}
	edition, err := s.catalog.GetEdition(ctx, ref)
	if err != nil {
		return dto.LockResponse{}, err
	}
	if !canActOn(actor, edition) {
		return dto.LockResponse{}, notAuthorized(ref)
	}
	positions, err := s.store.ListPositions(ctx, models.PositionQuery{Editions: []models.EditionRef{ref}, Weeks: req.Weeks})
	if err != nil {
		return dto.LockResponse{}, internalError(err, "failed to list edition positions")
	}
	if len(positions) == 0 {
		return dto.LockResponse{}, appErrors.WithDetails(appErrors.ErrNotFound, "course edition has no placed positions", map[string]interface{}{
			"key": ref.Key().String(),
		})
	}
	return s.grant(actor, req.AsAdmin, positionKeys(positions))
}

// LockGroupEditions locks the course editions taught to a group.
// Administrators lock all of them; coordinators lock the ones they
// coordinate.
func (s *LockService) LockGroupEditions(ctx context.Context, actor models.Actor, groupID int64, req dto.LockGroupEditionsRequest) (dto.LockResponse, error) {
	if groupID <= 0 {
		return dto.LockResponse{}, invalid("groupId must be positive", map[string]interface{}{"field": "groupId"})
	}
	if err := s.checkAdminFlag(actor, req.AsAdmin); err != nil {
		return dto.LockResponse{}, err
	}
	editions, err := s.catalog.ListEditions(ctx, models.EditionFilter{GroupID: groupID})
	if err != nil {
		return dto.LockResponse{}, err
	}
	keys := make([]models.ResourceKey, 0, len(editions))
	for i := range editions {
		if canActOn(actor, &editions[i]) {
			keys = append(keys, editions[i].Ref().Key())
		}
	}
	if len(keys) == 0 {
		return dto.LockResponse{}, appErrors.WithDetails(appErrors.ErrNotAuthorized, "no course edition of the group can be locked by you", map[string]interface{}{
			"groupId": groupID,
		})
	}
	return s.grant(actor, req.AsAdmin, keys)
}

// Snapshot returns every held lock.
func (s *LockService) Snapshot() []lock.Lock {
	return s.locks.Snapshot()
}

// HeldBy returns the locks of one session.
func (s *LockService) HeldBy(sessionID string) []lock.Lock {
	return s.locks.HeldBy(sessionID)
}

func (s *LockService) grant(actor models.Actor, asAdmin bool, keys []models.ResourceKey) (dto.LockResponse, error) {
	owner := ownerOf(actor)
	owner.IsAdmin = asAdmin
	g, err := s.locks.Lock(owner, keys)
	if err != nil {
		s.logger.Debug("lock denied", zap.String("session_id", actor.SessionID), zap.Error(err))
		return dto.LockResponse{}, lockError(err)
	}
	return dto.NewLockResponse(g), nil
}

func (s *LockService) release(actor models.Actor, keys []models.ResourceKey) dto.ReleaseResponse {
	released := s.locks.Unlock(ownerOf(actor), keys)
	if released == nil {
		released = []models.ResourceKey{}
	}
	return dto.ReleaseResponse{Released: released}
}

func (s *LockService) checkAdminFlag(actor models.Actor, asAdmin bool) error {
	if asAdmin && !actor.IsAdmin {
		return appErrors.Clone(appErrors.ErrNotAuthorized, "administrative override requires an administrator")
	}
	return nil
}

func (s *LockService) requireStanding(ctx context.Context, actor models.Actor, occupied []models.SchedulePosition) error {
	if actor.IsAdmin {
		return nil
	}
	checked := make(map[models.EditionRef]struct{})
	for _, p := range occupied {
		ref := p.Edition()
		if _, ok := checked[ref]; ok {
			continue
		}
		checked[ref] = struct{}{}
		edition, err := s.catalog.GetEdition(ctx, ref)
		if err != nil {
			return err
		}
		if !canActOn(actor, edition) {
			return notAuthorized(ref)
		}
	}
	return nil
}

func notAuthorized(ref models.EditionRef) error {
	return appErrors.WithDetails(appErrors.ErrNotAuthorized, "", map[string]interface{}{
		"key": ref.Key().String(),
	})
}
