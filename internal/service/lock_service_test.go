package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

func lockReq(slots ...models.SlotWeeks) dto.LockPositionsRequest {
	return dto.LockPositionsRequest{Slots: slots}
}

func TestLockPositionsContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceSub := f.connect(t, "alice", false)
	alice2, _ := f.connect(t, "alice", false)

	resp, err := f.lockSvc.LockPositions(ctx, alice, lockReq(slot(5, 1, 1, 1, 2)))
	require.NoError(t, err)
	assert.Len(t, resp.Acquired, 2)

	events := drain(aliceSub)
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.KindLockGranted, events[0].Kind)

	_, err = f.lockSvc.LockPositions(ctx, alice2, lockReq(slot(5, 1, 1, 2, 3)))
	appErr := requireCode(t, err, appErrors.ErrLockDenied)
	assert.Equal(t, "position:5:1:1:2", appErr.Details["key"])
	assert.Empty(t, f.locks.HeldBy(alice2.SessionID), "a denied batch acquires nothing")

	again, err := f.lockSvc.LockPositions(ctx, alice, lockReq(slot(5, 1, 1, 1, 2)))
	require.NoError(t, err)
	assert.Empty(t, again.Acquired)
	assert.Len(t, again.Renewed, 2)
	assert.Empty(t, drain(aliceSub), "renewals are silent")
}

func TestLockPositionsRequiresStandingOnOccupiedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice", false)
	bob, _ := f.connect(t, "bob", false)

	_, err := f.mutations.AddPositions(ctx, alice, addReq(algebra, slot(5, 1, 1, 1)))
	require.NoError(t, err)

	_, err = f.lockSvc.LockPositions(ctx, bob, lockReq(slot(5, 1, 1, 1)))
	requireCode(t, err, appErrors.ErrNotAuthorized)

	_, err = f.lockSvc.LockPositions(ctx, bob, lockReq(slot(5, 1, 1, 2)))
	require.NoError(t, err, "empty positions are open to anyone")

	_, err = f.lockSvc.LockPositions(ctx, bob, lockReq(slot(5, 9, 1, 2)))
	requireCode(t, err, appErrors.ErrValidation)

	_, err = f.lockSvc.LockPositions(ctx, bob, dto.LockPositionsRequest{})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceSub := f.connect(t, "alice", false)
	bob, _ := f.connect(t, "bob", false)

	_, err := f.lockSvc.LockPositions(ctx, alice, lockReq(slot(5, 1, 1, 1, 2)))
	require.NoError(t, err)
	drain(aliceSub)

	resp, err := f.lockSvc.ReleasePositions(bob, dto.ReleasePositionsRequest{Slots: []models.SlotWeeks{slot(5, 1, 1, 1, 2)}})
	require.NoError(t, err)
	assert.Empty(t, resp.Released, "locks of other sessions are untouched")

	resp, err = f.lockSvc.ReleasePositions(alice, dto.ReleasePositionsRequest{Slots: []models.SlotWeeks{slot(5, 1, 1, 1)}})
	require.NoError(t, err)
	assert.Equal(t, []models.ResourceKey{models.PositionKey(5, 1, 1, 1)}, resp.Released)

	resp, err = f.lockSvc.ReleasePositions(alice, dto.ReleasePositionsRequest{Slots: []models.SlotWeeks{slot(5, 1, 1, 1)}})
	require.NoError(t, err)
	assert.Empty(t, resp.Released)
	assert.NotNil(t, resp.Released)

	events := drain(aliceSub)
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.KindLockReleased, events[0].Kind)
	assert.Equal(t, broadcast.ReasonUnlock, events[0].Reason)
}

func TestAdminOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice", false)
	root, _ := f.connect(t, "root", true)
	other, _ := f.connect(t, "ops", true)

	_, err := f.lockSvc.LockEditions(ctx, alice, dto.LockEditionsRequest{Editions: []models.EditionRef{algebra}})
	require.NoError(t, err)

	_, err = f.lockSvc.LockEditions(ctx, alice, dto.LockEditionsRequest{Editions: []models.EditionRef{algebra}, AsAdmin: true})
	requireCode(t, err, appErrors.ErrNotAuthorized)

	_, err = f.lockSvc.LockEditions(ctx, root, dto.LockEditionsRequest{Editions: []models.EditionRef{algebra}})
	requireCode(t, err, appErrors.ErrLockDenied)

	resp, err := f.lockSvc.LockEditions(ctx, root, dto.LockEditionsRequest{Editions: []models.EditionRef{algebra}, AsAdmin: true})
	require.NoError(t, err)
	require.Len(t, resp.Overridden, 1)
	assert.Equal(t, alice.SessionID, resp.Overridden[0].SessionID)
	assert.Empty(t, f.locks.HeldBy(alice.SessionID))

	_, err = f.lockSvc.LockEditions(ctx, other, dto.LockEditionsRequest{Editions: []models.EditionRef{algebra}, AsAdmin: true})
	appErr := requireCode(t, err, appErrors.ErrLockDenied)
	assert.Equal(t, true, appErr.Details["isAdmin"])
}

func TestLockEditionsRequiresCoordinator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, _ := f.connect(t, "bob", false)

	_, err := f.lockSvc.LockEditions(ctx, bob, dto.LockEditionsRequest{Editions: []models.EditionRef{physics, algebra}})
	requireCode(t, err, appErrors.ErrNotAuthorized)
	assert.Empty(t, f.locks.HeldBy(bob.SessionID))

	_, err = f.lockSvc.LockEditions(ctx, bob, dto.LockEditionsRequest{Editions: []models.EditionRef{{CourseID: 99, EditionID: 1}}})
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestLockEditionPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice", false)

	_, err := f.lockSvc.LockEditionPositions(ctx, alice, algebra, dto.LockEditionPositionsRequest{})
	requireCode(t, err, appErrors.ErrNotFound)

	_, err = f.mutations.AddPositions(ctx, alice, addReq(algebra, slot(5, 1, 1, 1, 2, 3)))
	require.NoError(t, err)
	_, err = f.mutations.AddPositions(ctx, alice, addReq(algebra, slot(6, 2, 3, 1)))
	require.NoError(t, err)

	resp, err := f.lockSvc.LockEditionPositions(ctx, alice, algebra, dto.LockEditionPositionsRequest{Weeks: []int{1}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ResourceKey{
		models.PositionKey(5, 1, 1, 1),
		models.PositionKey(6, 2, 3, 1),
	}, resp.Acquired)

	bob, _ := f.connect(t, "bob", false)
	_, err = f.lockSvc.LockEditionPositions(ctx, bob, algebra, dto.LockEditionPositionsRequest{})
	requireCode(t, err, appErrors.ErrNotAuthorized)
}

func TestLockGroupEditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, _ := f.connect(t, "bob", false)
	root, _ := f.connect(t, "root", true)
	dave, _ := f.connect(t, "dave", false)

	resp, err := f.lockSvc.LockGroupEditions(ctx, bob, 7, dto.LockGroupEditionsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []models.ResourceKey{physics.Key()}, resp.Acquired)

	_, err = f.lockSvc.LockGroupEditions(ctx, dave, 7, dto.LockGroupEditionsRequest{})
	requireCode(t, err, appErrors.ErrNotAuthorized)

	_, err = f.lockSvc.LockGroupEditions(ctx, root, 8, dto.LockGroupEditionsRequest{})
	requireCode(t, err, appErrors.ErrLockDenied)

	resp, err = f.lockSvc.LockGroupEditions(ctx, root, 8, dto.LockGroupEditionsRequest{AsAdmin: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ResourceKey{physics.Key(), robotics.Key()}, resp.Acquired)
	require.Len(t, resp.Overridden, 1)

	_, err = f.lockSvc.LockGroupEditions(ctx, root, 0, dto.LockGroupEditionsRequest{})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestLockSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice", false)
	bob, _ := f.connect(t, "bob", false)

	_, err := f.lockSvc.LockPositions(ctx, alice, lockReq(slot(5, 1, 1, 1)))
	require.NoError(t, err)
	_, err = f.lockSvc.LockEditions(ctx, bob, dto.LockEditionsRequest{Editions: []models.EditionRef{physics}})
	require.NoError(t, err)

	assert.Len(t, f.lockSvc.Snapshot(), 2)
	held := f.lockSvc.HeldBy(bob.SessionID)
	require.Len(t, held, 1)
	assert.Equal(t, physics.Key(), held[0].Key)
}
