package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/internal/reconcile"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

type positionServiceMock struct {
	addReq     dto.AddPositionsRequest
	moveReq    dto.MovePositionsRequest
	result     *dto.MutationResult
	err        error
	lastFilter models.PositionFilter
	positions  []models.SchedulePosition
}

func (m *positionServiceMock) AddPositions(ctx context.Context, actor models.Actor, req dto.AddPositionsRequest) (*dto.MutationResult, error) {
	m.addReq = req
	return m.result, m.err
}

func (m *positionServiceMock) MovePositions(ctx context.Context, actor models.Actor, req dto.MovePositionsRequest) (*dto.MutationResult, error) {
	m.moveReq = req
	return m.result, m.err
}

func (m *positionServiceMock) RemovePositions(ctx context.Context, actor models.Actor, req dto.RemovePositionsRequest) (*dto.MutationResult, error) {
	return m.result, m.err
}

func (m *positionServiceMock) ListPositions(ctx context.Context, filter models.PositionFilter) ([]models.SchedulePosition, error) {
	m.lastFilter = filter
	return m.positions, m.err
}

func (m *positionServiceMock) Backlog(ctx context.Context, filter models.PositionFilter) ([]models.BacklogEntry, error) {
	m.lastFilter = filter
	return []models.BacklogEntry{}, m.err
}

func (m *positionServiceMock) Snapshot(ctx context.Context, filter models.PositionFilter, lastSeq func() uint64) (*reconcile.Snapshot, error) {
	m.lastFilter = filter
	return &reconcile.Snapshot{Seq: lastSeq()}, m.err
}

func TestPositionHandlerAdd(t *testing.T) {
	mockSvc := &positionServiceMock{result: &dto.MutationResult{Seq: 9, CourseID: 10, EditionID: 1}}
	h := NewPositionHandler(mockSvc, nil)

	c, w := newContext(http.MethodPost, "/positions", `{"courseId":10,"editionId":1,"roomId":5,"periodIndex":2,"day":1,"weeks":[3,4]}`)
	withActor(c, testActor)
	h.Add(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.EditionRef{CourseID: 10, EditionID: 1}, mockSvc.addReq.Edition())
	assert.Equal(t, []int{3, 4}, mockSvc.addReq.Weeks)
	assert.Contains(t, w.Body.String(), `"seq":9`)
}

func TestPositionHandlerAddOccupied(t *testing.T) {
	mockSvc := &positionServiceMock{err: appErrors.WithDetails(appErrors.ErrSlotOccupied, "", map[string]interface{}{"week": 3})}
	h := NewPositionHandler(mockSvc, nil)

	c, w := newContext(http.MethodPost, "/positions", `{"courseId":10,"editionId":1,"roomId":5,"periodIndex":2,"day":1,"weeks":[3]}`)
	withActor(c, testActor)
	h.Add(c)

	require.Equal(t, http.StatusConflict, w.Code)
	appErr := decodeError(t, w)
	assert.Equal(t, "SLOT_OCCUPIED", appErr.Code)
	assert.EqualValues(t, 3, appErr.Details["week"])
}

func TestPositionHandlerMove(t *testing.T) {
	mockSvc := &positionServiceMock{result: &dto.MutationResult{Seq: 2}}
	h := NewPositionHandler(mockSvc, nil)

	c, w := newContext(http.MethodPost, "/positions/move", `{"source":{"roomId":5,"periodIndex":2,"day":1,"weeks":[3]},"destination":{"roomId":6,"periodIndex":2,"day":1,"weeks":[3]}}`)
	withActor(c, testActor)
	h.Move(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(6), mockSvc.moveReq.Destination.RoomID)

	c, w = newContext(http.MethodPost, "/positions/remove", `{"roomId":5`)
	withActor(c, testActor)
	h.Remove(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPositionHandlerListFilters(t *testing.T) {
	mockSvc := &positionServiceMock{positions: []models.SchedulePosition{{RoomID: 5, Week: 1}}}
	h := NewPositionHandler(mockSvc, nil)

	c, w := newContext(http.MethodGet, "/positions?roomId=5&weeks=1&weeks=2&coordinatorId=alice", "")
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PositionFilter{RoomID: 5, CoordinatorID: "alice", Weeks: []int{1, 2}}, mockSvc.lastFilter)
	assert.Contains(t, w.Body.String(), `"count":1`)

	c, w = newContext(http.MethodGet, "/positions?roomId=-1", "")
	h.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPositionHandlerView(t *testing.T) {
	mockSvc := &positionServiceMock{}
	h := NewPositionHandler(mockSvc, func() uint64 { return 41 })

	c, w := newContext(http.MethodGet, "/view?groupId=7", "")
	h.View(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), mockSvc.lastFilter.GroupID)
	assert.Contains(t, w.Body.String(), `"seq":41`)
}
