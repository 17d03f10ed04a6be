package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/middleware"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

var testActor = models.Actor{UserID: "alice", SessionID: "s-1"}

type lockServiceMock struct {
	lockResp    dto.LockResponse
	lockErr     error
	lastActor   models.Actor
	lastLock    dto.LockPositionsRequest
	lastRef     models.EditionRef
	lastGroupID int64
	snapshot    []lock.Lock
	held        []lock.Lock
}

func (m *lockServiceMock) LockPositions(ctx context.Context, actor models.Actor, req dto.LockPositionsRequest) (dto.LockResponse, error) {
	m.lastActor = actor
	m.lastLock = req
	return m.lockResp, m.lockErr
}

func (m *lockServiceMock) ReleasePositions(actor models.Actor, req dto.ReleasePositionsRequest) (dto.ReleaseResponse, error) {
	return dto.ReleaseResponse{Released: []models.ResourceKey{}}, nil
}

func (m *lockServiceMock) LockEditions(ctx context.Context, actor models.Actor, req dto.LockEditionsRequest) (dto.LockResponse, error) {
	return m.lockResp, m.lockErr
}

func (m *lockServiceMock) ReleaseEditions(actor models.Actor, req dto.ReleaseEditionsRequest) (dto.ReleaseResponse, error) {
	return dto.ReleaseResponse{Released: []models.ResourceKey{}}, nil
}

func (m *lockServiceMock) LockEditionPositions(ctx context.Context, actor models.Actor, ref models.EditionRef, req dto.LockEditionPositionsRequest) (dto.LockResponse, error) {
	m.lastRef = ref
	return m.lockResp, m.lockErr
}

func (m *lockServiceMock) LockGroupEditions(ctx context.Context, actor models.Actor, groupID int64, req dto.LockGroupEditionsRequest) (dto.LockResponse, error) {
	m.lastGroupID = groupID
	return m.lockResp, m.lockErr
}

func (m *lockServiceMock) Snapshot() []lock.Lock { return m.snapshot }

func (m *lockServiceMock) HeldBy(sessionID string) []lock.Lock { return m.held }

type sweeperStub struct{ released []models.ResourceKey }

func (s sweeperStub) Sweep() []models.ResourceKey { return s.released }

func newContext(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	return c, w
}

func withActor(c *gin.Context, actor models.Actor) {
	c.Set(middleware.ContextActorKey, actor)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var body struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestLockHandlerLockPositions(t *testing.T) {
	mockSvc := &lockServiceMock{lockResp: dto.LockResponse{Acquired: []models.ResourceKey{models.PositionKey(5, 1, 1, 1)}}}
	h := NewLockHandler(mockSvc, nil)

	c, w := newContext(http.MethodPost, "/locks/positions", `{"slots":[{"roomId":5,"periodIndex":1,"day":1,"weeks":[1]}]}`)
	withActor(c, testActor)
	h.LockPositions(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testActor, mockSvc.lastActor)
	require.Len(t, mockSvc.lastLock.Slots, 1)
	assert.Equal(t, []int{1}, mockSvc.lastLock.Slots[0].Weeks)
	assert.Contains(t, w.Body.String(), `"acquired"`)
}

func TestLockHandlerRequiresSession(t *testing.T) {
	h := NewLockHandler(&lockServiceMock{}, nil)
	c, w := newContext(http.MethodPost, "/locks/positions", `{"slots":[]}`)
	h.LockPositions(c)

	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "SESSION_NOT_CONNECTED", decodeError(t, w).Code)
}

func TestLockHandlerDenied(t *testing.T) {
	mockSvc := &lockServiceMock{lockErr: appErrors.WithDetails(appErrors.ErrLockDenied, "", map[string]interface{}{"key": "position:5:1:1:1"})}
	h := NewLockHandler(mockSvc, nil)

	c, w := newContext(http.MethodPost, "/locks/positions", `{"slots":[{"roomId":5,"periodIndex":1,"day":1,"weeks":[1]}]}`)
	withActor(c, testActor)
	h.LockPositions(c)

	require.Equal(t, http.StatusConflict, w.Code)
	appErr := decodeError(t, w)
	assert.Equal(t, "LOCK_DENIED", appErr.Code)
	assert.Equal(t, "position:5:1:1:1", appErr.Details["key"])
}

func TestLockHandlerInvalidBody(t *testing.T) {
	h := NewLockHandler(&lockServiceMock{}, nil)
	c, w := newContext(http.MethodPost, "/locks/editions", `{"editions":`)
	withActor(c, testActor)
	h.LockEditions(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLockHandlerExpansions(t *testing.T) {
	mockSvc := &lockServiceMock{}
	h := NewLockHandler(mockSvc, nil)

	c, w := newContext(http.MethodPost, "/locks/editions/10/1/positions", "")
	c.Params = gin.Params{{Key: "courseId", Value: "10"}, {Key: "editionId", Value: "1"}}
	withActor(c, testActor)
	h.LockEditionPositions(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EditionRef{CourseID: 10, EditionID: 1}, mockSvc.lastRef)

	c, w = newContext(http.MethodPost, "/locks/groups/x/editions", "")
	c.Params = gin.Params{{Key: "groupId", Value: "x"}}
	withActor(c, testActor)
	h.LockGroupEditions(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newContext(http.MethodPost, "/locks/groups/7/editions", `{"asAdmin":true}`)
	c.Params = gin.Params{{Key: "groupId", Value: "7"}}
	withActor(c, testActor)
	h.LockGroupEditions(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), mockSvc.lastGroupID)
}

func TestLockHandlerList(t *testing.T) {
	mockSvc := &lockServiceMock{
		snapshot: []lock.Lock{{Key: models.PositionKey(5, 1, 1, 1), SessionID: "s-1"}, {Key: models.EditionKey(10, 1), SessionID: "s-2"}},
		held:     []lock.Lock{{Key: models.PositionKey(5, 1, 1, 1), SessionID: "s-1"}},
	}
	h := NewLockHandler(mockSvc, nil)

	c, w := newContext(http.MethodGet, "/locks", "")
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	c, w = newContext(http.MethodGet, "/locks?sessionId=s-1", "")
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestLockHandlerSweep(t *testing.T) {
	c, w := newContext(http.MethodPost, "/admin/locks/sweep", "")
	NewLockHandler(&lockServiceMock{}, nil).Sweep(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	c, w = newContext(http.MethodPost, "/admin/locks/sweep", "")
	NewLockHandler(&lockServiceMock{}, sweeperStub{released: []models.ResourceKey{models.EditionKey(10, 1)}}).Sweep(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"released"`)
}
