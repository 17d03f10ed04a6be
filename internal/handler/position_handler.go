package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/internal/reconcile"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
	"github.com/noah-isme/sma-timetable-sync/pkg/response"
)

type positionService interface {
	AddPositions(ctx context.Context, actor models.Actor, req dto.AddPositionsRequest) (*dto.MutationResult, error)
	MovePositions(ctx context.Context, actor models.Actor, req dto.MovePositionsRequest) (*dto.MutationResult, error)
	RemovePositions(ctx context.Context, actor models.Actor, req dto.RemovePositionsRequest) (*dto.MutationResult, error)
	ListPositions(ctx context.Context, filter models.PositionFilter) ([]models.SchedulePosition, error)
	Backlog(ctx context.Context, filter models.PositionFilter) ([]models.BacklogEntry, error)
	Snapshot(ctx context.Context, filter models.PositionFilter, lastSeq func() uint64) (*reconcile.Snapshot, error)
}

// PositionHandler exposes the mutation coordinator and schedule views.
type PositionHandler struct {
	service positionService
	lastSeq func() uint64
}

// NewPositionHandler constructs the handler. lastSeq reports the latest
// broadcast sequence number and stamps snapshots.
func NewPositionHandler(service positionService, lastSeq func() uint64) *PositionHandler {
	return &PositionHandler{service: service, lastSeq: lastSeq}
}

// Add godoc
// @Summary Place a course edition
// @Description Places the edition at one slot for the listed weeks. Every week must be free.
// @Tags Positions
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.AddPositionsRequest true "Placement"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /positions [post]
func (h *PositionHandler) Add(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.AddPositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid placement payload"))
		return
	}
	result, err := h.service.AddPositions(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Move godoc
// @Summary Move placed positions
// @Description Moves the source weeks to the destination atomically. The session must hold the source locks.
// @Tags Positions
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.MovePositionsRequest true "Move"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /positions/move [post]
func (h *PositionHandler) Move(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.MovePositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid move payload"))
		return
	}
	result, err := h.service.MovePositions(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Remove godoc
// @Summary Remove placed positions
// @Description Removes positions the session holds locks on. Pending proposals moving them are superseded.
// @Tags Positions
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.RemovePositionsRequest true "Positions to remove"
// @Success 200 {object} response.Envelope
// @Router /positions/remove [post]
func (h *PositionHandler) Remove(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RemovePositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid removal payload"))
		return
	}
	result, err := h.service.RemovePositions(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List placed positions
// @Tags Positions
// @Produce json
// @Param roomId query int false "Room"
// @Param coordinatorId query string false "Coordinator user id"
// @Param groupId query int false "Student group"
// @Param weeks query []int false "Weeks" collectionFormat(multi)
// @Success 200 {object} response.Envelope
// @Router /positions [get]
func (h *PositionHandler) List(c *gin.Context) {
	var query dto.PositionQuery
	if err := bindQuery(c, &query, "invalid position filter"); err != nil {
		response.Error(c, err)
		return
	}
	positions, err := h.service.ListPositions(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, positions, nil, map[string]interface{}{"count": len(positions)})
}

// Backlog godoc
// @Summary List course editions with their placed and remaining units
// @Tags Positions
// @Produce json
// @Param coordinatorId query string false "Coordinator user id"
// @Param groupId query int false "Student group"
// @Success 200 {object} response.Envelope
// @Router /backlog [get]
func (h *PositionHandler) Backlog(c *gin.Context) {
	var query dto.PositionQuery
	if err := bindQuery(c, &query, "invalid backlog filter"); err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.service.Backlog(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// View godoc
// @Summary Load a reconciliation snapshot
// @Description Positions, editions, pending proposals and locks for the filter, stamped with the latest event sequence number. Apply stream events with a greater seq on top.
// @Tags Positions
// @Produce json
// @Param roomId query int false "Room"
// @Param coordinatorId query string false "Coordinator user id"
// @Param groupId query int false "Student group"
// @Param weeks query []int false "Weeks" collectionFormat(multi)
// @Success 200 {object} response.Envelope
// @Router /view [get]
func (h *PositionHandler) View(c *gin.Context) {
	var query dto.PositionQuery
	if err := bindQuery(c, &query, "invalid view filter"); err != nil {
		response.Error(c, err)
		return
	}
	snapshot, err := h.service.Snapshot(c.Request.Context(), query.Filter(), h.lastSeq)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
