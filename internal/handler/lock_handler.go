package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
	"github.com/noah-isme/sma-timetable-sync/pkg/response"
)

type lockService interface {
	LockPositions(ctx context.Context, actor models.Actor, req dto.LockPositionsRequest) (dto.LockResponse, error)
	ReleasePositions(actor models.Actor, req dto.ReleasePositionsRequest) (dto.ReleaseResponse, error)
	LockEditions(ctx context.Context, actor models.Actor, req dto.LockEditionsRequest) (dto.LockResponse, error)
	ReleaseEditions(actor models.Actor, req dto.ReleaseEditionsRequest) (dto.ReleaseResponse, error)
	LockEditionPositions(ctx context.Context, actor models.Actor, ref models.EditionRef, req dto.LockEditionPositionsRequest) (dto.LockResponse, error)
	LockGroupEditions(ctx context.Context, actor models.Actor, groupID int64, req dto.LockGroupEditionsRequest) (dto.LockResponse, error)
	Snapshot() []lock.Lock
	HeldBy(sessionID string) []lock.Lock
}

type lockSweeper interface {
	Sweep() []models.ResourceKey
}

// LockHandler exposes the lock manager.
type LockHandler struct {
	service lockService
	sweeper lockSweeper
}

// NewLockHandler constructs the handler. sweeper may be nil.
func NewLockHandler(service lockService, sweeper lockSweeper) *LockHandler {
	return &LockHandler{service: service, sweeper: sweeper}
}

// LockPositions godoc
// @Summary Lock schedule positions
// @Description Locks every week of the listed slots for the calling session, all or nothing.
// @Tags Locks
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.LockPositionsRequest true "Slots to lock"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /locks/positions [post]
func (h *LockHandler) LockPositions(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.LockPositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lock payload"))
		return
	}
	resp, err := h.service.LockPositions(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// ReleasePositions godoc
// @Summary Release schedule position locks
// @Tags Locks
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.ReleasePositionsRequest true "Slots to release"
// @Success 200 {object} response.Envelope
// @Router /locks/positions/release [post]
func (h *LockHandler) ReleasePositions(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReleasePositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid release payload"))
		return
	}
	resp, err := h.service.ReleasePositions(actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// LockEditions godoc
// @Summary Lock course editions
// @Tags Locks
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.LockEditionsRequest true "Editions to lock"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /locks/editions [post]
func (h *LockHandler) LockEditions(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.LockEditionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lock payload"))
		return
	}
	resp, err := h.service.LockEditions(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// ReleaseEditions godoc
// @Summary Release course edition locks
// @Tags Locks
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.ReleaseEditionsRequest true "Editions to release"
// @Success 200 {object} response.Envelope
// @Router /locks/editions/release [post]
func (h *LockHandler) ReleaseEditions(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReleaseEditionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid release payload"))
		return
	}
	resp, err := h.service.ReleaseEditions(actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// LockEditionPositions godoc
// @Summary Lock every placed position of a course edition
// @Tags Locks
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param courseId path int true "Course ID"
// @Param editionId path int true "Edition ID"
// @Param payload body dto.LockEditionPositionsRequest false "Optional week restriction"
// @Success 200 {object} response.Envelope
// @Router /locks/editions/{courseId}/{editionId}/positions [post]
func (h *LockHandler) LockEditionPositions(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	courseID, err := int64Param(c, "courseId")
	if err != nil {
		response.Error(c, err)
		return
	}
	editionID, err := int64Param(c, "editionId")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.LockEditionPositionsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lock payload"))
			return
		}
	}
	ref := models.EditionRef{CourseID: courseID, EditionID: editionID}
	resp, err := h.service.LockEditionPositions(c.Request.Context(), actor, ref, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// LockGroupEditions godoc
// @Summary Lock the course editions of a student group
// @Tags Locks
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param groupId path int true "Group ID"
// @Param payload body dto.LockGroupEditionsRequest false "Administrative override"
// @Success 200 {object} response.Envelope
// @Router /locks/groups/{groupId}/editions [post]
func (h *LockHandler) LockGroupEditions(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	groupID, err := int64Param(c, "groupId")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.LockGroupEditionsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lock payload"))
			return
		}
	}
	resp, err := h.service.LockGroupEditions(c.Request.Context(), actor, groupID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// List godoc
// @Summary List held locks
// @Description Every held lock, or only those of one session when sessionId is given.
// @Tags Locks
// @Produce json
// @Param sessionId query string false "Session ID"
// @Success 200 {object} response.Envelope
// @Router /locks [get]
func (h *LockHandler) List(c *gin.Context) {
	var locks []lock.Lock
	if sessionID := c.Query("sessionId"); sessionID != "" {
		locks = h.service.HeldBy(sessionID)
	} else {
		locks = h.service.Snapshot()
	}
	if locks == nil {
		locks = []lock.Lock{}
	}
	response.JSON(c, http.StatusOK, locks, nil, map[string]interface{}{"count": len(locks)})
}

// Sweep godoc
// @Summary Release locks of disconnected sessions now
// @Tags Locks
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/locks/sweep [post]
func (h *LockHandler) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lock sweeper not configured"))
		return
	}
	released := h.sweeper.Sweep()
	if released == nil {
		released = []models.ResourceKey{}
	}
	response.JSON(c, http.StatusOK, dto.ReleaseResponse{Released: released}, nil)
}
