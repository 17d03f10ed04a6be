package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
	"github.com/noah-isme/sma-timetable-sync/pkg/response"
)

type moveService interface {
	Propose(ctx context.Context, actor models.Actor, req dto.ProposeMoveRequest) (*models.ScheduledMove, error)
	Accept(ctx context.Context, actor models.Actor, id string) (*dto.AcceptMoveResponse, error)
	Withdraw(ctx context.Context, actor models.Actor, id string) (*models.ScheduledMove, error)
	Reject(ctx context.Context, actor models.Actor, id string) (*models.ScheduledMove, error)
	Get(ctx context.Context, id string) (*models.ScheduledMove, error)
	List(ctx context.Context, filter models.MoveFilter) ([]models.ScheduledMove, int, error)
}

// MoveHandler exposes the scheduled move workflow.
type MoveHandler struct {
	service moveService
}

// NewMoveHandler constructs the handler.
func NewMoveHandler(service moveService) *MoveHandler {
	return &MoveHandler{service: service}
}

// Propose godoc
// @Summary Propose a move
// @Description Records a pending move that a coordinator of the source edition may accept later.
// @Tags Moves
// @Accept json
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param payload body dto.ProposeMoveRequest true "Proposal"
// @Success 201 {object} response.Envelope
// @Router /moves [post]
func (h *MoveHandler) Propose(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ProposeMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid proposal payload"))
		return
	}
	move, err := h.service.Propose(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewMoveResponse(*move))
}

// List godoc
// @Summary List proposals
// @Tags Moves
// @Produce json
// @Param courseId query int false "Course ID"
// @Param editionId query int false "Edition ID"
// @Param roomId query int false "Source or destination room"
// @Param userId query string false "Proposer"
// @Param status query string false "pending (default), confirmed or all"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /moves [get]
func (h *MoveHandler) List(c *gin.Context) {
	var query dto.MoveQuery
	if err := bindQuery(c, &query, "invalid proposal filter"); err != nil {
		response.Error(c, err)
		return
	}
	filter := query.Filter()
	moves, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.MoveResponse, 0, len(moves))
	for _, m := range moves {
		items = append(items, dto.NewMoveResponse(m))
	}
	response.Paged(c, items, filter.Offset, filter.Limit, total)
}

// Get godoc
// @Summary Get a proposal
// @Tags Moves
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /moves/{id} [get]
func (h *MoveHandler) Get(c *gin.Context) {
	move, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewMoveResponse(*move), nil)
}

// Accept godoc
// @Summary Accept a proposal
// @Description Applies the move if its destination is still free. A busy destination leaves the proposal pending.
// @Tags Moves
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /moves/{id}/accept [post]
func (h *MoveHandler) Accept(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp, err := h.service.Accept(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Withdraw godoc
// @Summary Withdraw a proposal
// @Tags Moves
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /moves/{id}/withdraw [post]
func (h *MoveHandler) Withdraw(c *gin.Context) {
	h.close(c, h.service.Withdraw, models.MoveStatusWithdrawn)
}

// Reject godoc
// @Summary Reject a proposal
// @Tags Moves
// @Produce json
// @Param X-Session-ID header string true "Connected session"
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /moves/{id}/reject [post]
func (h *MoveHandler) Reject(c *gin.Context) {
	h.close(c, h.service.Reject, models.MoveStatusRejected)
}

func (h *MoveHandler) close(c *gin.Context, op func(context.Context, models.Actor, string) (*models.ScheduledMove, error), status models.MoveStatus) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	move, err := op(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MoveResponse{ScheduledMove: *move, Status: status}, nil)
}
