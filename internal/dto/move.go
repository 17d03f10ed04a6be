package dto

import "github.com/noah-isme/sma-timetable-sync/internal/models"

// ProposeMoveRequest creates a scheduled move proposal.
type ProposeMoveRequest struct {
	Source      models.SlotWeeks `json:"source"`
	Destination models.SlotWeeks `json:"destination"`
	Message     string           `json:"message" validate:"max=500"`
}

// MoveQuery mirrors the filters of GET /moves.
type MoveQuery struct {
	CourseID  int64  `form:"courseId" validate:"omitempty,gt=0"`
	EditionID int64  `form:"editionId" validate:"omitempty,gt=0"`
	RoomID    int64  `form:"roomId" validate:"omitempty,gt=0"`
	UserID    string `form:"userId"`
	Status    string `form:"status" validate:"omitempty,oneof=pending confirmed all"`
	Page      int    `form:"page" validate:"omitempty,gt=0"`
	PageSize  int    `form:"pageSize" validate:"omitempty,gt=0,lte=200"`
}

// Filter converts the query into a repository filter.
func (q MoveQuery) Filter() models.MoveFilter {
	filter := models.MoveFilter{CourseID: q.CourseID, EditionID: q.EditionID, RoomID: q.RoomID, UserID: q.UserID}
	switch q.Status {
	case "", "pending":
		pending := false
		filter.Confirmed = &pending
	case "confirmed":
		confirmed := true
		filter.Confirmed = &confirmed
	}
	size := q.PageSize
	if size <= 0 {
		size = 50
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	filter.Limit = size
	filter.Offset = (page - 1) * size
	return filter
}

// MoveResponse is a proposal plus its derived lifecycle status.
type MoveResponse struct {
	models.ScheduledMove
	Status models.MoveStatus `json:"status"`
}

// NewMoveResponse wraps a scheduled move.
func NewMoveResponse(m models.ScheduledMove) MoveResponse {
	return MoveResponse{ScheduledMove: m, Status: m.Status()}
}

// AcceptMoveResponse reports a confirmed proposal and the committed move.
type AcceptMoveResponse struct {
	Move     MoveResponse   `json:"move"`
	Mutation MutationResult `json:"mutation"`
}
