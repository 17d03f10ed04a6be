package dto

import "github.com/noah-isme/sma-timetable-sync/internal/models"

// AddPositionsRequest places a course edition into one slot for several weeks.
type AddPositionsRequest struct {
	CourseID    int64 `json:"courseId" validate:"required,gt=0"`
	EditionID   int64 `json:"editionId" validate:"required,gt=0"`
	RoomID      int64 `json:"roomId" validate:"required,gt=0"`
	PeriodIndex int   `json:"periodIndex" validate:"required,gt=0"`
	Day         int   `json:"day" validate:"required,gt=0"`
	Weeks       []int `json:"weeks" validate:"required,min=1,dive,gt=0"`
}

// Edition returns the target edition.
func (r AddPositionsRequest) Edition() models.EditionRef {
	return models.EditionRef{CourseID: r.CourseID, EditionID: r.EditionID}
}

// Slot returns the target slot.
func (r AddPositionsRequest) Slot() models.SlotWeeks {
	return models.SlotWeeks{RoomID: r.RoomID, PeriodIndex: r.PeriodIndex, Day: r.Day, Weeks: r.Weeks}
}

// MovePositionsRequest relocates positions. Source and destination weeks are
// paired by index.
type MovePositionsRequest struct {
	Source      models.SlotWeeks `json:"source"`
	Destination models.SlotWeeks `json:"destination"`
}

// RemovePositionsRequest unplaces positions of one slot.
type RemovePositionsRequest struct {
	RoomID      int64 `json:"roomId" validate:"required,gt=0"`
	PeriodIndex int   `json:"periodIndex" validate:"required,gt=0"`
	Day         int   `json:"day" validate:"required,gt=0"`
	Weeks       []int `json:"weeks" validate:"required,min=1,dive,gt=0"`
}

// Slot returns the addressed slot.
func (r RemovePositionsRequest) Slot() models.SlotWeeks {
	return models.SlotWeeks{RoomID: r.RoomID, PeriodIndex: r.PeriodIndex, Day: r.Day, Weeks: r.Weeks}
}

// MutationResult is the authoritative payload returned by a committed mutation.
type MutationResult struct {
	Seq         uint64            `json:"seq"`
	CourseID    int64             `json:"courseId"`
	EditionID   int64             `json:"editionId"`
	Source      *models.SlotWeeks `json:"source,omitempty"`
	Destination *models.SlotWeeks `json:"destination,omitempty"`
	Superseded  []string          `json:"supersededMoves,omitempty"`
}

// PositionQuery mirrors the listing filters of GET /positions and GET /backlog.
type PositionQuery struct {
	RoomID        int64  `form:"roomId" validate:"omitempty,gt=0"`
	CoordinatorID string `form:"coordinatorId"`
	GroupID       int64  `form:"groupId" validate:"omitempty,gt=0"`
	Weeks         []int  `form:"weeks" validate:"omitempty,dive,gt=0"`
}

// Filter converts the query into a position filter.
func (q PositionQuery) Filter() models.PositionFilter {
	return models.PositionFilter{RoomID: q.RoomID, CoordinatorID: q.CoordinatorID, GroupID: q.GroupID, Weeks: q.Weeks}
}
