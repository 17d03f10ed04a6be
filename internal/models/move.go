package models

import "time"

// MoveStatus captures the lifecycle of a scheduled move proposal.
type MoveStatus string

const (
	MoveStatusProposed   MoveStatus = "PROPOSED"
	MoveStatusAccepted   MoveStatus = "ACCEPTED"
	MoveStatusWithdrawn  MoveStatus = "WITHDRAWN"
	MoveStatusRejected   MoveStatus = "REJECTED"
	MoveStatusSuperseded MoveStatus = "SUPERSEDED"
)

// ScheduledMove is a proposal to move positions of one course edition.
// Source and destination weeks are paired by index.
type ScheduledMove struct {
	ID            string     `json:"id"`
	CourseID      int64      `json:"courseId"`
	EditionID     int64      `json:"editionId"`
	Source        SlotWeeks  `json:"source"`
	Destination   SlotWeeks  `json:"destination"`
	IsConfirmed   bool       `json:"isConfirmed"`
	UserID        string     `json:"userId"`
	ScheduleOrder time.Time  `json:"scheduleOrder"`
	Message       string     `json:"message,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
}

// Status derives the state of a stored proposal. Terminal states other than
// accepted are represented by deletion.
func (m ScheduledMove) Status() MoveStatus {
	if m.IsConfirmed {
		return MoveStatusAccepted
	}
	return MoveStatusProposed
}

// Edition returns the edition being moved.
func (m ScheduledMove) Edition() EditionRef {
	return EditionRef{CourseID: m.CourseID, EditionID: m.EditionID}
}

// MoveFilter narrows proposal listings. Zero values mean "any".
type MoveFilter struct {
	CourseID  int64  `form:"courseId"`
	EditionID int64  `form:"editionId"`
	RoomID    int64  `form:"roomId"`
	UserID    string `form:"userId"`
	Confirmed *bool  `form:"confirmed"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}
