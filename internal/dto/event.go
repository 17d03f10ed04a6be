package dto

import "github.com/noah-isme/sma-timetable-sync/internal/broadcast"

// EventQuery opts an event stream in to server-side filtering.
type EventQuery struct {
	Weeks         []int  `form:"weeks" validate:"omitempty,dive,gt=0"`
	RoomID        int64  `form:"roomId" validate:"omitempty,gt=0"`
	CoordinatorID string `form:"coordinatorId"`
	GroupID       int64  `form:"groupId" validate:"omitempty,gt=0"`
}

// Filter converts the query into a bus filter.
func (q EventQuery) Filter() broadcast.Filter {
	return broadcast.Filter{Weeks: q.Weeks, RoomID: q.RoomID, CoordinatorID: q.CoordinatorID, GroupID: q.GroupID}
}

// SessionOpened is the first frame of an event stream.
type SessionOpened struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	IsAdmin   bool   `json:"isAdmin"`
	Seq       uint64 `json:"seq"`
	ConfirmMs int64  `json:"confirmTimeoutMs,omitempty"`
}

// Heartbeat keeps idle streams open and reports the latest sequence number.
type Heartbeat struct {
	Seq uint64 `json:"seq"`
}

// StreamClosed tells the client why the server ended its stream.
type StreamClosed struct {
	Reason string `json:"reason"`
	Reload bool   `json:"reload"`
}
