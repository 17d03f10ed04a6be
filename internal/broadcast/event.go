package broadcast

import (
	"time"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// Kind names a broadcast event.
type Kind string

const (
	KindLockGranted       Kind = "LockGranted"
	KindLockReleased      Kind = "LockReleased"
	KindPositionsAdded    Kind = "PositionsAdded"
	KindPositionsModified Kind = "PositionsModified"
	KindPositionsRemoved  Kind = "PositionsRemoved"
	KindProposalAdded     Kind = "ProposalAdded"
	KindProposalRemoved   Kind = "ProposalRemoved"
	KindProposalAccepted  Kind = "ProposalAccepted"
)

// Reasons attached to release and removal events.
const (
	ReasonUnlock      = "unlock"
	ReasonDisconnect  = "disconnect"
	ReasonOrphan      = "orphan"
	ReasonRemoved     = "removed"
	ReasonWithdrawn   = "withdrawn"
	ReasonRejected    = "rejected"
	ReasonSuperseded  = "superseded"
	ReasonAdminForced = "admin_override"
)

// Event is one committed state change. Seq is assigned by the bus and grows
// monotonically across all kinds.
type Event struct {
	Seq        uint64            `json:"seq"`
	Kind       Kind              `json:"kind"`
	OccurredAt time.Time         `json:"occurredAt"`
	SessionID  string            `json:"sessionId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Lock       *LockPayload      `json:"lock,omitempty"`
	Positions  *PositionsPayload `json:"positions,omitempty"`
	Move       *MovePayload      `json:"move,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// LockPayload lists the keys whose ownership changed. PreviousOwners is set
// when an administrator took keys over from another session.
type LockPayload struct {
	Keys           []models.ResourceKey `json:"keys"`
	IsAdmin        bool                 `json:"isAdmin"`
	PreviousOwners []LockOwner          `json:"previousOwners,omitempty"`
}

// LockOwner records who held a key before a transfer.
type LockOwner struct {
	Key       models.ResourceKey `json:"key"`
	SessionID string             `json:"sessionId"`
	UserID    string             `json:"userId"`
	IsAdmin   bool               `json:"isAdmin"`
}

// PositionsPayload is the full delta of a position mutation. Added events set
// Destination, removed events set Source, modified events set both.
type PositionsPayload struct {
	CourseID       int64             `json:"courseId"`
	EditionID      int64             `json:"editionId"`
	CoordinatorIDs []string          `json:"coordinatorIds"`
	GroupIDs       []int64           `json:"groupIds"`
	Source         *models.SlotWeeks `json:"source,omitempty"`
	Destination    *models.SlotWeeks `json:"destination,omitempty"`
}

// MovePayload carries a proposal plus the routing data of its course edition.
type MovePayload struct {
	Move           models.ScheduledMove `json:"move"`
	CoordinatorIDs []string             `json:"coordinatorIds"`
	GroupIDs       []int64              `json:"groupIds"`
}

// IsLock reports whether the event is a lock transition.
func (e Event) IsLock() bool {
	return e.Kind == KindLockGranted || e.Kind == KindLockReleased
}

// IsPositions reports whether the event mutates positions.
func (e Event) IsPositions() bool {
	switch e.Kind {
	case KindPositionsAdded, KindPositionsModified, KindPositionsRemoved:
		return true
	}
	return false
}

// IsProposal reports whether the event concerns a scheduled move.
func (e Event) IsProposal() bool {
	switch e.Kind {
	case KindProposalAdded, KindProposalRemoved, KindProposalAccepted:
		return true
	}
	return false
}
