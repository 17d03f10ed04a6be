package dto

import (
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// LockPositionsRequest locks every week of every listed slot, all or nothing.
type LockPositionsRequest struct {
	Slots   []models.SlotWeeks `json:"slots" validate:"required,min=1,dive"`
	AsAdmin bool               `json:"asAdmin"`
}

// ReleasePositionsRequest releases position locks held by the session.
type ReleasePositionsRequest struct {
	Slots []models.SlotWeeks `json:"slots" validate:"required,min=1,dive"`
}

// LockEditionsRequest locks course editions.
type LockEditionsRequest struct {
	Editions []models.EditionRef `json:"editions" validate:"required,min=1,dive"`
	AsAdmin  bool                `json:"asAdmin"`
}

// ReleaseEditionsRequest releases course edition locks held by the session.
type ReleaseEditionsRequest struct {
	Editions []models.EditionRef `json:"editions" validate:"required,min=1,dive"`
}

// LockEditionPositionsRequest locks the placed positions of one edition,
// optionally restricted to some weeks.
type LockEditionPositionsRequest struct {
	Weeks   []int `json:"weeks" validate:"omitempty,dive,gt=0"`
	AsAdmin bool  `json:"asAdmin"`
}

// LockGroupEditionsRequest locks the course editions taught to a group.
type LockGroupEditionsRequest struct {
	AsAdmin bool `json:"asAdmin"`
}

// LockResponse reports the outcome of a granted lock batch.
type LockResponse struct {
	Acquired   []models.ResourceKey `json:"acquired"`
	Renewed    []models.ResourceKey `json:"renewed"`
	Overridden []lock.Lock          `json:"overridden,omitempty"`
}

// NewLockResponse converts a lock grant.
func NewLockResponse(g lock.Grant) LockResponse {
	resp := LockResponse{
		Acquired:   g.Acquired,
		Renewed:    g.Renewed,
		Overridden: g.Overridden,
	}
	if resp.Acquired == nil {
		resp.Acquired = []models.ResourceKey{}
	}
	if resp.Renewed == nil {
		resp.Renewed = []models.ResourceKey{}
	}
	return resp
}

// ReleaseResponse lists the keys actually released.
type ReleaseResponse struct {
	Released []models.ResourceKey `json:"released"`
}
