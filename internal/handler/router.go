package handler

import (
	"github.com/gin-gonic/gin"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Events    *EventHandler
	Locks     *LockHandler
	Positions *PositionHandler
	Moves     *MoveHandler
}

// Register mounts the API. auth verifies the bearer token; session binds
// mutating requests to a connected event stream; admin guards operator
// endpoints.
func (r Routes) Register(api *gin.RouterGroup, auth, session, admin gin.HandlerFunc) {
	authed := api.Group("", auth)
	authed.GET("/events", r.Events.Stream)

	authed.GET("/positions", r.Positions.List)
	authed.GET("/backlog", r.Positions.Backlog)
	authed.GET("/view", r.Positions.View)
	authed.GET("/moves", r.Moves.List)
	authed.GET("/moves/:id", r.Moves.Get)
	authed.GET("/locks", r.Locks.List)
	authed.POST("/admin/locks/sweep", admin, r.Locks.Sweep)

	bound := authed.Group("", session)
	bound.POST("/locks/positions", r.Locks.LockPositions)
	bound.POST("/locks/positions/release", r.Locks.ReleasePositions)
	bound.POST("/locks/editions", r.Locks.LockEditions)
	bound.POST("/locks/editions/release", r.Locks.ReleaseEditions)
	bound.POST("/locks/editions/:courseId/:editionId/positions", r.Locks.LockEditionPositions)
	bound.POST("/locks/groups/:groupId/editions", r.Locks.LockGroupEditions)

	bound.POST("/positions", r.Positions.Add)
	bound.POST("/positions/move", r.Positions.Move)
	bound.POST("/positions/remove", r.Positions.Remove)

	bound.POST("/moves", r.Moves.Propose)
	bound.POST("/moves/:id/accept", r.Moves.Accept)
	bound.POST("/moves/:id/withdraw", r.Moves.Withdraw)
	bound.POST("/moves/:id/reject", r.Moves.Reject)
}
