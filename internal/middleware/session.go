package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
	"github.com/noah-isme/sma-timetable-sync/pkg/logger"
	"github.com/noah-isme/sma-timetable-sync/pkg/response"
)

// SessionHeader names the connected event stream a request acts through.
const SessionHeader = "X-Session-ID"

// ContextActorKey is the gin context key storing the resolved actor.
const ContextActorKey = "currentActor"

// SessionResolver binds a request to a connected session.
type SessionResolver interface {
	Resolve(sessionID, userID string, isAdmin bool) (models.Actor, error)
}

// Session requires an X-Session-ID header naming a connected session of the
// authenticated user. Must run after JWT.
func Session(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		actor, err := resolver.Resolve(c.GetHeader(SessionHeader), claims.UserID, claims.Role.IsAdmin())
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextActorKey, actor)
		c.Set(logger.ContextSessionIDKey, actor.SessionID)
		c.Next()
	}
}

// Actor returns the actor resolved by Session.
func Actor(c *gin.Context) (models.Actor, bool) {
	value, ok := c.Get(ContextActorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := value.(models.Actor)
	return actor, ok
}
