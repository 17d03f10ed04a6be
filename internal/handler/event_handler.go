package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/dto"
	"github.com/noah-isme/sma-timetable-sync/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
	"github.com/noah-isme/sma-timetable-sync/pkg/logger"
	"github.com/noah-isme/sma-timetable-sync/pkg/response"
)

// Stream frame names besides the event kinds.
const (
	frameSession   = "session"
	frameHeartbeat = "heartbeat"
	frameClosed    = "closed"
)

type sessionManager interface {
	Connect(userID string, isAdmin bool, filter broadcast.Filter) (*service.Session, error)
	Disconnect(sessionID string)
}

// EventHandler streams broadcast events over server-sent events. The stream
// is the session: it opens on connect and its close releases the session's
// locks.
type EventHandler struct {
	sessions  sessionManager
	lastSeq   func() uint64
	heartbeat time.Duration
	confirm   time.Duration
	logger    *zap.Logger
}

// NewEventHandler constructs the handler.
func NewEventHandler(sessions sessionManager, lastSeq func() uint64, heartbeat time.Duration, logger *zap.Logger) *EventHandler {
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lastSeq == nil {
		lastSeq = func() uint64 { return 0 }
	}
	return &EventHandler{sessions: sessions, lastSeq: lastSeq, heartbeat: heartbeat, logger: logger}
}

// WithConfirmationTimeout advertises how long clients should wait for the
// broadcast confirming their own mutation before reloading.
func (h *EventHandler) WithConfirmationTimeout(d time.Duration) *EventHandler {
	h.confirm = d
	return h
}

// Stream godoc
// @Summary Open an event stream
// @Description Opens a session and streams every committed change as server-sent events. The first frame is "session" and carries the session id to send as X-Session-ID. EventSource clients may pass the token as access_token.
// @Tags Events
// @Produce text/event-stream
// @Param weeks query []int false "Only events touching these weeks" collectionFormat(multi)
// @Param roomId query int false "Only events touching this room"
// @Param coordinatorId query string false "Only editions coordinated by this user"
// @Param groupId query int false "Only editions taught to this group"
// @Success 200 {string} string "event stream"
// @Router /events [get]
func (h *EventHandler) Stream(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.EventQuery
	if err := bindQuery(c, &query, "invalid event filter"); err != nil {
		response.Error(c, err)
		return
	}

	session, err := h.sessions.Connect(claims.UserID, claims.Role.IsAdmin(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	defer h.sessions.Disconnect(session.ID)
	c.Set(logger.ContextSessionIDKey, session.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Render(-1, sse.Event{Event: frameSession, Data: dto.SessionOpened{
		SessionID: session.ID,
		UserID:    session.UserID,
		IsAdmin:   session.IsAdmin,
		Seq:       h.lastSeq(),
		ConfirmMs: h.confirm.Milliseconds(),
	}})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	sub := session.Sub
	done := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case <-sub.Done():
			h.closeFrame(c, sub.Err())
			return false
		case e := <-sub.Events():
			c.Render(-1, sse.Event{Id: strconv.FormatUint(e.Seq, 10), Event: string(e.Kind), Data: e})
			return true
		case <-ticker.C:
			c.Render(-1, sse.Event{Event: frameHeartbeat, Data: dto.Heartbeat{Seq: h.lastSeq()}})
			return true
		}
	})
}

func (h *EventHandler) closeFrame(c *gin.Context, reason error) {
	frame := dto.StreamClosed{Reason: "closed"}
	if errors.Is(reason, broadcast.ErrOverflow) {
		frame = dto.StreamClosed{Reason: "overflow", Reload: true}
		h.logger.Warn("event stream overflowed", zap.String("session_id", c.GetString(logger.ContextSessionIDKey)))
	}
	c.Render(-1, sse.Event{Event: frameClosed, Data: frame})
}
