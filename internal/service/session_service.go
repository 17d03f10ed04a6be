package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

type sessionBus interface {
	Subscribe(sessionID string, opts ...broadcast.SubscribeOption) (*broadcast.Subscription, error)
	Unsubscribe(sub *broadcast.Subscription)
}

type sessionLocks interface {
	ReleaseAllForSession(sessionID string) []models.ResourceKey
}

// Session is one connected event stream.
type Session struct {
	ID          string
	UserID      string
	IsAdmin     bool
	ConnectedAt time.Time
	Sub         *broadcast.Subscription
}

// SessionService tracks connected sessions. A session exists exactly as long
// as its event stream is open; closing it releases every lock it held.
type SessionService struct {
	bus    sessionBus
	locks  sessionLocks
	logger *zap.Logger
	clock  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionService constructs the service.
func NewSessionService(bus sessionBus, locks sessionLocks, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		bus:      bus,
		locks:    locks,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
	}
}

// Connect opens a session for the user and subscribes it to the bus.
func (s *SessionService) Connect(userID string, isAdmin bool, filter broadcast.Filter) (*Session, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	id := uuid.NewString()
	sub, err := s.bus.Subscribe(id, broadcast.WithFilter(filter))
	if err != nil {
		return nil, internalError(err, "failed to open event stream")
	}
	session := &Session{ID: id, UserID: userID, IsAdmin: isAdmin, ConnectedAt: s.clock(), Sub: sub}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.logger.Info("session connected", zap.String("session_id", id), zap.String("user_id", userID))
	return session, nil
}

// Disconnect closes the session and releases its locks. Unknown sessions are
// ignored.
func (s *SessionService) Disconnect(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.bus.Unsubscribe(session.Sub)
	released := s.locks.ReleaseAllForSession(sessionID)
	s.logger.Info("session disconnected",
		zap.String("session_id", sessionID),
		zap.String("user_id", session.UserID),
		zap.Int("released_locks", len(released)))
}

// IsConnected implements lock.SessionChecker.
func (s *SessionService) IsConnected(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// Resolve binds a request to a connected session of the same user.
func (s *SessionService) Resolve(sessionID, userID string, isAdmin bool) (models.Actor, error) {
	if sessionID == "" {
		return models.Actor{}, appErrors.Clone(appErrors.ErrSessionNotConnected, "X-Session-ID header is required")
	}
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return models.Actor{}, appErrors.WithDetails(appErrors.ErrSessionNotConnected, "", map[string]interface{}{"sessionId": sessionID})
	}
	if session.UserID != userID {
		return models.Actor{}, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another user")
	}
	return models.Actor{UserID: userID, SessionID: sessionID, IsAdmin: isAdmin}, nil
}

// Count returns the number of connected sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseAll disconnects every session. Used on shutdown.
func (s *SessionService) CloseAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		s.Disconnect(id)
	}
}
