package lock

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// SessionChecker reports whether a session still has a live event stream.
type SessionChecker interface {
	IsConnected(sessionID string) bool
}

// Sweeper periodically releases locks left behind by vanished sessions. The
// disconnect hook covers clean closes; the sweep covers everything else.
type Sweeper struct {
	manager  *Manager
	sessions SessionChecker
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewSweeper schedules SweepOrphans every interval.
func NewSweeper(manager *Manager, sessions SessionChecker, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	s := &Sweeper{
		manager:  manager,
		sessions: sessions,
		cron:     cron.New(),
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("schedule lock sweep: %w", err)
	}
	return s, nil
}

// Sweep runs one pass immediately and returns the released keys.
func (s *Sweeper) Sweep() []models.ResourceKey {
	released := s.manager.SweepOrphans(s.sessions.IsConnected)
	if len(released) > 0 {
		s.logger.Warn("released orphaned locks", zap.Int("keys", len(released)))
	}
	return released
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("lock sweeper started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
