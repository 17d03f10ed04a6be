package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/pkg/jobs"
)

const auditJobType = "audit.event"

type auditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditQueue interface {
	TryEnqueue(job jobs.Job) error
}

// AuditService persists broadcast events as an audit trail. Events are
// handed to a background queue so the bus watcher never waits on the
// database; when the queue is full the event is dropped and logged.
type AuditService struct {
	repo   auditRepository
	queue  auditQueue
	logger *zap.Logger
}

// NewAuditService constructs the service. Call Handle from a bus watcher and
// register HandleJob as the queue handler.
func NewAuditService(repo auditRepository, queue auditQueue, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, queue: queue, logger: logger}
}

// SetQueue attaches the queue after construction, since the queue handler
// refers back to the service.
func (s *AuditService) SetQueue(queue auditQueue) {
	s.queue = queue
}

// Handle enqueues one event. It is a broadcast.Handler.
func (s *AuditService) Handle(e broadcast.Event) {
	if s.queue == nil {
		return
	}
	entry, err := auditLogFromEvent(e)
	if err != nil {
		s.logger.Warn("audit encode failed", zap.Uint64("seq", e.Seq), zap.Error(err))
		return
	}
	job := jobs.Job{ID: fmt.Sprintf("event-%d", e.Seq), Type: auditJobType, Payload: entry}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.logger.Warn("audit event dropped", zap.Uint64("seq", e.Seq), zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

// HandleJob writes a queued audit record. It is a jobs.Handler.
func (s *AuditService) HandleJob(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Error("unexpected audit payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.repo.CreateAuditLog(ctx, entry)
}

func auditLogFromEvent(e broadcast.Event) (*models.AuditLog, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	entry := &models.AuditLog{
		Seq:        e.Seq,
		Kind:       string(e.Kind),
		Resource:   eventResource(e),
		Payload:    payload,
		OccurredAt: e.OccurredAt,
	}
	if e.UserID != "" {
		user := e.UserID
		entry.UserID = &user
	}
	if e.SessionID != "" {
		session := e.SessionID
		entry.SessionID = &session
	}
	return entry, nil
}

func eventResource(e broadcast.Event) string {
	switch {
	case e.Lock != nil:
		keys := make([]string, 0, len(e.Lock.Keys))
		for _, k := range e.Lock.Keys {
			keys = append(keys, k.String())
		}
		return strings.Join(keys, ",")
	case e.Positions != nil:
		return models.EditionKey(e.Positions.CourseID, e.Positions.EditionID).String()
	case e.Move != nil:
		return "move:" + e.Move.Move.ID
	}
	return ""
}
