package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/pkg/jobs"
)

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) TryEnqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type recordingAuditRepo struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingAuditRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAuditRepo) snapshot() []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AuditLog(nil), r.logs...)
}

func TestAuditServiceRecordsEvents(t *testing.T) {
	repo := &recordingAuditRepo{}
	queue := &recordingQueue{}
	svc := NewAuditService(repo, queue, nil)

	svc.Handle(broadcast.Event{
		Seq:       4,
		Kind:      broadcast.KindLockGranted,
		SessionID: "s-1",
		UserID:    "alice",
		Lock: &broadcast.LockPayload{Keys: []models.ResourceKey{
			models.PositionKey(5, 1, 1, 1), models.PositionKey(5, 1, 1, 2),
		}},
	})
	svc.Handle(broadcast.Event{
		Seq:  5,
		Kind: broadcast.KindProposalAdded,
		Move: &broadcast.MovePayload{Move: models.ScheduledMove{ID: "m-1"}},
	})
	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "event-4", queue.jobs[0].ID)
	assert.Equal(t, auditJobType, queue.jobs[0].Type)

	for _, job := range queue.jobs {
		require.NoError(t, svc.HandleJob(context.Background(), job))
	}
	require.Len(t, repo.logs, 2)

	lockLog := repo.logs[0]
	assert.Equal(t, uint64(4), lockLog.Seq)
	assert.Equal(t, "LockGranted", lockLog.Kind)
	assert.Equal(t, "position:5:1:1:1,position:5:1:1:2", lockLog.Resource)
	require.NotNil(t, lockLog.UserID)
	assert.Equal(t, "alice", *lockLog.UserID)
	var decoded broadcast.Event
	require.NoError(t, json.Unmarshal(lockLog.Payload, &decoded))
	assert.Equal(t, uint64(4), decoded.Seq)

	moveLog := repo.logs[1]
	assert.Equal(t, "move:m-1", moveLog.Resource)
	assert.Nil(t, moveLog.UserID)
	assert.Nil(t, moveLog.SessionID)
}

func TestAuditServiceDropsWhenQueueFull(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := NewAuditService(repo, &recordingQueue{err: jobs.ErrQueueFull}, nil)
	svc.Handle(broadcast.Event{Seq: 1, Kind: broadcast.KindPositionsAdded, Positions: &broadcast.PositionsPayload{CourseID: 10, EditionID: 1}})
	assert.Empty(t, repo.logs)

	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "x", Payload: "bogus"}))
	assert.Empty(t, repo.logs)
}

func TestAuditServiceThroughBusWatcher(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := NewAuditService(repo, nil, nil)
	svc.Handle(broadcast.Event{Seq: 1})
	assert.Empty(t, repo.snapshot(), "no queue attached")

	queue := jobs.NewQueue("audit", svc.HandleJob, jobs.QueueConfig{Workers: 1, BufferSize: 8})
	svc.SetQueue(queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	bus := broadcast.NewBus()
	defer bus.Close()
	stop := bus.Watch("audit", svc.Handle)
	defer stop()

	bus.Publish(broadcast.Event{Kind: broadcast.KindPositionsAdded, Positions: &broadcast.PositionsPayload{CourseID: 10, EditionID: 1}})
	require.Eventually(t, func() bool { return len(repo.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "edition:10:1", repo.snapshot()[0].Resource)
}
