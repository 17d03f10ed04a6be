package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/lock"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
	"github.com/noah-isme/sma-timetable-sync/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

var (
	algebra  = models.EditionRef{CourseID: 10, EditionID: 1}
	physics  = models.EditionRef{CourseID: 11, EditionID: 2}
	robotics = models.EditionRef{CourseID: 12, EditionID: 1}
)

type fixture struct {
	store       *repository.MemoryScheduleRepository
	catalogRepo *repository.MemoryCatalogRepository
	bus         *broadcast.Bus
	locks       *lock.Manager
	sessions    *SessionService
	lockSvc     *LockService
	mutations   *MutationService
	proposals   *MoveProposalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalogRepo := repository.NewMemoryCatalogRepository(repository.CatalogSeed{
		Rooms: []models.Room{{ID: 5, Name: "A-105"}, {ID: 6, Name: "A-106"}},
		Editions: []models.CourseEdition{
			{CourseID: 10, EditionID: 1, Name: "Algebra", RequiredUnits: 6, Coordinators: []string{"alice"}, Groups: []int64{7}},
			{CourseID: 11, EditionID: 2, Name: "Physics", RequiredUnits: 6, Coordinators: []string{"bob"}, Groups: []int64{7, 8}},
			{CourseID: 12, EditionID: 1, Name: "Robotics", RequiredUnits: 2, Coordinators: []string{"carol"}, Groups: []int64{8}},
		},
	})
	catalog := NewCatalogService(catalogRepo, nil, 0, nil)

	f := &fixture{store: repository.NewMemoryScheduleRepository(), catalogRepo: catalogRepo, bus: broadcast.NewBus()}
	f.locks = lock.NewManager(lock.WithPublisher(f.bus))
	f.sessions = NewSessionService(f.bus, f.locks, nil)
	rules := ScheduleRules{TermWeeks: 15, DaysPerWeek: 5, PeriodsPerDay: 8, EnforceUnitLimit: true}
	f.lockSvc = NewLockService(f.locks, f.store, catalog, rules, nil, nil)
	f.mutations = NewMutationService(f.store, catalog, f.locks, f.bus, rules)
	f.proposals = NewMoveProposalService(f.store, catalog, f.locks, f.bus, rules)
	t.Cleanup(f.bus.Close)
	return f
}

func (f *fixture) connect(t *testing.T, userID string, admin bool) (models.Actor, *broadcast.Subscription) {
	t.Helper()
	session, err := f.sessions.Connect(userID, admin, broadcast.Filter{})
	require.NoError(t, err)
	actor, err := f.sessions.Resolve(session.ID, userID, admin)
	require.NoError(t, err)
	return actor, session.Sub
}

func drain(sub *broadcast.Subscription) []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(events []broadcast.Event) []broadcast.Kind {
	out := make([]broadcast.Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func countKind(events []broadcast.Event, kind broadcast.Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func requireCode(t *testing.T, err error, expected *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, expected.Code, appErr.Code, appErr.Error())
	return appErr
}

func slot(room int64, period, day int, weeks ...int) models.SlotWeeks {
	return models.SlotWeeks{RoomID: room, PeriodIndex: period, Day: day, Weeks: weeks}
}
