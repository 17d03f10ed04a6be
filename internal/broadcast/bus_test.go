package broadcast

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishDeliversToAllSessionsInOrder(t *testing.T) {
	bus := NewBus()
	a, err := bus.Subscribe("a")
	require.NoError(t, err)
	b, err := bus.Subscribe("b")
	require.NoError(t, err)

	first := bus.Publish(Event{Kind: KindLockGranted})
	second := bus.Publish(Event{Kind: KindLockReleased})
	require.Less(t, first.Seq, second.Seq)

	for _, sub := range []*Subscription{a, b} {
		assert.Equal(t, first.Seq, recv(t, sub).Seq)
		assert.Equal(t, second.Seq, recv(t, sub).Seq)
	}
	assert.Equal(t, second.Seq, bus.LastSeq())
}

func TestOverflowClosesSubscription(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	slow, err := bus.Subscribe("slow")
	require.NoError(t, err)

	bus.Publish(Event{Kind: KindPositionsAdded})
	bus.Publish(Event{Kind: KindPositionsAdded})

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.ErrorIs(t, slow.Err(), ErrOverflow)
	assert.Zero(t, bus.Subscribers())
}

func TestSubscribeReplacesSameSession(t *testing.T) {
	bus := NewBus()
	old, err := bus.Subscribe("s1")
	require.NoError(t, err)
	fresh, err := bus.Subscribe("s1")
	require.NoError(t, err)

	<-old.Done()
	assert.ErrorIs(t, old.Err(), ErrClosed)

	bus.Unsubscribe(old)
	assert.Equal(t, 1, bus.Subscribers(), "stale unsubscribe must not drop the replacement")

	bus.Unsubscribe(fresh)
	assert.Zero(t, bus.Subscribers())
}

func TestSubscribeRequiresSession(t *testing.T) {
	_, err := NewBus().Subscribe("")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestServerSideFilter(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe("s", WithFilter(Filter{RoomID: 7}))
	require.NoError(t, err)

	bus.Publish(Event{Kind: KindPositionsAdded, Positions: &PositionsPayload{
		Destination: &models.SlotWeeks{RoomID: 8, PeriodIndex: 1, Day: 1, Weeks: []int{1}},
	}})
	want := bus.Publish(Event{Kind: KindPositionsAdded, Positions: &PositionsPayload{
		Destination: &models.SlotWeeks{RoomID: 7, PeriodIndex: 1, Day: 1, Weeks: []int{1}},
	}})

	assert.Equal(t, want.Seq, recv(t, sub).Seq)
}

func TestWatcherSurvivesPanics(t *testing.T) {
	bus := NewBus()
	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	stop := bus.Watch("flaky", func(e Event) {
		defer wg.Done()
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	defer stop()

	bus.Publish(Event{Kind: KindProposalAdded})
	bus.Publish(Event{Kind: KindProposalAdded})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher stalled after panic")
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe("s")
	require.NoError(t, err)

	bus.Close()
	<-sub.Done()
	_, err = bus.Subscribe("t")
	assert.ErrorIs(t, err, ErrClosed)
}
