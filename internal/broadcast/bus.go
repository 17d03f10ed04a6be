package broadcast

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBufferSize = 256
	watcherBufferMult = 4
)

var (
	// ErrOverflow closes a subscription whose consumer fell behind.
	ErrOverflow = errors.New("subscription buffer overflow")
	// ErrClosed closes a subscription that was cancelled or replaced.
	ErrClosed = errors.New("subscription closed")
	// ErrNoSession is returned when subscribing without a session id.
	ErrNoSession = errors.New("session id is required")
)

// Observer receives bus telemetry.
type Observer interface {
	EventPublished(kind string)
	SubscriberDropped(reason string)
	SubscribersChanged(count int)
}

// Handler processes an event inside the server process.
type Handler func(Event)

// Bus fans every published event out to all connected sessions and to
// in-process watchers. Publish never blocks: a session whose buffer is full is
// closed and has to reconnect and reload.
type Bus struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	watchers map[uint64]*watcher
	closed   bool

	seq      atomic.Uint64
	watchID  atomic.Uint64
	buffer   int
	clock    func() time.Time
	logger   *zap.Logger
	observer Observer
}

// Option configures the bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscription channel size.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBus constructs an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[string]*Subscription),
		watchers: make(map[uint64]*watcher),
		buffer:   defaultBufferSize,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish stamps e with the next sequence number and delivers it. The stamped
// event is returned.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.Seq = b.seq.Add(1)
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.clock()
	}
	if b.closed {
		return e
	}

	for id, sub := range b.subs {
		if !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			delete(b.subs, id)
			sub.close(ErrOverflow)
			b.logger.Warn("session dropped, event buffer full",
				zap.String("session_id", id),
				zap.Uint64("seq", e.Seq))
			if b.observer != nil {
				b.observer.SubscriberDropped("overflow")
			}
		}
	}
	for _, w := range b.watchers {
		select {
		case w.ch <- e:
		default:
			b.logger.Error("watcher lagging, event skipped",
				zap.String("watcher", w.name),
				zap.Uint64("seq", e.Seq))
		}
	}
	if b.observer != nil {
		b.observer.EventPublished(string(e.Kind))
		b.observer.SubscribersChanged(len(b.subs))
	}
	return e
}

// Subscribe registers a session. An existing subscription with the same
// session id is closed and replaced.
func (b *Bus) Subscribe(sessionID string, opts ...SubscribeOption) (*Subscription, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	cfg := subscribeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	sub := &Subscription{
		sessionID: sessionID,
		filter:    cfg.filter,
		ch:        make(chan Event, b.buffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if prev, ok := b.subs[sessionID]; ok {
		prev.close(ErrClosed)
	}
	b.subs[sessionID] = sub
	if b.observer != nil {
		b.observer.SubscribersChanged(len(b.subs))
	}
	return sub, nil
}

// Unsubscribe closes the session's subscription if it is still the current one.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[sub.sessionID]; ok && cur == sub {
		delete(b.subs, sub.sessionID)
	}
	sub.close(ErrClosed)
	if b.observer != nil {
		b.observer.SubscribersChanged(len(b.subs))
	}
}

// Subscribers returns the number of connected sessions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// LastSeq returns the most recently assigned sequence number.
func (b *Bus) LastSeq() uint64 {
	return b.seq.Load()
}

// Watch runs h on its own goroutine for every published event, in order.
// A panicking handler is logged and the watcher keeps running. The returned
// function stops the watcher and waits for it to exit.
func (b *Bus) Watch(name string, h Handler) func() {
	w := &watcher{
		name: name,
		ch:   make(chan Event, b.buffer*watcherBufferMult),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	id := b.watchID.Add(1)

	b.mu.Lock()
	b.watchers[id] = w
	b.mu.Unlock()

	go w.run(h, b.logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watchers, id)
			b.mu.Unlock()
			close(w.quit)
			<-w.done
		})
	}
}

// Close disconnects every session and stops accepting subscriptions. Watchers
// are stopped by their own stop functions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close(ErrClosed)
		delete(b.subs, id)
	}
}

type watcher struct {
	name string
	ch   chan Event
	quit chan struct{}
	done chan struct{}
}

func (w *watcher) run(h Handler, logger *zap.Logger) {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case e := <-w.ch:
			w.safeCall(h, e, logger)
		}
	}
}

func (w *watcher) safeCall(h Handler, e Event, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event watcher panicked",
				zap.String("watcher", w.name),
				zap.String("kind", string(e.Kind)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	h(e)
}
