package broadcast

import "sync"

// Subscription is one session's view of the bus.
type Subscription struct {
	sessionID string
	filter    Filter
	ch        chan Event
	done      chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	filter Filter
}

// WithFilter opts the subscription in to server-side filtering.
func WithFilter(f Filter) SubscribeOption {
	return func(c *subscribeConfig) { c.filter = f }
}

// SessionID returns the owning session.
func (s *Subscription) SessionID() string { return s.sessionID }

// Filter returns the server-side filter, zero when unfiltered.
func (s *Subscription) Filter() Filter { return s.filter }

// Events delivers events in sequence order. It is never closed; select on Done.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, nil while it is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) close(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
	})
}
