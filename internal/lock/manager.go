package lock

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/broadcast"
	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// Owner is the session acting on locks.
type Owner struct {
	SessionID string
	UserID    string
	IsAdmin   bool
}

// Lock is a granted, session-scoped exclusive claim on one resource key.
type Lock struct {
	Key        models.ResourceKey `json:"key"`
	SessionID  string             `json:"sessionId"`
	UserID     string             `json:"userId"`
	IsAdmin    bool               `json:"isAdmin"`
	AcquiredAt time.Time          `json:"acquiredAt"`
}

// Grant reports the outcome of a successful Lock call.
type Grant struct {
	Acquired   []models.ResourceKey
	Renewed    []models.ResourceKey
	Overridden []Lock
}

// All returns acquired and renewed keys.
func (g Grant) All() []models.ResourceKey {
	out := make([]models.ResourceKey, 0, len(g.Acquired)+len(g.Renewed))
	out = append(out, g.Acquired...)
	return append(out, g.Renewed...)
}

// Publisher receives lock transitions.
type Publisher interface {
	Publish(e broadcast.Event) broadcast.Event
}

// Observer receives lock telemetry.
type Observer interface {
	LockAttempt(result string, keys int)
	LocksHeld(n int)
}

// Manager owns every lock of the process in a single map. Grants are
// all-or-nothing and never queue.
type Manager struct {
	mu    sync.Mutex
	locks map[models.ResourceKey]Lock
	// pins maps keys taking part in a running Commit to the committing
	// session. Other sessions cannot lock a pinned key, administrators
	// included.
	pins map[models.ResourceKey]string

	publisher Publisher
	observer  Observer
	clock     func() time.Time
	logger    *zap.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithPublisher sends lock transitions to p.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithObserver attaches telemetry.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides the acquisition timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager builds an empty lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:  make(map[models.ResourceKey]Lock),
		pins:   make(map[models.ResourceKey]string),
		clock:  func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Lock grants every key to owner or none of them. Keys already held by the
// same session are renewed. An administrator takes over keys held by a
// non-administrator; keys held by another administrator are never overridden.
// Keys pinned by another session's Commit are denied.
//
// Events are published while m.mu is held so that sequence numbers follow the
// order of state transitions. Publishers must not block or call back.
func (m *Manager) Lock(owner Owner, keys []models.ResourceKey) (Grant, error) {
	if owner.SessionID == "" {
		return Grant{}, ErrNoSession
	}
	keys = models.UniqueKeys(keys)
	models.SortKeys(keys)
	if len(keys) == 0 {
		return Grant{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var grant Grant
	for _, key := range keys {
		existing, held := m.locks[key]
		if pinner, ok := m.pins[key]; ok && pinner != owner.SessionID {
			if !held {
				existing = Lock{Key: key, SessionID: pinner}
			}
			m.observe("denied", len(keys))
			return Grant{}, &DeniedError{Key: key, Holder: existing}
		}
		switch {
		case !held:
			grant.Acquired = append(grant.Acquired, key)
		case existing.SessionID == owner.SessionID:
			grant.Renewed = append(grant.Renewed, key)
		case owner.IsAdmin && !existing.IsAdmin:
			grant.Overridden = append(grant.Overridden, existing)
			grant.Acquired = append(grant.Acquired, key)
		default:
			m.observe("denied", len(keys))
			return Grant{}, &DeniedError{Key: key, Holder: existing}
		}
	}

	now := m.clock()
	for _, key := range keys {
		l := m.locks[key]
		isAdmin := owner.IsAdmin || (l.SessionID == owner.SessionID && l.IsAdmin)
		m.locks[key] = Lock{
			Key:        key,
			SessionID:  owner.SessionID,
			UserID:     owner.UserID,
			IsAdmin:    isAdmin,
			AcquiredAt: now,
		}
	}
	m.observe("granted", len(keys))

	m.publishOverridden(grant.Overridden)
	if len(grant.Acquired) > 0 {
		m.publish(broadcast.Event{
			Kind:      broadcast.KindLockGranted,
			SessionID: owner.SessionID,
			UserID:    owner.UserID,
			Lock: &broadcast.LockPayload{
				Keys:           grant.Acquired,
				IsAdmin:        owner.IsAdmin,
				PreviousOwners: previousOwners(grant.Overridden),
			},
		})
	}
	if len(grant.Overridden) > 0 {
		m.logger.Info("admin lock override",
			zap.String("session_id", owner.SessionID),
			zap.String("user_id", owner.UserID),
			zap.Int("keys", len(grant.Overridden)))
	}
	return grant, nil
}

// Unlock releases the keys the session owns. Keys held by others or not held
// at all are ignored. The released keys are returned.
func (m *Manager) Unlock(owner Owner, keys []models.ResourceKey) []models.ResourceKey {
	keys = models.UniqueKeys(keys)
	models.SortKeys(keys)

	m.mu.Lock()
	defer m.mu.Unlock()

	var released []models.ResourceKey
	for _, key := range keys {
		if l, ok := m.locks[key]; ok && l.SessionID == owner.SessionID {
			delete(m.locks, key)
			released = append(released, key)
		}
	}
	m.publishRelease(owner.SessionID, owner.UserID, released, broadcast.ReasonUnlock)
	return released
}

// ReleaseAllForSession clears every lock of a session. It is the disconnect hook.
func (m *Manager) ReleaseAllForSession(sessionID string) []models.ResourceKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseWhereLocked(func(l Lock) bool { return l.SessionID == sessionID }, broadcast.ReasonDisconnect)
}

// SweepOrphans releases locks whose session is no longer connected.
func (m *Manager) SweepOrphans(isConnected func(sessionID string) bool) []models.ResourceKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseWhereLocked(func(l Lock) bool { return !isConnected(l.SessionID) }, broadcast.ReasonOrphan)
}

// CommitPlan names the keys a commit depends on.
type CommitPlan struct {
	SessionID string
	// Held must all be locked by the session.
	Held []models.ResourceKey
	// Free must not be locked by another session.
	Free []models.ResourceKey
	// Vacated are forgotten once the commit succeeds, whoever holds them.
	// Each former holder gets LockReleased with reason "removed" so that
	// client lock flags do not outlive the positions they were taken on.
	Vacated []models.ResourceKey
}

// Commit checks the plan, pins its Held and Free keys against every other
// session and runs fn. Until fn returns no other session can take a pinned
// key, so the caller's standing cannot change under a running commit. When
// fn succeeds the Vacated keys are forgotten. fn must not call back into the
// manager's Commit for the same keys.
func (m *Manager) Commit(plan CommitPlan, fn func() error) error {
	if plan.SessionID == "" {
		return ErrNoSession
	}
	held := models.UniqueKeys(plan.Held)
	models.SortKeys(held)
	free := models.UniqueKeys(plan.Free)
	models.SortKeys(free)

	m.mu.Lock()
	for _, key := range held {
		if l, ok := m.locks[key]; !ok || l.SessionID != plan.SessionID {
			m.mu.Unlock()
			return &NotHeldError{Key: key}
		}
		if pinner, ok := m.pins[key]; ok && pinner != plan.SessionID {
			m.mu.Unlock()
			return &DeniedError{Key: key, Holder: m.locks[key]}
		}
	}
	for _, key := range free {
		l, lockedByOther := m.locks[key]
		lockedByOther = lockedByOther && l.SessionID != plan.SessionID
		if pinner, ok := m.pins[key]; ok && pinner != plan.SessionID && !lockedByOther {
			l, lockedByOther = Lock{Key: key, SessionID: pinner}, true
		}
		if lockedByOther {
			m.mu.Unlock()
			return &DeniedError{Key: key, Holder: l}
		}
	}
	pinned := make([]models.ResourceKey, 0, len(held)+len(free))
	for _, key := range append(append([]models.ResourceKey{}, held...), free...) {
		if _, ok := m.pins[key]; !ok {
			m.pins[key] = plan.SessionID
			pinned = append(pinned, key)
		}
	}
	m.mu.Unlock()

	err := fn()

	vacated := models.UniqueKeys(plan.Vacated)
	models.SortKeys(vacated)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range pinned {
		delete(m.pins, key)
	}
	if err != nil {
		return err
	}
	m.vacate(vacated)
	return nil
}

// Holder returns the lock on key, if any.
func (m *Manager) Holder(key models.ResourceKey) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	return l, ok
}

// HeldBy returns the session's locks in key order.
func (m *Manager) HeldBy(sessionID string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lock
	for _, l := range m.locks {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	sortLocks(out)
	return out
}

// HeldByOthers returns the locks on keys owned by sessions other than sessionID.
func (m *Manager) HeldByOthers(sessionID string, keys []models.ResourceKey) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lock
	for _, key := range models.UniqueKeys(keys) {
		if l, ok := m.locks[key]; ok && l.SessionID != sessionID {
			out = append(out, l)
		}
	}
	sortLocks(out)
	return out
}

// Snapshot returns every lock in key order.
func (m *Manager) Snapshot() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	sortLocks(out)
	return out
}

// Len returns the number of held locks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Manager) releaseWhereLocked(match func(Lock) bool, reason string) []models.ResourceKey {
	var matched []Lock
	for _, l := range m.locks {
		if match(l) {
			matched = append(matched, l)
		}
	}
	groups := bySession(matched)

	var all []models.ResourceKey
	for _, held := range groups {
		keys := lockKeys(held)
		for _, key := range keys {
			delete(m.locks, key)
		}
		m.publishRelease(held[0].SessionID, held[0].UserID, keys, reason)
		all = append(all, keys...)
	}
	if len(all) > 0 {
		m.logger.Info("locks released",
			zap.String("reason", reason),
			zap.Int("sessions", len(groups)),
			zap.Int("keys", len(all)))
	}
	return all
}

func (m *Manager) vacate(keys []models.ResourceKey) {
	var dropped []Lock
	for _, key := range keys {
		if l, ok := m.locks[key]; ok {
			delete(m.locks, key)
			dropped = append(dropped, l)
		}
	}
	m.observeHeld()
	for _, group := range bySession(dropped) {
		m.publishRelease(group[0].SessionID, group[0].UserID, lockKeys(group), broadcast.ReasonRemoved)
	}
}

// publishOverridden tells each session that lost keys to an administrator.
func (m *Manager) publishOverridden(overridden []Lock) {
	for _, group := range bySession(overridden) {
		m.publishRelease(group[0].SessionID, group[0].UserID, lockKeys(group), broadcast.ReasonAdminForced)
	}
}

func (m *Manager) publishRelease(sessionID, userID string, keys []models.ResourceKey, reason string) {
	m.observeHeld()
	if len(keys) == 0 {
		return
	}
	m.publish(broadcast.Event{
		Kind:      broadcast.KindLockReleased,
		SessionID: sessionID,
		UserID:    userID,
		Lock:      &broadcast.LockPayload{Keys: keys},
		Reason:    reason,
	})
}

func (m *Manager) publish(e broadcast.Event) {
	if m.publisher != nil {
		m.publisher.Publish(e)
	}
}

func (m *Manager) observe(result string, keys int) {
	if m.observer == nil {
		return
	}
	m.observer.LockAttempt(result, keys)
	m.observer.LocksHeld(len(m.locks))
}

func (m *Manager) observeHeld() {
	if m.observer != nil {
		m.observer.LocksHeld(len(m.locks))
	}
}

func previousOwners(overridden []Lock) []broadcast.LockOwner {
	if len(overridden) == 0 {
		return nil
	}
	out := make([]broadcast.LockOwner, 0, len(overridden))
	for _, l := range overridden {
		out = append(out, broadcast.LockOwner{
			Key:       l.Key,
			SessionID: l.SessionID,
			UserID:    l.UserID,
			IsAdmin:   l.IsAdmin,
		})
	}
	return out
}

// bySession groups locks by session, sessions and keys in order.
func bySession(locks []Lock) [][]Lock {
	if len(locks) == 0 {
		return nil
	}
	index := make(map[string][]Lock)
	for _, l := range locks {
		index[l.SessionID] = append(index[l.SessionID], l)
	}
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([][]Lock, 0, len(ids))
	for _, id := range ids {
		group := index[id]
		sortLocks(group)
		out = append(out, group)
	}
	return out
}

func lockKeys(locks []Lock) []models.ResourceKey {
	if len(locks) == 0 {
		return nil
	}
	out := make([]models.ResourceKey, 0, len(locks))
	for _, l := range locks {
		out = append(out, l.Key)
	}
	return out
}

func sortLocks(locks []Lock) {
	keys := make([]models.ResourceKey, len(locks))
	index := make(map[models.ResourceKey]Lock, len(locks))
	for i, l := range locks {
		keys[i] = l.Key
		index[l.Key] = l
	}
	models.SortKeys(keys)
	for i, k := range keys {
		locks[i] = index[k]
	}
}
