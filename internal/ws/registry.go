package ws

import (
	"sync"

	"chatline/internal/metrics"

	"github.com/google/uuid"
)

// Session is a live transport connection owned by one user.
type Session interface {
	UserID() uuid.UUID
	// Send queues data for delivery without blocking.
	Send(data []byte) error
	// Close tears the connection down; it is safe to call more than once.
	Close()
}

// Registry maps each user to its single active session. The last session
// to register wins.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
	metrics  *metrics.Metrics

	transitions userLocks
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		sessions:    make(map[uuid.UUID]Session),
		metrics:     m,
		transitions: userLocks{locks: make(map[uuid.UUID]*userLock)},
	}
}

// Attach registers s and runs online while holding userID's transition
// lock, so it cannot interleave with a Detach for the same user. It returns
// the displaced session, if any.
func (r *Registry) Attach(userID uuid.UUID, s Session, online func()) Session {
	unlock := r.transitions.lock(userID)
	defer unlock()

	prev := r.Register(userID, s)
	online()
	return prev
}

// Detach unregisters s and runs offline when the user is left without a
// session. Both steps hold userID's transition lock, so a session attached
// meanwhile always has its online transition applied last.
func (r *Registry) Detach(userID uuid.UUID, s Session, offline func()) {
	unlock := r.transitions.lock(userID)
	defer unlock()

	r.Unregister(userID, s)
	if _, ok := r.Lookup(userID); !ok {
		offline()
	}
}

// Register stores s for userID and returns the session it replaced, if any.
// The caller is responsible for closing the displaced session.
func (r *Registry) Register(userID uuid.UUID, s Session) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[userID]
	r.sessions[userID] = s
	r.metrics.SessionsActive.Set(float64(len(r.sessions)))
	if prev == s {
		return nil
	}
	return prev
}

// Unregister removes userID only if its stored session is still s, so a
// stale disconnect cannot evict a newer session. It reports whether the
// entry was removed.
func (r *Registry) Unregister(userID uuid.UUID, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok || current != s {
		return false
	}
	delete(r.sessions, userID)
	r.metrics.SessionsActive.Set(float64(len(r.sessions)))
	return true
}

func (r *Registry) Lookup(userID uuid.UUID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	return s, ok
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the IDs of all users with a registered session.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) all() map[uuid.UUID]Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]Session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s
	}
	return out
}

// CloseAll closes every registered session. Each session's handler then
// runs its own disconnect cleanup.
func (r *Registry) CloseAll() {
	for _, s := range r.all() {
		s.Close()
	}
}

type userLock struct {
	sync.Mutex
	refs int
}

// userLocks hands out one mutex per user and forgets it once unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userLock
}

func (l *userLocks) lock(userID uuid.UUID) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
