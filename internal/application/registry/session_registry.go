package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

// MutateFunc transforms a session copy. It must not retain the argument.
type MutateFunc func(s contract.Session) (contract.Session, error)

// Hook observes a committed session while its lock is still held, so
// anything it enqueues is ordered by version.
type Hook func(s contract.Session)

// SessionRegistry is the in-memory authority for active sessions, written
// through to the gateway. Every session has its own lock; there is no
// registry-wide mutex.
type SessionRegistry struct {
	gateway contract.Gateway
	entries sync.Map // uuid.UUID -> *sessionEntry
	now     func() time.Time
	logger  zerolog.Logger
}

type sessionEntry struct {
	mu      sync.Mutex
	session *contract.Session
	removed bool
}

// NewSessionRegistry creates a registry over the given gateway.
func NewSessionRegistry(gateway contract.Gateway, logger zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		gateway: gateway,
		now:     time.Now,
		logger:  logger.With().Str("service", "session_registry").Logger(),
	}
}

// Create registers and persists a new session.
func (r *SessionRegistry) Create(ctx context.Context, s contract.Session) error {
	if s.SessionID == uuid.Nil {
		return fmt.Errorf("%w: session id is required", contract.ErrInvalidInput)
	}
	stored := s.Clone()
	e := &sessionEntry{session: &stored}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, loaded := r.entries.LoadOrStore(s.SessionID, e); loaded {
		return fmt.Errorf("%w: %s", contract.ErrAlreadyExists, s.SessionID)
	}

	existing, err := r.gateway.LoadSession(ctx, s.SessionID)
	if err == nil && existing != nil {
		err = fmt.Errorf("%w: %s", contract.ErrAlreadyExists, s.SessionID)
	} else if err == nil {
		if err = r.gateway.SaveSession(ctx, &stored); err != nil {
			err = fmt.Errorf("persist session %s: %w", s.SessionID, err)
		}
	}
	if err != nil {
		r.drop(s.SessionID, e)
		return err
	}
	r.logger.Debug().Str("session_id", s.SessionID.String()).Msg("session created")
	return nil
}

// Get returns a copy of the current session, rehydrating it from the
// gateway when it is not resident.
func (r *SessionRegistry) Get(ctx context.Context, sessionID uuid.UUID) (contract.Session, error) {
	e, err := r.lock(ctx, sessionID)
	if err != nil {
		return contract.Session{}, err
	}
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Mutate applies fn under the session's lock, bumps the version and persists
// the result before committing it. On any failure the stored value is left
// untouched. Hooks run after the commit, still under the lock.
//
// The mutation is detached from ctx cancellation once it starts: a caller
// that goes away does not roll back a transition that reached storage.
func (r *SessionRegistry) Mutate(ctx context.Context, sessionID uuid.UUID, fn MutateFunc, hooks ...Hook) (contract.Session, error) {
	ctx = context.WithoutCancel(ctx)
	e, err := r.lock(ctx, sessionID)
	if err != nil {
		return contract.Session{}, err
	}
	defer e.mu.Unlock()

	next, err := fn(e.session.Clone())
	if err != nil {
		return contract.Session{}, err
	}
	next.SessionID = e.session.SessionID
	next.Version = e.session.Version + 1
	next.LastActivityAt = contract.Timestamp(r.now())
	return r.commit(ctx, e, next, hooks)
}

// MutateDevices changes device bookkeeping only. It persists the result but
// never bumps the version and is allowed on signed sessions. Unchanged device
// sets skip the gateway write.
func (r *SessionRegistry) MutateDevices(ctx context.Context, sessionID uuid.UUID, fn func(s contract.Session) contract.Session, hooks ...Hook) (contract.Session, error) {
	ctx = context.WithoutCancel(ctx)
	e, err := r.lock(ctx, sessionID)
	if err != nil {
		return contract.Session{}, err
	}
	defer e.mu.Unlock()

	cur := e.session.Clone()
	next := cur.Clone()
	changed := fn(cur)
	next.Devices, next.PairedDevices = changed.Devices, changed.PairedDevices
	if next.Devices == nil {
		next.Devices = []string{}
	}
	if slices.Equal(cur.Devices, next.Devices) && slices.Equal(cur.PairedDevices, next.PairedDevices) {
		runHooks(hooks, cur)
		return cur, nil
	}
	return r.commit(ctx, e, next, hooks)
}

// Do runs fn under the session's lock without changing the session.
func (r *SessionRegistry) Do(ctx context.Context, sessionID uuid.UUID, fn func(s contract.Session) error) error {
	e, err := r.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e.session.Clone())
}

// Remove evicts the session from memory. Storage is untouched, so a later
// Get rehydrates it. Removing an unknown session is a no-op.
func (r *SessionRegistry) Remove(sessionID uuid.UUID) {
	r.RemoveIf(sessionID, nil)
}

// RemoveIf evicts the session when evict reports true for it. evict runs
// under the session's lock; nil evicts unconditionally.
func (r *SessionRegistry) RemoveIf(sessionID uuid.UUID, evict func(s contract.Session) bool) bool {
	v, ok := r.entries.Load(sessionID)
	if !ok {
		return false
	}
	e := v.(*sessionEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	if evict != nil && !evict(e.session.Clone()) {
		return false
	}
	e.removed = true
	r.entries.CompareAndDelete(sessionID, e)
	r.logger.Debug().Str("session_id", sessionID.String()).Msg("session evicted")
	return true
}

// Resident lists copies of every session currently held in memory.
func (r *SessionRegistry) Resident() []contract.Session {
	var out []contract.Session
	r.entries.Range(func(_, v any) bool {
		e := v.(*sessionEntry)
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// Len returns the number of resident sessions.
func (r *SessionRegistry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// lock returns the session's entry with its mutex held.
func (r *SessionRegistry) lock(ctx context.Context, sessionID uuid.UUID) (*sessionEntry, error) {
	for {
		if v, ok := r.entries.Load(sessionID); ok {
			e := v.(*sessionEntry)
			e.mu.Lock()
			if e.removed {
				e.mu.Unlock()
				continue
			}
			return e, nil
		}

		s, err := r.gateway.LoadSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		if s == nil {
			return nil, fmt.Errorf("%w: %s", contract.ErrSessionNotFound, sessionID)
		}
		loaded := s.Clone()
		e := &sessionEntry{session: &loaded}
		e.mu.Lock()
		if _, exists := r.entries.LoadOrStore(sessionID, e); exists {
			e.mu.Unlock()
			continue
		}
		r.logger.Debug().Str("session_id", sessionID.String()).Msg("session rehydrated")
		return e, nil
	}
}

func (r *SessionRegistry) commit(ctx context.Context, e *sessionEntry, next contract.Session, hooks []Hook) (contract.Session, error) {
	toSave := next.Clone()
	if err := r.gateway.SaveSession(ctx, &toSave); err != nil {
		r.logger.Error().Err(err).Str("session_id", next.SessionID.String()).Msg("persist failed, keeping previous state")
		return contract.Session{}, fmt.Errorf("persist session %s: %w", next.SessionID, err)
	}
	stored := next.Clone()
	e.session = &stored
	runHooks(hooks, next.Clone())
	return next, nil
}

// drop removes an entry whose creation failed. The caller holds e.mu.
func (r *SessionRegistry) drop(sessionID uuid.UUID, e *sessionEntry) {
	e.removed = true
	r.entries.CompareAndDelete(sessionID, e)
}

func runHooks(hooks []Hook, s contract.Session) {
	for _, h := range hooks {
		if h != nil {
			h(s)
		}
	}
}
