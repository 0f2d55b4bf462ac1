package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
)

// ConnectionRegistry maps live connections to their session. Connection sets
// are only created or emptied under the owning session's lock.
type ConnectionRegistry struct {
	sessions *SessionRegistry
	sets     sync.Map // session uuid.UUID -> *connectionSet
	owners   sync.Map // connection uuid.UUID -> session uuid.UUID
	logger   zerolog.Logger
}

type connectionSet struct {
	mu       sync.RWMutex
	conns    map[uuid.UUID]*device.Connection
	teardown func()
}

// NewConnectionRegistry creates a connection registry bound to sessions.
func NewConnectionRegistry(sessions *SessionRegistry, logger zerolog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: sessions,
		logger:   logger.With().Str("service", "connection_registry").Logger(),
	}
}

// Attach registers conn with its session and adds its device type to the
// session's device set. The session must exist. Hooks run under the session
// lock right after the connection becomes visible to broadcasts.
func (r *ConnectionRegistry) Attach(ctx context.Context, conn *device.Connection, hooks ...Hook) (contract.Session, error) {
	if conn == nil || conn.ConnectionID == uuid.Nil {
		return contract.Session{}, fmt.Errorf("%w: connection id is required", contract.ErrInvalidInput)
	}
	meta, err := conn.Meta().Normalize()
	if err != nil {
		return contract.Session{}, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	conn.DeviceType, conn.DeviceID = meta.DeviceType, meta.DeviceID

	if _, loaded := r.owners.LoadOrStore(conn.ConnectionID, conn.SessionID); loaded {
		return contract.Session{}, fmt.Errorf("%w: connection %s", contract.ErrAlreadyExists, conn.ConnectionID)
	}
	register := func(contract.Session) { r.add(conn) }
	s, err := r.sessions.MutateDevices(ctx, conn.SessionID, func(s contract.Session) contract.Session {
		return s.WithDevice(conn.DeviceType)
	}, append([]Hook{register}, hooks...)...)
	if err != nil {
		r.owners.Delete(conn.ConnectionID)
		return contract.Session{}, err
	}
	r.logger.Debug().
		Str("session_id", conn.SessionID.String()).
		Str("connection_id", conn.ConnectionID.String()).
		Str("device_type", conn.DeviceType).
		Msg("connection attached")
	return s, nil
}

// DetachHook observes a detached connection under the session lock.
type DetachHook func(s contract.Session, conn *device.Connection)

// Detach removes the connection. Unknown or already detached connections are
// a no-op. The device type leaves the session's device set once no remaining
// connection carries it. The returned connection is nil when nothing was
// detached.
func (r *ConnectionRegistry) Detach(ctx context.Context, connectionID uuid.UUID, onDetached ...DetachHook) (*device.Connection, error) {
	v, ok := r.owners.LoadAndDelete(connectionID)
	if !ok {
		return nil, nil
	}
	sessionID := v.(uuid.UUID)

	var (
		removed  *device.Connection
		carried  bool
		teardown func()
		ran      bool
	)
	notify := func(s contract.Session) {
		if removed == nil {
			return
		}
		for _, h := range onDetached {
			h(s, removed)
		}
	}
	_, err := r.sessions.MutateDevices(ctx, sessionID, func(s contract.Session) contract.Session {
		ran = true
		removed, carried, teardown = r.remove(sessionID, connectionID)
		if removed == nil || carried {
			return s
		}
		return s.WithoutDevice(removed.DeviceType)
	}, notify)
	if !ran {
		removed, _, teardown = r.remove(sessionID, connectionID)
	}
	if errors.Is(err, contract.ErrSessionNotFound) {
		err = nil
	}
	if err != nil {
		r.logger.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Str("connection_id", connectionID.String()).
			Msg("device bookkeeping failed on detach")
	}
	if teardown != nil {
		r.evict(sessionID, teardown)
	}
	if removed != nil {
		r.logger.Debug().
			Str("session_id", sessionID.String()).
			Str("connection_id", connectionID.String()).
			Msg("connection detached")
	}
	return removed, err
}

// ConnectionsFor returns the live connections of a session ordered by
// connection time.
func (r *ConnectionRegistry) ConnectionsFor(sessionID uuid.UUID) []*device.Connection {
	v, ok := r.sets.Load(sessionID)
	if !ok {
		return nil
	}
	set := v.(*connectionSet)
	set.mu.RLock()
	out := make([]*device.Connection, 0, len(set.conns))
	for _, c := range set.conns {
		cp := *c
		out = append(out, &cp)
	}
	set.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectionID.String() < out[j].ConnectionID.String()
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of live connections of a session.
func (r *ConnectionRegistry) Count(sessionID uuid.UUID) int {
	v, ok := r.sets.Load(sessionID)
	if !ok {
		return 0
	}
	set := v.(*connectionSet)
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.conns)
}

// ScheduleTeardown evicts the session from memory once it has no
// connections and then calls onEvicted. Eviction happens now when the session
// has none and is otherwise deferred to the last detach; it reports whether
// it was deferred. A later call replaces a pending teardown.
func (r *ConnectionRegistry) ScheduleTeardown(ctx context.Context, sessionID uuid.UUID, onEvicted func()) (bool, error) {
	if onEvicted == nil {
		onEvicted = func() {}
	}
	deferred := false
	err := r.sessions.Do(ctx, sessionID, func(contract.Session) error {
		deferred = r.deferTeardown(sessionID, onEvicted)
		return nil
	})
	if err != nil {
		return false, err
	}
	if !deferred {
		deferred = r.evict(sessionID, onEvicted)
	}
	return deferred, nil
}

// evict removes the session when it still has no connections once its lock
// is taken again. An attach that got there first re-arms the teardown on the
// new connection set. It reports whether the teardown was re-armed.
func (r *ConnectionRegistry) evict(sessionID uuid.UUID, onEvicted func()) bool {
	rearmed := false
	evicted := r.sessions.RemoveIf(sessionID, func(contract.Session) bool {
		rearmed = r.deferTeardown(sessionID, onEvicted)
		return !rearmed
	})
	if evicted {
		onEvicted()
	}
	return rearmed
}

// deferTeardown parks onEvicted on the session's connection set when it has
// live connections. Callers hold the session lock.
func (r *ConnectionRegistry) deferTeardown(sessionID uuid.UUID, onEvicted func()) bool {
	v, ok := r.sets.Load(sessionID)
	if !ok {
		return false
	}
	set := v.(*connectionSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	if len(set.conns) == 0 {
		return false
	}
	set.teardown = onEvicted
	return true
}

// add registers conn in its session's set. Callers hold the session lock.
func (r *ConnectionRegistry) add(conn *device.Connection) {
	v, _ := r.sets.LoadOrStore(conn.SessionID, &connectionSet{conns: make(map[uuid.UUID]*device.Connection)})
	set := v.(*connectionSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	cp := *conn
	set.conns[conn.ConnectionID] = &cp
}

// remove drops a connection and reports whether another live connection still
// carries its device type, plus any teardown that became due.
func (r *ConnectionRegistry) remove(sessionID, connectionID uuid.UUID) (*device.Connection, bool, func()) {
	v, ok := r.sets.Load(sessionID)
	if !ok {
		return nil, false, nil
	}
	set := v.(*connectionSet)
	set.mu.Lock()
	defer set.mu.Unlock()

	conn, ok := set.conns[connectionID]
	if !ok {
		return nil, false, nil
	}
	delete(set.conns, connectionID)

	carried := false
	for _, c := range set.conns {
		if c.DeviceType == conn.DeviceType {
			carried = true
			break
		}
	}

	var teardown func()
	if len(set.conns) == 0 {
		teardown = set.teardown
		set.teardown = nil
		r.sets.CompareAndDelete(sessionID, set)
	}
	return conn, carried, teardown
}
