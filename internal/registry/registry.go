package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakgames/chessrelay/internal/obslog"
)

// Transport is the write side of one live connection. Implemented by the
// relay's websocket conn wrapper.
type Transport interface {
	Send(v any) error
	Close(reason string)
}

// Conn is one registered connection. Identity is empty until Bind succeeds.
type Conn struct {
	ID         string
	Transport  Transport
	Identity   string // lowercased username, "" while unauthenticated
	LastActive time.Time
}

var ErrNameInvalid = errors.New("username too short")

// Registry owns every live connection and the identity-to-connection
// binding. At most one live connection holds a given identity; a second
// binding evicts the first.
type Registry struct {
	mu         sync.Mutex
	conns      map[string]*Conn
	byIdentity map[string]string // identity -> conn id
	seen       map[string]bool   // identities that authenticated at least once
	minNameLen int
	now        func() time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(minNameLen int, opts ...Option) *Registry {
	if minNameLen <= 0 {
		minNameLen = 3
	}
	r := &Registry{
		conns:      make(map[string]*Conn),
		byIdentity: make(map[string]string),
		seen:       make(map[string]bool),
		minNameLen: minNameLen,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a fresh connection with no identity bound and returns its
// id.
func (r *Registry) Register(t Transport) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = &Conn{ID: id, Transport: t, LastActive: r.now()}
	r.mu.Unlock()
	obslog.L().Debug("conn_register", zap.String("conn_id", id))
	return id
}

// Bind authenticates connID as username. If the identity is already bound to
// a different live connection, that connection receives conflictNotice, is
// force-closed, and its id is returned so the caller can run its room-leave
// path. The ban check happens before Bind, in the relay handler, so a banned
// identity never reaches the registry.
func (r *Registry) Bind(connID, username string, conflictNotice any) (evictedID string, err error) {
	name := strings.ToLower(strings.TrimSpace(username))
	if len(name) < r.minNameLen {
		return "", ErrNameInvalid
	}

	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return "", errors.New("unknown connection")
	}

	var evicted *Conn
	if prevID, bound := r.byIdentity[name]; bound && prevID != connID {
		evicted = r.conns[prevID]
		delete(r.conns, prevID)
		evictedID = prevID
	}

	// release the connection's previous name, if re-authenticating
	if conn.Identity != "" && conn.Identity != name {
		delete(r.byIdentity, conn.Identity)
	}
	conn.Identity = name
	conn.LastActive = r.now()
	r.byIdentity[name] = connID
	r.seen[name] = true
	r.mu.Unlock()

	if evicted != nil {
		obslog.L().Info("conn_evict",
			zap.String("identity", name),
			zap.String("evicted_conn", evictedID),
			zap.String("new_conn", connID),
		)
		if conflictNotice != nil {
			_ = evicted.Transport.Send(conflictNotice)
		}
		evicted.Transport.Close("account conflict")
	}
	obslog.L().Info("conn_authenticate", zap.String("conn_id", connID), zap.String("identity", name))
	return evictedID, nil
}

// Touch refreshes the last-activity timestamp used by the idle reaper.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	if conn, ok := r.conns[connID]; ok {
		conn.LastActive = r.now()
	}
	r.mu.Unlock()
}

// Unregister removes the connection and releases its identity. Callers must
// run the room-leave path first; leaving needs the seat info that the room
// directory still holds for this id.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		if conn.Identity != "" && r.byIdentity[conn.Identity] == connID {
			delete(r.byIdentity, conn.Identity)
		}
	}
	r.mu.Unlock()
	if ok {
		obslog.L().Debug("conn_unregister", zap.String("conn_id", connID))
	}
}

// Identity returns the username bound to connID, if any.
func (r *Registry) Identity(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok || conn.Identity == "" {
		return "", false
	}
	return conn.Identity, true
}

// Lookup returns the transport for connID.
func (r *Registry) Lookup(connID string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.Transport, true
}

// ByIdentity returns the live connection currently holding identity.
func (r *Registry) ByIdentity(identity string) (string, Transport, bool) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.byIdentity[identity]
	if !ok {
		return "", nil, false
	}
	conn, ok := r.conns[connID]
	if !ok {
		return "", nil, false
	}
	return connID, conn.Transport, true
}

// Known reports whether identity has authenticated at least once in this
// process. Satisfies social.Presence.
func (r *Registry) Known(identity string) bool {
	identity = strings.ToLower(strings.TrimSpace(identity))
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[identity]
}

// Reap collects connections idle beyond timeout and hands them to onEvict
// outside the registry lock. onEvict is expected to run the full disconnect
// path (room leave, then unregister).
func (r *Registry) Reap(timeout time.Duration, onEvict func(connID string, idleFor time.Duration)) int {
	now := r.now()
	type idle struct {
		id  string
		dur time.Duration
	}
	var idles []idle

	r.mu.Lock()
	for id, conn := range r.conns {
		if d := now.Sub(conn.LastActive); d > timeout {
			idles = append(idles, idle{id: id, dur: d})
		}
	}
	r.mu.Unlock()

	for _, e := range idles {
		obslog.L().Info("conn_idle_reap", zap.String("conn_id", e.id), zap.Duration("idle", e.dur))
		onEvict(e.id, e.dur)
	}
	return len(idles)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
