package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

var (
	ErrUnknownConn          = errors.New("connection is not attached")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
)

// Conn is one viewer socket as seen by the registry
type Conn interface {
	ID() string
	// Send queues msg for delivery and reports whether it was accepted
	Send(msg []byte) bool
	Open() bool
	Close() error
}

// LiveConnection is the registry entry of an authenticated socket
type LiveConnection struct {
	ConnID      string    `json:"conn_id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	ConnectedAt time.Time `json:"connected_at"`
}

// PresenceObserver is told when a socket for a user authenticates or goes away.
// Calls arrive one at a time, in the order the registry applied them.
type PresenceObserver interface {
	UserConnected(userID int64)
	UserDisconnected(userID int64)
}

type socket struct {
	conn  Conn
	entry *LiveConnection
}

// Registry tracks every attached socket and, for those that passed
// authentication, the identity they presented.
type Registry struct {
	log *logger.Logger
	now func() time.Time

	// notifyMu orders observer callbacks without holding mu during them
	notifyMu  sync.Mutex
	observers []PresenceObserver

	mu      sync.RWMutex
	sockets map[string]*socket
}

func New(log *logger.Logger, observers ...PresenceObserver) *Registry {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Registry{
		log:       log.WithComponent("registry"),
		now:       time.Now,
		observers: observers,
		sockets:   make(map[string]*socket),
	}
}

// AddObserver registers o for presence changes applied after this call
func (r *Registry) AddObserver(o PresenceObserver) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.observers = append(r.observers, o)
}

// Attach records a freshly opened socket. It receives broadcasts but has no
// identity until Authenticate succeeds.
func (r *Registry) Attach(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sockets[conn.ID()]; !ok {
		r.sockets[conn.ID()] = &socket{conn: conn}
	}
}

// Authenticate promotes an attached socket to a live connection for user
func (r *Registry) Authenticate(conn Conn, user mqtmodels.UserInfo) (LiveConnection, error) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	s, ok := r.sockets[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return LiveConnection{}, ErrUnknownConn
	}
	if s.entry != nil {
		r.mu.Unlock()
		return LiveConnection{}, ErrAlreadyAuthenticated
	}
	entry := &LiveConnection{
		ConnID:      conn.ID(),
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		ConnectedAt: r.now().UTC(),
	}
	s.entry = entry
	r.mu.Unlock()

	r.log.WithUser(user.ID).Logger.Info().
		Str("conn_id", entry.ConnID).
		Str("username", entry.Username).
		Msg("Viewer authenticated")

	for _, o := range r.observers {
		o.UserConnected(user.ID)
	}
	return *entry, nil
}

// Remove forgets a socket. Removing an unknown socket is a no-op.
func (r *Registry) Remove(conn Conn) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	s, ok := r.sockets[conn.ID()]
	if ok {
		delete(r.sockets, conn.ID())
	}
	r.mu.Unlock()

	if !ok || s.entry == nil {
		return
	}

	r.log.WithUser(s.entry.UserID).Logger.Info().
		Str("conn_id", s.entry.ConnID).
		Msg("Viewer disconnected")

	for _, o := range r.observers {
		o.UserDisconnected(s.entry.UserID)
	}
}

// Lookup returns the live entry for a socket, false while unauthenticated
func (r *Registry) Lookup(conn Conn) (LiveConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sockets[conn.ID()]
	if !ok || s.entry == nil {
		return LiveConnection{}, false
	}
	return *s.entry, true
}

// OpenSockets returns a snapshot of every attached socket still open
func (r *Registry) OpenSockets() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.sockets))
	for _, s := range r.sockets {
		if s.conn.Open() {
			out = append(out, s.conn)
		}
	}
	return out
}

// ConnsForUser returns a snapshot of the open, authenticated sockets of a user
func (r *Registry) ConnsForUser(userID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conn
	for _, s := range r.sockets {
		if s.entry != nil && s.entry.UserID == userID && s.conn.Open() {
			out = append(out, s.conn)
		}
	}
	return out
}

// Entries returns every live connection ordered by connection time
func (r *Registry) Entries() []LiveConnection {
	r.mu.RLock()
	out := make([]LiveConnection, 0, len(r.sockets))
	for _, s := range r.sockets {
		if s.entry != nil {
			out = append(out, *s.entry)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Count returns the number of attached sockets, authenticated or not
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// CloseAll closes every attached socket; used on shutdown
func (r *Registry) CloseAll() {
	for _, conn := range r.OpenSockets() {
		if err := conn.Close(); err != nil {
			r.log.Logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Close failed")
		}
	}
}
