package presence

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"
)

var ErrDuplicateConnection = errors.New("presence: connection already registered")

// Connection is one live real-time session.
type Connection struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	RemoteAddress string    `json:"remoteAddress"`
	JoinedAt      time.Time `json:"joinedAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

type entry struct {
	conn Connection
	seq  uint64
}

// Registry tracks active connections. All mutations come from the hub loop;
// the lock only exists so that read-only callers (health checks) can peek.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

// Register adds a connection. Ids are never reused, so a duplicate means a bug upstream.
func (r *Registry) Register(id, displayName, remoteAddress string, at time.Time) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return Connection{}, ErrDuplicateConnection
	}
	r.seq++
	e := &entry{
		conn: Connection{
			ID:            id,
			DisplayName:   displayName,
			RemoteAddress: remoteAddress,
			JoinedAt:      at,
			LastSeenAt:    at,
		},
		seq: r.seq,
	}
	r.conns[id] = e
	return e.conn, nil
}

// Unregister removes a connection. Removing an unknown id is a no-op and reports false.
func (r *Registry) Unregister(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return e.conn, true
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// Touch refreshes LastSeenAt, the only field that changes after registration.
func (r *Registry) Touch(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.conn.LastSeenAt = at
	return true
}

// List returns a snapshot ordered by registration.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]Connection, len(entries))
	for i, e := range entries {
		out[i] = e.conn
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
