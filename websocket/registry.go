package websocket

import (
	"net/http"
	"sync"
	"time"
)

// Registry is an unordered set of Connections, the realization of spec
// §4.6: add/delete/broadcast/size/members, with auto-eviction on close or
// error. A Connection may belong to at most one Registry; membership never
// affects the Connection's own lifecycle.
type Registry struct {
	mu      sync.RWMutex
	members map[*Connection]struct{}
}

// NewRegistry returns an empty Registry, the realization of create_registry().
func NewRegistry() *Registry {
	return &Registry{members: make(map[*Connection]struct{})}
}

// Add inserts c and subscribes to its termination (close or error) so the
// entry is removed automatically. Returns c, mirroring add(conn)'s contract.
func (r *Registry) Add(c *Connection) *Connection {
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()

	c.onTerminate(func(int, string, bool) {
		r.Delete(c)
	})

	return c
}

// Delete removes c, returning whether it was present.
func (r *Registry) Delete(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[c]; !ok {
		return false
	}
	delete(r.members, c)
	return true
}

// Broadcast sends payload to every member currently in StateOpen, swallowing
// individual send errors per spec §4.6.
func (r *Registry) Broadcast(payload []byte, binary bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.members {
		if c.ReadyState() != StateOpen {
			continue
		}
		_ = c.Send(payload, binary)
	}
}

// Size returns the current member count.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a snapshot of the current member set.
func (r *Registry) Members() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	return out
}

// AttachOptions configures AttachToServer.
type AttachOptions struct {
	// Registry reuses an existing Registry instead of creating one.
	Registry *Registry

	// Upgrader performs the handshake; a zero-value Upgrader is used if nil.
	Upgrader *Upgrader

	// HeartbeatInterval and BinaryType configure each accepted Connection,
	// same as ConnectionOptions.
	HeartbeatInterval time.Duration
	BinaryType        BinaryType

	// OnConnect, if set, runs after a Connection is added to the registry.
	OnConnect func(c *Connection)
}

// AttachToServer registers a WebSocket upgrade handler on mux at pattern,
// the realization of attach_to_server(server, {registry?, on_connect?}).
// Every successfully upgraded request becomes a Connection added to the
// returned (or supplied) Registry.
func AttachToServer(mux *http.ServeMux, pattern string, opts AttachOptions) *Registry {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	upgrader := opts.Upgrader
	if upgrader == nil {
		upgrader = &Upgrader{}
	}

	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		hc := NewConnection(conn, ConnectionOptions{
			HeartbeatInterval: opts.HeartbeatInterval,
			BinaryType:        opts.BinaryType,
		})
		reg.Add(hc)

		if opts.OnConnect != nil {
			opts.OnConnect(hc)
		}
	})

	return reg
}
