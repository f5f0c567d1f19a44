// Package governors tracks which governors are currently connected to the
// server and lets the reactor dispatch assignments to them: an
// RWMutex-guarded map of connections, narrowed to a single control channel
// per governor instead of a bidirectional job stream.
package governors

import (
	"fmt"
	"sync"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// Dispatcher is satisfied by the live connection handler for one governor;
// it is the thing Dispatch actually writes an Assignment frame to.
type Dispatcher interface {
	SendAssignment(wire.Assignment) error
	SendFrame(wire.NodeFrame) error
}

type connected struct {
	id   shared.GovernorID
	conn Dispatcher
}

// Registry is a concurrency-safe map of currently connected governors.
type Registry struct {
	mu    sync.RWMutex
	byID  map[shared.GovernorID]*connected
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[shared.GovernorID]*connected)}
}

// Register associates a live Dispatcher with a governor ID, replacing any
// previous connection for the same ID (a governor reconnecting after a
// network blip supersedes its own stale entry).
func (r *Registry) Register(id shared.GovernorID, conn Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = &connected{id: id, conn: conn}
}

// Deregister removes a governor's live connection. It is a no-op if the
// governor is not currently registered (e.g. it already reconnected under
// a fresh entry and this call races a stale disconnect).
func (r *Registry) Deregister(id shared.GovernorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *Registry) IsConnected(id shared.GovernorID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Dispatch sends an assignment to a connected governor. Returns an error if
// the governor is not connected or the send itself fails.
func (r *Registry) Dispatch(id shared.GovernorID, a wire.Assignment) error {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("governor %s not connected", id)
	}
	return c.conn.SendAssignment(a)
}

// Broadcast sends a frame (e.g. a DropCached-equivalent state update) to
// every connected governor. Best-effort: a single failing send does not
// stop delivery to the rest.
func (r *Registry) Broadcast(frame wire.NodeFrame) {
	r.mu.RLock()
	conns := make([]*connected, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.conn.SendFrame(frame)
	}
}

func (r *Registry) Connected() []shared.GovernorID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]shared.GovernorID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}
