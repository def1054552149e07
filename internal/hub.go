package internal

import (
	"context"
	"maps"
	"sync"
)

// Hub fans surface commands out to the stream connections of a view.
type Hub interface {
	Run(context.Context)
	Register(*connection)
	Unregister(*connection)
	Broadcast(*message)
	Connections() map[*connection]bool
}

var _ Hub = (*hub)(nil)

type hub struct {
	metrics    *Metrics
	views      map[string]map[*connection]bool
	register   chan *connection
	unregister chan *connection
	broadcast  chan *message
	done       chan struct{}

	mutex sync.RWMutex
}

func newHub(m *Metrics) *hub {
	return &hub{
		metrics:    m,
		views:      make(map[string]map[*connection]bool),
		register:   make(chan *connection),
		unregister: make(chan *connection),
		broadcast:  make(chan *message),
		done:       make(chan struct{}),
	}
}

// Run owns all connection bookkeeping until ctx is done.
func (h *hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.add(conn)
		case conn := <-h.unregister:
			h.remove(conn)
			conn.close()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *hub) add(conn *connection) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, id := range conn.views {
		conns, ok := h.views[id]
		if !ok {
			conns = make(map[*connection]bool)
			h.views[id] = conns
		}
		conns[conn] = true
	}
}

func (h *hub) remove(conn *connection) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.detach(conn)
}

// detach drops conn from every view it follows. Callers hold the write lock.
func (h *hub) detach(conn *connection) {
	for _, id := range conn.views {
		delete(h.views[id], conn)
		if len(h.views[id]) == 0 {
			delete(h.views, id)
		}
	}
}

// deliver queues msg on every connection of its views. A connection whose
// buffer is full is cut off rather than allowed to stall the others.
func (h *hub) deliver(msg *message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, id := range msg.Views {
		for conn := range h.views[id] {
			select {
			case conn.send <- msg:
				h.metrics.Send()
			default:
				h.detach(conn)
				if conn.close() {
					h.metrics.Terminate()
				}
			}
		}
	}
}

// Broadcast, Register and Unregister block until Run picks them up and
// become no-ops once Run has returned.
func (h *hub) Broadcast(msg *message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *hub) Register(conn *connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.close()
	}
}

func (h *hub) Unregister(conn *connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.close()
	}
}

func (h *hub) Connections() map[*connection]bool {
	all := make(map[*connection]bool)
	h.mutex.RLock()
	for _, conns := range h.views {
		maps.Copy(all, conns)
	}
	h.mutex.RUnlock()
	return all
}
