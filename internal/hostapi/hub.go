package hostapi

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/voxmemo/voxmemo/internal/fault"
	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/internal/voice"
)

// sendBuffer is the per-connection event backlog. A host that falls this far
// behind is disconnected.
const sendBuffer = 64

type client struct {
	id      string
	send    chan Event
	cancel  context.CancelFunc
	dropped atomic.Bool
}

// offer queues ev without blocking and reports whether it fit.
func (c *client) offer(ev Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Hub fans controller output out to every connected host. It is safe for
// concurrent use.
type Hub struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates an empty [Hub]. A nil m uses [observe.DefaultMetrics].
func NewHub(m *observe.Metrics) *Hub {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{metrics: m, clients: make(map[string]*client)}
}

// Callbacks returns controller callbacks that broadcast to all hosts. They
// never block.
func (h *Hub) Callbacks() voice.Callbacks {
	return voice.Callbacks{
		OnTranscript: func(text string) { h.Broadcast(transcriptEvent(text)) },
		OnNotice:     func(n fault.Notice) { h.Broadcast(noticeEvent(n)) },
		OnState:      func(s voice.Status) { h.Broadcast(stateEvent(s)) },
		OnToggle:     func(on bool) { h.Broadcast(toggleEvent(on)) },
	}
}

// Broadcast queues ev for every connected host. Hosts whose backlog is full
// are disconnected.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if c.offer(ev) {
			continue
		}
		slog.Warn("hostapi: disconnecting slow host", "conn_id", id, "event", ev.Type)
		h.drop(c)
	}
}

// Len returns the number of connected hosts.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(cancel context.CancelFunc) *client {
	c := &client{
		id:     uuid.NewString(),
		send:   make(chan Event, sendBuffer),
		cancel: cancel,
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.HostConnections.Add(context.Background(), 1)
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.metrics.HostConnections.Add(context.Background(), -1)
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	delete(h.clients, c.id)
	h.metrics.HostConnections.Add(context.Background(), -1)
	c.dropped.Store(true)
	c.cancel()
}
