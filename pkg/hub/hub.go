package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// sendBuffer is the per-client queue depth before a client counts as slow.
const sendBuffer = 64

// Hub owns a set of clients. Only the Run goroutine touches the client map;
// everyone else talks to it through channels.
type Hub struct {
	name   string
	replay bool
	logger *slog.Logger

	clients map[*Client]struct{}

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	count   atomic.Int64
	running atomic.Bool
	dropped atomic.Uint64

	lastMu sync.Mutex
	last   *Message
}

// Option configures a Hub.
type Option func(*Hub)

// WithReplay sends the most recent message to clients as they connect.
// Used for state that a late viewer should see immediately.
func WithReplay() Option {
	return func(h *Hub) { h.replay = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a Hub. Call Run to start it.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     slog.Default(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("hub", name)
	return h
}

// Run is the hub's main loop. It returns when ctx is cancelled, after
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.count.Store(0)
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			// c only receives what is broadcast after it registered.
			for n := len(h.broadcast); n > 0; n-- {
				h.deliver(<-h.broadcast)
			}
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			if h.replay {
				if m, ok := h.Last(); ok {
					c.send <- m
				}
			}
			h.logger.Debug("client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug("client disconnected", "clients", len(h.clients))

		case m := <-h.broadcast:
			h.deliver(m)
		}
	}
}

// deliver fans m out and records it for replay. Only Run calls it.
func (h *Hub) deliver(m Message) {
	if h.replay {
		h.lastMu.Lock()
		h.last = &m
		h.lastMu.Unlock()
	}
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			// Too slow to keep up; drop the client, not the message.
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropped slow client")
		}
	}
	h.count.Store(int64(len(h.clients)))
}

// Broadcast queues msg for every client. It never blocks; when the hub is
// saturated the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastBinary broadcasts an image or other binary payload.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

// Last returns the most recent broadcast Run has delivered when replay is
// enabled.
func (h *Hub) Last() (Message, bool) {
	h.lastMu.Lock()
	defer h.lastMu.Unlock()
	if h.last == nil {
		return Message{}, false
	}
	return *h.last, true
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many broadcasts were discarded.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
