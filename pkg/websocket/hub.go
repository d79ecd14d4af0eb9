package websocket

import (
	"encoding/json"
	"sync"
)

// Hub manages a set of server-role [Conn]s for broadcasting, grounded on
// the register/unregister/broadcast event-loop pattern used elsewhere in
// the example corpus for fan-out to many WebSocket clients. Unlike a
// shared global client map, a Hub owns its collection and is safe to run
// several independent instances in one process (e.g. one per chat room).
//
// Must be started with [Hub.Run] before use, and stopped with [Hub.Close].
type Hub struct {
	clients map[*Conn]bool

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan broadcastMessage

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

type broadcastMessage struct {
	opcode Opcode
	data   []byte
}

// NewHub creates a Hub with no registered clients. Call [Hub.Run] in a
// goroutine before registering any connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan broadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's single event-loop goroutine: every mutation of the
// client set, and every broadcast fan-out, happens here. Run still takes
// the Hub's mutex around them, because [Hub.ClientCount] and [Hub.Close]
// access the map from other goroutines.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.Close(StatusNormalClosure, "")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				go func(c *Conn, msg broadcastMessage) {
					if err := <-c.enqueueWrite(true, msg.opcode, msg.data); err != nil {
						h.Unregister(c)
					}
				}(c, msg)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds c to the set of clients that receive future broadcasts.
// It is a no-op if the Hub is already closed.
func (h *Hub) Register(c *Conn) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return
	}
	h.register <- c
}

// Unregister removes c from the Hub and closes its connection. Safe to
// call more than once for the same connection.
func (h *Hub) Unregister(c *Conn) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return
	}
	h.unregister <- c
}

// Broadcast queues a binary message for delivery to every registered
// client. Delivery happens asynchronously in [Hub.Run]; a client whose
// send fails is automatically unregistered.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return
	}
	h.broadcast <- broadcastMessage{opcode: OpcodeBinary, data: data}
}

// BroadcastText queues a text message for delivery to every registered client.
func (h *Hub) BroadcastText(text string) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return
	}
	h.broadcast <- broadcastMessage{opcode: OpcodeText, data: []byte(text)}
}

// BroadcastJSON marshals v and queues it as a text message to every
// registered client.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.BroadcastText(string(data))
	return nil
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the Hub's event loop and closes every registered connection.
// Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for c := range h.clients {
		c.Close(StatusGoingAway, "hub shutting down")
	}
	h.clients = make(map[*Conn]bool)
	h.mu.Unlock()
}
