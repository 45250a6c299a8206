package devserver

import (
	"time"
)

const clientBuffer = 4

type messageType string

const (
	messageHello  messageType = "hello"
	messageReload messageType = "reload"
)

type message struct {
	Type messageType `json:"type"`
	ID   string      `json:"id,omitempty"`
	At   time.Time   `json:"at"`
}

// client is one browser on the reload channel.
type client struct {
	id   string
	send chan message
}

// hub owns the set of connected clients. Every mutation happens on its run
// goroutine.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan message
	done       chan struct{}
	metrics    *metrics
}

func newHub(m *metrics) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

func (h *hub) run(stop <-chan struct{}) {
	defer close(h.done)
	for {
		select {
		case <-stop:
			for c := range h.clients {
				h.remove(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.metrics.clients.Set(float64(len(h.clients)))
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Too slow to keep up; it reconnects and reloads anyway.
					h.remove(c)
				}
			}
		}
	}
}

func (h *hub) remove(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.clients.Set(float64(len(h.clients)))
}

// join returns false once the hub has stopped.
func (h *hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// send never blocks on a stopped hub.
func (h *hub) send(msg message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}
