package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans project log payloads out to subscribers and keeps a short
// backlog per project that is replayed to late joiners.
type Hub struct {
	clients     map[string]map[Subscriber]struct{}
	backlog     map[string][][]byte
	backlogSize int

	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	counts    chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

// message couples payload with project identifier.
type message struct {
	projectID string
	payload   []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	projectID string
	client    Subscriber
}

type countRequest struct {
	projectID string
	reply     chan int
}

// NewHub creates a running Hub keeping backlogSize payloads per project.
func NewHub(backlogSize int) *Hub {
	if backlogSize < 0 {
		backlogSize = 0
	}
	h := &Hub{
		clients:     make(map[string]map[Subscriber]struct{}),
		backlog:     make(map[string][][]byte),
		backlogSize: backlogSize,
		register:    make(chan subscription),
		unreg:       make(chan subscription),
		broadcast:   make(chan message),
		counts:      make(chan countRequest),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			if h.replay(sub) {
				h.clients[sub.projectID][sub.client] = struct{}{}
			}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.projectID)
				}
			}
		case msg := <-h.broadcast:
			h.remember(msg)
			if clients, ok := h.clients[msg.projectID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.projectID)
				}
			}
		case req := <-h.counts:
			req.reply <- len(h.clients[req.projectID])
		}
	}
}

func (h *Hub) replay(sub subscription) bool {
	for _, payload := range h.backlog[sub.projectID] {
		if err := sub.client.Send(payload); err != nil {
			sub.client.Close()
			return false
		}
	}
	return true
}

func (h *Hub) remember(msg message) {
	if h.backlogSize == 0 {
		return
	}
	buf := append(h.backlog[msg.projectID], msg.payload)
	if len(buf) > h.backlogSize {
		buf = buf[len(buf)-h.backlogSize:]
	}
	h.backlog[msg.projectID] = buf
}

// Register adds a client to a project stream and replays the backlog to it.
func (h *Hub) Register(projectID string, client Subscriber) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all project clients.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	select {
	case h.broadcast <- message{projectID: projectID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients follow projectID.
func (h *Hub) Subscribers(projectID string) int {
	reply := make(chan int, 1)
	select {
	case h.counts <- countRequest{projectID: projectID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
