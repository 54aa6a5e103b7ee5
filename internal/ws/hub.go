package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions keyed by workload ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with a workload identifier.
type message struct {
	workloadID string
	payload    []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	workloadID string
	client     Subscriber
}

// NewHub creates an initialized Hub. The buffer absorbs broadcast bursts
// so event emission does not block on slow subscribers.
func NewHub(buffer int) *Hub {
	if buffer < 0 {
		buffer = 0
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.workloadID]; !ok {
				h.clients[sub.workloadID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.workloadID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.workloadID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.workloadID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.workloadID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.workloadID)
				}
			}
		}
	}
}

// Register adds a client to a workload stream.
func (h *Hub) Register(workloadID string, client Subscriber) {
	h.register <- subscription{workloadID: workloadID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(workloadID string, client Subscriber) {
	h.unreg <- subscription{workloadID: workloadID, client: client}
}

// Broadcast sends payload to all clients watching the workload.
func (h *Hub) Broadcast(workloadID string, payload []byte) {
	h.broadcast <- message{workloadID: workloadID, payload: payload}
}
