package ws

// Subscriber abstracts one attached streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deployment events out to the subscribers of each project stream.
// All state lives in the run goroutine, so registration and broadcast never
// race.
type Hub struct {
	streams   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan event
	done      chan struct{}
}

type subscription struct {
	projectID string
	client    Subscriber
}

type event struct {
	projectID string
	payload   []byte
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		streams:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan event),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			clients, ok := h.streams[sub.projectID]
			if !ok {
				clients = make(map[Subscriber]struct{})
				h.streams[sub.projectID] = clients
			}
			clients[sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.streams[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.streams, sub.projectID)
				}
			}
		case ev := <-h.broadcast:
			clients, ok := h.streams[ev.projectID]
			if !ok {
				continue
			}
			for c := range clients {
				if err := c.Send(ev.payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			if len(clients) == 0 {
				delete(h.streams, ev.projectID)
			}
		case <-h.done:
			for _, clients := range h.streams {
				for c := range clients {
					c.Close()
				}
			}
			h.streams = make(map[string]map[Subscriber]struct{})
			return
		}
	}
}

// Register attaches a client to a project stream.
func (h *Hub) Register(projectID string, client Subscriber) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister detaches a client from a project stream.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.done:
	}
}

// Broadcast delivers a payload to every subscriber of the project stream.
// Failed subscribers are dropped.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	select {
	case h.broadcast <- event{projectID: projectID, payload: payload}:
	case <-h.done:
	}
}

// Shutdown closes every subscriber and stops the dispatch loop.
func (h *Hub) Shutdown() {
	close(h.done)
}
