package websocket

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Hub maintains the set of connected peers, their topic subscriptions, and fans
// published frames out to subscribers
type Hub struct {
	// Subscribers per topic, valued by the subscription id the peer chose
	topics map[string]map[*Client]string

	// Every registered peer
	clients map[*Client]bool

	// Outbound frames to fan out
	broadcast chan *outbound

	// SEND frames received from peers
	inbound chan *Inbound

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscriptionRequest
	unsubscribe chan subscriptionRequest

	done      chan struct{}
	closeOnce sync.Once

	// Mutex for concurrent access to topics/clients from readers
	mu sync.RWMutex

	listenersMu sync.RWMutex
	listeners   []chan *Inbound

	logger zerolog.Logger
}

// Inbound is a SEND frame received from an authenticated peer
type Inbound struct {
	Client      *Client
	Sender      Identity
	Destination string
	Body        json.RawMessage
}

type outbound struct {
	topic string
	body  json.RawMessage
}

type subscriptionRequest struct {
	client *Client
	topic  string
	id     string
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics:      make(map[string]map[*Client]string),
		clients:     make(map[*Client]bool),
		broadcast:   make(chan *outbound, 64),
		inbound:     make(chan *Inbound, 64),
		register:    make(chan *Client),
		unregister:  make(chan *Client, 16),
		subscribe:   make(chan subscriptionRequest),
		unsubscribe: make(chan subscriptionRequest),
		done:        make(chan struct{}),
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub, handling registrations, subscriptions and broadcasts until Close
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case req := <-h.subscribe:
			h.addSubscription(req)

		case req := <-h.unsubscribe:
			h.removeSubscription(req)

		case msg := <-h.broadcast:
			h.broadcastFrame(msg)

		case in := <-h.inbound:
			h.notifyListeners(in)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Close stops Run and disconnects every peer
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	h.logger.Info().
		Str("userID", client.identity.UserID).
		Str("addr", client.conn.RemoteAddr().String()).
		Msg("Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropClientLocked(client)
}

// dropClientLocked must be called with mu held
func (h *Hub) dropClientLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for topic, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	close(client.send)

	h.logger.Info().
		Str("userID", client.identity.UserID).
		Str("addr", client.conn.RemoteAddr().String()).
		Msg("Client unregistered")
}

func (h *Hub) addSubscription(req subscriptionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[req.client] {
		return
	}
	// one subscription per peer, mirroring the client session
	for topic, subs := range h.topics {
		if _, ok := subs[req.client]; ok && topic != req.topic {
			delete(subs, req.client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	if _, ok := h.topics[req.topic]; !ok {
		h.topics[req.topic] = make(map[*Client]string)
	}
	h.topics[req.topic][req.client] = req.id

	h.logger.Debug().
		Str("topic", req.topic).
		Str("subscription", req.id).
		Str("userID", req.client.identity.UserID).
		Msg("Client subscribed")
}

func (h *Hub) removeSubscription(req subscriptionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.topics {
		if id, ok := subs[req.client]; ok && id == req.id {
			delete(subs, req.client)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// broadcastFrame delivers a MESSAGE frame to every subscriber of the topic, each
// stamped with that subscriber's subscription id
func (h *Hub) broadcastFrame(msg *outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[msg.topic]
	if !ok {
		h.logger.Debug().Str("topic", msg.topic).Msg("No subscribers for broadcast")
		return
	}

	for client, subID := range subs {
		data, err := Frame{
			Command:      CommandMessage,
			Destination:  msg.topic,
			Subscription: subID,
			Body:         msg.body,
		}.Encode()
		if err != nil {
			h.logger.Error().Err(err).Str("topic", msg.topic).Msg("Failed to marshal frame for broadcast")
			return
		}

		select {
		case client.send <- data:
		default:
			// Client's send buffer is full, they might be slow or disconnected
			h.logger.Warn().Str("userID", client.identity.UserID).Msg("Dropping slow client")
			h.dropClientLocked(client)
		}
	}

	h.logger.Debug().
		Str("topic", msg.topic).
		Int("clientCount", len(subs)).
		Msg("Frame broadcasted to topic")
}

func (h *Hub) notifyListeners(in *Inbound) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()

	for _, listener := range h.listeners {
		select {
		case listener <- in:
		default:
			h.logger.Warn().Str("destination", in.Destination).Msg("Skipped slow message listener")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.dropClientLocked(client)
	}
}

// Publish marshals body and fans it out to the subscribers of topic
func (h *Hub) Publish(topic string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal broadcast body: %w", err)
	}
	select {
	case h.broadcast <- &outbound{topic: topic, body: data}:
		return nil
	case <-h.done:
		return fmt.Errorf("hub closed")
	}
}

// SubscriberCount returns the number of peers subscribed to topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// AddMessageListener registers a channel to receive every inbound SEND frame
func (h *Hub) AddMessageListener(listener chan *Inbound) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()

	h.listeners = append(h.listeners, listener)
	h.logger.Info().Msg("Added new message listener")
}

// RemoveMessageListener removes a listener from the hub
func (h *Hub) RemoveMessageListener(listener chan *Inbound) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()

	for i, l := range h.listeners {
		if l == listener {
			h.listeners[i] = h.listeners[len(h.listeners)-1]
			h.listeners = h.listeners[:len(h.listeners)-1]
			h.logger.Info().Msg("Removed message listener")
			break
		}
	}
}
