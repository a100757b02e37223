// Package hub fans alert changes out to live websocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"touristguard/internal/domain"
	"touristguard/internal/geo"
)

// Subscribers pick topics of the form "admin", "tourist:<id>" or
// "tile:<z/x/y>".
const (
	TopicAdmin    = "admin"
	touristPrefix = "tourist:"
	tilePrefix    = "tile:"
)

func TouristTopic(touristID string) string { return touristPrefix + touristID }

func TileTopic(t geo.Tile) string { return tilePrefix + t.String() }

// ValidTopic reports whether topic names a subscribable stream.
func ValidTopic(topic string) bool {
	switch {
	case topic == TopicAdmin:
		return true
	case strings.HasPrefix(topic, touristPrefix):
		return len(topic) > len(touristPrefix)
	case strings.HasPrefix(topic, tilePrefix):
		_, ok := geo.ParseTile(strings.TrimPrefix(topic, tilePrefix))
		return ok
	default:
		return false
	}
}

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrTileZoom     = errors.New("tile zoom not served")
)

// Client is one subscriber. Send is closed by the hub when the client is
// removed; writers other than the hub must go through Deliver.
type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
	mu     sync.RWMutex

	sendMu sync.Mutex
	closed bool
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// Deliver queues data without blocking. It reports false when the buffer
// is full or the client is already closed.
func (c *Client) Deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) HasTopic(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) AddTopics(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
}

func (c *Client) RemoveTopics(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

func (c *Client) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	topicClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []domain.AlertDelta
	done       chan struct{}

	tileZoom int
	logger   *slog.Logger
}

// NewHub creates a hub that routes located alerts to tile topics at
// tileZoom.
func NewHub(tileZoom int, logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		topicClients: make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		broadcast:    make(chan []domain.AlertDelta, 256),
		done:         make(chan struct{}),
		tileZoom:     tileZoom,
		logger:       logger,
	}
}

func (h *Hub) TileZoom() int { return h.tileZoom }

// CheckTopic validates topic for this hub. Tile topics must use the zoom
// located alerts are routed at, or they would never receive anything.
func (h *Hub) CheckTopic(topic string) error {
	if !ValidTopic(topic) {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if strings.HasPrefix(topic, tilePrefix) {
		t, _ := geo.ParseTile(strings.TrimPrefix(topic, tilePrefix))
		if t.Z != h.tileZoom {
			return fmt.Errorf("%w: %s (tiles are served at zoom %d)", ErrTileZoom, topic, h.tileZoom)
		}
	}
	return nil
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case deltas := <-h.broadcast:
			h.fanoutDeltas(deltas)
		}
	}
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddTopics(topics)

	for _, topic := range topics {
		if h.topicClients[topic] == nil {
			h.topicClients[topic] = make(map[*Client]struct{})
		}
		h.topicClients[topic][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveTopics(topics)

	for _, topic := range topics {
		if h.topicClients[topic] != nil {
			delete(h.topicClients[topic], client)
			if len(h.topicClients[topic]) == 0 {
				delete(h.topicClients, topic)
			}
		}
	}
}

// Publish queues a newly emitted alert for fanout.
func (h *Hub) Publish(a domain.Alert) {
	h.Broadcast([]domain.AlertDelta{{Type: domain.DeltaNew, Alert: a}})
}

// AlertResolved queues a resolution for fanout.
func (h *Hub) AlertResolved(a domain.Alert) {
	h.Broadcast([]domain.AlertDelta{{Type: domain.DeltaResolved, Alert: a}})
}

func (h *Hub) Broadcast(deltas []domain.AlertDelta) {
	if len(deltas) == 0 {
		return
	}
	select {
	case h.broadcast <- deltas:
	default:
		h.logger.Warn("broadcast channel full, dropping deltas", "count", len(deltas))
	}
}

// Register adds client. After Run has returned the client is closed
// immediately.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type DeltaMessage struct {
	Type    string       `json:"type"`
	Payload DeltaPayload `json:"payload"`
}

type DeltaPayload struct {
	Alerts   []domain.Alert `json:"alerts,omitempty"`
	Resolved []domain.Alert `json:"resolved,omitempty"`
}

// topicsFor lists every topic a delta is delivered on.
func (h *Hub) topicsFor(d domain.AlertDelta) []string {
	topics := []string{TopicAdmin, TouristTopic(d.Alert.TouristID)}
	if d.Alert.Location != nil {
		topics = append(topics, TileTopic(geo.TileAt(*d.Alert.Location, h.tileZoom)))
	}
	return topics
}

func (h *Hub) fanoutDeltas(deltas []domain.AlertDelta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientDeltas := make(map[*Client][]domain.AlertDelta)

	for _, d := range deltas {
		seen := make(map[*Client]struct{})
		for _, topic := range h.topicsFor(d) {
			for client := range h.topicClients[topic] {
				if _, dup := seen[client]; dup {
					continue
				}
				seen[client] = struct{}{}
				clientDeltas[client] = append(clientDeltas[client], d)
			}
		}
	}

	for client, ds := range clientDeltas {
		data, err := json.Marshal(buildDeltaMessage(ds))
		if err != nil {
			continue
		}

		if !client.Deliver(data) {
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func buildDeltaMessage(deltas []domain.AlertDelta) DeltaMessage {
	var payload DeltaPayload
	for _, d := range deltas {
		switch d.Type {
		case domain.DeltaNew:
			payload.Alerts = append(payload.Alerts, d.Alert)
		case domain.DeltaResolved:
			payload.Resolved = append(payload.Resolved, d.Alert)
		}
	}
	return DeltaMessage{Type: "delta", Payload: payload}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	for _, topic := range client.Topics() {
		if h.topicClients[topic] != nil {
			delete(h.topicClients[topic], client)
			if len(h.topicClients[topic]) == 0 {
				delete(h.topicClients, topic)
			}
		}
	}

	delete(h.clients, client)
	client.close()
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.topicClients = make(map[string]map[*Client]struct{})
}
