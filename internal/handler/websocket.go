package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"touristguard/internal/domain"
	"touristguard/internal/geo"
	"touristguard/internal/hub"
	"touristguard/internal/store"
)

const snapshotLimit = 50

type WSHandler struct {
	hub            *hub.Hub
	alerts         *store.Store
	originPatterns []string
	logger         *slog.Logger
}

func NewWSHandler(h *hub.Hub, alerts *store.Store, originPatterns []string, logger *slog.Logger) *WSHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &WSHandler{
		hub:            h,
		alerts:         alerts,
		originPatterns: originPatterns,
		logger:         logger.With("handler", "websocket"),
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TopicsPayload struct {
	Topics []string `json:"topics"`
}

type SnapshotMessage struct {
	Type    string          `json:"type"`
	Payload SnapshotPayload `json:"payload"`
}

type SnapshotPayload struct {
	Topic  string         `json:"topic"`
	Alerts []domain.Alert `json:"alerts"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := hub.NewClient(uuid.NewString(), 256)
	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		ServerStats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			topics, ok := h.parseTopics(client, msg.Payload)
			if !ok {
				continue
			}
			h.hub.Subscribe(client, topics)
			for _, topic := range topics {
				h.sendSnapshot(client, topic)
			}

		case "unsubscribe":
			topics, ok := h.parseTopics(client, msg.Payload)
			if !ok {
				continue
			}
			h.hub.Unsubscribe(client, topics)

		case "ping":
			h.send(client, PongMessage{Type: "pong"})
		}
	}
}

func (h *WSHandler) parseTopics(client *hub.Client, raw json.RawMessage) ([]string, bool) {
	var payload TopicsPayload
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Topics) == 0 {
		h.send(client, ErrorMessage{Type: "error", Error: "payload.topics is required"})
		return nil, false
	}
	for _, t := range payload.Topics {
		if err := h.hub.CheckTopic(t); err != nil {
			h.send(client, ErrorMessage{Type: "error", Error: err.Error()})
			return nil, false
		}
	}
	return payload.Topics, true
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// snapshotFor returns the open alerts a new subscriber of topic should see.
func (h *WSHandler) snapshotFor(topic string) []domain.Alert {
	open := false
	switch {
	case topic == hub.TopicAdmin:
		return h.alerts.List(store.ListOptions{Resolved: &open, Limit: snapshotLimit})
	case strings.HasPrefix(topic, "tourist:"):
		id := strings.TrimPrefix(topic, "tourist:")
		return h.alerts.List(store.ListOptions{TouristID: id, Resolved: &open, Limit: snapshotLimit})
	default:
		tile, ok := geo.ParseTile(strings.TrimPrefix(topic, "tile:"))
		if !ok {
			return nil
		}
		bb := tile.Bounds()
		var out []domain.Alert
		for _, a := range h.alerts.List(store.ListOptions{Resolved: &open}) {
			if a.Location != nil && bb.Contains(*a.Location) {
				out = append(out, a)
				if len(out) == snapshotLimit {
					break
				}
			}
		}
		return out
	}
}

func (h *WSHandler) sendSnapshot(client *hub.Client, topic string) {
	alerts := h.snapshotFor(topic)
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	h.send(client, SnapshotMessage{
		Type:    "snapshot",
		Payload: SnapshotPayload{Topic: topic, Alerts: alerts},
	})
}

func (h *WSHandler) send(client *hub.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !client.Deliver(data) {
		h.logger.Debug("failed to send message", "client_id", client.ID)
	}
}
