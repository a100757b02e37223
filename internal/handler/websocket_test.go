package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"touristguard/internal/domain"
	"touristguard/internal/geo"
	"touristguard/internal/hub"
	"touristguard/internal/store"
)

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func dialWS(t *testing.T) (*wsConn, *hub.Hub, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	h := hub.NewHub(14, logger)
	go h.Run(ctx)

	alerts := store.New()
	srv := httptest.NewServer(http.HandlerFunc(NewWSHandler(h, alerts, nil, logger).ServeWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return &wsConn{t: t, conn: conn, ctx: ctx}, h, alerts
}

func (c *wsConn) send(msgType string, payload any) {
	c.t.Helper()
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(WSMessage{Type: msgType, Payload: raw})
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("Write: %v", err)
	}
}

func (c *wsConn) read(dest any) string {
	c.t.Helper()
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		c.t.Fatalf("Read: %v", err)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.t.Fatalf("decode %q: %v", data, err)
	}
	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			c.t.Fatalf("decode %q: %v", data, err)
		}
	}
	return head.Type
}

func wsAlert(id, tourist string, lat, lng float64) domain.Alert {
	return domain.Alert{
		ID:        id,
		TouristID: tourist,
		Type:      domain.AlertGeofenceEnter,
		Severity:  domain.SeverityCritical,
		Timestamp: t0,
		Location:  &domain.Coordinate{Lat: lat, Lng: lng},
	}
}

func TestWSSubscribeSnapshotAndDelta(t *testing.T) {
	c, h, alerts := dialWS(t)
	alerts.Publish(wsAlert("a1", "T1", 28.6139, 77.2090))
	alerts.Publish(wsAlert("a2", "T2", 48.85, 2.35))

	c.send("subscribe", TopicsPayload{Topics: []string{hub.TouristTopic("T1")}})

	var snap SnapshotMessage
	if typ := c.read(&snap); typ != "snapshot" {
		t.Fatalf("expected snapshot, got %s", typ)
	}
	if snap.Payload.Topic != "tourist:T1" || len(snap.Payload.Alerts) != 1 || snap.Payload.Alerts[0].ID != "a1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	h.Publish(wsAlert("a3", "T2", 48.85, 2.35))
	h.Publish(wsAlert("a4", "T1", 28.6139, 77.2090))

	var delta hub.DeltaMessage
	if typ := c.read(&delta); typ != "delta" {
		t.Fatalf("expected delta, got %s", typ)
	}
	if len(delta.Payload.Alerts) != 1 || delta.Payload.Alerts[0].ID != "a4" {
		t.Fatalf("unexpected delta %+v", delta)
	}
}

func TestWSAdminSnapshotSkipsResolved(t *testing.T) {
	c, _, alerts := dialWS(t)
	alerts.Publish(wsAlert("a1", "T1", 28.6139, 77.2090))
	alerts.Publish(wsAlert("a2", "T2", 48.85, 2.35))
	if _, err := alerts.Resolve("a1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	c.send("subscribe", TopicsPayload{Topics: []string{hub.TopicAdmin}})
	var snap SnapshotMessage
	c.read(&snap)
	if len(snap.Payload.Alerts) != 1 || snap.Payload.Alerts[0].ID != "a2" {
		t.Fatalf("unexpected admin snapshot %+v", snap)
	}
}

func TestWSRejectsUnknownTopicAndAnswersPing(t *testing.T) {
	c, _, _ := dialWS(t)

	c.send("subscribe", TopicsPayload{Topics: []string{"vehicles"}})
	var e ErrorMessage
	if typ := c.read(&e); typ != "error" || !strings.Contains(e.Error, "vehicles") {
		t.Fatalf("expected error for unknown topic, got %s %+v", typ, e)
	}

	c.send("ping", nil)
	if typ := c.read(nil); typ != "pong" {
		t.Fatalf("expected pong, got %s", typ)
	}
}

func TestWSRejectsTileAtOtherZoom(t *testing.T) {
	c, h, _ := dialWS(t)

	c.send("subscribe", TopicsPayload{Topics: []string{"tile:10/731/426"}})
	var e ErrorMessage
	if typ := c.read(&e); typ != "error" || !strings.Contains(e.Error, "zoom 14") {
		t.Fatalf("expected zoom error, got %s %+v", typ, e)
	}

	loc := domain.Coordinate{Lat: 28.6139, Lng: 77.2090}
	c.send("subscribe", TopicsPayload{Topics: []string{hub.TileTopic(geo.TileAt(loc, 14))}})
	var snap SnapshotMessage
	if typ := c.read(&snap); typ != "snapshot" {
		t.Fatalf("expected snapshot, got %s", typ)
	}

	h.Publish(wsAlert("a1", "T1", loc.Lat, loc.Lng))
	var delta hub.DeltaMessage
	if typ := c.read(&delta); typ != "delta" || len(delta.Payload.Alerts) != 1 {
		t.Fatalf("expected delta on tile topic, got %s %+v", typ, delta)
	}
}
