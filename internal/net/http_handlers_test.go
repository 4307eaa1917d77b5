package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ebb-and-flow/server"
	"ebb-and-flow/server/feed"
)

func newHandlerHub() *server.Hub {
	cfg := server.Config{Seed: "net-harness", ActorCount: 1, TickRate: 20}
	return server.NewHub(cfg, nil, nil, nil)
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(newHandlerHub(), HandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok\n" {
		t.Fatalf("expected body %q, got %q", "ok\n", body)
	}
}

func TestDiagnosticsReportsWorldAndTelemetry(t *testing.T) {
	handler := NewHandler(newHandlerHub(), HandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}

	status, ok := payload["status"].(map[string]any)
	if !ok {
		t.Fatalf("expected status object in diagnostics payload, got %T", payload["status"])
	}
	if branch, ok := status["branch"].(string); !ok || branch != "prime" {
		t.Fatalf("expected branch %q, got %v", "prime", status["branch"])
	}
	branches, ok := status["branches"].([]any)
	if !ok || len(branches) != 1 {
		t.Fatalf("expected one branch in diagnostics payload, got %v", status["branches"])
	}

	if tickRate, ok := payload["tickRate"].(float64); !ok || tickRate != 20 {
		t.Fatalf("expected tickRate 20, got %v", payload["tickRate"])
	}
	if hb, ok := payload["heartbeatMillis"].(float64); !ok || hb <= 0 {
		t.Fatalf("expected positive heartbeatMillis, got %v", payload["heartbeatMillis"])
	}

	telemetryValue, ok := payload["telemetry"].(map[string]any)
	if !ok {
		t.Fatalf("expected telemetry object in diagnostics payload, got %T", payload["telemetry"])
	}
	if _, ok := telemetryValue["broadcasts"].(float64); !ok {
		t.Fatalf("expected broadcasts field in diagnostics telemetry, payload=%v", telemetryValue)
	}
}

func TestWebsocketSessionHelloHeartbeatReject(t *testing.T) {
	hub := newHandlerHub()
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})

	hello := readFrame(t, conn)
	if msgType, ok := hello["type"].(string); !ok || msgType != "hello" {
		t.Fatalf("expected hello frame first, got %v", hello["type"])
	}
	if ver, ok := hello["ver"].(float64); !ok || int(ver) != feed.ProtocolVersion {
		t.Fatalf("expected protocol version %d, got %v", feed.ProtocolVersion, hello["ver"])
	}
	if sub, ok := hello["subscriber"].(string); !ok || sub != "watcher-1" {
		t.Fatalf("expected subscriber watcher-1, got %v", hello["subscriber"])
	}
	if branch, ok := hello["branch"].(string); !ok || branch != "prime" {
		t.Fatalf("expected branch %q, got %v", "prime", hello["branch"])
	}
	if sps, ok := hello["stepsPerSecond"].(float64); !ok || sps <= 0 {
		t.Fatalf("expected positive stepsPerSecond, got %v", hello["stepsPerSecond"])
	}
	actors, ok := hello["actors"].([]any)
	if !ok || len(actors) != 3 {
		t.Fatalf("expected 3 actors in hello frame, got %v", hello["actors"])
	}

	if err := conn.WriteJSON(feed.ControlMessage{Type: feed.ControlHeartbeat, SentAt: 4242}); err != nil {
		t.Fatalf("failed to send heartbeat: %v", err)
	}
	ack := readFrame(t, conn)
	if msgType, ok := ack["type"].(string); !ok || msgType != "heartbeatAck" {
		t.Fatalf("expected heartbeatAck frame, got %v", ack["type"])
	}
	if sentAt, ok := ack["sentAt"].(float64); !ok || int64(sentAt) != 4242 {
		t.Fatalf("expected sentAt 4242 echoed back, got %v", ack["sentAt"])
	}
	if serverTime, ok := ack["serverTime"].(float64); !ok || serverTime == 0 {
		t.Fatalf("expected server time in heartbeat ack, got %v", ack["serverTime"])
	}

	if err := conn.WriteJSON(feed.ControlMessage{Type: feed.ControlMultiplier, Multiplier: 0}); err != nil {
		t.Fatalf("failed to send control: %v", err)
	}
	reject := readFrame(t, conn)
	if msgType, ok := reject["type"].(string); !ok || msgType != "controlReject" {
		t.Fatalf("expected controlReject frame, got %v", reject["type"])
	}
	if control, ok := reject["control"].(string); !ok || control != string(feed.ControlMultiplier) {
		t.Fatalf("expected rejected control %q, got %v", feed.ControlMultiplier, reject["control"])
	}
	if reason, ok := reject["reason"].(string); !ok || reason != server.ControlRejectInvalid {
		t.Fatalf("expected reject reason %q, got %v", server.ControlRejectInvalid, reject["reason"])
	}
}

func TestWebsocketCloseRemovesSubscriber(t *testing.T) {
	hub := newHandlerHub()
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}

	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read hello frame: %v", err)
	}
	if got := len(hub.DiagnosticsSnapshot().Subscribers); got != 1 {
		t.Fatalf("expected 1 subscriber after hello, got %d", got)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(hub.DiagnosticsSnapshot().Subscribers) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected subscriber roster to empty after close, got %v", hub.DiagnosticsSnapshot().Subscribers)
}

func websocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/ws"
	return parsed.String()
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read websocket frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode websocket frame: %v", err)
	}
	return frame
}
