// Package net wires the hub to its HTTP surface: a liveness probe, a
// diagnostics endpoint and the websocket feed.
package net

import (
	"encoding/json"
	"fmt"
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"ebb-and-flow/server"
	"ebb-and-flow/server/feed"
	"ebb-and-flow/server/internal/telemetry"
)

// HandlerConfig carries the optional collaborators of the HTTP surface.
type HandlerConfig struct {
	Logger telemetry.Logger
}

// diagnosticsPayload is the /diagnostics response body.
type diagnosticsPayload struct {
	Status          feed.DiagnosticsStatus `json:"status"`
	ServerTime      int64                  `json:"serverTime"`
	TickRate        int                    `json:"tickRate"`
	HeartbeatMillis int64                  `json:"heartbeatMillis"`
	Telemetry       any                    `json:"telemetry"`
}

// controlReject tells a subscriber why its control frame was refused.
type controlReject struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Control string `json:"control"`
	Reason  string `json:"reason"`
}

// NewHandler builds the HTTP mux around a hub.
func NewHandler(hub *server.Hub, cfg HandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*nethttp.Request) bool { return true },
	}

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, logger, diagnosticsPayload{
			Status:          hub.DiagnosticsSnapshot(),
			ServerTime:      hub.Now().UnixMilli(),
			TickRate:        hub.TickRate(),
			HeartbeatMillis: server.HeartbeatInterval().Milliseconds(),
			Telemetry:       hub.TelemetrySnapshot(),
		})
	})
	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("websocket upgrade failed: %v", err)
			return
		}
		serveFeed(hub, conn, logger)
	})
	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Printf("failed to encode response: %v", err)
	}
}

// serveFeed runs one subscriber session: the hello frame, then a read loop
// staging controls until the connection drops. Heartbeats are answered
// inline; everything else goes through the hub's intake queue.
func serveFeed(hub *server.Hub, conn *websocket.Conn, logger telemetry.Logger) {
	sub, hello := hub.Subscribe(conn, conn.RemoteAddr().String())
	if data, err := json.Marshal(hello); err == nil {
		hub.Send(sub, data)
	} else {
		logger.Printf("failed to marshal hello for %s: %v", sub.ID(), err)
	}

	defer hub.Disconnect(sub.ID(), "read_closed")
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg feed.ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Printf("malformed control from %s: %v", sub.ID(), err)
			continue
		}
		if msg.Type == feed.ControlHeartbeat {
			now := hub.Now()
			hub.UpdateHeartbeat(sub.ID(), now, msg.SentAt)
			ack := feed.HeartbeatAckMessage{
				Ver:        feed.ProtocolVersion,
				Type:       "heartbeatAck",
				SentAt:     msg.SentAt,
				ServerTime: now.UnixMilli(),
			}
			if data, err := json.Marshal(ack); err == nil {
				hub.Send(sub, data)
			}
			continue
		}
		if ok, reason := hub.EnqueueControl(sub.ID(), msg); !ok {
			reject := controlReject{
				Ver:     feed.ProtocolVersion,
				Type:    "controlReject",
				Control: string(msg.Type),
				Reason:  reason,
			}
			if data, err := json.Marshal(reject); err == nil {
				hub.Send(sub, data)
			}
		}
	}
}
