// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/middleware"
	"github.com/markreid/faceoff/internal/notify"
	"github.com/markreid/faceoff/internal/service"
	"github.com/markreid/faceoff/internal/session"
)

// wsMessage is the control-plane envelope clients send over the push
// channel. "t" discriminates the type, the rest are per-type fields.
type wsMessage struct {
	T         string  `json:"t"`
	SessionID string  `json:"sessionId,omitempty"`
	Name      string  `json:"name,omitempty"`
	Game      string  `json:"game,omitempty"`
	Label     string  `json:"label,omitempty"`
	MatchID   string  `json:"matchId,omitempty"`
	Cell      int     `json:"cell,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// wsConn adapts a coder/websocket connection to the registry's push
// interface. Conn.Write serializes concurrent writers internally, so the
// notifier's sweeps and the handler may push on it simultaneously.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

// WSHandler upgrades the connection, greets the client and runs the read
// loop. Clients register their session, answer heartbeats and report link
// quality; after registering they may also issue the gameplay requests the
// HTTP API exposes. All server pushes ride this socket via the notifier.
func WSHandler(logger *logrus.Logger, svc *service.Service, notifier *notify.Notifier, registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"faceoff"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("WebSocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "faceoff" {
			logger.Warnf("Client connected with invalid subprotocol: %s", c.Subprotocol())
			c.Close(websocket.StatusPolicyViolation, "Client must use the 'faceoff' subprotocol.")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		conn := &wsConn{c: c}
		sendWs(conn, map[string]interface{}{
			"t":         "server_hello",
			"message":   "connected",
			"timestamp": time.Now().UnixMilli(),
		}, logger)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sessionID := readMessages(ctx, c, conn, svc, notifier, registry, logger)

		if sessionID != "" {
			svc.OnDisconnect(sessionID)
		}
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, nil)
	}
}

// readMessages runs the blocking read loop until the connection drops. It
// returns the session ID the client registered as, if any, so the caller
// can resolve the session's lobby and match presence.
func readMessages(ctx context.Context, c *websocket.Conn, conn *wsConn,
	svc *service.Service, notifier *notify.Notifier, registry *session.Registry,
	logger *logrus.Logger) (sessionID string) {

	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Infof("WebSocket closed normally for session %q", sessionID)
			} else if strings.Contains(err.Error(), "context canceled") {
				logger.Infof("WebSocket context canceled for session %q", sessionID)
			} else {
				logger.Warnf("WebSocket read error for session %q: %v", sessionID, err)
			}
			return sessionID
		}
		if msgType != websocket.MessageText {
			logger.Warnf("Ignoring non-text message from session %q", sessionID)
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warnf("Invalid JSON from session %q: %v", sessionID, err)
			sendWs(conn, map[string]interface{}{"t": "error", "message": "invalid JSON"}, logger)
			continue
		}

		switch msg.T {
		case "register":
			if msg.SessionID == "" {
				sendWs(conn, map[string]interface{}{"t": "error", "message": "register requires sessionId"}, logger)
				continue
			}
			if sessionID != "" && sessionID != msg.SessionID {
				// Re-registering under a new identity releases the old one;
				// the stale connection entry must not keep absorbing pushes.
				svc.OnDisconnect(sessionID)
			}
			sessionID = msg.SessionID
			registry.Touch(sessionID, msg.Name)
			notifier.Register(sessionID, conn)

		case "heartbeat_ack", "heartbeat_response":
			if sessionID != "" {
				notifier.HandleHeartbeatAck(sessionID)
			}

		case "connection_quality":
			if sessionID != "" {
				registry.SetQuality(sessionID, msg.Quality)
			}

		case "ping":
			sendWs(conn, map[string]interface{}{"t": "pong", "timestamp": time.Now().UnixMilli()}, logger)

		// The gameplay requests mirror the HTTP API so a socket-only client
		// never needs a second channel. Each reply echoes the request type
		// with a _result suffix.
		case "join":
			if !requireRegistered(conn, sessionID, logger) {
				continue
			}
			reply(conn, "join_result", svc.Join(sessionID, msg.Name, msg.Game), logger)

		case "create_match":
			if !requireRegistered(conn, sessionID, logger) {
				continue
			}
			reply(conn, "create_match_result", svc.CreateMatch(sessionID, msg.Name, msg.Game, msg.Label), logger)

		case "join_match":
			if !requireRegistered(conn, sessionID, logger) {
				continue
			}
			reply(conn, "join_match_result", svc.JoinMatch(sessionID, msg.Name, msg.MatchID), logger)

		case "move":
			if !requireRegistered(conn, sessionID, logger) {
				continue
			}
			reply(conn, "move_result", svc.Move(sessionID, msg.MatchID, msg.Cell), logger)

		case "state":
			if !requireRegistered(conn, sessionID, logger) {
				continue
			}
			reply(conn, "state_result", svc.PollState(sessionID), logger)

		case "matches":
			reply(conn, "matches_result", map[string]interface{}{
				"matches": svc.ListMatches(msg.Game),
			}, logger)

		default:
			logger.Warnf("Unknown message type %q from session %q", msg.T, sessionID)
			sendWs(conn, map[string]interface{}{"t": "error", "message": "unknown message type: " + msg.T}, logger)
		}
	}
}

// requireRegistered rejects gameplay messages sent before register.
func requireRegistered(conn *wsConn, sessionID string, logger *logrus.Logger) bool {
	if sessionID == "" {
		sendWs(conn, map[string]interface{}{"t": "error", "message": "register first"}, logger)
		return false
	}
	return true
}

// reply sends a typed response carrying the service result's fields.
func reply(conn *wsConn, msgType string, result map[string]interface{}, logger *logrus.Logger) {
	out := make(map[string]interface{}, len(result)+1)
	for k, v := range result {
		out[k] = v
	}
	out["t"] = msgType
	sendWs(conn, out, logger)
}

// sendWs marshals and writes one message with a bounded timeout. Write
// failures are logged only; the read loop detects a dead connection.
func sendWs(conn *wsConn, message map[string]interface{}, logger *logrus.Logger) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Errorf("Marshaling WebSocket message: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		logger.Warnf("Writing WebSocket message: %v", err)
	}
}
