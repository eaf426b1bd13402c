package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/models"
)

// WebSocket message types
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected  = "connected"
	MsgTypeProcessing = "processing"
	MsgTypeCleared    = "processing:cleared"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

const wsWriteWait = 10 * time.Second

// WSMessage is the envelope of every WebSocket message.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error message.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes Processing State changes of a session.
type WebSocketHandler struct {
	mgr      SessionManager
	upgrader websocket.Upgrader
	lg       zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(mgr SessionManager, lg zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		lg: lg.With().Str("component", "websocket").Logger(),
	}
}

// HandleWebSocket upgrades the connection and streams the session's
// Processing State until the client leaves or the session closes.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")
	s, ok := wsh.mgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	updates, cancel := s.Subscribe()
	defer cancel()

	lg := wsh.lg.With().Str("session", id).Logger()
	lg.Debug().Msg("client connected")

	wsh.sendMessage(ws, WSMessage{Type: MsgTypeConnected, ID: id, Timestamp: time.Now().UnixMilli()})
	if st := s.Editor.Orchestrator().Current(); st != nil {
		wsh.sendState(ws, id, st)
	}

	// Reader: forwards client message types; writes stay on this goroutine.
	requests := make(chan string, 4)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					lg.Debug().Err(err).Msg("connection error")
				}
				return
			}
			select {
			case requests <- msg.Type:
			default:
			}
		}
	}()

	for {
		select {
		case <-closed:
			lg.Debug().Msg("client disconnected")
			return nil
		case typ := <-requests:
			if typ == MsgTypePing {
				wsh.sendMessage(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
			} else {
				wsh.sendError(ws, "Unknown message type: "+typ, "INVALID_TYPE")
			}
		case st, open := <-updates:
			if !open {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return nil
			}
			wsh.sendState(ws, id, st)
		}
	}
}

func (wsh *WebSocketHandler) sendState(ws *websocket.Conn, id string, st *models.ProcessingState) {
	if st == nil {
		wsh.sendMessage(ws, WSMessage{Type: MsgTypeCleared, ID: id, Timestamp: time.Now().UnixMilli()})
		return
	}
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeProcessing,
		ID:        id,
		Payload:   mustJSON(st),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg WSMessage) {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(msg); err != nil {
		wsh.lg.Debug().Err(err).Str("type", msg.Type).Msg("failed to send message")
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, message, code string) {
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
