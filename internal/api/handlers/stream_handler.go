package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/canvas"
	"github.com/genflow-studio/engine/internal/services"
	"github.com/genflow-studio/engine/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
)

const messageState = "state"

// streamMessage is one frame on the canvas stream. The first frame carries
// the full state; graph frames carry the committed graph.
type streamMessage struct {
	services.Event
	State *services.WorkspaceState `json:"state,omitempty"`
	Graph *canvas.Graph            `json:"graph,omitempty"`
}

type StreamHandler struct {
	registry *services.Registry
	upgrader websocket.Upgrader
}

func NewStreamHandler(registry *services.Registry) *StreamHandler {
	return &StreamHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origins are enforced by the CORS middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Stream upgrades to a WebSocket and pushes workspace events until the peer
// leaves or the workspace closes. Inbound frames are ignored.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		logger.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := logger.ForCanvas(ws.ID())
	events, stop := ws.Watch()
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("stream read error", zap.Error(err))
				}
				return
			}
		}
	}()

	st := ws.State()
	if err := writeFrame(conn, streamMessage{Event: services.Event{Type: messageState, Revision: st.Revision, CanUndo: st.CanUndo, CanRedo: st.CanRedo}, State: &st}); err != nil {
		return
	}
	log.Debug("stream opened")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Debug("stream closed by peer")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "canvas closed"))
				return
			}
			msg := streamMessage{Event: ev}
			if ev.Type == services.EventGraph {
				g := ws.Graph()
				msg.Graph = &g
			}
			if err := writeFrame(conn, msg); err != nil {
				log.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
