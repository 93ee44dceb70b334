package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskboard/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Message is the frame written to websocket clients. Type is one of
// snapshot, added, removed or pong.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// inbound frames: {"type":"dismiss","id":"..."} or {"type":"ping"}.
type inbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Hub streams a Center to websocket clients.
type Hub struct {
	Center   *Center
	Log      *zap.SugaredLogger
	Upgrader websocket.Upgrader
}

func NewHub(center *Center, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		Center: center,
		Log:    log,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	changes, cancel := h.Center.Subscribe(32)
	defer cancel()
	replies := make(chan Message, 8)
	done := make(chan struct{})
	go h.readPump(conn, replies, done)
	h.writePump(conn, changes, replies, done)
}

func (h *Hub) readPump(conn *websocket.Conn, replies chan<- Message, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Log.Debugw("websocket read ended", "error", err)
			}
			return
		}
		switch msg.Type {
		case "dismiss":
			h.Center.Remove(msg.ID)
		case "ping":
			select {
			case replies <- Message{Type: "pong", Data: map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)}}:
			default:
			}
		default:
			h.Log.Debugw("websocket message ignored", "type", msg.Type)
		}
	}
}

// writePump is the only writer on conn.
func (h *Hub) writePump(conn *websocket.Conn, changes <-chan Change, replies <-chan Message, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	if err := h.write(conn, Message{Type: "snapshot", Data: h.Center.List()}); err != nil {
		return
	}
	for {
		select {
		case ch, ok := <-changes:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := h.write(conn, Message{Type: ch.Kind, Data: ch.Notification}); err != nil {
				return
			}
		case msg := <-replies:
			if err := h.write(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.Log.Debugw("websocket write failed", "error", err)
		return err
	}
	return nil
}
