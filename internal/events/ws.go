package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSManager bridges the hub onto WebSocket connections.
type WSManager struct {
	hub    *Hub
	logger *slog.Logger
}

func NewWSManager(hub *Hub, logger *slog.Logger) *WSManager {
	return &WSManager{hub: hub, logger: logger}
}

// HandleWS upgrades the connection and streams hub events until the client
// goes away. An optional ?topic= query narrows the subscription; the
// default is the firehose.
func (m *WSManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = TopicAll
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := m.hub.Subscribe(topic)
	defer cancel()

	// Reads are discarded; their only job is to surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := m.send(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (m *WSManager) send(conn *websocket.Conn, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
