package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aihub/internal/domain"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

// Event is one frame of the /api/events stream.
type Event struct {
	Type         string                `json:"type"` // "status" | "notification" | "health"
	Content      string                `json:"content,omitempty"`
	Notification *domain.Notification  `json:"notification,omitempty"`
	Health       *domain.AdapterHealth `json:"health,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback by default; bearer auth guards anything else.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams notifications and health changes until the client
// goes away.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	var notes <-chan domain.Notification
	if s.cfg.Events != nil {
		ch, cancel := s.cfg.Events.Subscribe()
		defer cancel()
		notes = ch
	}
	var changes <-chan domain.AdapterHealth
	if s.cfg.Health != nil {
		ch, cancel := s.cfg.Health.Subscribe()
		defer cancel()
		changes = ch
	}

	s.logger.Info("event client connected", "remote", c.Request.RemoteAddr)
	defer s.logger.Info("event client disconnected", "remote", c.Request.RemoteAddr)

	// Clients only send control frames; the read loop notices close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "err", err)
				}
				return
			}
		}
	}()

	if err := writeEvent(conn, Event{Type: "status", Content: "connected"}); err != nil {
		return
	}

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		var ev Event
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
			continue
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			ev = Event{Type: "notification", Notification: &n}
		case h, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			ev = Event{Type: "health", Health: &h}
		}
		if err := writeEvent(conn, ev); err != nil {
			s.logger.Debug("websocket write failed", "err", err)
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
