package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/internal/ingest"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// StreamEvent is one message pushed to a websocket subscriber.
type StreamEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StreamAction is a client-to-server control message.
type StreamAction struct {
	Action   string `json:"action"`
	EntityID string `json:"entity_id,omitempty"`
}

// Server-originated stream event types beyond the bus event types.
const (
	streamConnected = "connected"
	streamPong      = "pong"
	streamError     = "error"
)

// Client actions.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// streamClient is one connected websocket consumer. Each client owns a bus
// subscription and a bounded send buffer; a client that cannot keep up
// skips messages instead of stalling the forwarding goroutine.
type streamClient struct {
	conn   *websocket.Conn
	send   chan StreamEvent
	logger *zap.Logger

	mu       sync.Mutex
	isClosed bool
	entities map[string]struct{}
}

func (s *Server) streamUpgrader() websocket.Upgrader {
	allowed := s.config.Security.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleStream handles GET /api/v1/ws. Fresh connections receive every
// event; subscribe actions narrow delivery to named entities and
// unsubscribing the last one widens back to the firehose.
func (s *Server) handleStream(c echo.Context) error {
	upgrader := s.streamUpgrader()
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &streamClient{
		conn:     ws,
		send:     make(chan StreamEvent, 256),
		logger:   s.logger,
		entities: make(map[string]struct{}),
	}

	events, unsubscribe := s.bus.Subscribe()

	client.enqueue(StreamEvent{
		Type:      streamConnected,
		Data:      MessageResponse{Message: "stream established"},
		Timestamp: time.Now().UTC(),
	})

	go client.writePump()
	go client.forward(events)
	go client.readPump(unsubscribe)

	return nil
}

// forward moves bus events into the client's send buffer, applying the
// entity filter. It ends when the bus subscription is cancelled.
func (c *streamClient) forward(events <-chan bus.Event) {
	defer c.close()

	for evt := range events {
		if !c.matches(evt) {
			continue
		}
		c.enqueue(StreamEvent{
			Type:      string(evt.Type),
			Data:      evt.Data,
			Timestamp: evt.Timestamp,
		})
	}
}

// readPump consumes client actions until the connection dies, then tears the
// bus subscription down.
func (c *streamClient) readPump(unsubscribe func()) {
	defer func() {
		unsubscribe()
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleAction(payload)
	}
}

// writePump drains the send buffer to the connection and keeps the
// connection alive with periodic pings.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handleAction(payload []byte) {
	var action StreamAction
	if err := json.Unmarshal(payload, &action); err != nil {
		c.enqueue(errorEvent("malformed action: expected JSON"))
		return
	}

	switch action.Action {
	case actionSubscribe:
		c.mu.Lock()
		if action.EntityID == "" {
			c.entities = make(map[string]struct{})
		} else {
			c.entities[action.EntityID] = struct{}{}
		}
		c.mu.Unlock()

	case actionUnsubscribe:
		c.mu.Lock()
		delete(c.entities, action.EntityID)
		c.mu.Unlock()

	case actionPing:
		c.enqueue(StreamEvent{Type: streamPong, Timestamp: time.Now().UTC()})

	default:
		c.enqueue(errorEvent(fmt.Sprintf("unknown action %q", action.Action)))
	}
}

// matches applies the client's entity filter. An empty filter matches
// everything; events without an entity (none today) always pass.
func (c *streamClient) matches(evt bus.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entities) == 0 {
		return true
	}
	id := eventEntityID(evt)
	if id == "" {
		return true
	}
	_, ok := c.entities[id]
	return ok
}

func eventEntityID(evt bus.Event) string {
	switch data := evt.Data.(type) {
	case models.MetricSnapshot:
		return data.EntityID
	case ingest.AlertEvent:
		return data.Alert.EntityID
	case ingest.EntityStatusEvent:
		return data.EntityID
	}
	return ""
}

// enqueue offers an event to the send buffer without ever blocking.
func (c *streamClient) enqueue(evt StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return
	}
	select {
	case c.send <- evt:
	default:
		// Buffer full, skip this message
	}
}

// close closes the connection and send buffer exactly once.
func (c *streamClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return
	}
	c.isClosed = true
	close(c.send)
	c.conn.Close()
}

func errorEvent(message string) StreamEvent {
	return StreamEvent{
		Type:      streamError,
		Data:      MessageResponse{Message: message},
		Timestamp: time.Now().UTC(),
	}
}
