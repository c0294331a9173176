package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

// Client-sent events.
const (
	EventMessage    = "message"
	EventTabRemoved = "tab_removed"
	EventTabUpdated = "tab_updated"
)

const requestTimeout = 10 * time.Second

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// messageRequest is a tracker message tagged with a caller-chosen id echoed in the response.
type messageRequest struct {
	RequestID string `json:"requestId"`
	tracker.Message
}

type messageResponse struct {
	RequestID string `json:"requestId"`
	Data      any    `json:"data"`
}

type tabEvent struct {
	TabID  int    `json:"tabId"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Client represents a single WebSocket connection from the extension.
type Client struct {
	ID          string
	ConnectedAt time.Time
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// newUpgrader accepts origins from the comma-separated allow list; "*" or empty allows all.
func newUpgrader(allowedOrigins string) websocket.Upgrader {
	allowAll := allowedOrigins == "" || allowedOrigins == "*"
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, allowedOrigins string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := newUpgrader(allowedOrigins)
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			ConnectedAt: time.Now(),
			hub:         hub,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			logger:      logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	dispatcher, tabs := c.hub.handlers()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch msg.Event {
	case EventMessage:
		var req messageRequest
		if err := sonic.Unmarshal(msg.Data, &req); err != nil {
			c.hub.SendToClient(c.ID, EventError, map[string]string{"error": "invalid message"})
			return
		}
		if dispatcher == nil {
			c.hub.SendToClient(c.ID, EventResponse, messageResponse{RequestID: req.RequestID, Data: tracker.Ack{Success: false}})
			return
		}
		// Failures are already answered with {success:false} by the dispatcher.
		data, _ := dispatcher.Dispatch(ctx, req.Message)
		c.hub.SendToClient(c.ID, EventResponse, messageResponse{RequestID: req.RequestID, Data: data})
	case EventTabRemoved, EventTabUpdated:
		var ev tabEvent
		if err := sonic.Unmarshal(msg.Data, &ev); err != nil || tabs == nil {
			return
		}
		var err error
		if msg.Event == EventTabRemoved {
			_, err = tabs.OnTabRemoved(ctx, ev.TabID)
		} else {
			_, err = tabs.OnTabUpdated(ctx, ev.TabID, ev.Status, ev.URL)
		}
		if err != nil {
			c.logger.Warn("tab event failed", zap.String("event", msg.Event), zap.Int("tab_id", ev.TabID), zap.Error(err))
		}
	default:
		// ignore
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
