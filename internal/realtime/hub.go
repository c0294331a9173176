package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/store"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Server-pushed events.
const (
	EventStorageChanged = "storage_changed"
	EventCloseTab       = "close_tab"
	EventResponse       = "response"
	EventError          = "error"
)

// ErrNoClients is returned when a command has nobody to deliver it to.
var ErrNoClients = errors.New("no extension connected")

// MessageDispatcher answers extension messages.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg tracker.Message) (any, error)
}

// TabEvents receives browser tab lifecycle events.
type TabEvents interface {
	OnTabRemoved(ctx context.Context, tabID int) (bool, error)
	OnTabUpdated(ctx context.Context, tabID int, status, url string) (bool, error)
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance delivery).
type RedisPublisher interface {
	PublishEvent(event string, payload []byte) error
}

// RedisSubscriber subscribes to the event channel and invokes handler for incoming events.
type RedisSubscriber interface {
	Subscribe(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub keeps the connected extension clients and pushes events to them.
// With Redis configured, commands reach clients connected to any instance.
type Hub struct {
	clients    map[string]*Client
	mu         sync.RWMutex
	subMu      sync.Mutex // guards cancelSub; taken before mu, never while holding it
	cancelSub  func()
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	dispatcher MessageDispatcher
	tabs       TabEvents
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetHandlers wires the message dispatcher and tab event receiver. Either may be nil.
func (h *Hub) SetHandlers(d MessageDispatcher, tabs TabEvents) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = d
	h.tabs = tabs
}

func (h *Hub) handlers() (MessageDispatcher, TabEvents) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dispatcher, h.tabs
}

// Register adds a client. Starts the Redis subscription when the first client connects.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.syncSubscription()
	h.logger.Debug("extension connected", zap.String("client_id", c.ID), zap.Int("clients", count))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.syncSubscription()
	h.logger.Debug("extension disconnected", zap.String("client_id", c.ID), zap.Int("clients", count))
}

// syncSubscription subscribes while clients are connected and cancels once none are.
// Subscribing is a network round trip, so it runs outside mu.
func (h *Hub) syncSubscription() {
	if h.redisSub == nil {
		return
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()
	want := h.ClientCount() > 0
	switch {
	case want && h.cancelSub == nil:
		cancel, err := h.redisSub.Subscribe(func(event string, payload []byte) {
			h.Broadcast(event, json.RawMessage(payload))
		})
		if err != nil {
			h.logger.Warn("redis subscribe failed", zap.Error(err))
			return
		}
		h.cancelSub = cancel
	case !want && h.cancelSub != nil:
		h.cancelSub()
		h.cancelSub = nil
	}
}

// ClientCount returns the number of connected clients on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return sonic.Marshal(payload)
	}
}

// Broadcast sends a message to all local clients.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishOnly publishes to Redis only (no local broadcast), so the subscriber callback delivers
// once on every instance including this one. Without Redis it broadcasts locally.
func (h *Hub) PublishOnly(event string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	if h.redis != nil {
		return h.redis.PublishEvent(event, data)
	}
	if h.ClientCount() == 0 {
		return ErrNoClients
	}
	h.Broadcast(event, json.RawMessage(data))
	return nil
}

// SendToClient sends a message to a single local client.
func (h *Hub) SendToClient(clientID string, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// CloseTab asks the extension to close a browser tab.
func (h *Hub) CloseTab(tabID int) error {
	return h.PublishOnly(EventCloseTab, map[string]int{"tabId": tabID})
}

type storageChange struct {
	Key      string          `json:"key"`
	OldValue json.RawMessage `json:"oldValue"`
	NewValue json.RawMessage `json:"newValue"`
}

func rawOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}

// StreamChanges pushes every store change to local clients until ctx is done.
// Each instance watches its own store view, so changes are never republished.
func (h *Hub) StreamChanges(ctx context.Context, s store.Store) error {
	changes, err := s.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for ch := range changes {
			h.Broadcast(EventStorageChanged, storageChange{
				Key:      ch.Key,
				OldValue: rawOrNull(ch.OldValue),
				NewValue: rawOrNull(ch.NewValue),
			})
		}
	}()
	return nil
}
