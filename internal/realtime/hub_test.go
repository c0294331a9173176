package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanDreamHsu/shorts-counter/internal/store"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(_ context.Context, msg tracker.Message) (any, error) {
	if msg.Type == tracker.MsgGetDailyStats {
		return map[string]int{"totalTime": 42, "totalVideos": 1}, nil
	}
	return tracker.Ack{Success: false}, tracker.ErrUnknownMessage
}

type fakeTabs struct {
	mu      sync.Mutex
	removed []int
	updated []string
}

func (f *fakeTabs) OnTabRemoved(_ context.Context, tabID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, tabID)
	return true, nil
}

func (f *fakeTabs) OnTabUpdated(_ context.Context, _ int, status, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, status+" "+url)
	return false, nil
}

func (f *fakeTabs) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed), len(f.updated)
}

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, nil, "*"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, hub *Hub, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := sonic.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: raw}))
}

func read(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_MessageGetsResponse(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	hub.SetHandlers(fakeDispatcher{}, nil)
	conn := dial(t, startServer(t, hub), hub, 1)

	send(t, conn, EventMessage, map[string]any{"requestId": "r1", "type": tracker.MsgGetDailyStats})
	msg := read(t, conn)
	assert.Equal(t, EventResponse, msg.Event)
	assert.JSONEq(t, `{"requestId":"r1","data":{"totalTime":42,"totalVideos":1}}`, string(msg.Data))

	send(t, conn, EventMessage, map[string]any{"requestId": "r2", "type": "NOPE"})
	msg = read(t, conn)
	assert.JSONEq(t, `{"requestId":"r2","data":{"success":false}}`, string(msg.Data))
}

func TestHub_TabEvents(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	tabs := &fakeTabs{}
	hub.SetHandlers(nil, tabs)
	conn := dial(t, startServer(t, hub), hub, 1)

	send(t, conn, EventTabRemoved, map[string]any{"tabId": 7})
	send(t, conn, EventTabUpdated, map[string]any{"tabId": 7, "status": "complete", "url": "https://example.com"})
	assert.Eventually(t, func() bool {
		r, u := tabs.counts()
		return r == 1 && u == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{7}, tabs.removed)
	assert.Equal(t, []string{"complete https://example.com"}, tabs.updated)
}

func TestHub_CloseTab(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	assert.ErrorIs(t, hub.CloseTab(3), ErrNoClients)

	url := startServer(t, hub)
	a := dial(t, url, hub, 1)
	b := dial(t, url, hub, 2)

	require.NoError(t, hub.CloseTab(3))
	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, EventCloseTab, msg.Event)
		assert.JSONEq(t, `{"tabId":3}`, string(msg.Data))
	}
}

func TestHub_StreamChanges(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	conn := dial(t, startServer(t, hub), hub, 1)

	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.StreamChanges(ctx, mem))

	require.NoError(t, mem.Set(ctx, map[string][]byte{"activeTabId": []byte(`5`)}))
	msg := read(t, conn)
	assert.Equal(t, EventStorageChanged, msg.Event)
	assert.JSONEq(t, `{"key":"activeTabId","oldValue":null,"newValue":5}`, string(msg.Data))
}

type fakeBus struct {
	mu       sync.Mutex
	handler  func(string, []byte)
	canceled bool
}

func (f *fakeBus) PublishEvent(event string, payload []byte) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (f *fakeBus) Subscribe(handler func(string, []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.canceled = true
		f.handler = nil
	}, nil
}

func TestHub_PublishesThroughRedis(t *testing.T) {
	bus := &fakeBus{}
	hub := NewHub(nil, bus, bus)
	conn := dial(t, startServer(t, hub), hub, 1)

	require.NoError(t, hub.CloseTab(9))
	msg := read(t, conn)
	assert.Equal(t, EventCloseTab, msg.Event)
	assert.JSONEq(t, `{"tabId":9}`, string(msg.Data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.canceled
	}, time.Second, 5*time.Millisecond)
}

// slowBus blocks in Subscribe until release is closed.
type slowBus struct {
	entered chan struct{}
	release chan struct{}
}

func (b *slowBus) PublishEvent(string, []byte) error { return nil }

func (b *slowBus) Subscribe(func(string, []byte)) (func(), error) {
	close(b.entered)
	<-b.release
	return func() {}, nil
}

func TestHub_BroadcastDoesNotWaitForSubscribe(t *testing.T) {
	bus := &slowBus{entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(nil, bus, bus)
	c := &Client{ID: "a", hub: hub, send: make(chan WSMessage, 4)}

	registered := make(chan struct{})
	go func() {
		hub.Register(c)
		close(registered)
	}()
	<-bus.entered

	delivered := make(chan struct{})
	go func() {
		hub.Broadcast(EventStorageChanged, map[string]string{"key": "history"})
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked behind the redis subscription")
	}
	assert.Equal(t, 1, hub.ClientCount())
	assert.Len(t, c.send, 1)

	close(bus.release)
	<-registered
}
