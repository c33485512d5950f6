package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/testutil"
)

// echoEvents answers every event with an echo to the sender
type echoEvents struct {
	hub *Hub

	mu           sync.Mutex
	connected    []model.HandleID
	disconnected []model.HandleID
	handled      []model.EventType
	connectedCh  chan model.HandleID
}

func newEchoEvents(hub *Hub) *echoEvents {
	return &echoEvents{hub: hub, connectedCh: make(chan model.HandleID, 8)}
}

func (e *echoEvents) OnConnect(ctx context.Context, id model.HandleID) error {
	e.mu.Lock()
	e.connected = append(e.connected, id)
	e.mu.Unlock()
	e.connectedCh <- id
	return nil
}

func (e *echoEvents) Handle(ctx context.Context, id model.HandleID, event model.EventType, payload json.RawMessage) error {
	e.mu.Lock()
	e.handled = append(e.handled, event)
	e.mu.Unlock()
	e.hub.EmitToOne(id, event, payload)
	return nil
}

func (e *echoEvents) OnDisconnect(ctx context.Context, id model.HandleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, id)
}

func (e *echoEvents) disconnectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disconnected)
}

type testServer struct {
	hub    *Hub
	events *echoEvents
	server *httptest.Server
	url    string
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	logger := testutil.NopLogger()
	hub := NewHub(logger)
	events := newEchoEvents(hub)
	server := httptest.NewServer(NewHandler(hub, events, logger, cfg))
	t.Cleanup(server.Close)
	return &testServer{
		hub:    hub,
		events: events,
		server: server,
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (ts *testServer) dial(t *testing.T) (*websocket.Conn, model.HandleID) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case id := <-ts.events.connectedCh:
		return conn, id
	case <-time.After(time.Second):
		t.Fatal("connection was not attached")
		return nil, ""
	}
}

type received struct {
	Type    model.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env received
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestEventsRoundTrip(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	conn, _ := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "heartbeat", "payload": map[string]int{"sent_at": 7}}))

	env := readEnvelope(t, conn)
	assert.Equal(t, model.EventHeartbeat, env.Type)
	assert.JSONEq(t, `{"sent_at":7}`, string(env.Payload))
}

func TestMalformedFrameIsRejected(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	conn, _ := ts.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	env := readEnvelope(t, conn)
	assert.Equal(t, model.EventRejected, env.Type)
	var p model.RejectedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "malformed message", p.Reason)

	ts.events.mu.Lock()
	defer ts.events.mu.Unlock()
	assert.Empty(t, ts.events.handled)
}

func TestEmitToAllReachesEverySocket(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	connA, _ := ts.dial(t)
	connB, _ := ts.dial(t)

	ts.hub.EmitToAll(model.EventChatMessage, model.ChatMessagePayload{Username: "amy", Message: "hi"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEnvelope(t, conn)
		assert.Equal(t, model.EventChatMessage, env.Type)
		var p model.ChatMessagePayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "hi", p.Message)
	}
}

type admitted map[model.HandleID]bool

func (a admitted) IsAuthenticated(id model.HandleID) bool { return a[id] }

func TestEmitToAllSkipsSocketsOutsideAudience(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	connA, idA := ts.dial(t)
	connB, idB := ts.dial(t)
	ts.hub.SetAudience(admitted{idA: true})

	ts.hub.EmitToAll(model.EventChatMessage, model.ChatMessagePayload{Username: "amy", Message: "hi"})
	ts.hub.EmitToOne(idB, model.EventHeartbeat, model.HeartbeatAckPayload{ServerTime: 1})

	assert.Equal(t, model.EventChatMessage, readEnvelope(t, connA).Type)
	// Frames to one socket keep their order, so the chat would have come first
	assert.Equal(t, model.EventHeartbeat, readEnvelope(t, connB).Type)
}

func TestEmitToUnknownHandleIsIgnored(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	assert.NotPanics(t, func() {
		ts.hub.EmitToOne("missing", model.EventEnergy, nil)
		ts.hub.Close("missing")
	})
}

func TestHubCloseSendsPolicyViolation(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	conn, id := ts.dial(t)

	ts.hub.Close(id)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	assert.Eventually(t, func() bool { return ts.events.disconnectedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return ts.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFloodGuardClosesSocket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FloodRate = 1
	cfg.FloodBurst = 2
	ts := newTestServer(t, cfg)
	conn, _ := ts.dial(t)

	for range 5 {
		if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var closeErr error
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeErr = err
			break
		}
	}
	assert.True(t, websocket.IsCloseError(closeErr, websocket.ClosePolicyViolation), "got %v", closeErr)
	assert.Eventually(t, func() bool { return ts.events.disconnectedCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClientDisconnectDetaches(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	conn, _ := ts.dial(t)
	require.Equal(t, 1, ts.hub.Count())

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return ts.events.disconnectedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return ts.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://tilerush.example"}
	ts := newTestServer(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url, map[string][]string{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 403, resp.StatusCode)
	}
}
