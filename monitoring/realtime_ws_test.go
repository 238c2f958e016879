package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	conn, closeAll := dialHub(t, hub)
	defer closeAll()

	hub.Publish(EventClassification, ClassificationEvent{Category: "bug", Confidence: 0.91, ModelVersion: "tfidf-logreg-v1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventClassification, msg.Type)
	assert.NotEmpty(t, msg.ID)

	var event ClassificationEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "bug", event.Category)
	assert.Equal(t, 0.91, event.Confidence)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	conn, closeAll := dialHub(t, hub)
	defer closeAll()

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubAnswersPingWithHeartbeat(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	conn, closeAll := dialHub(t, hub)
	defer closeAll()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventHeartbeat, msg.Type)

	var event HeartbeatEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, 1, event.Clients)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subscriptions: make(map[EventType]bool)}
	assert.True(t, c.wants(EventClassification), "no subscriptions means every event")

	c.handleClientMessage(ClientMessage{Type: "subscribe", Topic: EventModelReloaded})
	assert.True(t, c.wants(EventModelReloaded))
	assert.False(t, c.wants(EventClassification))

	c.handleClientMessage(ClientMessage{Type: "unsubscribe", Topic: EventModelReloaded})
	assert.True(t, c.wants(EventClassification))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://triage.example.org"})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	assert.True(t, check(req), "requests without Origin are allowed")

	req.Header.Set("Origin", "https://triage.example.org")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
