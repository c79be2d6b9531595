package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestSocket upgrades one websocket connection against an in-process
// server and returns both ends. Cleanup is registered on t.
func dialTestSocket(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	accepted := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			accepted <- conn
		}
	}))
	t.Cleanup(srv.Close)

	// An upgrade failure on the server side surfaces here as a failed dial.
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server side of the websocket")
	}
	t.Cleanup(func() { server.Close() })

	return server, client
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (EventMessage, error) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var event EventMessage
	err := conn.ReadJSON(&event)
	return event, err
}

func TestEventBroadcaster_BroadcastAssignsTypeAndSequence(t *testing.T) {
	serverConn, clientConn := dialTestSocket(t)

	registry := NewClientRegistry()
	registry.Add(&Client{
		ID:            "client-1",
		Conn:          serverConn,
		Authenticated: true,
	})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast("call.transition", map[string]interface{}{
		"call_id": "call-1",
		"tool":    "read_file",
		"state":   "executing",
	})
	broadcaster.Broadcast("call.finished", map[string]interface{}{
		"call_id": "call-1",
		"tool":    "read_file",
		"state":   "completed",
	})

	first, err := readEvent(t, clientConn, 2*time.Second)
	require.NoError(t, err)
	second, err := readEvent(t, clientConn, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "call.transition", first.Event)
	assert.NotZero(t, first.Seq)
	assert.NotZero(t, first.Timestamp)

	assert.Equal(t, "event", second.Type)
	assert.Equal(t, "call.finished", second.Event)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestEventBroadcaster_SkipsUnauthenticatedClients(t *testing.T) {
	serverConn, clientConn := dialTestSocket(t)

	registry := NewClientRegistry()
	registry.Add(&Client{
		ID:            "client-1",
		Conn:          serverConn,
		Authenticated: false,
	})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast("call.finished", map[string]interface{}{"call_id": "call-1"})

	_, err := readEvent(t, clientConn, 200*time.Millisecond)
	assert.Error(t, err, "unauthenticated client should receive nothing")
}
