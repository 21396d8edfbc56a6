package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, fanout *Fanout) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client, err := fanout.Connect(conn)
		if err != nil {
			_ = conn.Close()
			return
		}
		defer fanout.Disconnect(client.ID)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestFanout_BroadcastDeliversToSubscribedChannel(t *testing.T) {
	fanout := NewFanout(0)
	_, url := newTestServer(t, fanout)
	conn := dial(t, url)

	waitForConnections(t, fanout, 1)
	fanout.Broadcast(KindLog, map[string]string{"message": "hello"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestFanout_BroadcastSkipsUnsubscribedChannel(t *testing.T) {
	fanout := NewFanout(0)
	_, url := newTestServer(t, fanout)
	conn := dial(t, url)

	waitForConnections(t, fanout, 1)
	fanout.Broadcast(KindMemoryUpdated, map[string]string{"message": "should not arrive"})
	fanout.Broadcast(KindLog, map[string]string{"message": "should arrive"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "should arrive")
}

func TestFanout_ConnectRefusesOverCapacity(t *testing.T) {
	fanout := NewFanout(1)
	_, url := newTestServer(t, fanout)
	dial(t, url)
	waitForConnections(t, fanout, 1)

	conn2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn2.Close() })

	_ = conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn2.ReadMessage()
	assert.Error(t, err)
}

func TestFanout_Subscribe_ChangesChannelSet(t *testing.T) {
	fanout := NewFanout(0)
	_, url := newTestServer(t, fanout)
	conn := dial(t, url)

	waitForConnections(t, fanout, 1)
	var id string
	fanout.mu.RLock()
	for connID := range fanout.connections {
		id = connID
	}
	fanout.mu.RUnlock()

	fanout.Subscribe(id, []Kind{KindMemoryUpdated})
	fanout.Broadcast(KindLog, "should not arrive")
	fanout.Broadcast(KindMemoryUpdated, "should arrive")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "should arrive")
}

func waitForConnections(t *testing.T, fanout *Fanout, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fanout.ConnectionCount() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connections", n)
}
