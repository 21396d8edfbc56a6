package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// defaultSubscriptions is the channel set a new connection subscribes to
// unless told otherwise.
var defaultSubscriptions = map[Kind]bool{
	KindStageChanged: true,
	KindLog:          true,
}

// ClientConnection is one subscriber's transport handle and subscription
// set.
type ClientConnection struct {
	ID     string
	conn   *websocket.Conn
	mu     sync.Mutex
	topics map[Kind]bool
}

func newClientConnection(conn *websocket.Conn) *ClientConnection {
	topics := make(map[Kind]bool, len(defaultSubscriptions))
	for k, v := range defaultSubscriptions {
		topics[k] = v
	}
	return &ClientConnection{ID: uuid.New().String(), conn: conn, topics: topics}
}

// send writes message to the connection. Returns false on any write
// failure, signaling the caller to evict this connection.
func (c *ClientConnection) send(envelope Envelope) bool {
	data, err := json.Marshal(envelope)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}

func (c *ClientConnection) subscribes(channel Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[channel]
}

func (c *ClientConnection) setSubscriptions(channels []Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = make(map[Kind]bool, len(channels))
	for _, ch := range channels {
		c.topics[ch] = true
	}
}

// Fanout is the WebSocket broadcast hub. One ClientConnection per
// subscriber; broadcast disconnects any subscriber whose send fails.
type Fanout struct {
	maxConnections int

	mu          sync.RWMutex
	connections map[string]*ClientConnection
}

// NewFanout creates a Fanout capped at maxConnections concurrent
// subscribers. maxConnections <= 0 means unbounded.
func NewFanout(maxConnections int) *Fanout {
	return &Fanout{maxConnections: maxConnections, connections: make(map[string]*ClientConnection)}
}

// ErrAtCapacity is returned by Connect when the connection cap is
// reached.
var ErrAtCapacity = errAtCapacity{}

type errAtCapacity struct{}

func (errAtCapacity) Error() string { return "events: connection cap reached" }

// Connect registers conn as a new subscriber and returns its handle.
func (f *Fanout) Connect(conn *websocket.Conn) (*ClientConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxConnections > 0 && len(f.connections) >= f.maxConnections {
		return nil, ErrAtCapacity
	}

	client := newClientConnection(conn)
	f.connections[client.ID] = client
	return client, nil
}

// Disconnect removes a subscriber and closes its transport.
func (f *Fanout) Disconnect(id string) {
	f.mu.Lock()
	client, ok := f.connections[id]
	if ok {
		delete(f.connections, id)
	}
	f.mu.Unlock()

	if ok {
		_ = client.conn.Close()
	}
}

// Broadcast sends payload on channel to every subscribed connection,
// evicting any connection whose send fails.
func (f *Fanout) Broadcast(channel Kind, payload any) {
	envelope := Envelope{Type: channel, Data: payload, Timestamp: time.Now().UTC()}

	f.mu.RLock()
	targets := make([]*ClientConnection, 0, len(f.connections))
	for _, c := range f.connections {
		if c.subscribes(channel) {
			targets = append(targets, c)
		}
	}
	f.mu.RUnlock()

	var failed []string
	for _, c := range targets {
		if !c.send(envelope) {
			failed = append(failed, c.ID)
		}
	}

	for _, id := range failed {
		slog.Warn("evicting websocket subscriber after failed send", "connection_id", id)
		f.Disconnect(id)
	}
}

// Subscribe updates a connection's channel subscriptions.
func (f *Fanout) Subscribe(id string, channels []Kind) {
	f.mu.RLock()
	client, ok := f.connections[id]
	f.mu.RUnlock()
	if ok {
		client.setSubscriptions(channels)
	}
}

// ConnectionCount returns the number of currently registered
// subscribers.
func (f *Fanout) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.connections)
}
