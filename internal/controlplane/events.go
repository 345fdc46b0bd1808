package controlplane

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doubleagent/harness/internal/webhooks"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Fakes bind to localhost in test harnesses; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventStream broadcasts delivery records to websocket subscribers as
// they reach terminal status. Wire it to webhooks.Options.OnTerminal.
type EventStream struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

// streamClient owns one connection. All writes go through the send
// channel into writePump, so ping and broadcast never race.
type streamClient struct {
	stream *EventStream
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// NewEventStream creates an empty broadcaster.
func NewEventStream() *EventStream {
	return &EventStream{clients: make(map[*streamClient]struct{})}
}

// Publish fans a terminal delivery out to every subscriber. Slow
// subscribers are dropped rather than blocking delivery workers.
func (s *EventStream) Publish(d webhooks.Delivery) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			go c.close()
		}
	}
}

// HandleWebSocket upgrades the request and registers a subscriber.
func (s *EventStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("event stream upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		stream: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *streamClient) close() {
	c.once.Do(func() {
		c.stream.mu.Lock()
		delete(c.stream.clients, c)
		c.stream.mu.Unlock()
		close(c.send)
		c.conn.Close()
	})
}

// writePump owns all writes to the connection.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is detecting disconnects.
func (c *streamClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
