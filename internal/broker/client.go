package broker

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	outboundQueueSize = 256
	readTimeout       = 60 * time.Second
)

// client is one connected subscriber. Its own goroutine drains the
// outbound queue to the socket; the broker's accept loop reads inbound
// frames directly off the connection (mirrors the teacher's
// register/unregister/per-connection-goroutine shape in
// dag_streamer.go, generalized with a per-client rate limiter in the
// style of websocket_handler.py's check_rate_limit).
type client struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	rateMu     sync.Mutex
	sentTimes  []time.Time
	rateLimit  int

	subscriptions []string
}

func newClient(conn *websocket.Conn, rateLimit int) *client {
	return &client{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, outboundQueueSize),
		done:      make(chan struct{}),
		rateLimit: rateLimit,
	}
}

// admit enforces the per-client sliding 1s window: at most rateLimit
// messages admitted per second. Timestamps older than 1s are pruned on
// every check.
func (c *client) admit() bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Second)

	kept := c.sentTimes[:0]
	for _, t := range c.sentTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.sentTimes = kept

	if len(c.sentTimes) >= c.rateLimit {
		return false
	}
	c.sentTimes = append(c.sentTimes, now)
	return true
}

// offer attempts to enqueue a pre-serialized frame for this client,
// subject to the rate limiter. On overflow the message is dropped, not
// queued, and the client is not disconnected.
func (c *client) offer(payload []byte) bool {
	if !c.admit() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue to the socket in FIFO order.
func (c *client) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) sendTyped(msgType string, data interface{}) {
	payload, err := json.Marshal(outboundMessage{Type: msgType, Data: data})
	if err != nil {
		slog.Error("broker: failed to marshal outbound message", "type", msgType, "error", err)
		return
	}
	c.offer(payload)
}

func (c *client) sendError(message string) {
	c.sendTyped("error", map[string]string{"error": message})
}
