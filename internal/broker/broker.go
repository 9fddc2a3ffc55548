// Package broker implements the Subscription Broker (C6): WebSocket
// client lifecycle, push fan-out with per-client rate limiting, the
// inbound request/response mini-RPC, and the kill-process control
// action. Grounded on the teacher's DAG streamer hub
// (internal/websocket/dag_streamer.go) generalized to this domain's
// wire protocol (websocket_handler.py).
package broker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/netviz/netviz-go/internal/model"
	"github.com/netviz/netviz-go/internal/store"
	"github.com/netviz/netviz-go/internal/telemetry"
	"github.com/netviz/netviz-go/internal/threat"
)

const initialConnectionsLimit = 500

// Mirror is the optional cross-process broadcast mirror. Implemented
// by internal/broadcast; nil when disabled.
type Mirror interface {
	PublishConnection(ev model.EnrichedEvent)
	PublishStatistics(stats model.Statistics)
}

// Broker is the Subscription Broker (C6).
type Broker struct {
	store    *store.Store
	analyzer *threat.Analyzer
	metrics  *telemetry.Metrics
	mirror   Mirror

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	rateLimitPerSecond int
	statsInterval      time.Duration

	messagesSent uint64
	startTime    time.Time
}

// New builds a Broker. corsOrigins controls the WebSocket upgrader's
// CheckOrigin the same way the HTTP CORS middleware gates REST calls.
func New(st *store.Store, analyzer *threat.Analyzer, metrics *telemetry.Metrics, mirror Mirror, corsOrigins []string, rateLimitPerSecond, statsIntervalSecs int) *Broker {
	allowed := make(map[string]struct{}, len(corsOrigins))
	for _, o := range corsOrigins {
		allowed[o] = struct{}{}
	}

	return &Broker{
		store:              st,
		analyzer:           analyzer,
		metrics:            metrics,
		mirror:             mirror,
		clients:            make(map[*client]struct{}),
		rateLimitPerSecond: rateLimitPerSecond,
		statsInterval:      time.Duration(statsIntervalSecs) * time.Second,
		startTime:          time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// ClientCount returns the number of currently connected subscribers.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// HandleWebSocket upgrades the request and runs the client's lifecycle
// to completion: register, spawn the write loop and the periodic-
// statistics loop (every statsInterval, 30s by default), send
// initial_data + statistics, then block reading inbound frames until
// disconnect.
func (b *Broker) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("broker: websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, b.rateLimitPerSecond)
	b.register(c)
	if b.metrics != nil {
		b.metrics.BrokerClients.Set(float64(b.ClientCount()))
	}
	slog.Info("broker: client connected", "client_id", c.id, "total", b.ClientCount())

	go c.writeLoop()
	go b.periodicStatistics(c)

	b.sendInitialData(c)

	b.readLoop(c)
}

func (b *Broker) register(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *Broker) unregister(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()

	if ok {
		c.close()
		if b.metrics != nil {
			b.metrics.BrokerClients.Set(float64(b.ClientCount()))
		}
		slog.Info("broker: client disconnected", "client_id", c.id, "total", b.ClientCount())
	}
}

func (b *Broker) sendInitialData(c *client) {
	recent := b.store.Recent(initialConnectionsLimit)
	c.sendTyped("initial_data", map[string]interface{}{
		"connections": recent,
		"server_info": map[string]interface{}{
			"uptime":            time.Since(b.startTime).Seconds(),
			"total_connections": b.store.Statistics().TotalConnections,
		},
	})
	c.sendTyped("statistics", b.combinedStatistics())
}

func (b *Broker) periodicStatistics(c *client) {
	ticker := time.NewTicker(b.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sendTyped("statistics", b.combinedStatistics())
		case <-c.done:
			return
		}
	}
}

func (b *Broker) combinedStatistics() model.Statistics {
	stats := b.store.Statistics()
	if b.mirror != nil {
		b.mirror.PublishStatistics(stats)
	}
	return stats
}

// readLoop blocks reading inbound frames for one client until the
// connection closes, dispatching each to the appropriate handler.
func (b *Broker) readLoop(c *client) {
	defer b.unregister(c)

	for {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("Invalid JSON format")
			continue
		}

		b.dispatch(c, msg)
	}
}

func (b *Broker) dispatch(c *client, msg inboundEnvelope) {
	switch msg.Type {
	case "ping":
		c.sendTyped("pong", map[string]float64{"timestamp": nowUnix()})
	case "subscribe":
		c.subscriptions = msg.Subscriptions
		c.sendTyped("subscription_updated", map[string]interface{}{"subscriptions": msg.Subscriptions})
	case "get_process_details":
		b.handleGetProcessDetails(c, msg)
	case "get_connections":
		b.handleGetConnections(c, msg)
	case "kill_process":
		b.handleKillProcess(c, msg)
	default:
		c.sendError("Unknown message type: " + msg.Type)
	}
}

func (b *Broker) handleGetProcessDetails(c *client, msg inboundEnvelope) {
	if msg.PID == "" {
		c.sendError("Missing PID")
		return
	}
	pid, err := strconv.ParseUint(msg.PID.String(), 10, 32)
	if err != nil {
		c.sendError("Missing PID")
		return
	}

	details, err := b.store.ProcessDetails(uint32(pid))
	if err != nil {
		c.sendError("Process not found")
		return
	}
	c.sendTyped("process_details", details)
}

func (b *Broker) handleGetConnections(c *client, msg inboundEnvelope) {
	limit := msg.Limit
	if limit <= 0 {
		limit = 1000
	}

	connections := b.store.Recent(limit)
	connections = applyFilters(connections, msg.Filters)

	c.sendTyped("connections", map[string]interface{}{
		"connections": connections,
		"total":       len(connections),
	})
}

func (b *Broker) handleKillProcess(c *client, msg inboundEnvelope) {
	if msg.Data.PID == "" {
		c.sendError("PID not provided for kill_process")
		return
	}
	pid, err := strconv.Atoi(msg.Data.PID.String())
	if err != nil || pid <= 0 {
		c.sendError("PID not provided for kill_process")
		return
	}

	if err := killProcessTree(pid); err != nil {
		outcome, message := classifyKillError(pid, err)
		if b.metrics != nil {
			b.metrics.KillProcessTotal.WithLabelValues(outcome).Inc()
		}
		c.sendError(message)
		return
	}

	if b.metrics != nil {
		b.metrics.KillProcessTotal.WithLabelValues("success").Inc()
	}
	slog.Info("broker: process killed", "pid", pid, "client_id", c.id)
	c.sendTyped("process_killed", map[string]interface{}{"pid": pid, "status": "success"})
}

// Broadcast serializes ev once and offers it to every connected
// client under that client's own rate budget. A client that cannot
// keep its write socket alive is dropped; others are unaffected.
func (b *Broker) Broadcast(ev model.EnrichedEvent) {
	if b.mirror != nil {
		b.mirror.PublishConnection(ev)
	}

	payload, err := json.Marshal(outboundMessage{Type: "connection", Data: ev})
	if err != nil {
		slog.Error("broker: failed to marshal connection event", "error", err)
		return
	}

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if c.offer(payload) {
			atomic.AddUint64(&b.messagesSent, 1)
			if b.metrics != nil {
				b.metrics.BrokerSent.Inc()
			}
		} else if b.metrics != nil {
			b.metrics.BrokerDropped.Inc()
		}
	}
}

// Statistics is the broker's self-reported counters (SPEC_FULL §4
// item 3).
type Statistics struct {
	ActiveConnections  int     `json:"active_connections"`
	MessagesSent       uint64  `json:"messages_sent"`
	MessagesPerSecond  float64 `json:"messages_per_second"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

func (b *Broker) Statistics() Statistics {
	uptime := time.Since(b.startTime).Seconds()
	sent := atomic.LoadUint64(&b.messagesSent)
	rate := 0.0
	if uptime >= 1 {
		rate = float64(sent) / uptime
	}
	return Statistics{
		ActiveConnections: b.ClientCount(),
		MessagesSent:      sent,
		MessagesPerSecond: rate,
		UptimeSeconds:     uptime,
	}
}

func applyFilters(events []model.EnrichedEvent, f connectionFilters) []model.EnrichedEvent {
	if !f.SuspiciousOnly && f.ProcessName == "" && f.MinThreatScore == 0 && f.DestinationIP == "" {
		return events
	}

	out := make([]model.EnrichedEvent, 0, len(events))
	for _, ev := range events {
		if f.SuspiciousOnly && !ev.IsSuspicious {
			continue
		}
		if f.ProcessName != "" && !strings.Contains(strings.ToLower(ev.ProcessName), strings.ToLower(f.ProcessName)) {
			continue
		}
		if f.MinThreatScore != 0 && int(ev.ThreatScore) < f.MinThreatScore {
			continue
		}
		if f.DestinationIP != "" && !strings.Contains(ev.DstIP, f.DestinationIP) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
