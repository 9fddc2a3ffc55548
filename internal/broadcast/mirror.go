// Package broadcast provides an optional publish-only Redis mirror of
// the broker's event stream, for a future multi-pod deployment where
// one process's subscribers want visibility into another's ingest
// pipeline. Grounded on the teacher's Redis Pub/Sub adapter
// (internal/infra/redis_adapter.go) and event bus
// (internal/fabric/redis_event_bus.go), reduced to publish-only since
// this service has no cross-pod subscriber path yet.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netviz/netviz-go/internal/model"
)

const (
	connectionsChannel = "netviz:connections"
	statisticsChannel  = "netviz:statistics"
	publishTimeout     = 2 * time.Second
)

// Mirror publishes connection events and statistics snapshots to
// Redis Pub/Sub. A nil *Mirror is valid and every method becomes a
// no-op, so callers can hold it unconditionally.
type Mirror struct {
	rdb *redis.Client
}

// Dial connects to Redis at addr. Returns (nil, nil) when addr is
// empty, meaning the mirror is disabled by configuration.
func Dial(addr string) (*Mirror, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("broadcast: redis mirror connected", "addr", addr)
	return &Mirror{rdb: rdb}, nil
}

// Close shuts down the underlying client. Safe to call on a nil
// Mirror.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.rdb.Close()
}

// PublishConnection mirrors one enriched event. Failures are logged,
// never surfaced, since the mirror is best-effort.
func (m *Mirror) PublishConnection(ev model.EnrichedEvent) {
	if m == nil {
		return
	}
	m.publish(connectionsChannel, ev)
}

// PublishStatistics mirrors a statistics snapshot.
func (m *Mirror) PublishStatistics(stats model.Statistics) {
	if m == nil {
		return
	}
	m.publish(statisticsChannel, stats)
}

func (m *Mirror) publish(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("broadcast: failed to marshal payload", "channel", channel, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := m.rdb.Publish(ctx, channel, data).Err(); err != nil {
		slog.Warn("broadcast: publish failed", "channel", channel, "error", err)
	}
}
