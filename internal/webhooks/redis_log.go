// Redis-backed delivery log for multi-pod harnesses.
//
// When several fake-service pods share one namespace (e.g. behind a load
// balancer in CI), a process-local log would only show the deliveries
// fired by the pod that happened to serve the query. RedisLog backs the
// log with Redis so every pod sees the same history.
package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// RedisClient is the minimal interface the log needs from a Redis
// library. The engine doesn't import a specific driver — code in
// cmd/doubleagent creates the concrete client and injects it
// (see internal/infra).
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// RedisLog stores delivery records under a key prefix with a capped TTL.
type RedisLog struct {
	client    RedisClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisLog creates a Redis-backed delivery log.
func NewRedisLog(client RedisClient, keyPrefix string, ttl time.Duration) *RedisLog {
	if keyPrefix == "" {
		keyPrefix = "doubleagent:deliveries:"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLog{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (l *RedisLog) recordKey(id string) string { return l.keyPrefix + "record:" + id }
func (l *RedisLog) indexKey() string           { return l.keyPrefix + "index" }

// Save upserts a record. The index list keeps newest-first order; a
// record id is only pushed on first save.
func (l *RedisLog) Save(d Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(d)
	if err != nil {
		slog.Warn("[RedisLog] marshal delivery failed", "id", d.ID, "error", err)
		return
	}

	_, getErr := l.client.Get(ctx, l.recordKey(d.ID))
	if err := l.client.Set(ctx, l.recordKey(d.ID), data, l.ttl); err != nil {
		slog.Warn("[RedisLog] save delivery failed", "id", d.ID, "error", err)
		return
	}
	if getErr != nil {
		// First sighting of this id: add to the newest-first index.
		if err := l.client.LPush(ctx, l.indexKey(), d.ID); err != nil {
			slog.Warn("[RedisLog] index delivery failed", "id", d.ID, "error", err)
		}
	}
}

// Deliveries returns matching records newest-first.
func (l *RedisLog) Deliveries(q Query) []Delivery {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ids, err := l.client.LRange(ctx, l.indexKey(), 0, -1)
	if err != nil {
		slog.Warn("[RedisLog] index read failed", "error", err)
		return nil
	}

	out := make([]Delivery, 0, limit)
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		data, err := l.client.Get(ctx, l.recordKey(id))
		if err != nil {
			continue // expired record, index entry is stale
		}
		var d Delivery
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		if matches(d, q) {
			out = append(out, d)
		}
	}
	return out
}

// Clear empties the log.
func (l *RedisLog) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ids, err := l.client.LRange(ctx, l.indexKey(), 0, -1)
	if err == nil {
		keys := make([]string, 0, len(ids)+1)
		for _, id := range ids {
			keys = append(keys, l.recordKey(id))
		}
		keys = append(keys, l.indexKey())
		if err := l.client.Del(ctx, keys...); err != nil {
			slog.Warn("[RedisLog] clear failed", "error", err)
		}
	}
}
