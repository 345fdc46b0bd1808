package webhooks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements RedisClient on maps; good enough to check key
// layout and index behavior without a server.
type fakeRedis struct {
	mu    sync.Mutex
	kv    map[string][]byte
	lists map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: make(map[string][]byte), lists: make(map[string][]string)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return v, nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
		delete(f.lists, k)
	}
	return nil
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(values, f.lists[key]...)
	return nil
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[key]...), nil
}

func TestRedisLogSaveAndQuery(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLog(client, "", 0)

	l.Save(Delivery{ID: "a", EventType: "issues", Namespace: "team-a", Status: StatusPending})
	l.Save(Delivery{ID: "b", EventType: "pushes", Namespace: "team-a", Status: StatusDelivered})

	out := l.Deliveries(Query{})
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID, "newest first")

	out = l.Deliveries(Query{EventType: "issues"})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestRedisLogUpsertDoesNotDuplicateIndex(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLog(client, "", 0)

	l.Save(Delivery{ID: "a", EventType: "issues", Status: StatusPending})
	l.Save(Delivery{ID: "a", EventType: "issues", Status: StatusDelivered, Attempts: 1})

	out := l.Deliveries(Query{})
	require.Len(t, out, 1)
	assert.Equal(t, StatusDelivered, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
}

func TestRedisLogClear(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLog(client, "", 0)
	l.Save(Delivery{ID: "a", EventType: "issues"})

	l.Clear()

	assert.Empty(t, l.Deliveries(Query{}))
	assert.Empty(t, client.kv)
}

func TestRedisLogUsesKeyPrefix(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLog(client, "custom:", time.Minute)
	l.Save(Delivery{ID: "a"})

	_, ok := client.kv["custom:record:a"]
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, client.lists["custom:index"])
}
