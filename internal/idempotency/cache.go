// Package idempotency replays prior responses for repeated POSTs that
// carry the same client-supplied request id.
package idempotency

import (
	"bytes"
	"net/http"
	"sync"
)

// Entry is a captured response: status and body bytes, replayed verbatim.
type Entry struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Cache is process-scoped and cleared on any reset. MaxEntries bounds
// the cache; 0 means unbounded. When full, new ids are not recorded so
// already-cached ids keep their replay guarantee.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	maxEntries int
}

// NewCache creates a cache with the given size bound (0 = unbounded).
func NewCache(maxEntries int) *Cache {
	return &Cache{entries: make(map[string]Entry), maxEntries: maxEntries}
}

// Get returns the stored response for a request id.
func (c *Cache) Get(requestID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[requestID]
	return e, ok
}

// Put stores a response under a request id. First write wins; a full
// cache drops new ids silently.
func (c *Cache) Put(requestID string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[requestID]; ok {
		return
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		return
	}
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	e.Body = body
	c.entries[requestID] = e
}

// Clear empties the cache. Called on both soft and hard reset.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len reports the number of cached responses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// recorder buffers a handler's response so it can be cached and written
// out once.
type recorder struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) { r.status = status }

func (r *recorder) Write(p []byte) (int, error) { return r.buf.Write(p) }

// Middleware wraps a handler with request-id replay. Only POSTs with a
// non-empty header named headerName are cacheable; a hit replays the
// stored response without running the handler, so no state mutates and
// no webhooks fire. observe, if non-nil, is called once per cacheable
// request with whether it was a replay.
func Middleware(cache *Cache, headerName string, observe func(hit bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerName)
			if r.Method != http.MethodPost || requestID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if e, ok := cache.Get(requestID); ok {
				if observe != nil {
					observe(true)
				}
				if e.ContentType != "" {
					w.Header().Set("Content-Type", e.ContentType)
				}
				w.Header().Set("X-Idempotent-Replay", "true")
				w.WriteHeader(e.StatusCode)
				w.Write(e.Body)
				return
			}

			// Miss: run the handler without the lock, then record.
			if observe != nil {
				observe(false)
			}
			rec := newRecorder()
			next.ServeHTTP(rec, r)

			cache.Put(requestID, Entry{
				StatusCode:  rec.status,
				ContentType: rec.header.Get("Content-Type"),
				Body:        rec.buf.Bytes(),
			})

			for k, vals := range rec.header {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(rec.status)
			w.Write(rec.buf.Bytes())
		})
	}
}
