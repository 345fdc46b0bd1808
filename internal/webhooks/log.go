package webhooks

import (
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a delivery record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Delivery is one attempt-series of posting a webhook event. Records are
// immutable once they reach a terminal status; the log hands out copies.
type Delivery struct {
	ID            string                 `json:"id"`
	EventType     string                 `json:"event_type"`
	TargetURL     string                 `json:"target_url"`
	Namespace     string                 `json:"namespace"`
	Status        Status                 `json:"status"`
	Attempts      int                    `json:"attempts"`
	LastAttemptAt *time.Time             `json:"last_attempt_at,omitempty"`
	ResponseCode  int                    `json:"response_code,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	Payload       map[string]interface{} `json:"payload"`
}

// Query filters the delivery log. Zero values mean "no filter"; Limit
// defaults to 100.
type Query struct {
	Namespace string
	EventType string
	Limit     int
}

// DeliveryStore persists delivery records. The in-memory implementation
// is the default; a Redis-backed one lets multi-pod harnesses share the
// log (see redis_log.go).
type DeliveryStore interface {
	Save(d Delivery)
	Deliveries(q Query) []Delivery
	Clear()
}

// MemoryLog is the default process-local delivery log.
type MemoryLog struct {
	mu      sync.RWMutex
	records []Delivery
	index   map[string]int
}

// NewMemoryLog creates an empty in-memory delivery log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{index: make(map[string]int)}
}

// Save upserts a record by id. New records append; updates replace in
// place so the log keeps creation order.
func (l *MemoryLog) Save(d Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.index[d.ID]; ok {
		l.records[i] = d
		return
	}
	l.index[d.ID] = len(l.records)
	l.records = append(l.records, d)
}

// Deliveries returns matching records newest-first.
func (l *MemoryLog) Deliveries(q Query) []Delivery {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Delivery, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		d := l.records[i]
		if !matches(d, q) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Clear empties the log. Called by hard reset.
func (l *MemoryLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.index = make(map[string]int)
}

func matches(d Delivery, q Query) bool {
	if q.Namespace != "" && d.Namespace != q.Namespace {
		return false
	}
	if q.EventType != "" && !strings.EqualFold(d.EventType, q.EventType) {
		return false
	}
	return true
}
