// Package webhooks implements fire-and-forget webhook delivery with
// retry, HMAC signing, an SSRF allowlist and a queryable delivery log.
package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doubleagent/harness/internal/resource"
)

// Options tunes the delivery engine. Zero values select defaults.
type Options struct {
	Workers        int
	MaxRetries     int
	RetryDelays    []time.Duration
	AttemptTimeout time.Duration
	QueueSize      int
	Allowlist      *Allowlist
	Store          DeliveryStore
	// OnTerminal fires once per delivery when it reaches delivered or
	// failed. Used by the control-plane event stream and metrics.
	OnTerminal func(Delivery)
}

// Engine enqueues deliveries onto a single channel consumed by a bounded
// worker pool. Request handlers never block on delivery I/O.
type Engine struct {
	store          DeliveryStore
	allowlist      *Allowlist
	httpClient     *http.Client
	queue          chan *deliveryJob
	logger         *log.Logger
	maxRetries     int
	retryDelays    []time.Duration
	attemptTimeout time.Duration
	onTerminal     func(Delivery)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

type deliveryJob struct {
	record    Delivery
	body      []byte
	signature string
	headers   map[string]string
}

// NewEngine creates a delivery engine and starts its worker pool.
func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Allowlist == nil {
		opts.Allowlist = NewAllowlist()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryLog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:          opts.Store,
		allowlist:      opts.Allowlist,
		httpClient:     &http.Client{Timeout: opts.AttemptTimeout},
		queue:          make(chan *deliveryJob, opts.QueueSize),
		logger:         log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
		maxRetries:     opts.MaxRetries,
		retryDelays:    opts.RetryDelays,
		attemptTimeout: opts.AttemptTimeout,
		onTerminal:     opts.OnTerminal,
		ctx:            ctx,
		cancel:         cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Deliver records a delivery and schedules it for asynchronous POSTing.
// Targets outside the allowlist are marked failed immediately with zero
// attempts. The returned record reflects the state at enqueue time.
func (e *Engine) Deliver(targetURL, eventType string, payload map[string]interface{}, namespace, secret string, extraHeaders map[string]string) Delivery {
	rec := Delivery{
		ID:        uuid.NewString(),
		EventType: eventType,
		TargetURL: targetURL,
		Namespace: namespace,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		Payload:   resource.Resource(payload).DeepCopy(),
	}

	if err := e.allowlist.Check(targetURL); err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		e.store.Save(rec)
		e.terminal(rec)
		e.logger.Printf("blocked delivery %s: %v", rec.ID, err)
		return rec
	}

	body, err := CanonicalJSON(payload)
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = fmt.Sprintf("serialize payload: %v", err)
		e.store.Save(rec)
		e.terminal(rec)
		return rec
	}

	job := &deliveryJob{
		record:  rec,
		body:    body,
		headers: extraHeaders,
	}
	if secret != "" {
		job.signature = "sha256=" + SignPayload(body, secret)
	}

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		rec.Status = StatusFailed
		rec.Error = "engine shut down"
		e.store.Save(rec)
		e.terminal(rec)
		return rec
	}

	e.store.Save(rec)
	select {
	case e.queue <- job:
	default:
		rec.Status = StatusFailed
		rec.Error = "delivery queue full"
		e.store.Save(rec)
		e.terminal(rec)
		e.logger.Printf("queue full, dropping delivery %s for %s", rec.ID, targetURL)
	}
	return rec
}

// Deliveries queries the delivery log, newest first.
func (e *Engine) Deliveries(q Query) []Delivery {
	return e.store.Deliveries(q)
}

// Clear empties the delivery log. Called by hard reset.
func (e *Engine) Clear() {
	e.store.Clear()
}

// Shutdown aborts pending retries after draining in-flight attempts.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	close(e.queue)
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for job := range e.queue {
		e.attemptSeries(job)
	}
}

// attemptSeries runs up to maxRetries attempts. Attempt k sleeps
// retryDelays[min(k-1, len-1)] before firing. 2xx ends the series as
// delivered; anything else records the failure and continues.
func (e *Engine) attemptSeries(job *deliveryJob) {
	rec := job.record

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		delay := e.retryDelays[min(attempt-1, len(e.retryDelays)-1)]
		select {
		case <-e.ctx.Done():
			rec.Status = StatusFailed
			rec.Error = "delivery aborted by shutdown"
			e.store.Save(rec)
			e.terminal(rec)
			return
		case <-time.After(delay):
		}

		code, err := e.post(job)
		now := time.Now().UTC()
		rec.Attempts = attempt
		rec.LastAttemptAt = &now
		if err != nil {
			rec.Error = err.Error()
			rec.ResponseCode = 0
		} else {
			rec.ResponseCode = code
			rec.Error = ""
			if code >= 200 && code < 300 {
				rec.Status = StatusDelivered
				e.store.Save(rec)
				e.terminal(rec)
				e.logger.Printf("delivered %s → %s (%s, attempt %d)", rec.EventType, rec.TargetURL, rec.ID, attempt)
				return
			}
			rec.Error = fmt.Sprintf("target returned %d", code)
		}
		e.store.Save(rec)
	}

	rec.Status = StatusFailed
	e.store.Save(rec)
	e.terminal(rec)
	e.logger.Printf("failed %s → %s after %d attempts: %s", rec.EventType, rec.TargetURL, rec.Attempts, rec.Error)
}

func (e *Engine) post(job *deliveryJob) (int, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.record.TargetURL, bytes.NewReader(job.body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", job.record.ID)
	req.Header.Set("X-Namespace", job.record.Namespace)
	if job.signature != "" {
		req.Header.Set("X-Hub-Signature-256", job.signature)
	}
	for k, v := range job.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (e *Engine) terminal(rec Delivery) {
	if e.onTerminal != nil {
		e.onTerminal(rec)
	}
}
