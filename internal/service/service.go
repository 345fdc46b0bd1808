// Package service assembles one fake service: state router, control
// plane, idempotency cache, webhook engine, metrics and the HTTP
// middleware chain. Vendor-shaped routers register their routes on the
// service's vendor router.
package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doubleagent/harness/internal/config"
	"github.com/doubleagent/harness/internal/controlplane"
	"github.com/doubleagent/harness/internal/httpx"
	"github.com/doubleagent/harness/internal/idempotency"
	"github.com/doubleagent/harness/internal/monitoring"
	"github.com/doubleagent/harness/internal/state"
	"github.com/doubleagent/harness/internal/webhooks"
)

// Service is one runnable fake.
type Service struct {
	Name    string
	States  *state.Router
	Cache   *idempotency.Cache
	Engine  *webhooks.Engine
	Metrics *monitoring.Metrics
	Stream  *controlplane.EventStream

	cfg    *config.Config
	root   *mux.Router
	vendor *mux.Router
	logger *log.Logger
}

// New wires a service from config. The delivery log store defaults to
// memory; pass a webhooks.DeliveryStore (e.g. the Redis log) to share
// it across pods.
func New(cfg *config.Config, store webhooks.DeliveryStore) *Service {
	states := state.NewRouter()
	cache := idempotency.NewCache(cfg.Idempotency.MaxEntries)
	metrics := monitoring.NewMetrics(cfg.Service.Name)
	stream := controlplane.NewEventStream()

	delays := make([]time.Duration, len(cfg.Webhooks.RetryDelaysSecs))
	for i, s := range cfg.Webhooks.RetryDelaysSecs {
		delays[i] = time.Duration(s) * time.Second
	}
	engine := webhooks.NewEngine(webhooks.Options{
		Workers:        cfg.Webhooks.Workers,
		MaxRetries:     cfg.Webhooks.MaxRetries,
		RetryDelays:    delays,
		AttemptTimeout: time.Duration(cfg.Webhooks.AttemptTimeout) * time.Second,
		Allowlist:      webhooks.NewAllowlist(cfg.Webhooks.AllowHosts...),
		Store:          store,
		OnTerminal: func(d webhooks.Delivery) {
			metrics.RecordDelivery(d.EventType, string(d.Status), d.Attempts)
			stream.Publish(d)
		},
	})

	s := &Service{
		Name:    cfg.Service.Name,
		States:  states,
		Cache:   cache,
		Engine:  engine,
		Metrics: metrics,
		Stream:  stream,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[SERVICE] ", log.LstdFlags),
	}
	metrics.TrackNamespaces(func() float64 { return float64(states.Len()) })
	s.buildRouter()
	return s
}

func (s *Service) buildRouter() {
	root := mux.NewRouter()
	root.Use(CORSMiddleware)
	root.Use(LoggingMiddleware)
	root.Use(MetricsMiddleware(s.Metrics))
	root.Use(NamespaceMiddleware(s.cfg.Service.NamespaceHeader))

	root.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	cp := &controlplane.Handler{
		ServiceName:     s.cfg.Service.Name,
		ServiceVersion:  s.cfg.Service.Version,
		Features:        []string{"namespaces", "webhooks", "idempotency", "snapshots"},
		NamespaceHeader: s.cfg.Service.NamespaceHeader,
		Router:          s.States,
		Cache:           s.Cache,
		Engine:          s.Engine,
		Stream:          s.Stream,
	}
	cp.Register(root)

	// mux skips middleware on unmatched routes, so the fallbacks answer
	// CORS preflight themselves and keep the JSON error envelope.
	root.NotFoundHandler = CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.NotFound(w, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	}))
	root.MethodNotAllowedHandler = CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	}))

	// Everything else is vendor surface; it runs behind the
	// idempotency middleware, the control plane does not.
	vendor := root.PathPrefix("/").Subrouter()
	vendor.Use(idempotency.Middleware(s.Cache, s.cfg.Service.RequestIDHeader, s.Metrics.RecordIdempotency))

	s.root = root
	s.vendor = vendor
}

// VendorRouter is where vendor-shaped fakes register their routes.
func (s *Service) VendorRouter() *mux.Router { return s.vendor }

// Handler returns the full HTTP surface (for tests and Run).
func (s *Service) Handler() http.Handler { return s.root }

// State resolves the overlay for the request's namespace.
func (s *Service) State(r *http.Request) *state.Overlay {
	return s.States.State(Namespace(r.Context()))
}

// Run serves until ctx is cancelled, then shuts down gracefully and
// drains the webhook engine.
func (s *Service) Run(ctx context.Context, port string) error {
	if port == "" {
		port = s.cfg.Service.Port
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      s.root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("%s listening on :%s", s.Name, port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("shutdown error: %v", err)
		}
		s.Engine.Shutdown()
		return nil
	case err := <-errCh:
		s.Engine.Shutdown()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
