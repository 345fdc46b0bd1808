// Package controlplane mounts the shared lifecycle endpoints every fake
// service exposes under /_doubleagent: reset, bootstrap, seed,
// namespace and webhook introspection, plus a live delivery stream.
package controlplane

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doubleagent/harness/internal/httpx"
	"github.com/doubleagent/harness/internal/idempotency"
	"github.com/doubleagent/harness/internal/resource"
	"github.com/doubleagent/harness/internal/state"
	"github.com/doubleagent/harness/internal/webhooks"
)

// Handler orchestrates the control-plane operations. It bypasses both
// idempotency caching and vendor auth; it does read the namespace
// header so a client can target a specific namespace.
type Handler struct {
	ServiceName     string
	ServiceVersion  string
	Features        []string
	NamespaceHeader string

	Router *state.Router
	Cache  *idempotency.Cache
	Engine *webhooks.Engine
	Stream *EventStream
}

// Register mounts the control plane under /_doubleagent on r.
func (h *Handler) Register(r *mux.Router) {
	cp := r.PathPrefix("/_doubleagent").Subrouter()
	cp.HandleFunc("/health", h.handleHealth).Methods("GET")
	cp.HandleFunc("/info", h.handleInfo).Methods("GET")
	cp.HandleFunc("/reset", h.handleReset).Methods("POST")
	cp.HandleFunc("/bootstrap", h.handleBootstrap).Methods("POST")
	cp.HandleFunc("/seed", h.handleSeed).Methods("POST")
	cp.HandleFunc("/namespaces", h.handleNamespaces).Methods("GET")
	cp.HandleFunc("/webhooks", h.handleWebhooks).Methods("GET")
	if h.Stream != nil {
		cp.HandleFunc("/events", h.Stream.HandleWebSocket)
	}
}

func (h *Handler) namespace(r *http.Request) string {
	ns := r.Header.Get(h.NamespaceHeader)
	if ns == "" {
		ns = state.DefaultNamespace
	}
	return ns
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service":  h.ServiceName,
		"version":  h.ServiceVersion,
		"features": h.Features,
	})
}

// handleReset resets the request's namespace. Soft reset keeps the
// baseline; hard reset drops it and clears the webhook delivery log.
// Both clear the idempotency cache.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	ns := h.namespace(r)

	h.Router.ResetNamespace(ns, hard)
	h.Cache.Clear()
	if hard {
		h.Engine.Clear()
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reset":     ns,
		"hard":      hard,
		"namespace": ns,
	})
}

// handleBootstrap replaces the shared baseline from the request body:
// {type: {id: resource}}.
func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var data map[string]map[string]resource.Resource
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		httpx.ValidationError(w, "bootstrap body must be {type: {id: resource}}: "+err.Error())
		return
	}

	counts := h.Router.LoadBaseline(state.NewBaseline(data))
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"loaded": counts})
}

// handleSeed merges overlay-only data into the request's namespace.
func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	var data map[string]map[string]resource.Resource
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		httpx.ValidationError(w, "seed body must be {type: {id: resource}}: "+err.Error())
		return
	}

	counts := h.Router.State(h.namespace(r)).Seed(data)
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"seeded": counts})
}

func (h *Handler) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"namespaces": h.Router.ListNamespaces(),
	})
}

// handleWebhooks reads the delivery log, newest first.
func (h *Handler) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	q := webhooks.Query{
		Namespace: r.URL.Query().Get("namespace"),
		EventType: r.URL.Query().Get("event_type"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.ValidationError(w, "limit must be a non-negative integer")
			return
		}
		q.Limit = limit
	}

	deliveries := h.Engine.Deliveries(q)
	if deliveries == nil {
		deliveries = []webhooks.Delivery{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}
