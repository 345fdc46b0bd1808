package state

import (
	"sort"
	"sync"
)

// DefaultNamespace is used when a request omits the namespace header.
const DefaultNamespace = "default"

// Router maps namespace keys to their overlays. All overlays share one
// baseline; the baseline is never copied per namespace. The map lock is
// ordered before any overlay lock — never the reverse.
type Router struct {
	mu       sync.RWMutex
	baseline *Baseline
	overlays map[string]*Overlay
}

// NewRouter creates a router with no baseline installed.
func NewRouter() *Router {
	return &Router{overlays: make(map[string]*Overlay)}
}

// State returns the overlay for a namespace, creating it lazily. An
// empty namespace resolves to DefaultNamespace. Every new overlay sees
// the same baseline reference.
func (r *Router) State(namespace string) *Overlay {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r.mu.RLock()
	o, ok := r.overlays[namespace]
	r.mu.RUnlock()
	if ok {
		return o
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.overlays[namespace]; ok {
		return o
	}
	o = NewOverlay(r.baseline)
	r.overlays[namespace] = o
	return o
}

// LoadBaseline installs a new baseline and propagates the replacement to
// every existing overlay so cached counters and tombstones are cleared
// consistently. Returns per-type counts of the new baseline.
func (r *Router) LoadBaseline(b *Baseline) map[string]int {
	r.mu.Lock()
	r.baseline = b
	overlays := make([]*Overlay, 0, len(r.overlays))
	for _, o := range r.overlays {
		overlays = append(overlays, o)
	}
	r.mu.Unlock()

	for _, o := range overlays {
		o.LoadBaseline(b)
	}
	return b.Counts()
}

// ResetNamespace resets one overlay. hard also drops its baseline view.
func (r *Router) ResetNamespace(namespace string, hard bool) {
	o := r.State(namespace)
	if hard {
		o.ResetHard()
		return
	}
	o.Reset()
}

// ResetAll resets every active overlay. On hard reset the shared
// baseline is dropped as well.
func (r *Router) ResetAll(hard bool) {
	r.mu.Lock()
	if hard {
		r.baseline = nil
	}
	overlays := make([]*Overlay, 0, len(r.overlays))
	for _, o := range r.overlays {
		overlays = append(overlays, o)
	}
	r.mu.Unlock()

	for _, o := range overlays {
		if hard {
			o.ResetHard()
		} else {
			o.Reset()
		}
	}
}

// Len reports the number of active namespaces.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.overlays)
}

// DeleteNamespace destroys an overlay and reports whether it existed.
func (r *Router) DeleteNamespace(namespace string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.overlays[namespace]
	delete(r.overlays, namespace)
	return existed
}

// ListNamespaces returns active namespaces with their stats, sorted by
// namespace key for stable output.
func (r *Router) ListNamespaces() []Stats {
	r.mu.RLock()
	names := make([]string, 0, len(r.overlays))
	byName := make(map[string]*Overlay, len(r.overlays))
	for ns, o := range r.overlays {
		names = append(names, ns)
		byName[ns] = o
	}
	r.mu.RUnlock()

	sort.Strings(names)
	out := make([]Stats, 0, len(names))
	for _, ns := range names {
		st := byName[ns].Stats()
		st.Namespace = ns
		out = append(out, st)
	}
	return out
}
