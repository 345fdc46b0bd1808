// Package state implements the two-layer store every fake service is
// built on: an immutable baseline shared by all namespaces, and one
// mutable overlay per namespace with tombstones and id counters.
package state

import (
	"sync"

	"github.com/doubleagent/harness/internal/resource"
)

// Baseline is the immutable per-service reference data. It is installed
// once (bootstrap or snapshot load) and never mutated afterwards; reads
// hand out deep copies.
type Baseline struct {
	data map[resource.Type]map[string]resource.Resource
}

// NewBaseline builds a baseline from already-decoded snapshot data. The
// input maps are copied so the caller cannot alias the immutable layer.
func NewBaseline(data map[string]map[string]resource.Resource) *Baseline {
	b := &Baseline{data: make(map[resource.Type]map[string]resource.Resource, len(data))}
	for typ, items := range data {
		m := make(map[string]resource.Resource, len(items))
		for id, res := range items {
			m[id] = res.DeepCopy()
		}
		b.data[typ] = m
	}
	return b
}

func (b *Baseline) get(typ, id string) (resource.Resource, bool) {
	if b == nil {
		return nil, false
	}
	res, ok := b.data[typ][id]
	return res, ok
}

// Counts reports resources per type. Used by stats and bootstrap replies.
func (b *Baseline) Counts() map[string]int {
	counts := make(map[string]int)
	if b == nil {
		return counts
	}
	for typ, items := range b.data {
		counts[typ] = len(items)
	}
	return counts
}

type tombstoneKey struct {
	typ string
	id  string
}

// Stats is the diagnostic view of one overlay.
type Stats struct {
	Namespace     string         `json:"namespace,omitempty"`
	BaselineSet   bool           `json:"baseline_set"`
	BaselineSizes map[string]int `json:"baseline_sizes"`
	OverlaySizes  map[string]int `json:"overlay_sizes"`
	Tombstones    int            `json:"tombstones"`
}

// Overlay is the per-namespace mutable layer. All methods are safe for
// concurrent use; the lock is held strictly during the state op, never
// across I/O.
type Overlay struct {
	mu         sync.RWMutex
	baseline   *Baseline
	data       map[resource.Type]map[string]resource.Resource
	tombstones map[tombstoneKey]struct{}
	counters   map[resource.Type]int64
}

// NewOverlay creates an empty overlay over the given baseline. A nil
// baseline is valid: the overlay simply has no immutable layer yet.
func NewOverlay(baseline *Baseline) *Overlay {
	return &Overlay{
		baseline:   baseline,
		data:       make(map[resource.Type]map[string]resource.Resource),
		tombstones: make(map[tombstoneKey]struct{}),
		counters:   make(map[resource.Type]int64),
	}
}

// Get resolves the effective view of (type, id):
// tombstone → miss, overlay hit, baseline hit (deep copy), miss.
func (o *Overlay) Get(typ, id string) (resource.Resource, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.getLocked(typ, id)
}

func (o *Overlay) getLocked(typ, id string) (resource.Resource, bool) {
	if _, dead := o.tombstones[tombstoneKey{typ, id}]; dead {
		return nil, false
	}
	if res, ok := o.data[typ][id]; ok {
		return res.DeepCopy(), true
	}
	if res, ok := o.baseline.get(typ, id); ok {
		return res.DeepCopy(), true
	}
	return nil, false
}

// Put installs a resource into the overlay and clears any tombstone for
// the same key. Idempotent.
func (o *Overlay) Put(typ, id string, res resource.Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.data[typ] == nil {
		o.data[typ] = make(map[string]resource.Resource)
	}
	o.data[typ][id] = res.DeepCopy()
	delete(o.tombstones, tombstoneKey{typ, id})
}

// Delete hides (type, id) for this namespace and reports whether it was
// previously visible. Baseline-only resources get a tombstone; the
// baseline itself is never touched.
func (o *Overlay) Delete(typ, id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, existed := o.getLocked(typ, id)
	delete(o.data[typ], id)
	o.tombstones[tombstoneKey{typ, id}] = struct{}{}
	return existed
}

// List produces every live resource of a type: baseline (deep-copied)
// merged with overlay (overlay wins), minus tombstones, then filtered.
// Ordering is unspecified; callers sort if they need determinism.
func (o *Overlay) List(typ string, filter func(resource.Resource) bool) []resource.Resource {
	o.mu.RLock()
	defer o.mu.RUnlock()

	merged := make(map[string]resource.Resource)
	if o.baseline != nil {
		for id, res := range o.baseline.data[typ] {
			merged[id] = res
		}
	}
	for id, res := range o.data[typ] {
		merged[id] = res
	}

	out := make([]resource.Resource, 0, len(merged))
	for id, res := range merged {
		if _, dead := o.tombstones[tombstoneKey{typ, id}]; dead {
			continue
		}
		cp := res.DeepCopy()
		if filter != nil && !filter(cp) {
			continue
		}
		out = append(out, cp)
	}
	return out
}

// Count is consistent with List.
func (o *Overlay) Count(typ string) int {
	return len(o.List(typ, nil))
}

// NextID allocates the next integer id for a type. The counter seeds
// from the max integer id across baseline and overlay, so baseline ids
// are never reused, even after a reset clears the counter.
func (o *Overlay) NextID(typ string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.counters[typ]; !ok {
		var max int64
		if o.baseline != nil {
			for id := range o.baseline.data[typ] {
				if n, ok := resource.ParseIntID(id); ok && n > max {
					max = n
				}
			}
		}
		for id := range o.data[typ] {
			if n, ok := resource.ParseIntID(id); ok && n > max {
				max = n
			}
		}
		o.counters[typ] = max
	}
	o.counters[typ]++
	return o.counters[typ]
}

// Seed merges nested {type → {id → resource}} data into the overlay and
// clears tombstones for the affected ids. Returns per-type counts.
func (o *Overlay) Seed(data map[string]map[string]resource.Resource) map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	counts := make(map[string]int, len(data))
	for typ, items := range data {
		if o.data[typ] == nil {
			o.data[typ] = make(map[string]resource.Resource, len(items))
		}
		for id, res := range items {
			o.data[typ][id] = res.DeepCopy()
			delete(o.tombstones, tombstoneKey{typ, id})
		}
		counts[typ] = len(items)
	}
	return counts
}

// LoadBaseline swaps in a new baseline and clears all namespace-local
// state (overlay, tombstones, counters). Used by bootstrap.
func (o *Overlay) LoadBaseline(b *Baseline) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseline = b
	o.clearLocked()
}

// Reset clears overlay, tombstones and counters. The baseline survives.
func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearLocked()
}

// ResetHard clears everything, baseline included.
func (o *Overlay) ResetHard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseline = nil
	o.clearLocked()
}

func (o *Overlay) clearLocked() {
	o.data = make(map[resource.Type]map[string]resource.Resource)
	o.tombstones = make(map[tombstoneKey]struct{})
	o.counters = make(map[resource.Type]int64)
}

// Stats returns the diagnostic sizes of both layers.
func (o *Overlay) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	overlaySizes := make(map[string]int, len(o.data))
	for typ, items := range o.data {
		overlaySizes[typ] = len(items)
	}
	return Stats{
		BaselineSet:   o.baseline != nil,
		BaselineSizes: o.baseline.Counts(),
		OverlaySizes:  overlaySizes,
		Tombstones:    len(o.tombstones),
	}
}
