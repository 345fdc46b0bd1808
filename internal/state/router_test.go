package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleagent/harness/internal/resource"
)

func TestRouterCreatesNamespacesLazily(t *testing.T) {
	r := NewRouter()

	assert.Empty(t, r.ListNamespaces())

	a := r.State("team-a")
	assert.Same(t, a, r.State("team-a"))
	assert.Len(t, r.ListNamespaces(), 1)
}

func TestRouterEmptyNamespaceIsDefault(t *testing.T) {
	r := NewRouter()
	assert.Same(t, r.State(""), r.State(DefaultNamespace))
}

func TestNamespacesAreIsolated(t *testing.T) {
	r := NewRouter()
	r.LoadBaseline(testBaseline())

	a := r.State("team-a")
	b := r.State("team-b")

	a.Put("repos", "acme/one", resource.Resource{"id": float64(100), "name": "a-side"})
	b.Delete("repos", "acme/one")

	got, ok := a.Get("repos", "acme/one")
	require.True(t, ok)
	assert.Equal(t, "a-side", got["name"])

	_, ok = b.Get("repos", "acme/one")
	assert.False(t, ok)

	// A third namespace still sees the pristine baseline.
	got, ok = r.State("team-c").Get("repos", "acme/one")
	require.True(t, ok)
	assert.Equal(t, "one", got["name"])
}

func TestLoadBaselinePropagatesToExistingOverlays(t *testing.T) {
	r := NewRouter()
	a := r.State("team-a")
	a.Put("repos", "stale", resource.Resource{"id": float64(1)})

	counts := r.LoadBaseline(testBaseline())
	assert.Equal(t, 2, counts["repos"])

	// Prior overlay writes are cleared; the new baseline shows through.
	_, ok := a.Get("repos", "stale")
	assert.False(t, ok)
	_, ok = a.Get("repos", "acme/one")
	assert.True(t, ok)

	// Namespaces created later see the same baseline.
	_, ok = r.State("team-b").Get("repos", "acme/one")
	assert.True(t, ok)
}

func TestResetNamespaceSoftAndHard(t *testing.T) {
	r := NewRouter()
	r.LoadBaseline(testBaseline())

	a := r.State("team-a")
	a.Put("repos", "acme/new", resource.Resource{"id": float64(1)})

	r.ResetNamespace("team-a", false)
	_, ok := a.Get("repos", "acme/new")
	assert.False(t, ok)
	_, ok = a.Get("repos", "acme/one")
	assert.True(t, ok, "soft reset keeps the baseline")

	r.ResetNamespace("team-a", true)
	_, ok = a.Get("repos", "acme/one")
	assert.False(t, ok, "hard reset drops the baseline view")
}

func TestResetAll(t *testing.T) {
	r := NewRouter()
	r.LoadBaseline(testBaseline())
	a := r.State("team-a")
	b := r.State("team-b")
	a.Put("repos", "x", resource.Resource{"id": float64(1)})
	b.Put("repos", "y", resource.Resource{"id": float64(2)})

	r.ResetAll(false)

	assert.Equal(t, 2, a.Count("repos"))
	assert.Equal(t, 2, b.Count("repos"))

	r.ResetAll(true)
	assert.Equal(t, 0, a.Count("repos"))
	// New namespaces after a hard reset start with no baseline.
	assert.Equal(t, 0, r.State("team-c").Count("repos"))
}

func TestDeleteNamespace(t *testing.T) {
	r := NewRouter()
	r.State("team-a")

	assert.True(t, r.DeleteNamespace("team-a"))
	assert.False(t, r.DeleteNamespace("team-a"))
	assert.Empty(t, r.ListNamespaces())
}

func TestListNamespacesSorted(t *testing.T) {
	r := NewRouter()
	r.State("zeta")
	r.State("alpha")
	r.State("mid")

	stats := r.ListNamespaces()
	require.Len(t, stats, 3)
	assert.Equal(t, "alpha", stats[0].Namespace)
	assert.Equal(t, "mid", stats[1].Namespace)
	assert.Equal(t, "zeta", stats[2].Namespace)
}
