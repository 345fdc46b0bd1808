package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleagent/harness/internal/resource"
)

func pullFixture() map[string][]resource.Resource {
	return map[string][]resource.Resource{
		"repos": {
			{"id": float64(1), "name": "one"},
			{"id": float64(2), "name": "two"},
		},
		"users": {
			{"id": "u-1", "login": "alice"},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	dir, err := store.Save("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	manifest, data, err := store.Load("tracker", "default")
	require.NoError(t, err)

	assert.Equal(t, "tracker", manifest.Service)
	assert.Equal(t, "default", manifest.Profile)
	assert.Equal(t, 1, manifest.Version)
	assert.Equal(t, "rest", manifest.Connector)
	assert.True(t, manifest.Redacted)
	assert.NotEmpty(t, manifest.PulledAt)
	assert.Equal(t, map[string]int{"repos": 2, "users": 1}, manifest.ResourceCounts)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, manifest.SourceHash)

	// Loaded data is keyed by id, ready for the baseline.
	repo, ok := data["repos"]["1"]
	require.True(t, ok)
	assert.Equal(t, "one", repo["name"])
	user, ok := data["users"]["u-1"]
	require.True(t, ok)
	assert.Equal(t, "alice", user["login"])
}

func TestSaveBumpsVersion(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Save("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)
	_, err = store.Save("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)

	manifest, _, err := store.Load("tracker", "default")
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.Version)
}

func TestIdenticalPullsHashIdentically(t *testing.T) {
	storeA := NewStore(t.TempDir())
	storeB := NewStore(t.TempDir())

	_, err := storeA.Save("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)
	_, err = storeB.Save("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)

	a, _, err := storeA.Load("tracker", "default")
	require.NoError(t, err)
	b, _, err := storeB.Load("tracker", "default")
	require.NoError(t, err)
	assert.Equal(t, a.SourceHash, b.SourceHash)
}

func TestLoadFallsBackToIndexKeys(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Save("tracker", "default", map[string][]resource.Resource{
		"events": {
			{"kind": "push"},
			{"kind": "fork"},
		},
	}, "rest", false)
	require.NoError(t, err)

	_, data, err := store.Load("tracker", "default")
	require.NoError(t, err)
	assert.Equal(t, "push", data["events"]["0"]["kind"])
	assert.Equal(t, "fork", data["events"]["1"]["kind"])
}

func TestSaveIncrementalExistingIDWins(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Save("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)

	// Second pull disagrees about repo 1 and brings a new repo 3.
	_, err = store.SaveIncremental("tracker", "default", map[string][]resource.Resource{
		"repos": {
			{"id": float64(1), "name": "renamed"},
			{"id": float64(3), "name": "three"},
		},
	}, "rest", true)
	require.NoError(t, err)

	manifest, data, err := store.Load("tracker", "default")
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.Version)
	assert.Equal(t, 3, manifest.ResourceCounts["repos"])
	assert.Equal(t, "one", data["repos"]["1"]["name"], "the stored version wins on conflict")
	assert.Equal(t, "three", data["repos"]["3"]["name"])

	// Types absent from the incremental pull survive.
	assert.Equal(t, 1, manifest.ResourceCounts["users"])
	assert.Equal(t, "alice", data["users"]["u-1"]["login"])
}

func TestSaveIncrementalWithoutPriorIsFullSave(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.SaveIncremental("tracker", "default", pullFixture(), "rest", true)
	require.NoError(t, err)

	manifest, _, err := store.Load("tracker", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.Version)
}

func TestListSortedByServiceThenProfile(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, sp := range [][2]string{{"zeta", "default"}, {"alpha", "prod"}, {"alpha", "demo"}} {
		_, err := store.Save(sp[0], sp[1], pullFixture(), "rest", false)
		require.NoError(t, err)
	}

	manifests, err := store.List("")
	require.NoError(t, err)
	require.Len(t, manifests, 3)
	assert.Equal(t, "alpha", manifests[0].Service)
	assert.Equal(t, "demo", manifests[0].Profile)
	assert.Equal(t, "prod", manifests[1].Profile)
	assert.Equal(t, "zeta", manifests[2].Service)

	only, err := store.List("alpha")
	require.NoError(t, err)
	assert.Len(t, only, 2)
}

func TestListEmptyRoot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	manifests, err := store.List("")
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	store := NewStore(t.TempDir())
	dir, err := store.Save("tracker", "default", pullFixture(), "rest", false)
	require.NoError(t, err)

	require.NoError(t, store.Delete("tracker", "default"))
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
	_, _, err = store.Load("tracker", "default")
	assert.Error(t, err)
}
