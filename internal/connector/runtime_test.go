package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleagent/harness/internal/resource"
)

// fakeSource is an in-memory StreamSource for runtime tests.
type fakeSource struct {
	streams  map[string][]resource.Resource
	failing  map[string]error
	selected []string
}

func (f *fakeSource) Discover(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.streams))
	for name := range f.streams {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeSource) Select(ctx context.Context, streams []string) error {
	f.selected = streams
	return nil
}

func (f *fakeSource) Read(ctx context.Context, stream string, limit int) ([]resource.Resource, error) {
	if err := f.failing[stream]; err != nil {
		return nil, err
	}
	records := f.streams[stream]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

func TestPullStripsReservedMetadata(t *testing.T) {
	src := &fakeSource{streams: map[string][]resource.Resource{
		"repos": {{
			"id":              float64(1),
			"name":            "one",
			"_da_cursor":      "abc",
			"_airbyte_raw_id": "xyz",
		}},
	}}
	rt := NewRuntime(src)

	out := rt.Pull(context.Background(), []string{"repos"}, nil, 0)

	require.Len(t, out["repos"], 1)
	rec := out["repos"][0]
	assert.Equal(t, "one", rec["name"])
	_, has := rec["_da_cursor"]
	assert.False(t, has)
	_, has = rec["_airbyte_raw_id"]
	assert.False(t, has)
}

func TestPullSelectsBeforeReading(t *testing.T) {
	src := &fakeSource{streams: map[string][]resource.Resource{"repos": {}}}
	rt := NewRuntime(src)

	rt.Pull(context.Background(), []string{"repos"}, nil, 0)
	assert.Equal(t, []string{"repos"}, src.selected)
}

func TestPullSkipsFailingStreams(t *testing.T) {
	src := &fakeSource{
		streams: map[string][]resource.Resource{
			"repos":  {{"id": float64(1)}},
			"issues": {{"id": float64(10)}},
		},
		failing: map[string]error{"issues": errors.New("rate limited")},
	}
	rt := NewRuntime(src)

	out := rt.Pull(context.Background(), []string{"repos", "issues"}, nil, 0)

	assert.Len(t, out["repos"], 1)
	_, ok := out["issues"]
	assert.False(t, ok, "failed stream is skipped, not fatal")
}

func TestPullPerStreamLimitOverridesGlobal(t *testing.T) {
	src := &fakeSource{streams: map[string][]resource.Resource{
		"repos":  {{"id": float64(1)}, {"id": float64(2)}, {"id": float64(3)}},
		"issues": {{"id": float64(10)}, {"id": float64(11)}},
	}}
	rt := NewRuntime(src)

	out := rt.Pull(context.Background(), []string{"repos", "issues"}, map[string]int{"repos": 1}, 2)

	assert.Len(t, out["repos"], 1, "per-stream limit wins")
	assert.Len(t, out["issues"], 2, "global limit applies elsewhere")
}
