package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleagent/harness/internal/idempotency"
	"github.com/doubleagent/harness/internal/state"
	"github.com/doubleagent/harness/internal/webhooks"
)

const nsHeader = "X-DoubleAgent-Namespace"

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	engine := webhooks.NewEngine(webhooks.Options{
		Workers:     1,
		RetryDelays: []time.Duration{time.Millisecond},
	})
	t.Cleanup(engine.Shutdown)

	h := &Handler{
		ServiceName:     "tracker",
		ServiceVersion:  "1.2.3",
		Features:        []string{"namespaces", "webhooks"},
		NamespaceHeader: nsHeader,
		Router:          state.NewRouter(),
		Cache:           idempotency.NewCache(0),
		Engine:          engine,
	}
	r := mux.NewRouter()
	h.Register(r)
	return h, r
}

func doJSON(t *testing.T, h http.Handler, method, path, ns, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if ns != "" {
		req.Header.Set(nsHeader, ns)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	_, h := newTestHandler(t)
	w, body := doJSON(t, h, "GET", "/_doubleagent/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestInfo(t *testing.T) {
	_, h := newTestHandler(t)
	w, body := doJSON(t, h, "GET", "/_doubleagent/info", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tracker", body["service"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Contains(t, body["features"], "webhooks")
}

func TestBootstrapInstallsBaseline(t *testing.T) {
	th, h := newTestHandler(t)

	w, body := doJSON(t, h, "POST", "/_doubleagent/bootstrap", "",
		`{"repos":{"acme/one":{"id":100,"name":"one"},"acme/two":{"id":200}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	loaded := body["loaded"].(map[string]interface{})
	assert.Equal(t, float64(2), loaded["repos"])

	// Every namespace sees the baseline.
	_, ok := th.Router.State("any").Get("repos", "acme/one")
	assert.True(t, ok)
}

func TestBootstrapRejectsMalformedBody(t *testing.T) {
	_, h := newTestHandler(t)
	w, body := doJSON(t, h, "POST", "/_doubleagent/bootstrap", "", `["not","a","map"]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "validation_error", errObj["type"])
}

func TestSeedTargetsRequestNamespace(t *testing.T) {
	th, h := newTestHandler(t)

	w, body := doJSON(t, h, "POST", "/_doubleagent/seed", "team-a",
		`{"tasks":{"1":{"id":1,"content":"hello"}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	seeded := body["seeded"].(map[string]interface{})
	assert.Equal(t, float64(1), seeded["tasks"])

	_, ok := th.Router.State("team-a").Get("tasks", "1")
	assert.True(t, ok)
	_, ok = th.Router.State("team-b").Get("tasks", "1")
	assert.False(t, ok, "seed is namespace local")
}

func TestResetSoftKeepsBaselineAndClearsCache(t *testing.T) {
	th, h := newTestHandler(t)
	doJSON(t, h, "POST", "/_doubleagent/bootstrap", "", `{"repos":{"r":{"id":1}}}`)
	th.Router.State("team-a").Put("tasks", "1", map[string]interface{}{"id": float64(1)})
	th.Cache.Put("req-1", idempotency.Entry{StatusCode: 201})

	w, body := doJSON(t, h, "POST", "/_doubleagent/reset", "team-a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["hard"])
	assert.Equal(t, "team-a", body["namespace"])

	_, ok := th.Router.State("team-a").Get("tasks", "1")
	assert.False(t, ok)
	_, ok = th.Router.State("team-a").Get("repos", "r")
	assert.True(t, ok, "baseline survives soft reset")
	assert.Equal(t, 0, th.Cache.Len())
}

func TestResetHardDropsBaselineAndDeliveryLog(t *testing.T) {
	th, h := newTestHandler(t)
	doJSON(t, h, "POST", "/_doubleagent/bootstrap", "", `{"repos":{"r":{"id":1}}}`)
	th.Engine.Deliver("https://api.github.com/x", "issues", map[string]interface{}{}, "default", "", nil)
	require.NotEmpty(t, th.Engine.Deliveries(webhooks.Query{}))

	w, _ := doJSON(t, h, "POST", "/_doubleagent/reset?hard=true", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := th.Router.State("default").Get("repos", "r")
	assert.False(t, ok)
	assert.Empty(t, th.Engine.Deliveries(webhooks.Query{}))
}

func TestNamespacesListing(t *testing.T) {
	th, h := newTestHandler(t)
	th.Router.State("team-b")
	th.Router.State("team-a")

	w, body := doJSON(t, h, "GET", "/_doubleagent/namespaces", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	namespaces := body["namespaces"].([]interface{})
	require.Len(t, namespaces, 2)
	first := namespaces[0].(map[string]interface{})
	assert.Equal(t, "team-a", first["namespace"])
}

func TestWebhooksEndpointFiltersAndValidates(t *testing.T) {
	th, h := newTestHandler(t)
	// Blocked targets reach a terminal state synchronously.
	th.Engine.Deliver("https://api.github.com/x", "issues", map[string]interface{}{}, "team-a", "", nil)
	th.Engine.Deliver("https://api.github.com/x", "pushes", map[string]interface{}{}, "team-b", "", nil)

	w, body := doJSON(t, h, "GET", "/_doubleagent/webhooks?namespace=team-a", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, _ = doJSON(t, h, "GET", "/_doubleagent/webhooks?limit=-3", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, h, "GET", "/_doubleagent/webhooks?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhooksEmptyLogReturnsEmptyArray(t *testing.T) {
	_, h := newTestHandler(t)
	w, body := doJSON(t, h, "GET", "/_doubleagent/webhooks", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["count"])
	assert.NotNil(t, body["deliveries"])
}
