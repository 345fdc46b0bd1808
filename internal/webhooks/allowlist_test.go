package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowlistPermitsLocalTargets(t *testing.T) {
	a := NewAllowlist()

	for _, target := range []string{
		"http://localhost:9999/hook",
		"http://127.0.0.1:8080/hook",
		"https://host.docker.internal/hook",
		"http://10.0.0.5/hook",
		"http://192.168.1.20:3000/hook",
		"http://[::1]:9000/hook",
	} {
		assert.NoError(t, a.Check(target), target)
	}
}

func TestAllowlistBlocksPublicTargets(t *testing.T) {
	a := NewAllowlist()

	for _, target := range []string{
		"https://api.github.com/hook",
		"http://example.com/hook",
		"http://8.8.8.8/hook",
	} {
		assert.Error(t, a.Check(target), target)
	}
}

func TestAllowlistExtraHostsOverride(t *testing.T) {
	a := NewAllowlist("hooks.ci.internal")

	assert.NoError(t, a.Check("https://hooks.ci.internal/hook"))
	assert.Error(t, a.Check("https://hooks.other.internal/hook"))
}

func TestAllowlistRejectsBadSchemesAndURLs(t *testing.T) {
	a := NewAllowlist()

	assert.Error(t, a.Check("ftp://localhost/hook"))
	assert.Error(t, a.Check("localhost/hook"), "missing scheme")
	assert.Error(t, a.Check("http://"))
}
