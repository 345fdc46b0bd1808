package webhooks

import (
	"fmt"
	"net/url"

	"github.com/doubleagent/harness/internal/ssrf"
)

// Allowlist gates webhook targets so a fake never accidentally POSTs to a
// production endpoint. Local aliases and private/loopback IP literals
// pass; everything else is rejected unless explicitly overridden.
type Allowlist struct {
	extra map[string]struct{}
}

// NewAllowlist builds the default allowlist plus any override hostnames
// a test harness wants to permit.
func NewAllowlist(extraHosts ...string) *Allowlist {
	extra := make(map[string]struct{}, len(extraHosts))
	for _, h := range extraHosts {
		extra[h] = struct{}{}
	}
	return &Allowlist{extra: extra}
}

// Check validates a target URL. A nil return means delivery may be
// scheduled; any error means the delivery must be marked failed with
// zero attempts.
func (a *Allowlist) Check(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid target URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q in target %q", u.Scheme, target)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("target %q has no host", target)
	}
	if _, ok := a.extra[host]; ok {
		return nil
	}
	if ssrf.IsLocalTarget(host) {
		return nil
	}
	return fmt.Errorf("target host %q is not local or private; webhook blocked", host)
}
