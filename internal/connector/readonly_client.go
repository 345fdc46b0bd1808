package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/doubleagent/harness/internal/ssrf"
)

// ErrReadOnlyViolation marks a request the read-only client refuses to
// send: a mutating method, a blocked host, or strict compliance mode.
// It never reaches the public HTTP surface, only the snapshot-pull CLI.
var ErrReadOnlyViolation = errors.New("read-only client violation")

// ReadOnlyClient is the outbound HTTP client used by snapshot pulls. It
// refuses non-GET/HEAD methods and blocks private/loopback IP literal
// hosts (anti-SSRF) unless AllowPrivate is set. In strict compliance
// mode every request is blocked.
type ReadOnlyClient struct {
	httpClient   *http.Client
	allowPrivate bool
	strict       bool
	totalBudget  time.Duration
}

// ClientOptions configures the read-only client.
type ClientOptions struct {
	Timeout         time.Duration // per request, default 30s
	MaxTotalTimeout time.Duration // budget across one pull, default 10m
	AllowPrivate    bool
	Strict          bool // compliance mode: block all outbound HTTP
}

// NewReadOnlyClient builds a client with the given policy.
func NewReadOnlyClient(opts ClientOptions) *ReadOnlyClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTotalTimeout <= 0 {
		opts.MaxTotalTimeout = 10 * time.Minute
	}
	return &ReadOnlyClient{
		httpClient:   &http.Client{Timeout: opts.Timeout},
		allowPrivate: opts.AllowPrivate,
		strict:       opts.Strict,
		totalBudget:  opts.MaxTotalTimeout,
	}
}

// Budget returns the total pull deadline context.
func (c *ReadOnlyClient) Budget(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.totalBudget)
}

// Do validates the request against the read-only policy, then sends it.
func (c *ReadOnlyClient) Do(req *http.Request) (*http.Response, error) {
	if c.strict {
		return nil, fmt.Errorf("%w: compliance mode blocks all outbound HTTP", ErrReadOnlyViolation)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, fmt.Errorf("%w: method %s not allowed", ErrReadOnlyViolation, req.Method)
	}
	host := req.URL.Hostname()
	if !c.allowPrivate && (ssrf.IsPrivateIPLiteral(host) || ssrf.IsLocalAlias(host)) {
		return nil, fmt.Errorf("%w: host %q is private or loopback", ErrReadOnlyViolation, host)
	}
	return c.httpClient.Do(req)
}

// Get issues a policy-checked GET.
func (c *ReadOnlyClient) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
