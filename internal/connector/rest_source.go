package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/doubleagent/harness/internal/resource"
)

// ErrMissingCredentials is returned when a source has no API token; the
// snapshot-pull CLI exits non-zero on it.
var ErrMissingCredentials = errors.New("missing source credentials")

// RESTSource pulls streams from a generic read-only REST API:
// GET <base>/streams lists names, GET <base>/streams/<name>?limit=N
// returns a JSON array of records. All requests go through the
// read-only client, so the SSRF and method policies apply.
type RESTSource struct {
	client  *ReadOnlyClient
	baseURL string
	token   string
}

// NewRESTSource builds a source for baseURL authenticated by token.
func NewRESTSource(client *ReadOnlyClient, baseURL, token string) (*RESTSource, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	return &RESTSource{client: client, baseURL: baseURL, token: token}, nil
}

// Discover lists available stream names.
func (s *RESTSource) Discover(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.getJSON(ctx, s.baseURL+"/streams", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Select is a no-op for REST sources; reads name the stream directly.
func (s *RESTSource) Select(ctx context.Context, streams []string) error {
	return nil
}

// Read fetches up to limit records of one stream.
func (s *RESTSource) Read(ctx context.Context, stream string, limit int) ([]resource.Resource, error) {
	u := s.baseURL + "/streams/" + url.PathEscape(stream)
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var records []resource.Resource
	if err := s.getJSON(ctx, u, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *RESTSource) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := newAuthedGet(ctx, rawURL, s.token)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
