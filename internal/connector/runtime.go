// Package connector drives pluggable stream sources for the offline
// snapshot ingest pipeline.
package connector

import (
	"context"
	"log"
	"strings"

	"github.com/doubleagent/harness/internal/resource"
)

// reservedPrefixes mark protocol-internal metadata fields stripped from
// every pulled record.
var reservedPrefixes = []string{"_da_", "_airbyte_"}

// StreamSource is the adapter contract for anything that supplies
// snapshot data. Select is idempotent; Read returns up to limit records
// (limit <= 0 means unlimited).
type StreamSource interface {
	Discover(ctx context.Context) ([]string, error)
	Select(ctx context.Context, streams []string) error
	Read(ctx context.Context, stream string, limit int) ([]resource.Resource, error)
}

// Runtime groups pulled records by stream and strips internal metadata.
// Per-stream failures are logged and the rest proceed.
type Runtime struct {
	source StreamSource
	logger *log.Logger
}

// NewRuntime wraps a stream source.
func NewRuntime(source StreamSource) *Runtime {
	return &Runtime{
		source: source,
		logger: log.New(log.Writer(), "[CONNECTOR] ", log.LstdFlags),
	}
}

// Discover lists the source's available stream names.
func (r *Runtime) Discover(ctx context.Context) ([]string, error) {
	return r.source.Discover(ctx)
}

// Pull reads each requested stream. perStreamLimits overrides
// globalLimit per stream; zero limits mean unlimited.
func (r *Runtime) Pull(ctx context.Context, streams []string, perStreamLimits map[string]int, globalLimit int) map[string][]resource.Resource {
	if err := r.source.Select(ctx, streams); err != nil {
		r.logger.Printf("stream selection failed: %v", err)
		return nil
	}

	out := make(map[string][]resource.Resource, len(streams))
	for _, stream := range streams {
		limit := globalLimit
		if l, ok := perStreamLimits[stream]; ok {
			limit = l
		}
		records, err := r.source.Read(ctx, stream, limit)
		if err != nil {
			r.logger.Printf("stream %q failed, skipping: %v", stream, err)
			continue
		}
		cleaned := make([]resource.Resource, 0, len(records))
		for _, rec := range records {
			cleaned = append(cleaned, stripMetadata(rec))
		}
		out[stream] = cleaned
	}
	return out
}

func stripMetadata(rec resource.Resource) resource.Resource {
	out := make(resource.Resource, len(rec))
	for field, v := range rec {
		if hasReservedPrefix(field) {
			continue
		}
		out[field] = v
	}
	return out
}

func hasReservedPrefix(field string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(field, p) {
			return true
		}
	}
	return false
}
