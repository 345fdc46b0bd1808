// Package relational selects a coherent subset of pulled records by
// walking parent→child follow rules breadth-first.
package relational

import (
	"strconv"

	"github.com/doubleagent/harness/internal/resource"
)

// FollowRule declares a parent→child foreign-key edge.
type FollowRule struct {
	ChildStream    string `json:"child_stream" yaml:"child_stream"`
	ForeignKey     string `json:"foreign_key" yaml:"foreign_key"`
	ParentKey      string `json:"parent_key,omitempty" yaml:"parent_key,omitempty"`
	LimitPerParent *int   `json:"limit_per_parent,omitempty" yaml:"limit_per_parent,omitempty"`
}

func (f FollowRule) parentKey() string {
	if f.ParentKey == "" {
		return "id"
	}
	return f.ParentKey
}

// SeedStream configures one stream: its root limit and follow rules.
// Entries for child streams define the follows taken from them.
type SeedStream struct {
	Stream string       `json:"stream" yaml:"stream"`
	Limit  *int         `json:"limit,omitempty" yaml:"limit,omitempty"`
	Follow []FollowRule `json:"follow,omitempty" yaml:"follow,omitempty"`
}

// SeedingConfig is the relational filter input (§ seeding configuration
// format). DefaultLimit applies to root streams without their own limit;
// nil means unlimited.
type SeedingConfig struct {
	DefaultLimit *int         `json:"default_limit,omitempty" yaml:"default_limit,omitempty"`
	SeedStreams  []SeedStream `json:"seed_streams" yaml:"seed_streams"`
}

func (c SeedingConfig) streamConfig(name string) (SeedStream, bool) {
	for _, s := range c.SeedStreams {
		if s.Stream == name {
			return s, true
		}
	}
	return SeedStream{}, false
}

// RootStreams lists the configured stream names in order.
func (c SeedingConfig) RootStreams() []string {
	names := make([]string, 0, len(c.SeedStreams))
	for _, s := range c.SeedStreams {
		names = append(names, s.Stream)
	}
	return names
}

type queueItem struct {
	stream    string
	parentIDs map[string]struct{}
	rule      *FollowRule
}

type edge struct {
	parent string
	child  string
}

// Apply runs the BFS selection. Output has the input's shape, filtered;
// only non-empty streams are returned. A (parent, child) edge is
// processed at most once, so a child reachable via two parents is
// populated from whichever path dequeues first.
func Apply(streams map[string][]resource.Resource, cfg SeedingConfig) map[string][]resource.Resource {
	output := make(map[string][]resource.Resource)
	seen := make(map[string]map[string]struct{})
	visited := make(map[edge]struct{})

	var queue []queueItem
	for _, root := range cfg.SeedStreams {
		queue = append(queue, queueItem{stream: root.Stream})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		records := streams[item.stream]
		var selected []int
		if item.rule != nil {
			selected = selectChildren(records, item.parentIDs, *item.rule)
		} else {
			selected = selectRoots(records, item.stream, cfg)
		}

		if seen[item.stream] == nil {
			seen[item.stream] = make(map[string]struct{})
		}
		for _, idx := range selected {
			rec := records[idx]
			key := dedupeKey(rec, idx)
			if _, dup := seen[item.stream][key]; dup {
				continue
			}
			seen[item.stream][key] = struct{}{}
			output[item.stream] = append(output[item.stream], rec)
		}

		streamCfg, ok := cfg.streamConfig(item.stream)
		if !ok {
			continue
		}
		for i := range streamCfg.Follow {
			follow := streamCfg.Follow[i]
			e := edge{parent: item.stream, child: follow.ChildStream}
			if _, done := visited[e]; done {
				continue
			}
			visited[e] = struct{}{}

			parentIDs := make(map[string]struct{}, len(selected))
			for _, idx := range selected {
				if v, ok := records[idx][follow.parentKey()]; ok {
					parentIDs[resource.Stringify(v)] = struct{}{}
				}
			}
			queue = append(queue, queueItem{
				stream:    follow.ChildStream,
				parentIDs: parentIDs,
				rule:      &follow,
			})
		}
	}

	for name, items := range output {
		if len(items) == 0 {
			delete(output, name)
		}
	}
	return output
}

func selectRoots(records []resource.Resource, stream string, cfg SeedingConfig) []int {
	limit := -1
	if sc, ok := cfg.streamConfig(stream); ok && sc.Limit != nil {
		limit = *sc.Limit
	} else if cfg.DefaultLimit != nil {
		limit = *cfg.DefaultLimit
	}
	n := len(records)
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func selectChildren(records []resource.Resource, parentIDs map[string]struct{}, rule FollowRule) []int {
	perParent := make(map[string]int)
	var out []int
	for i, rec := range records {
		v, ok := rec[rule.ForeignKey]
		if !ok {
			continue
		}
		fk := resource.Stringify(v)
		if _, match := parentIDs[fk]; !match {
			continue
		}
		if rule.LimitPerParent != nil && perParent[fk] >= *rule.LimitPerParent {
			continue
		}
		perParent[fk]++
		out = append(out, i)
	}
	return out
}

// dedupeKey prefers the record's id; rows without one fall back to their
// position in the input stream, i.e. record identity.
func dedupeKey(rec resource.Resource, inputIdx int) string {
	if id, ok := rec.ID(); ok {
		return "id:" + id
	}
	return "idx:" + strconv.Itoa(inputIdx)
}
