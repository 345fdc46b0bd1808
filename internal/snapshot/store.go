// Package snapshot persists pulled reference data as a versioned on-disk
// directory: one manifest plus one JSON file per resource type. Services
// boot from these snapshots via state.Router.LoadBaseline.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/doubleagent/harness/internal/resource"
)

// Manifest describes one stored snapshot. Field set is part of the
// on-disk format; missing fields on read are tolerated, unknown fields
// ignored.
type Manifest struct {
	Service        string         `json:"service"`
	Profile        string         `json:"profile"`
	Version        int            `json:"version"`
	PulledAt       string         `json:"pulled_at"`
	Connector      string         `json:"connector"`
	Redacted       bool           `json:"redacted"`
	ResourceCounts map[string]int `json:"resource_counts"`
	SourceHash     string         `json:"source_hash,omitempty"`
}

// Store reads and writes snapshots under a root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the snapshot root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) dir(service, profile string) string {
	return filepath.Join(s.root, service, profile)
}

// Save writes each resource file and the manifest, returning the
// snapshot directory. resource_counts always match the file lengths, and
// source_hash covers the concatenated resource payloads (types in sorted
// order) so identical pulls hash identically.
func (s *Store) Save(service, profile string, resources map[string][]resource.Resource, connector string, redacted bool) (string, error) {
	dir := s.dir(service, profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	version := 1
	if prior, err := s.readManifest(dir); err == nil {
		version = prior.Version + 1
	}

	types := make([]string, 0, len(resources))
	for typ := range resources {
		types = append(types, typ)
	}
	sort.Strings(types)

	hasher := sha256.New()
	counts := make(map[string]int, len(types))
	for _, typ := range types {
		items := resources[typ]
		if items == nil {
			items = []resource.Resource{}
		}
		payload, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := os.WriteFile(filepath.Join(dir, typ+".json"), payload, 0o644); err != nil {
			return "", fmt.Errorf("write %s.json: %w", typ, err)
		}
		hasher.Write(payload)
		counts[typ] = len(items)
	}

	manifest := Manifest{
		Service:        service,
		Profile:        profile,
		Version:        version,
		PulledAt:       time.Now().UTC().Format(time.RFC3339),
		Connector:      connector,
		Redacted:       redacted,
		ResourceCounts: counts,
		SourceHash:     "sha256:" + hex.EncodeToString(hasher.Sum(nil)),
	}
	if err := s.writeManifest(dir, manifest); err != nil {
		return "", err
	}
	return dir, nil
}

// SaveIncremental merges new resources into an existing snapshot. For
// each type, items whose id is already stored keep the existing version;
// unseen ids append. An earlier trusted pull wins over a later reduced
// one when they disagree.
func (s *Store) SaveIncremental(service, profile string, resources map[string][]resource.Resource, connector string, redacted bool) (string, error) {
	dir := s.dir(service, profile)
	if _, err := s.readManifest(dir); err != nil {
		return s.Save(service, profile, resources, connector, redacted)
	}

	merged := make(map[string][]resource.Resource, len(resources))
	for typ, incoming := range resources {
		existing, err := s.readResources(dir, typ)
		if err != nil {
			existing = nil
		}

		known := make(map[string]struct{}, len(existing))
		for _, item := range existing {
			if id, ok := item.ID(); ok {
				known[id] = struct{}{}
			}
		}

		out := append([]resource.Resource{}, existing...)
		for _, item := range incoming {
			id, ok := item.ID()
			if ok {
				if _, dup := known[id]; dup {
					continue
				}
				known[id] = struct{}{}
			}
			out = append(out, item)
		}
		merged[typ] = out
	}

	// Types present on disk but absent from this pull are preserved.
	prior, err := s.readManifest(dir)
	if err == nil {
		for typ := range prior.ResourceCounts {
			if _, ok := merged[typ]; !ok {
				if existing, err := s.readResources(dir, typ); err == nil {
					merged[typ] = existing
				}
			}
		}
	}

	return s.Save(service, profile, merged, connector, redacted)
}

// Load reads a snapshot into baseline shape: type → id → resource. Rows
// without an id fall back to their list index as the key; colliding ids
// collapse last-write-wins.
func (s *Store) Load(service, profile string) (Manifest, map[string]map[string]resource.Resource, error) {
	dir := s.dir(service, profile)
	manifest, err := s.readManifest(dir)
	if err != nil {
		return Manifest{}, nil, err
	}

	data := make(map[string]map[string]resource.Resource, len(manifest.ResourceCounts))
	for typ := range manifest.ResourceCounts {
		items, err := s.readResources(dir, typ)
		if err != nil {
			return Manifest{}, nil, err
		}
		byID := make(map[string]resource.Resource, len(items))
		for i, item := range items {
			id, ok := item.ID()
			if !ok {
				id = strconv.Itoa(i)
			}
			byID[id] = item
		}
		data[typ] = byID
	}
	return manifest, data, nil
}

// List returns the manifests under the root, optionally narrowed to one
// service. Order is stable: service then profile.
func (s *Store) List(service string) ([]Manifest, error) {
	var manifests []Manifest

	services := []string{service}
	if service == "" {
		entries, err := os.ReadDir(s.root)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		services = services[:0]
		for _, e := range entries {
			if e.IsDir() {
				services = append(services, e.Name())
			}
		}
	}
	sort.Strings(services)

	for _, svc := range services {
		profiles, err := os.ReadDir(filepath.Join(s.root, svc))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(profiles))
		for _, p := range profiles {
			if p.IsDir() {
				names = append(names, p.Name())
			}
		}
		sort.Strings(names)
		for _, profile := range names {
			m, err := s.readManifest(s.dir(svc, profile))
			if err != nil {
				continue
			}
			manifests = append(manifests, m)
		}
	}
	return manifests, nil
}

// Delete removes one snapshot directory.
func (s *Store) Delete(service, profile string) error {
	return os.RemoveAll(s.dir(service, profile))
}

func (s *Store) readManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func (s *Store) writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
}

func (s *Store) readResources(dir, typ string) ([]resource.Resource, error) {
	data, err := os.ReadFile(filepath.Join(dir, typ+".json"))
	if err != nil {
		return nil, err
	}
	var items []resource.Resource
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s.json: %w", typ, err)
	}
	return items, nil
}
