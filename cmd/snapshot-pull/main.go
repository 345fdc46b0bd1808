// Command snapshot-pull runs the offline ingest pipeline: discover the
// source's streams, pull the configured subset, walk the relational
// filter, redact PII and write a versioned snapshot to disk. The service
// never talks to real vendors; this tool is the only thing that does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/doubleagent/harness/internal/config"
	"github.com/doubleagent/harness/internal/connector"
	"github.com/doubleagent/harness/internal/redact"
	"github.com/doubleagent/harness/internal/relational"
	"github.com/doubleagent/harness/internal/resource"
	"github.com/doubleagent/harness/internal/snapshot"
)

const (
	exitOK          = 0
	exitError       = 1
	exitCredentials = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	var (
		sourceURL    = flag.String("source", "", "base URL of the read-only source API")
		token        = flag.String("token", os.Getenv("DOUBLEAGENT_SOURCE_TOKEN"), "source API token")
		serviceName  = flag.String("service", "", "snapshot service name")
		profile      = flag.String("profile", "default", "snapshot profile name")
		configPath   = flag.String("config", "", "service config yaml with the seeding section")
		limit        = flag.Int("limit", 0, "global per-stream record limit (0 = unlimited)")
		discoverOnly = flag.Bool("discover", false, "list the source's streams and exit")
		incremental  = flag.Bool("incremental", false, "merge into the existing snapshot instead of replacing it")
		noRedact     = flag.Bool("no-redact", false, "skip PII redaction (local test sources only)")
		allowPrivate = flag.Bool("allow-private", false, "permit private/loopback source hosts")
		remapSpec    = flag.String("remap", "", "rename streams on save, e.g. tickets=issues,members=users")
	)
	flag.Parse()

	if *sourceURL == "" || *serviceName == "" {
		fmt.Fprintln(os.Stderr, "usage: snapshot-pull -source URL -service NAME [flags]")
		flag.PrintDefaults()
		return exitError
	}

	env := config.ReadEnv()
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Printf("load config %s: %v", *configPath, err)
			return exitError
		}
		cfg = loaded
	}

	client := connector.NewReadOnlyClient(connector.ClientOptions{
		AllowPrivate: *allowPrivate,
		Strict:       env.Strict,
	})
	source, err := connector.NewRESTSource(client, *sourceURL, *token)
	if err != nil {
		log.Printf("source setup: %v", err)
		if errors.Is(err, connector.ErrMissingCredentials) {
			return exitCredentials
		}
		return exitError
	}
	runtime := connector.NewRuntime(source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := client.Budget(ctx)
	defer cancel()

	available, err := runtime.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Println("interrupted")
			return exitInterrupted
		}
		log.Printf("discover: %v", err)
		return exitError
	}
	if *discoverOnly {
		for _, name := range available {
			fmt.Println(name)
		}
		return exitOK
	}

	streams := narrowStreams(available, cfg.Seeding)
	if len(streams) == 0 {
		log.Println("no configured streams exist at the source")
		return exitError
	}

	pulled := runtime.Pull(ctx, streams, nil, *limit)
	if ctx.Err() != nil {
		log.Println("interrupted")
		return exitInterrupted
	}
	if len(pulled) == 0 {
		log.Println("pull produced no records")
		return exitError
	}

	if len(cfg.Seeding.SeedStreams) > 0 {
		pulled = relational.Apply(pulled, cfg.Seeding)
	}

	if remap, err := parseRemap(*remapSpec); err != nil {
		log.Printf("remap: %v", err)
		return exitError
	} else if len(remap) > 0 {
		pulled = applyRemap(pulled, remap)
	}

	redacted := !*noRedact
	if redacted {
		pulled = redact.New(redact.Policy{}).Streams(pulled)
	}

	store := snapshot.NewStore(env.SnapshotsDir)
	save := store.Save
	if *incremental {
		save = store.SaveIncremental
	}
	dir, err := save(*serviceName, *profile, pulled, "rest", redacted)
	if err != nil {
		log.Printf("save snapshot: %v", err)
		return exitError
	}

	total := 0
	for _, items := range pulled {
		total += len(items)
	}
	log.Printf("wrote %d records across %d streams to %s", total, len(pulled), dir)
	return exitOK
}

// narrowStreams keeps the configured seed streams that the source
// actually offers; with no seeding section, everything is pulled.
func narrowStreams(available []string, seeding relational.SeedingConfig) []string {
	if len(seeding.SeedStreams) == 0 {
		return available
	}
	offered := make(map[string]struct{}, len(available))
	for _, name := range available {
		offered[name] = struct{}{}
	}
	var out []string
	for _, name := range seedClosure(seeding) {
		if _, ok := offered[name]; ok {
			out = append(out, name)
		} else {
			log.Printf("configured stream %q not offered by source, skipping", name)
		}
	}
	return out
}

// seedClosure lists root streams plus every stream reachable through
// follow rules, deduplicated in first-seen order.
func seedClosure(seeding relational.SeedingConfig) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, s := range seeding.SeedStreams {
		add(s.Stream)
		for _, f := range s.Follow {
			add(f.ChildStream)
		}
	}
	return out
}

func parseRemap(spec string) (map[string]string, error) {
	if spec == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		from, to, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("bad remap entry %q, want from=to", pair)
		}
		out[from] = to
	}
	return out, nil
}

func applyRemap(streams map[string][]resource.Resource, remap map[string]string) map[string][]resource.Resource {
	out := make(map[string][]resource.Resource, len(streams))
	for name, items := range streams {
		if to, ok := remap[name]; ok {
			name = to
		}
		out[name] = append(out[name], items...)
	}
	return out
}
