// Command doubleagent runs one fake service: the shared runtime plus the
// built-in tracker surface. Point an agent's SDK base URL at it and the
// agent talks to this process instead of the real vendor.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/doubleagent/harness/internal/config"
	"github.com/doubleagent/harness/internal/fakes/tracker"
	"github.com/doubleagent/harness/internal/infra"
	"github.com/doubleagent/harness/internal/service"
	"github.com/doubleagent/harness/internal/snapshot"
	"github.com/doubleagent/harness/internal/state"
	"github.com/doubleagent/harness/internal/webhooks"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	configPath := flag.String("config", "", "path to service config yaml")
	snapshotProfile := flag.String("snapshot", "", "service/profile snapshot to boot the default namespace from")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	env := config.ReadEnv()
	if env.DualTarget {
		log.Println("DOUBLEAGENT_DUAL_TARGET is set; the comparator is an external collaborator, ignoring")
	}

	var store webhooks.DeliveryStore = webhooks.NewMemoryLog()
	if env.RedisAddr != "" {
		adapter, err := infra.NewGoRedisAdapter(env.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Printf("redis unavailable, delivery log stays in memory: %v", err)
		} else {
			defer adapter.Close()
			store = webhooks.NewRedisLog(adapter, "", 0)
		}
	}

	svc := service.New(cfg, store)
	tracker.Register(svc)

	if *snapshotProfile != "" {
		if err := bootFromSnapshot(svc, env.SnapshotsDir, *snapshotProfile); err != nil {
			log.Fatalf("boot from snapshot %s: %v", *snapshotProfile, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx, env.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// bootFromSnapshot loads a stored snapshot as the shared baseline. The
// profile argument is "service/profile", matching the on-disk layout.
func bootFromSnapshot(svc *service.Service, root, profile string) error {
	parts := splitProfile(profile)
	manifest, data, err := snapshot.NewStore(root).Load(parts[0], parts[1])
	if err != nil {
		return err
	}
	svc.States.LoadBaseline(state.NewBaseline(data))
	log.Printf("loaded snapshot %s/%s v%d (%d types)",
		manifest.Service, manifest.Profile, manifest.Version, len(data))
	return nil
}

func splitProfile(s string) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, "default"}
}
